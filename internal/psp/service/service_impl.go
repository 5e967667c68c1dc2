package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/config"
	"github.com/smallbiznis/payway/internal/observability/metrics"
	operationdomain "github.com/smallbiznis/payway/internal/operation/domain"
	"github.com/smallbiznis/payway/internal/psp/client"
	"github.com/smallbiznis/payway/internal/psp/domain"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"github.com/smallbiznis/payway/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const callbackPath = "/callbacks/psp"

type Params struct {
	fx.In

	Config      config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Gateway     domain.GatewayClient
	Transaction transactiondomain.Service
	Operation   operationdomain.Service
	Webhook     webhookdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	cfg     config.Config
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	gateway domain.GatewayClient
	txn     transactiondomain.Service
	op      operationdomain.Service
	webhook webhookdomain.Service
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		cfg:     p.Config,
		db:      p.DB,
		log:     p.Log.Named("psp.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		txn:     p.Transaction,
		op:      p.Operation,
		webhook: p.Webhook,
		metrics: p.Metrics,
	}
}

func (s *Service) ProcessPayment(ctx context.Context, token, paymentMethod string) (transactiondomain.Transaction, error) {
	txn, err := s.txn.BeginProcessing(ctx, token)
	if err != nil {
		return transactiondomain.Transaction{}, err
	}

	op, err := s.op.Create(ctx, operationdomain.CreateOperationRequest{
		MerchantID:    txn.MerchantID,
		TransactionID: txn.ID,
		Type:          operationdomain.TypeCapture,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
	})
	if err != nil {
		return transactiondomain.Transaction{}, err
	}

	submit := s.submitRequest(txn, op)
	submit.PaymentMethod = strings.TrimSpace(paymentMethod)
	ack, err := s.gateway.SubmitCapture(ctx, submit)
	if err != nil {
		s.recordSubmission(operationdomain.TypeCapture, "rejected")
		s.abandonCapture(ctx, txn, op, err)
		return transactiondomain.Transaction{}, domain.ErrGatewayUnavailable
	}

	s.recordSubmission(operationdomain.TypeCapture, "accepted")
	if _, err := s.op.MarkSubmitted(ctx, op.ID, ack.PSPReference); err != nil {
		s.log.Error("mark capture submitted",
			zap.String("operation_id", op.ID.String()),
			zap.Error(err),
		)
	}

	return txn, nil
}

func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (operationdomain.Operation, error) {
	txn, err := s.txn.GetByID(ctx, transactiondomain.GetTransactionRequest{ID: req.TransactionID})
	if err != nil {
		return operationdomain.Operation{}, err
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		return operationdomain.Operation{}, transactiondomain.ErrInvalidAmount
	}

	switch txn.Status {
	case transactiondomain.StatusSuccess, transactiondomain.StatusPartialRefund:
	default:
		return operationdomain.Operation{}, transactiondomain.ErrInvalidState
	}

	// Cap against in-flight refunds, not just settled ones.
	committed, err := s.op.RefundedTotal(ctx, txn.ID)
	if err != nil {
		return operationdomain.Operation{}, err
	}
	if amount > txn.Amount-committed {
		return operationdomain.Operation{}, domain.ErrRefundExceeds
	}

	capture, err := s.op.SuccessfulCapture(ctx, txn.ID)
	if err != nil {
		return operationdomain.Operation{}, err
	}

	captureID := capture.ID
	op, err := s.op.Create(ctx, operationdomain.CreateOperationRequest{
		MerchantID:        txn.MerchantID,
		TransactionID:     txn.ID,
		ParentOperationID: &captureID,
		Type:              operationdomain.TypeRefund,
		Amount:            amount,
		Currency:          txn.Currency,
		Reason:            req.Reason,
	})
	if err != nil {
		return operationdomain.Operation{}, err
	}

	submit := s.submitRequest(txn, op)
	submit.CaptureReference = capture.PSPReference
	ack, err := s.gateway.SubmitRefund(ctx, submit)
	if err != nil {
		s.recordSubmission(operationdomain.TypeRefund, "rejected")
		failed, settleErr := s.op.Settle(ctx, operationdomain.SettleRequest{
			OperationID:  op.ID,
			Succeeded:    false,
			ErrorCode:    "gateway_unavailable",
			ErrorMessage: "processor did not accept the refund",
		})
		if settleErr != nil {
			s.log.Error("settle rejected refund",
				zap.String("operation_id", op.ID.String()),
				zap.Error(settleErr),
			)
		} else {
			s.publishRefundEvent(ctx, txn, failed, webhookdomain.EventRefundFailed)
		}
		return operationdomain.Operation{}, domain.ErrGatewayUnavailable
	}

	s.recordSubmission(operationdomain.TypeRefund, "accepted")
	submitted, err := s.op.MarkSubmitted(ctx, op.ID, ack.PSPReference)
	if err != nil {
		return operationdomain.Operation{}, err
	}

	s.publishRefundEvent(ctx, txn, submitted, webhookdomain.EventRefundProcessing)
	return submitted, nil
}

func (s *Service) HandleCallback(ctx context.Context, body []byte, signature string) error {
	if !client.VerifySignature(s.cfg.PSPSecret, body, signature) {
		s.log.Warn("callback signature mismatch")
		return domain.ErrInvalidSignature
	}

	var cb domain.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return domain.ErrInvalidCallback
	}

	operationID, err := snowflake.ParseString(strings.TrimSpace(cb.OperationID))
	if err != nil || operationID == 0 {
		return domain.ErrInvalidCallback
	}
	transactionID, err := snowflake.ParseString(strings.TrimSpace(cb.TransactionID))
	if err != nil || transactionID == 0 {
		return domain.ErrInvalidCallback
	}
	if cb.Status != domain.CallbackStatusSuccess && cb.Status != domain.CallbackStatusFailed {
		return domain.ErrInvalidCallback
	}

	payload := datatypes.JSONMap{}
	for k, v := range cb.Data {
		payload[k] = v
	}

	fresh, err := s.repo.InsertCallback(ctx, s.db, &domain.ProcessorCallback{
		ID:            s.genID.Generate(),
		OperationID:   operationID,
		TransactionID: transactionID,
		Status:        cb.Status,
		PSPReference:  cb.PSPReference,
		Payload:       payload,
		ReceivedAt:    s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !fresh {
		s.log.Info("duplicate processor callback ignored",
			zap.String("operation_id", cb.OperationID),
			zap.String("status", cb.Status),
		)
		return nil
	}

	op, err := s.op.GetByID(ctx, operationID)
	if err != nil {
		return domain.ErrNotFound
	}

	s.recordCallback(op.Type, cb.Status)

	succeeded := cb.Status == domain.CallbackStatusSuccess
	settled, err := s.op.Settle(ctx, operationdomain.SettleRequest{
		OperationID:      op.ID,
		Succeeded:        succeeded,
		PSPTransactionID: cb.PSPTransactionID,
		ErrorCode:        cb.ErrorCode,
		ErrorMessage:     cb.ErrorMessage,
		Payload:          cb.Data,
	})
	if err != nil {
		return err
	}

	switch settled.Type {
	case operationdomain.TypeCapture:
		_, err = s.txn.ApplyCaptureResult(ctx, transactiondomain.ApplyCaptureResultRequest{
			TransactionID:    settled.TransactionID,
			Succeeded:        succeeded,
			PSPReference:     cb.PSPReference,
			PSPTransactionID: cb.PSPTransactionID,
		})
		if err != nil {
			return err
		}
	case operationdomain.TypeRefund:
		txn, lookupErr := s.txn.GetAny(ctx, settled.TransactionID)
		if lookupErr != nil {
			return lookupErr
		}
		if succeeded {
			txn, err = s.txn.ApplyRefund(ctx, transactiondomain.ApplyRefundRequest{
				TransactionID: settled.TransactionID,
				Amount:        settled.Amount,
			})
			if err != nil {
				return err
			}
			s.publishRefundEvent(ctx, txn, settled, webhookdomain.EventRefundSuccess)
		} else {
			s.publishRefundEvent(ctx, txn, settled, webhookdomain.EventRefundFailed)
		}
	}

	return nil
}

func (s *Service) submitRequest(txn transactiondomain.Transaction, op operationdomain.Operation) domain.SubmitRequest {
	return domain.SubmitRequest{
		OperationID:   op.ID.String(),
		TransactionID: txn.ID.String(),
		Amount:        money.Format(op.Amount),
		Currency:      txn.Currency,
		CallbackURL:   strings.TrimRight(s.cfg.CallbackBaseURL, "/") + callbackPath,
	}
}

// abandonCapture fails both the operation and the transaction when the
// processor never accepted the submission.
func (s *Service) abandonCapture(ctx context.Context, txn transactiondomain.Transaction, op operationdomain.Operation, cause error) {
	if _, err := s.op.Settle(ctx, operationdomain.SettleRequest{
		OperationID:  op.ID,
		Succeeded:    false,
		ErrorCode:    "gateway_unavailable",
		ErrorMessage: "processor did not accept the payment",
	}); err != nil {
		s.log.Error("settle rejected capture",
			zap.String("operation_id", op.ID.String()),
			zap.Error(err),
		)
	}

	if _, err := s.txn.ApplyCaptureResult(ctx, transactiondomain.ApplyCaptureResultRequest{
		TransactionID: txn.ID,
		Succeeded:     false,
	}); err != nil {
		s.log.Error("fail unsubmitted transaction",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
	}

	s.log.Warn("capture submission abandoned",
		zap.String("transaction_id", txn.ID.String()),
		zap.Error(cause),
	)
}

func (s *Service) publishRefundEvent(ctx context.Context, txn transactiondomain.Transaction, op operationdomain.Operation, eventType string) {
	opID := op.ID
	_, err := s.webhook.Enqueue(ctx, webhookdomain.EnqueueRequest{
		MerchantID:    txn.MerchantID,
		TransactionID: txn.ID,
		OperationID:   &opID,
		EventType:     eventType,
		Payload: map[string]any{
			"transaction_id": txn.ID.String(),
			"merchant_id":    txn.MerchantID.String(),
			"operation_id":   op.ID.String(),
			"order_id":       txn.OrderID,
			"amount":         money.Format(op.Amount),
			"currency":       txn.Currency,
			"status":         op.Status,
		},
	})
	if err != nil {
		s.log.Error("enqueue refund webhook event",
			zap.String("operation_id", op.ID.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func (s *Service) recordSubmission(opType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordPSPSubmission(opType, outcome)
}

func (s *Service) recordCallback(opType, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordPSPCallback(opType, status)
}
