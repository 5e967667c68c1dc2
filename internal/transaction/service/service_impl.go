package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/merchantctx"
	"github.com/smallbiznis/payway/internal/transaction/domain"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"github.com/smallbiznis/payway/pkg/db"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"github.com/smallbiznis/payway/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Webhook webhookdomain.Service `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	webhook webhookdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("transaction.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		webhook: p.Webhook,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateTransactionRequest) (domain.Transaction, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.Transaction{}, domain.ErrInvalidMerchant
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Transaction{}, domain.ErrInvalidOrder
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !domain.SupportedCurrencies[currency] {
		return domain.Transaction{}, domain.ErrInvalidCurrency
	}

	token, err := newPaymentToken()
	if err != nil {
		return domain.Transaction{}, err
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	now := s.clock.Now()
	txn := domain.Transaction{
		ID:            s.genID.Generate(),
		MerchantID:    merchantID,
		OrderID:       orderID,
		Amount:        amount,
		Currency:      currency,
		Description:   strings.TrimSpace(req.Description),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerFirst: strings.TrimSpace(req.CustomerFirst),
		CustomerLast:  strings.TrimSpace(req.CustomerLast),
		SuccessURL:    strings.TrimSpace(req.SuccessURL),
		CancelURL:     strings.TrimSpace(req.CancelURL),
		WebhookURL:    strings.TrimSpace(req.WebhookURL),
		Status:        domain.StatusPending,
		PaymentToken:  token,
		ExpiresAt:     now.Add(domain.PaymentWindow),
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, &txn); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Transaction{}, domain.ErrDuplicateOrder
		}
		return domain.Transaction{}, err
	}

	s.publish(ctx, txn, webhookdomain.EventTransactionCreated)
	return txn, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetTransactionRequest) (domain.Transaction, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.Transaction{}, domain.ErrInvalidMerchant
	}

	id, err := parseID(req.ID)
	if err != nil {
		return domain.Transaction{}, err
	}

	txn, err := s.repo.FindByID(ctx, s.db, merchantID, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if txn == nil {
		return domain.Transaction{}, domain.ErrNotFound
	}

	return *txn, nil
}

func (s *Service) List(ctx context.Context, req domain.ListTransactionRequest) (domain.ListTransactionResponse, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.ListTransactionResponse{}, domain.ErrInvalidMerchant
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := domain.ListTransactionFilter{
		Status:        strings.TrimSpace(req.Status),
		OrderID:       strings.TrimSpace(req.OrderID),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CreatedFrom:   req.CreatedFrom,
		CreatedTo:     req.CreatedTo,
	}

	items, err := s.repo.List(ctx, s.db, merchantID, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListTransactionResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(txn *domain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        txn.ID.String(),
			CreatedAt: txn.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	txns := make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		txns = append(txns, *item)
	}

	resp := domain.ListTransactionResponse{Transactions: txns}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}

	return resp, nil
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelTransactionRequest) (domain.Transaction, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.Transaction{}, domain.ErrInvalidMerchant
	}

	id, err := parseID(req.ID)
	if err != nil {
		return domain.Transaction{}, err
	}

	txn, err := s.repo.FindByID(ctx, s.db, merchantID, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if txn == nil {
		return domain.Transaction{}, domain.ErrNotFound
	}

	return s.cancel(ctx, *txn)
}

func (s *Service) GetByToken(ctx context.Context, token string) (domain.Transaction, error) {
	txn, err := s.lookupToken(ctx, token)
	if err != nil {
		return domain.Transaction{}, err
	}

	if txn.Expired(s.clock.Now()) {
		return domain.Transaction{}, s.expire(ctx, *txn)
	}

	return *txn, nil
}

func (s *Service) BeginProcessing(ctx context.Context, token string) (domain.Transaction, error) {
	txn, err := s.lookupToken(ctx, token)
	if err != nil {
		return domain.Transaction{}, err
	}

	now := s.clock.Now()
	if txn.Expired(now) {
		return domain.Transaction{}, s.expire(ctx, *txn)
	}

	ok, err := s.repo.Transition(ctx, s.db, txn.ID, []string{domain.StatusPending}, domain.StatusProcessing, now)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !ok {
		return domain.Transaction{}, domain.ErrInvalidState
	}

	txn.Status = domain.StatusProcessing
	txn.UpdatedAt = now
	s.publish(ctx, *txn, webhookdomain.EventTransactionProcessing)
	return *txn, nil
}

func (s *Service) CancelByToken(ctx context.Context, token string) (domain.Transaction, error) {
	txn, err := s.lookupToken(ctx, token)
	if err != nil {
		return domain.Transaction{}, err
	}

	if txn.Expired(s.clock.Now()) {
		return domain.Transaction{}, s.expire(ctx, *txn)
	}

	return s.cancel(ctx, *txn)
}

func (s *Service) GetAny(ctx context.Context, id snowflake.ID) (domain.Transaction, error) {
	txn, err := s.repo.FindByIDAny(ctx, s.db, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if txn == nil {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return *txn, nil
}

func (s *Service) ApplyCaptureResult(ctx context.Context, req domain.ApplyCaptureResultRequest) (domain.Transaction, error) {
	txn, err := s.repo.FindByIDAny(ctx, s.db, req.TransactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if txn == nil {
		return domain.Transaction{}, domain.ErrNotFound
	}

	status := domain.StatusFailed
	event := webhookdomain.EventTransactionFailed
	if req.Succeeded {
		status = domain.StatusSuccess
		event = webhookdomain.EventTransactionSuccess
	}

	now := s.clock.Now()
	var paidAt *time.Time
	if req.Succeeded {
		paidAt = &now
	}
	ok, err := s.repo.ApplyCaptureResult(ctx, s.db, txn.ID, status, req.PSPReference, req.PSPTransactionID, paidAt, now)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !ok {
		return domain.Transaction{}, domain.ErrInvalidState
	}

	txn.Status = status
	txn.PSPReference = req.PSPReference
	txn.PSPTransactionID = req.PSPTransactionID
	txn.PaidAt = paidAt
	txn.UpdatedAt = now
	s.publish(ctx, *txn, event)
	return *txn, nil
}

func (s *Service) ApplyRefund(ctx context.Context, req domain.ApplyRefundRequest) (domain.Transaction, error) {
	if req.Amount <= 0 {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}

	// Optimistic retry: concurrent refund settlements race on the
	// refunded_amount guard.
	for attempt := 0; attempt < 3; attempt++ {
		txn, err := s.repo.FindByIDAny(ctx, s.db, req.TransactionID)
		if err != nil {
			return domain.Transaction{}, err
		}
		if txn == nil {
			return domain.Transaction{}, domain.ErrNotFound
		}
		if txn.Refundable() < req.Amount {
			return domain.Transaction{}, domain.ErrInvalidState
		}

		newRefunded := txn.RefundedAmount + req.Amount
		status := domain.StatusPartialRefund
		if newRefunded == txn.Amount {
			status = domain.StatusRefunded
		}

		now := s.clock.Now()
		ok, err := s.repo.ApplyRefund(ctx, s.db, txn.ID, txn.RefundedAmount, newRefunded, status, now)
		if err != nil {
			return domain.Transaction{}, err
		}
		if ok {
			txn.RefundedAmount = newRefunded
			txn.Status = status
			txn.UpdatedAt = now
			return *txn, nil
		}
	}

	return domain.Transaction{}, domain.ErrInvalidState
}

func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	now := s.clock.Now()
	stale, err := s.repo.FindExpired(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, txn := range stale {
		ok, err := s.repo.Transition(ctx, s.db, txn.ID, []string{domain.StatusPending}, domain.StatusCancelled, now)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		txn.Status = domain.StatusCancelled
		s.publish(ctx, *txn, webhookdomain.EventTransactionCancelled)
		expired++
	}

	if expired > 0 {
		s.log.Info("expired stale transactions", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) lookupToken(ctx context.Context, token string) (*domain.Transaction, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrNotFound
	}

	txn, err := s.repo.FindByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) cancel(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	now := s.clock.Now()
	ok, err := s.repo.Transition(ctx, s.db, txn.ID, []string{domain.StatusPending, domain.StatusProcessing}, domain.StatusCancelled, now)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !ok {
		return domain.Transaction{}, domain.ErrInvalidState
	}

	txn.Status = domain.StatusCancelled
	txn.UpdatedAt = now
	s.publish(ctx, txn, webhookdomain.EventTransactionCancelled)
	return txn, nil
}

// expire lazily cancels a pending transaction whose window closed. Callers
// always surface ErrExpired; the guarded transition may lose to the sweeper,
// which is fine.
func (s *Service) expire(ctx context.Context, txn domain.Transaction) error {
	ok, err := s.repo.Transition(ctx, s.db, txn.ID, []string{domain.StatusPending}, domain.StatusCancelled, s.clock.Now())
	if err != nil {
		return err
	}
	if ok {
		txn.Status = domain.StatusCancelled
		s.publish(ctx, txn, webhookdomain.EventTransactionCancelled)
	}
	return domain.ErrExpired
}

func (s *Service) publish(ctx context.Context, txn domain.Transaction, eventType string) {
	if s.webhook == nil {
		return
	}

	_, err := s.webhook.Enqueue(ctx, webhookdomain.EnqueueRequest{
		MerchantID:    txn.MerchantID,
		TransactionID: txn.ID,
		EventType:     eventType,
		TargetURL:     txn.WebhookURL,
		Payload: map[string]any{
			"transaction_id": txn.ID.String(),
			"merchant_id":    txn.MerchantID.String(),
			"order_id":       txn.OrderID,
			"amount":         money.Format(txn.Amount),
			"currency":       txn.Currency,
			"status":         txn.Status,
		},
	})
	if err != nil {
		s.log.Error("enqueue webhook event",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func newPaymentToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
