package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/config"
	"github.com/smallbiznis/payway/internal/merchantctx"
	operationdomain "github.com/smallbiznis/payway/internal/operation/domain"
	operationrepo "github.com/smallbiznis/payway/internal/operation/repository"
	operationservice "github.com/smallbiznis/payway/internal/operation/service"
	"github.com/smallbiznis/payway/internal/psp/client"
	"github.com/smallbiznis/payway/internal/psp/domain"
	"github.com/smallbiznis/payway/internal/psp/repository"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	transactionrepo "github.com/smallbiznis/payway/internal/transaction/repository"
	transactionservice "github.com/smallbiznis/payway/internal/transaction/service"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testPSPSecret = "psp_secret"

type gatewayStub struct {
	captures []domain.SubmitRequest
	refunds  []domain.SubmitRequest
	fail     bool
}

func (g *gatewayStub) SubmitCapture(ctx context.Context, req domain.SubmitRequest) (domain.Ack, error) {
	if g.fail {
		return domain.Ack{}, errors.New("connection refused")
	}
	g.captures = append(g.captures, req)
	return domain.Ack{PSPReference: "psp_ref_capture"}, nil
}

func (g *gatewayStub) SubmitRefund(ctx context.Context, req domain.SubmitRequest) (domain.Ack, error) {
	if g.fail {
		return domain.Ack{}, errors.New("connection refused")
	}
	g.refunds = append(g.refunds, req)
	return domain.Ack{PSPReference: "psp_ref_refund"}, nil
}

type enqueueRecorder struct {
	events []webhookdomain.EnqueueRequest
}

func (r *enqueueRecorder) Enqueue(ctx context.Context, req webhookdomain.EnqueueRequest) (webhookdomain.WebhookEvent, error) {
	r.events = append(r.events, req)
	return webhookdomain.WebhookEvent{}, nil
}

func (r *enqueueRecorder) Deliver(context.Context, snowflake.ID) error { return nil }
func (r *enqueueRecorder) RetrySweep(context.Context, int) (int, error) {
	return 0, nil
}
func (r *enqueueRecorder) Retry(context.Context, webhookdomain.RetryWebhookRequest) (webhookdomain.WebhookEvent, error) {
	return webhookdomain.WebhookEvent{}, nil
}
func (r *enqueueRecorder) List(context.Context, webhookdomain.ListWebhookRequest) (webhookdomain.ListWebhookResponse, error) {
	return webhookdomain.ListWebhookResponse{}, nil
}
func (r *enqueueRecorder) GetStats(context.Context) (webhookdomain.Stats, error) {
	return webhookdomain.Stats{}, nil
}

func (r *enqueueRecorder) eventTypes() []string {
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.EventType)
	}
	return types
}

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	txn     transactiondomain.Service
	op      operationdomain.Service
	gateway *gatewayStub
	events  *enqueueRecorder
	clk     *clock.FakeClock
	node    *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:psp_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&transactiondomain.Transaction{},
		&operationdomain.Operation{},
		&domain.ProcessorCallback{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	events := &enqueueRecorder{}

	txnSvc := transactionservice.New(transactionservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    transactionrepo.Provide(),
		Webhook: events,
	})
	opSvc := operationservice.New(operationservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  operationrepo.Provide(),
	})

	gateway := &gatewayStub{}
	svc := New(Params{
		Config: config.Config{
			PSPSecret:       testPSPSecret,
			CallbackBaseURL: "https://gateway.example.com/",
		},
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        repository.Provide(),
		Gateway:     gateway,
		Transaction: txnSvc,
		Operation:   opSvc,
		Webhook:     events,
	})

	return &fixture{
		db:      db,
		svc:     svc,
		txn:     txnSvc,
		op:      opSvc,
		gateway: gateway,
		events:  events,
		clk:     clk,
		node:    node,
	}
}

func (f *fixture) createTransaction(t *testing.T, amount string) (context.Context, transactiondomain.Transaction) {
	t.Helper()

	ctx := merchantctx.WithMerchantID(context.Background(), f.node.Generate())
	txn, err := f.txn.Create(ctx, transactiondomain.CreateTransactionRequest{
		OrderID:  "order-1",
		Amount:   amount,
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return ctx, txn
}

func signedCallback(t *testing.T, cb domain.Callback) ([]byte, string) {
	t.Helper()

	body, err := json.Marshal(cb)
	if err != nil {
		t.Fatalf("marshal callback: %v", err)
	}
	return body, client.Sign(testPSPSecret, body)
}

func TestProcessPayment(t *testing.T) {
	f := newFixture(t)
	_, txn := f.createTransaction(t, "50.00")

	got, err := f.svc.ProcessPayment(context.Background(), txn.PaymentToken, "card")
	assert.NoError(t, err)
	assert.Equal(t, transactiondomain.StatusProcessing, got.Status)

	assert.Len(t, f.gateway.captures, 1)
	submitted := f.gateway.captures[0]
	assert.Equal(t, txn.ID.String(), submitted.TransactionID)
	assert.Equal(t, "50.00", submitted.Amount)
	assert.Equal(t, "USD", submitted.Currency)
	assert.Equal(t, "card", submitted.PaymentMethod)
	assert.Equal(t, "https://gateway.example.com/callbacks/psp", submitted.CallbackURL)

	ops, err := f.op.ListByTransaction(context.Background(), txn.ID)
	assert.NoError(t, err)
	assert.Len(t, ops, 1)
	assert.Equal(t, operationdomain.TypeCapture, ops[0].Type)
	assert.Equal(t, operationdomain.StatusProcessing, ops[0].Status)
	assert.Equal(t, "psp_ref_capture", ops[0].PSPReference)

	// A second submit finds the transaction already processing.
	_, err = f.svc.ProcessPayment(context.Background(), txn.PaymentToken, "card")
	assert.ErrorIs(t, err, transactiondomain.ErrInvalidState)
}

func TestProcessPaymentGatewayDown(t *testing.T) {
	f := newFixture(t)
	ctx, txn := f.createTransaction(t, "50.00")
	f.gateway.fail = true

	_, err := f.svc.ProcessPayment(context.Background(), txn.PaymentToken, "card")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	stored, err := f.txn.GetByID(ctx, transactiondomain.GetTransactionRequest{ID: txn.ID.String()})
	assert.NoError(t, err)
	assert.Equal(t, transactiondomain.StatusFailed, stored.Status)

	ops, err := f.op.ListByTransaction(context.Background(), txn.ID)
	assert.NoError(t, err)
	assert.Len(t, ops, 1)
	assert.Equal(t, operationdomain.StatusFailed, ops[0].Status)
	assert.Equal(t, "gateway_unavailable", ops[0].ErrorCode)

	assert.Equal(t, []string{
		webhookdomain.EventTransactionCreated,
		webhookdomain.EventTransactionProcessing,
		webhookdomain.EventTransactionFailed,
	}, f.events.eventTypes())
}

func TestHandleCallbackCaptureSuccess(t *testing.T) {
	f := newFixture(t)
	ctx, txn := f.createTransaction(t, "50.00")

	_, err := f.svc.ProcessPayment(context.Background(), txn.PaymentToken, "card")
	assert.NoError(t, err)

	ops, _ := f.op.ListByTransaction(context.Background(), txn.ID)
	body, sig := signedCallback(t, domain.Callback{
		OperationID:      ops[0].ID.String(),
		TransactionID:    txn.ID.String(),
		Status:           domain.CallbackStatusSuccess,
		PSPReference:     "psp_ref_capture",
		PSPTransactionID: "psp_txn_1",
	})

	assert.NoError(t, f.svc.HandleCallback(context.Background(), body, sig))

	stored, err := f.txn.GetByID(ctx, transactiondomain.GetTransactionRequest{ID: txn.ID.String()})
	assert.NoError(t, err)
	assert.Equal(t, transactiondomain.StatusSuccess, stored.Status)
	assert.Equal(t, "psp_ref_capture", stored.PSPReference)
	assert.Equal(t, "psp_txn_1", stored.PSPTransactionID)

	settled, err := f.op.GetByID(context.Background(), ops[0].ID)
	assert.NoError(t, err)
	assert.Equal(t, operationdomain.StatusSuccess, settled.Status)

	// The same callback replayed is absorbed by the durable record.
	assert.NoError(t, f.svc.HandleCallback(context.Background(), body, sig))
	stored, err = f.txn.GetByID(ctx, transactiondomain.GetTransactionRequest{ID: txn.ID.String()})
	assert.NoError(t, err)
	assert.Equal(t, transactiondomain.StatusSuccess, stored.Status)

	assert.Equal(t, []string{
		webhookdomain.EventTransactionCreated,
		webhookdomain.EventTransactionProcessing,
		webhookdomain.EventTransactionSuccess,
	}, f.events.eventTypes())
}

func TestHandleCallbackCaptureFailed(t *testing.T) {
	f := newFixture(t)
	ctx, txn := f.createTransaction(t, "50.00")

	_, err := f.svc.ProcessPayment(context.Background(), txn.PaymentToken, "card")
	assert.NoError(t, err)

	ops, _ := f.op.ListByTransaction(context.Background(), txn.ID)
	body, sig := signedCallback(t, domain.Callback{
		OperationID:   ops[0].ID.String(),
		TransactionID: txn.ID.String(),
		Status:        domain.CallbackStatusFailed,
		ErrorCode:     "card_declined",
		ErrorMessage:  "insufficient funds",
	})

	assert.NoError(t, f.svc.HandleCallback(context.Background(), body, sig))

	stored, err := f.txn.GetByID(ctx, transactiondomain.GetTransactionRequest{ID: txn.ID.String()})
	assert.NoError(t, err)
	assert.Equal(t, transactiondomain.StatusFailed, stored.Status)

	settled, err := f.op.GetByID(context.Background(), ops[0].ID)
	assert.NoError(t, err)
	assert.Equal(t, operationdomain.StatusFailed, settled.Status)
	assert.Equal(t, "card_declined", settled.ErrorCode)
}

func TestHandleCallbackBadSignature(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"operation_id":"1","transaction_id":"2","status":"success"}`)
	err := f.svc.HandleCallback(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	// Valid signature over malformed content.
	body = []byte(`{"operation_id":"","transaction_id":"","status":"maybe"}`)
	err = f.svc.HandleCallback(context.Background(), body, client.Sign(testPSPSecret, body))
	assert.ErrorIs(t, err, domain.ErrInvalidCallback)
}

func TestHandleCallbackUnknownOperation(t *testing.T) {
	f := newFixture(t)

	body, sig := signedCallback(t, domain.Callback{
		OperationID:   f.node.Generate().String(),
		TransactionID: f.node.Generate().String(),
		Status:        domain.CallbackStatusSuccess,
	})
	err := f.svc.HandleCallback(context.Background(), body, sig)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefundFlow(t *testing.T) {
	f := newFixture(t)
	ctx, txn := f.createTransaction(t, "100.00")

	// Settle the capture first.
	_, err := f.svc.ProcessPayment(context.Background(), txn.PaymentToken, "card")
	assert.NoError(t, err)
	ops, _ := f.op.ListByTransaction(context.Background(), txn.ID)
	body, sig := signedCallback(t, domain.Callback{
		OperationID:   ops[0].ID.String(),
		TransactionID: txn.ID.String(),
		Status:        domain.CallbackStatusSuccess,
		PSPReference:  "psp_ref_capture",
	})
	assert.NoError(t, f.svc.HandleCallback(context.Background(), body, sig))

	refundOp, err := f.svc.Refund(ctx, domain.RefundRequest{
		TransactionID: txn.ID.String(),
		Amount:        "40.00",
	})
	assert.NoError(t, err)
	assert.Equal(t, operationdomain.TypeRefund, refundOp.Type)
	assert.Equal(t, operationdomain.StatusProcessing, refundOp.Status)
	assert.Equal(t, int64(4000), refundOp.Amount)
	assert.NotNil(t, refundOp.ParentOperationID)
	assert.Equal(t, ops[0].ID, *refundOp.ParentOperationID)
	assert.Len(t, f.gateway.refunds, 1)
	assert.Equal(t, "40.00", f.gateway.refunds[0].Amount)
	assert.Equal(t, "psp_ref_capture", f.gateway.refunds[0].CaptureReference)

	// In-flight refunds cap further requests.
	_, err = f.svc.Refund(ctx, domain.RefundRequest{
		TransactionID: txn.ID.String(),
		Amount:        "70.00",
	})
	assert.ErrorIs(t, err, domain.ErrRefundExceeds)

	// Settle the refund.
	body, sig = signedCallback(t, domain.Callback{
		OperationID:   refundOp.ID.String(),
		TransactionID: txn.ID.String(),
		Status:        domain.CallbackStatusSuccess,
	})
	assert.NoError(t, f.svc.HandleCallback(context.Background(), body, sig))

	stored, err := f.txn.GetByID(ctx, transactiondomain.GetTransactionRequest{ID: txn.ID.String()})
	assert.NoError(t, err)
	assert.Equal(t, transactiondomain.StatusPartialRefund, stored.Status)

	// The remaining balance can now go out.
	_, err = f.svc.Refund(ctx, domain.RefundRequest{
		TransactionID: txn.ID.String(),
		Amount:        "60.00",
	})
	assert.NoError(t, err)

	assert.Equal(t, []string{
		webhookdomain.EventTransactionCreated,
		webhookdomain.EventTransactionProcessing,
		webhookdomain.EventTransactionSuccess,
		webhookdomain.EventRefundProcessing,
		webhookdomain.EventRefundSuccess,
		webhookdomain.EventRefundProcessing,
	}, f.events.eventTypes())

	for _, event := range f.events.events {
		assert.Equal(t, txn.MerchantID.String(), event.Payload["merchant_id"])
	}
}

func TestRefundRequiresSettledTransaction(t *testing.T) {
	f := newFixture(t)
	ctx, txn := f.createTransaction(t, "100.00")

	_, err := f.svc.Refund(ctx, domain.RefundRequest{
		TransactionID: txn.ID.String(),
		Amount:        "10.00",
	})
	assert.ErrorIs(t, err, transactiondomain.ErrInvalidState)
}

func TestRefundWithoutCapture(t *testing.T) {
	f := newFixture(t)
	ctx, txn := f.createTransaction(t, "100.00")

	// A transaction settled out of band has no capture on file.
	assert.NoError(t, f.db.Exec(
		`UPDATE transactions SET status = ? WHERE id = ?`,
		transactiondomain.StatusSuccess, txn.ID,
	).Error)

	_, err := f.svc.Refund(ctx, domain.RefundRequest{
		TransactionID: txn.ID.String(),
		Amount:        "10.00",
	})
	assert.ErrorIs(t, err, operationdomain.ErrNoCaptureFound)
}

func TestRefundGatewayDown(t *testing.T) {
	f := newFixture(t)
	ctx, txn := f.createTransaction(t, "100.00")

	_, err := f.svc.ProcessPayment(context.Background(), txn.PaymentToken, "card")
	assert.NoError(t, err)
	ops, _ := f.op.ListByTransaction(context.Background(), txn.ID)
	body, sig := signedCallback(t, domain.Callback{
		OperationID:   ops[0].ID.String(),
		TransactionID: txn.ID.String(),
		Status:        domain.CallbackStatusSuccess,
	})
	assert.NoError(t, f.svc.HandleCallback(context.Background(), body, sig))

	f.gateway.fail = true
	_, err = f.svc.Refund(ctx, domain.RefundRequest{
		TransactionID: txn.ID.String(),
		Amount:        "40.00",
	})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	// The rejected refund no longer reserves the amount.
	total, err := f.op.RefundedTotal(context.Background(), txn.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), total)

	f.gateway.fail = false
	_, err = f.svc.Refund(ctx, domain.RefundRequest{
		TransactionID: txn.ID.String(),
		Amount:        "100.00",
	})
	assert.NoError(t, err)
}
