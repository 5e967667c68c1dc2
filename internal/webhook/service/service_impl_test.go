package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/config"
	merchantdomain "github.com/smallbiznis/payway/internal/merchant/domain"
	"github.com/smallbiznis/payway/internal/merchantctx"
	"github.com/smallbiznis/payway/internal/webhook/domain"
	"github.com/smallbiznis/payway/internal/webhook/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type merchantStub struct {
	merchant merchantdomain.Merchant
}

func (m *merchantStub) Authenticate(ctx context.Context, apiKeyID, apiSecret string) (merchantdomain.Merchant, error) {
	return m.merchant, nil
}

func (m *merchantStub) GetByID(ctx context.Context, id snowflake.ID) (merchantdomain.Merchant, error) {
	if id != m.merchant.ID {
		return merchantdomain.Merchant{}, merchantdomain.ErrNotFound
	}
	return m.merchant, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:wh_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&domain.WebhookEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock, merchant merchantdomain.Merchant) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return New(Params{
		Config:   config.Config{WebhookSecret: "whsec_fallback"},
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		Merchant: &merchantStub{merchant: merchant},
	})
}

func testMerchant(node *snowflake.Node, webhookURL string) merchantdomain.Merchant {
	return merchantdomain.Merchant{
		ID:            node.Generate(),
		Name:          "Test Store",
		APIKeyID:      "pk_test",
		WebhookURL:    webhookURL,
		WebhookSecret: "whsec_test",
		Status:        merchantdomain.StatusActive,
	}
}

func TestDeliverSuccess(t *testing.T) {
	var gotEvent, gotSignature string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	node, _ := snowflake.NewNode(2)
	merchant := testMerchant(node, srv.URL)
	svc := newTestService(t, db, clk, merchant)

	event, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{
		MerchantID:    merchant.ID,
		TransactionID: node.Generate(),
		EventType:     domain.EventTransactionSuccess,
		Payload:       map[string]any{"transaction_id": "123", "status": "success"},
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPending, event.Status)

	err = svc.Deliver(context.Background(), event.ID)
	assert.NoError(t, err)

	assert.Equal(t, domain.EventTransactionSuccess, gotEvent)

	mac := hmac.New(sha256.New, []byte(merchant.WebhookSecret))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)

	var stored domain.WebhookEvent
	assert.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, gotSignature, stored.Signature)
	assert.Equal(t, http.StatusOK, stored.HTTPStatus)

	var body map[string]any
	assert.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, event.ID.String(), body["id"])
	assert.Equal(t, domain.EventTransactionSuccess, body["event_type"])
	data, _ := body["data"].(map[string]any)
	assert.Equal(t, "success", data["status"])

	stats, err := svc.GetStats(merchantctx.WithMerchantID(context.Background(), merchant.ID))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delivered)

	// Delivered events are not re-sent.
	assert.NoError(t, svc.Deliver(context.Background(), event.ID))
	stats, err = svc.GetStats(merchantctx.WithMerchantID(context.Background(), merchant.ID))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestDeliverEventTargetURL(t *testing.T) {
	hits := 0
	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer override.Close()

	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	node, _ := snowflake.NewNode(2)

	// The merchant default points nowhere reachable, the event override
	// wins.
	merchant := testMerchant(node, "http://127.0.0.1:1/hooks")
	svc := newTestService(t, db, clk, merchant)

	event, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{
		MerchantID:    merchant.ID,
		TransactionID: node.Generate(),
		EventType:     domain.EventTransactionSuccess,
		TargetURL:     override.URL,
		Payload:       map[string]any{"status": "success"},
	})
	assert.NoError(t, err)

	assert.NoError(t, svc.Deliver(context.Background(), event.ID))
	assert.Equal(t, 1, hits)

	var stored domain.WebhookEvent
	assert.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, domain.StatusDelivered, stored.Status)
	assert.Equal(t, override.URL, stored.WebhookURL)
}

func TestDeliverFailureSchedulesBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := setupTestDB(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	node, _ := snowflake.NewNode(2)
	merchant := testMerchant(node, srv.URL)
	svc := newTestService(t, db, clk, merchant)

	event, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{
		MerchantID:    merchant.ID,
		TransactionID: node.Generate(),
		EventType:     domain.EventTransactionFailed,
		Payload:       map[string]any{"status": "failed"},
	})
	assert.NoError(t, err)

	assert.NoError(t, svc.Deliver(context.Background(), event.ID))

	var stored domain.WebhookEvent
	assert.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, clk.Now().Add(2*time.Minute).Unix(), stored.NextRetryAt.Unix())
	assert.NotEmpty(t, stored.LastError)
	assert.Equal(t, http.StatusInternalServerError, stored.HTTPStatus)

	// Second failure doubles the delay.
	clk.Advance(2 * time.Minute)
	assert.NoError(t, svc.Deliver(context.Background(), event.ID))
	assert.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, clk.Now().Add(4*time.Minute).Unix(), stored.NextRetryAt.Unix())
}

func TestDeliverExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	node, _ := snowflake.NewNode(2)
	merchant := testMerchant(node, srv.URL)
	svc := newTestService(t, db, clk, merchant)

	event, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{
		MerchantID:    merchant.ID,
		TransactionID: node.Generate(),
		EventType:     domain.EventTransactionFailed,
		Payload:       map[string]any{"status": "failed"},
	})
	assert.NoError(t, err)

	for i := 0; i < domain.MaxRetries; i++ {
		assert.NoError(t, svc.Deliver(context.Background(), event.ID))
		clk.Advance(maxBackoff)
	}

	var stored domain.WebhookEvent
	assert.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, domain.MaxRetries, stored.RetryCount)
	assert.Nil(t, stored.NextRetryAt)
	assert.Equal(t, http.StatusBadGateway, stored.HTTPStatus)

	// A manual retry requeues from scratch.
	ctx := merchantctx.WithMerchantID(context.Background(), merchant.ID)
	requeued, err := svc.Retry(ctx, domain.RetryWebhookRequest{ID: event.ID.String()})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPending, requeued.Status)
	assert.Equal(t, 0, requeued.RetryCount)

	// Only failed events can be retried.
	_, err = svc.Retry(ctx, domain.RetryWebhookRequest{ID: event.ID.String()})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDeliverNoEndpoint(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	node, _ := snowflake.NewNode(2)
	merchant := testMerchant(node, "")
	svc := newTestService(t, db, clk, merchant)

	event, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{
		MerchantID:    merchant.ID,
		TransactionID: node.Generate(),
		EventType:     domain.EventTransactionCreated,
		Payload:       map[string]any{"status": "pending"},
	})
	assert.NoError(t, err)

	err = svc.Deliver(context.Background(), event.ID)
	assert.ErrorIs(t, err, domain.ErrNoEndpoint)

	var stored domain.WebhookEvent
	assert.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestRetrySweep(t *testing.T) {
	var delivered atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	node, _ := snowflake.NewNode(2)
	merchant := testMerchant(node, srv.URL)
	svc := newTestService(t, db, clk, merchant)

	txnID := node.Generate()
	for i := 0; i < 3; i++ {
		_, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{
			MerchantID:    merchant.ID,
			TransactionID: txnID,
			EventType:     domain.EventTransactionCreated,
			Payload:       map[string]any{"seq": i},
		})
		assert.NoError(t, err)
	}

	// One event scheduled in the future stays untouched.
	future, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{
		MerchantID:    merchant.ID,
		TransactionID: txnID,
		EventType:     domain.EventTransactionCreated,
		Payload:       map[string]any{"seq": 99},
	})
	assert.NoError(t, err)
	later := clk.Now().Add(time.Hour)
	assert.NoError(t, db.Model(&domain.WebhookEvent{}).
		Where("id = ?", future.ID).
		Update("next_retry_at", later).Error)

	attempted, err := svc.RetrySweep(context.Background(), 50)
	assert.NoError(t, err)
	assert.Equal(t, 3, attempted)
	assert.Equal(t, int64(3), delivered.Load())

	clk.Advance(2 * time.Hour)
	attempted, err = svc.RetrySweep(context.Background(), 50)
	assert.NoError(t, err)
	assert.Equal(t, 1, attempted)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 2*time.Minute, backoffDelay(1))
	assert.Equal(t, 4*time.Minute, backoffDelay(2))
	assert.Equal(t, 32*time.Minute, backoffDelay(5))
	assert.Equal(t, maxBackoff, backoffDelay(11))
	assert.Equal(t, maxBackoff, backoffDelay(64))
}
