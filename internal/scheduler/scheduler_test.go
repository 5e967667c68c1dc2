package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/payway/internal/clock"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubTransactionSvc struct {
	transactiondomain.Service

	expireCalls int
	expireErr   error
}

func (s *stubTransactionSvc) ExpireStale(ctx context.Context, limit int) (int, error) {
	s.expireCalls++
	return 0, s.expireErr
}

type stubWebhookSvc struct {
	webhookdomain.Service

	sweepCalls int
	sweepErr   error
}

func (s *stubWebhookSvc) RetrySweep(ctx context.Context, limit int) (int, error) {
	s.sweepCalls++
	return 0, s.sweepErr
}

func newTestScheduler(t *testing.T, txn *stubTransactionSvc, wh *stubWebhookSvc, cfg Config) *Scheduler {
	t.Helper()

	sched, err := New(Params{
		DB:             &gorm.DB{},
		Log:            zap.NewNop(),
		Clock:          clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		TransactionSvc: txn,
		WebhookSvc:     wh,
		Config:         cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched
}

func TestRunOnce(t *testing.T) {
	txn := &stubTransactionSvc{}
	wh := &stubWebhookSvc{}
	sched := newTestScheduler(t, txn, wh, Config{})

	assert.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, wh.sweepCalls)
	assert.Equal(t, 1, txn.expireCalls)
}

func TestRunOnceCollectsJobErrors(t *testing.T) {
	txn := &stubTransactionSvc{expireErr: errors.New("db gone")}
	wh := &stubWebhookSvc{}
	sched := newTestScheduler(t, txn, wh, Config{})

	err := sched.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expire_transactions")
	// The webhook sweep still ran.
	assert.Equal(t, 1, wh.sweepCalls)
}

func TestEnabledJobsFilter(t *testing.T) {
	txn := &stubTransactionSvc{}
	wh := &stubWebhookSvc{}
	sched := newTestScheduler(t, txn, wh, Config{
		EnabledJobs: []string{"webhook_retry_sweep"},
	})

	assert.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, wh.sweepCalls)
	assert.Equal(t, 0, txn.expireCalls)
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Params{
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Now()),
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSoftTimeout(t *testing.T) {
	txn := &stubTransactionSvc{}
	wh := &stubWebhookSvc{}
	sched := newTestScheduler(t, txn, wh, Config{})

	err := sched.runJob(context.Background(), "slow_job", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}
