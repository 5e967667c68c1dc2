package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/ratelimit"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler dependencies are incomplete")

const (
	jobWebhookSweep = "webhook_retry_sweep"
	jobExpireStale  = "expire_transactions"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	TransactionSvc transactiondomain.Service
	WebhookSvc     webhookdomain.Service
	Limiter        *ratelimit.PaymentPageLimiter `optional:"true"`
	Config         Config                        `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	txnSvc  transactiondomain.Service
	whSvc   webhookdomain.Service
	limiter *ratelimit.PaymentPageLimiter
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.TransactionSvc == nil || p.WebhookSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		txnSvc:  p.TransactionSvc,
		whSvc:   p.WebhookSvc,
		limiter: p.Limiter,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// Each sweep runs on one worker at a time across the fleet.
	lockToken, acquired, err := s.tryLock(ctx, name)
	if err != nil {
		s.log.Warn("sweep lock unavailable", zap.String("job", name), zap.Error(err))
		return nil
	}
	if !acquired {
		return nil
	}
	defer s.releaseLock(name, lockToken)

	err = fn(ctx)
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the next tick picks up the remainder.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{jobWebhookSweep, s.isJobEnabled(jobWebhookSweep), func(ctx context.Context) error {
			return s.runJob(ctx, jobWebhookSweep, 30*time.Second, s.WebhookSweepJob)
		}},
		{jobExpireStale, s.isJobEnabled(jobExpireStale), func(ctx context.Context) error {
			return s.runJob(ctx, jobExpireStale, 30*time.Second, s.ExpireStaleJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) WebhookSweepJob(ctx context.Context) error {
	attempted, err := s.whSvc.RetrySweep(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if attempted > 0 {
		s.log.Info("webhook sweep delivered", zap.Int("attempted", attempted))
	}
	return nil
}

func (s *Scheduler) ExpireStaleJob(ctx context.Context) error {
	expired, err := s.txnSvc.ExpireStale(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("stale transactions cancelled", zap.Int("expired", expired))
	}
	return nil
}

func (s *Scheduler) tryLock(ctx context.Context, name string) (string, bool, error) {
	if s.limiter == nil {
		return "", true, nil
	}
	return s.limiter.TryLockSweep(ctx, name, s.cfg.SweepLockTTL)
}

func (s *Scheduler) releaseLock(name, token string) {
	if s.limiter == nil || token == "" {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.limiter.ReleaseSweep(releaseCtx, name, token); err != nil {
		s.log.Warn("release sweep lock", zap.String("job", name), zap.Error(err))
	}
}
