package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payway/internal/config"
)

const (
	keyPaymentPageToken = "payment:page:token:%s"
	keySweepLock        = "payway:sweep:lock:%s"
)

// PaymentPageLimiter throttles the public payment page per token and hands
// out the distributed lock used by the background sweeps. A nil limiter
// allows everything, so single-node deployments run without redis.
type PaymentPageLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewPaymentPageLimiter(cfg config.Config) (*PaymentPageLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.PaymentPageRate <= 0 || limitCfg.PaymentPageBurst <= 0 {
		return nil, errors.New("payment page rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &PaymentPageLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.PaymentPageRate,
		burst:   limitCfg.PaymentPageBurst,
	}, nil
}

func (l *PaymentPageLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowToken throttles payment page hits for one payment token.
func (l *PaymentPageLimiter) AllowToken(ctx context.Context, token string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPaymentPageToken, strings.TrimSpace(token)), l.rate, l.burst)
}

// TryLockSweep acquires the named sweep lock so only one worker runs it.
func (l *PaymentPageLimiter) TryLockSweep(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keySweepLock, name), ttl)
}

func (l *PaymentPageLimiter) ReleaseSweep(ctx context.Context, name, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keySweepLock, name), token)
}
