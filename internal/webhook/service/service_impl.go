package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/config"
	merchantdomain "github.com/smallbiznis/payway/internal/merchant/domain"
	"github.com/smallbiznis/payway/internal/merchantctx"
	"github.com/smallbiznis/payway/internal/observability/metrics"
	"github.com/smallbiznis/payway/internal/webhook/domain"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// deliveryTimeout bounds one webhook POST to a merchant endpoint.
const deliveryTimeout = 10 * time.Second

// maxBackoff caps the exponential retry delay.
const maxBackoff = 24 * time.Hour

type Params struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Merchant merchantdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	cfg      config.Config
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	merchant merchantdomain.Service
	metrics  *metrics.Metrics
	client   *http.Client
}

func New(p Params) domain.Service {
	return &Service{
		cfg:      p.Config,
		db:       p.DB,
		log:      p.Log.Named("webhook.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		merchant: p.Merchant,
		metrics:  p.Metrics,
		client:   &http.Client{Timeout: deliveryTimeout},
	}
}

func (s *Service) Enqueue(ctx context.Context, req domain.EnqueueRequest) (domain.WebhookEvent, error) {
	if req.MerchantID == 0 {
		return domain.WebhookEvent{}, domain.ErrInvalidMerchant
	}

	payload := datatypes.JSONMap{}
	for k, v := range req.Payload {
		payload[k] = v
	}

	now := s.clock.Now()
	event := domain.WebhookEvent{
		ID:            s.genID.Generate(),
		MerchantID:    req.MerchantID,
		TransactionID: req.TransactionID,
		OperationID:   req.OperationID,
		EventType:     req.EventType,
		WebhookURL:    strings.TrimSpace(req.TargetURL),
		Payload:       payload,
		Status:        domain.StatusPending,
		NextRetryAt:   &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, &event); err != nil {
		return domain.WebhookEvent{}, err
	}

	return event, nil
}

func (s *Service) Deliver(ctx context.Context, eventID snowflake.ID) error {
	event, err := s.repo.FindByID(ctx, s.db, eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return domain.ErrNotFound
	}
	if event.Status != domain.StatusPending {
		return nil
	}

	merchant, err := s.merchant.GetByID(ctx, event.MerchantID)
	if err != nil {
		return err
	}

	targetURL := strings.TrimSpace(event.WebhookURL)
	if targetURL == "" {
		targetURL = strings.TrimSpace(merchant.WebhookURL)
	}

	now := s.clock.Now()
	if targetURL == "" {
		if _, err := s.repo.MarkFailed(ctx, s.db, event.ID, event.RetryCount, "no webhook endpoint configured", domain.Attempt{}, now); err != nil {
			return err
		}
		s.record(event.EventType, "no_endpoint")
		return domain.ErrNoEndpoint
	}

	attempt, deliveryErr := s.post(ctx, merchant, targetURL, event)
	if deliveryErr == nil {
		if _, err := s.repo.MarkDelivered(ctx, s.db, event.ID, attempt, s.clock.Now()); err != nil {
			return err
		}
		s.record(event.EventType, "delivered")
		return nil
	}

	attempts := event.RetryCount + 1
	now = s.clock.Now()
	if attempts >= domain.MaxRetries {
		if _, err := s.repo.MarkFailed(ctx, s.db, event.ID, attempts, deliveryErr.Error(), attempt, now); err != nil {
			return err
		}
		s.record(event.EventType, "exhausted")
		s.log.Warn("webhook delivery exhausted",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(deliveryErr),
		)
		return nil
	}

	nextRetry := now.Add(backoffDelay(attempts))
	if _, err := s.repo.MarkRetry(ctx, s.db, event.ID, attempts, nextRetry, deliveryErr.Error(), attempt, now); err != nil {
		return err
	}
	s.record(event.EventType, "retry")
	s.log.Info("webhook delivery failed, scheduled retry",
		zap.String("event_id", event.ID.String()),
		zap.Int("retry_count", attempts),
		zap.Time("next_retry_at", nextRetry),
		zap.Error(deliveryErr),
	)
	return nil
}

func (s *Service) RetrySweep(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	due, err := s.repo.ListDue(ctx, s.db, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, event := range due {
		if err := s.Deliver(ctx, event.ID); err != nil {
			s.log.Error("deliver webhook event",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			continue
		}
		attempted++
	}
	return attempted, nil
}

func (s *Service) Retry(ctx context.Context, req domain.RetryWebhookRequest) (domain.WebhookEvent, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.WebhookEvent{}, domain.ErrInvalidMerchant
	}

	id, err := parseID(req.ID)
	if err != nil {
		return domain.WebhookEvent{}, err
	}

	event, err := s.repo.FindByIDForMerchant(ctx, s.db, merchantID, id)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	if event == nil {
		return domain.WebhookEvent{}, domain.ErrNotFound
	}
	if event.Status != domain.StatusFailed {
		return domain.WebhookEvent{}, domain.ErrInvalidState
	}

	now := s.clock.Now()
	ok, err = s.repo.Requeue(ctx, s.db, event.ID, now)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	if !ok {
		return domain.WebhookEvent{}, domain.ErrInvalidState
	}

	event.Status = domain.StatusPending
	event.RetryCount = 0
	event.NextRetryAt = &now
	event.LastError = ""
	event.UpdatedAt = now
	return *event, nil
}

func (s *Service) List(ctx context.Context, req domain.ListWebhookRequest) (domain.ListWebhookResponse, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.ListWebhookResponse{}, domain.ErrInvalidMerchant
	}

	filter := domain.ListWebhookFilter{
		Status: strings.TrimSpace(req.Status),
	}
	if v := strings.TrimSpace(req.TransactionID); v != "" {
		id, err := snowflake.ParseString(v)
		if err != nil {
			return domain.ListWebhookResponse{}, domain.ErrInvalidID
		}
		filter.TransactionID = id
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, merchantID, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListWebhookResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(event *domain.WebhookEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        event.ID.String(),
			CreatedAt: event.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	events := make([]domain.WebhookEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}

	resp := domain.ListWebhookResponse{Events: events}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetStats(ctx context.Context) (domain.Stats, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.Stats{}, domain.ErrInvalidMerchant
	}

	return s.repo.CountByStatus(ctx, s.db, merchantID)
}

func (s *Service) post(ctx context.Context, merchant merchantdomain.Merchant, targetURL string, event *domain.WebhookEvent) (domain.Attempt, error) {
	body, err := json.Marshal(map[string]any{
		"id":         event.ID.String(),
		"event_type": event.EventType,
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339),
		"data":       map[string]any(event.Payload),
	})
	if err != nil {
		return domain.Attempt{}, err
	}

	attempt := domain.Attempt{Signature: s.sign(merchant, body)}

	reqCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return attempt, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event.EventType)
	req.Header.Set("X-Webhook-Signature", attempt.Signature)

	resp, err := s.client.Do(req)
	if err != nil {
		return attempt, err
	}
	defer resp.Body.Close()

	attempt.HTTPStatus = resp.StatusCode
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	attempt.ResponseBody = string(snippet)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return attempt, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return attempt, nil
}

func (s *Service) sign(merchant merchantdomain.Merchant, body []byte) string {
	secret := merchant.WebhookSecret
	if secret == "" {
		secret = s.cfg.WebhookSecret
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) record(eventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordWebhookDelivery(eventType, outcome)
}

// backoffDelay doubles per attempt, capped so a stuck endpoint is retried
// at most daily.
func backoffDelay(retryCount int) time.Duration {
	delay := time.Minute * time.Duration(1<<uint(retryCount))
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
