package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/webhook/domain"
	"github.com/smallbiznis/payway/pkg/db/option"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, merchant_id, transaction_id, operation_id, event_type, webhook_url,
		 payload, signature, status, retry_count, next_retry_at, last_error, http_status, response_body,
		 delivered_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.MerchantID,
		event.TransactionID,
		event.OperationID,
		event.EventType,
		event.WebhookURL,
		event.Payload,
		event.Signature,
		event.Status,
		event.RetryCount,
		event.NextRetryAt,
		event.LastError,
		event.HTTPStatus,
		event.ResponseBody,
		event.DeliveredAt,
		event.CreatedAt,
		event.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) FindByIDForMerchant(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND id = ?", merchantID, id).
		Limit(1).
		Find(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.WebhookEvent, error) {
	var events []*domain.WebhookEvent
	err := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", domain.StatusPending, now).
		Order("next_retry_at asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter domain.ListWebhookFilter, page pagination.Pagination) ([]*domain.WebhookEvent, error) {
	var events []*domain.WebhookEvent
	stmt := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("merchant_id = ?", merchantID)
	if filter.TransactionID != 0 {
		stmt = stmt.Where("transaction_id = ?", filter.TransactionID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt domain.Attempt, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, signature = ?, http_status = ?, response_body = ?,
		 delivered_at = ?, last_error = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusDelivered,
		attempt.Signature,
		attempt.HTTPStatus,
		attempt.ResponseBody,
		now,
		now,
		id,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, retryCount int, nextRetryAt time.Time, lastError string, attempt domain.Attempt, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET retry_count = ?, next_retry_at = ?, last_error = ?, signature = ?,
		 http_status = ?, response_body = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		retryCount,
		nextRetryAt,
		lastError,
		attempt.Signature,
		attempt.HTTPStatus,
		attempt.ResponseBody,
		now,
		id,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, retryCount int, lastError string, attempt domain.Attempt, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, retry_count = ?, last_error = ?, signature = ?,
		 http_status = ?, response_body = ?, next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		retryCount,
		lastError,
		attempt.Signature,
		attempt.HTTPStatus,
		attempt.ResponseBody,
		now,
		id,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, retry_count = 0, next_retry_at = ?, last_error = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusPending,
		now,
		now,
		id,
		domain.StatusFailed,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) (domain.Stats, error) {
	rows := []struct {
		Status string
		Total  int64
	}{}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS total FROM webhook_events WHERE merchant_id = ? GROUP BY status`,
		merchantID,
	).Scan(&rows).Error
	if err != nil {
		return domain.Stats{}, err
	}

	var stats domain.Stats
	for _, row := range rows {
		switch row.Status {
		case domain.StatusPending:
			stats.Pending = row.Total
		case domain.StatusDelivered:
			stats.Delivered = row.Total
		case domain.StatusFailed:
			stats.Failed = row.Total
		}
	}
	return stats, nil
}
