package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WebhookEvent, error)
	FindByIDForMerchant(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*WebhookEvent, error)
	// ListDue returns pending events whose retry time has passed.
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*WebhookEvent, error)
	List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter ListWebhookFilter, page pagination.Pagination) ([]*WebhookEvent, error)

	MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt Attempt, now time.Time) (bool, error)
	MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, retryCount int, nextRetryAt time.Time, lastError string, attempt Attempt, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, retryCount int, lastError string, attempt Attempt, now time.Time) (bool, error)
	Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	CountByStatus(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) (Stats, error)
}
