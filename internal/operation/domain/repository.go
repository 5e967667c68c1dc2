package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, op *Operation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Operation, error)
	FindByIDForMerchant(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*Operation, error)
	List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter ListOperationFilter, page pagination.Pagination) ([]*Operation, error)
	ListByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) ([]*Operation, error)
	// SumRefunded totals refund amounts already submitted or settled for a
	// transaction, used to cap new refunds against in-flight ones.
	SumRefunded(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error)
	// FindSuccessfulCapture returns the settled capture for a transaction,
	// or nil when none exists.
	FindSuccessfulCapture(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*Operation, error)
	// StatsByMerchant groups a merchant's operations by type and status.
	StatsByMerchant(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) ([]StatsRow, error)

	// MarkSubmitted records the processor acknowledgment for a pending
	// operation. Reports false when the operation already moved on.
	MarkSubmitted(ctx context.Context, db *gorm.DB, id snowflake.ID, pspReference string, now time.Time) (bool, error)
	// Settle finalizes an in-flight operation with the processor outcome.
	Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, to, pspTransactionID, errorCode, errorMessage string, payload map[string]any, now time.Time) (bool, error)
	// Cancel abandons an operation that has not settled.
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}
