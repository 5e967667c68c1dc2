package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindByID(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*Transaction, error)
	// FindByIDAny looks up a transaction without merchant scoping. Processor
	// callbacks arrive without merchant credentials.
	FindByIDAny(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*Transaction, error)
	List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter ListTransactionFilter, page pagination.Pagination) ([]*Transaction, error)

	// Transition performs a guarded status change. It reports false when the
	// row was not in any of the expected states.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []string, to string, now time.Time) (bool, error)
	// ApplyCaptureResult finalizes a processing transaction with the
	// processor references in one guarded write.
	ApplyCaptureResult(ctx context.Context, db *gorm.DB, id snowflake.ID, to, pspReference, pspTransactionID string, paidAt *time.Time, now time.Time) (bool, error)
	// ApplyRefund updates the refunded total and status. expectedRefunded
	// guards against concurrent refund settlements.
	ApplyRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedRefunded, newRefunded int64, to string, now time.Time) (bool, error)
	// FindExpired returns pending transactions whose payment window closed.
	FindExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Transaction, error)
}
