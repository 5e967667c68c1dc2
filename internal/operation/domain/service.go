package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/pkg/db/pagination"
)

type CreateOperationRequest struct {
	MerchantID        snowflake.ID
	TransactionID     snowflake.ID
	ParentOperationID *snowflake.ID
	Type              string
	Amount            int64
	Currency          string
	Reason            string
}

// SettleRequest finalizes an operation from a processor callback.
type SettleRequest struct {
	OperationID      snowflake.ID
	Succeeded        bool
	PSPTransactionID string
	ErrorCode        string
	ErrorMessage     string
	// Payload carries the raw processor callback data for audit.
	Payload map[string]any
}

type ListOperationRequest struct {
	PageToken     string
	PageSize      int
	TransactionID string
	Type          string
	Status        string
}

type ListOperationFilter struct {
	TransactionID snowflake.ID
	Type          string
	Status        string
}

type ListOperationResponse struct {
	pagination.PageInfo
	Operations []Operation `json:"operations"`
}

// StatsRow aggregates a merchant's operations by type and status.
// Amount is the sum in minor units.
type StatsRow struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
	Amount int64  `json:"amount"`
}

type Service interface {
	Create(ctx context.Context, req CreateOperationRequest) (Operation, error)
	GetByID(ctx context.Context, id snowflake.ID) (Operation, error)
	ListByTransaction(ctx context.Context, transactionID snowflake.ID) ([]Operation, error)
	// RefundedTotal includes in-flight refunds so callers can cap new ones.
	RefundedTotal(ctx context.Context, transactionID snowflake.ID) (int64, error)
	// SuccessfulCapture returns the settled capture for a transaction,
	// the operation refunds are issued against.
	SuccessfulCapture(ctx context.Context, transactionID snowflake.ID) (Operation, error)
	// Stats summarizes operations for the merchant in context.
	Stats(ctx context.Context) ([]StatsRow, error)
	// Get returns an operation owned by the merchant in context.
	Get(ctx context.Context, id string) (Operation, error)
	List(ctx context.Context, req ListOperationRequest) (ListOperationResponse, error)
	// CancelForMerchant abandons an unsettled operation for the merchant
	// in context. A processor callback that arrives afterwards is rejected
	// by the settle guard.
	CancelForMerchant(ctx context.Context, id string) (Operation, error)

	MarkSubmitted(ctx context.Context, id snowflake.ID, pspReference string) (Operation, error)
	Settle(ctx context.Context, req SettleRequest) (Operation, error)
	Cancel(ctx context.Context, id snowflake.ID) (Operation, error)
}

var (
	ErrInvalidType     = errors.New("invalid_type")
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidState    = errors.New("invalid_state")
	ErrInvalidMerchant = errors.New("invalid_merchant")
	ErrNoCaptureFound  = errors.New("no_capture_found")
)
