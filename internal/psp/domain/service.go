package domain

import (
	"context"
	"errors"

	operationdomain "github.com/smallbiznis/payway/internal/operation/domain"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	"gorm.io/gorm"
)

// RefundRequest asks the processor to return funds for a settled
// transaction. Amount is a two-decimal string.
type RefundRequest struct {
	TransactionID string `json:"-"`
	Amount        string `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}

type Service interface {
	// ProcessPayment moves a pending transaction into processing and
	// submits the capture to the processor.
	ProcessPayment(ctx context.Context, token, paymentMethod string) (transactiondomain.Transaction, error)
	// Refund submits a refund for the merchant in context.
	Refund(ctx context.Context, req RefundRequest) (operationdomain.Operation, error)
	// HandleCallback verifies, records and applies one processor
	// notification. Replays are accepted and ignored.
	HandleCallback(ctx context.Context, body []byte, signature string) error
}

type Repository interface {
	// InsertCallback records a callback once per (operation, status).
	// Reports false when an identical callback was already recorded.
	InsertCallback(ctx context.Context, db *gorm.DB, cb *ProcessorCallback) (bool, error)
}

var (
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidCallback    = errors.New("invalid_callback")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrRefundExceeds      = errors.New("refund_exceeds_refundable")
	ErrNotFound           = errors.New("not_found")
)
