package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/pkg/db/pagination"
)

type CreateTransactionRequest struct {
	OrderID       string         `json:"order_id"`
	Amount        string         `json:"amount"`
	Currency      string         `json:"currency"`
	Description   string         `json:"description"`
	CustomerEmail string         `json:"customer_email"`
	CustomerFirst string         `json:"customer_first_name"`
	CustomerLast  string         `json:"customer_last_name"`
	SuccessURL    string         `json:"success_url"`
	CancelURL     string         `json:"cancel_url"`
	WebhookURL    string         `json:"webhook_url"`
	Metadata      map[string]any `json:"metadata"`
}

type GetTransactionRequest struct {
	ID string
}

type ListTransactionRequest struct {
	PageToken     string
	PageSize      int
	Status        string
	OrderID       string
	CustomerEmail string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

type ListTransactionFilter struct {
	Status        string
	OrderID       string
	CustomerEmail string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

type ListTransactionResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

type CancelTransactionRequest struct {
	ID string
}

// ApplyCaptureResultRequest settles a processing transaction from a
// processor callback.
type ApplyCaptureResultRequest struct {
	TransactionID    snowflake.ID
	Succeeded        bool
	PSPReference     string
	PSPTransactionID string
}

// ApplyRefundRequest credits a settled refund against the transaction.
type ApplyRefundRequest struct {
	TransactionID snowflake.ID
	Amount        int64
}

type Service interface {
	Create(ctx context.Context, req CreateTransactionRequest) (Transaction, error)
	GetByID(ctx context.Context, req GetTransactionRequest) (Transaction, error)
	List(ctx context.Context, req ListTransactionRequest) (ListTransactionResponse, error)
	Cancel(ctx context.Context, req CancelTransactionRequest) (Transaction, error)

	// Payment page boundary. Lookups by token apply lazy expiry.
	GetByToken(ctx context.Context, token string) (Transaction, error)
	BeginProcessing(ctx context.Context, token string) (Transaction, error)
	CancelByToken(ctx context.Context, token string) (Transaction, error)

	// Processor settlement. GetAny is unscoped because callbacks carry no
	// merchant credentials.
	GetAny(ctx context.Context, id snowflake.ID) (Transaction, error)
	ApplyCaptureResult(ctx context.Context, req ApplyCaptureResultRequest) (Transaction, error)
	ApplyRefund(ctx context.Context, req ApplyRefundRequest) (Transaction, error)

	// ExpireStale cancels pending transactions past their window and
	// returns how many were cancelled.
	ExpireStale(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidMerchant = errors.New("invalid_merchant")
	ErrInvalidOrder    = errors.New("invalid_order")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidID       = errors.New("invalid_id")
	ErrDuplicateOrder  = errors.New("duplicate_order")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidState    = errors.New("invalid_state")
	ErrExpired         = errors.New("expired")
)
