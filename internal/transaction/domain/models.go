package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusPending       = "pending"
	StatusProcessing    = "processing"
	StatusSuccess       = "success"
	StatusFailed        = "failed"
	StatusCancelled     = "cancelled"
	StatusRefunded      = "refunded"
	StatusPartialRefund = "partial_refund"
)

// PaymentWindow is how long a pending transaction stays payable.
const PaymentWindow = 24 * time.Hour

// Currencies the gateway settles in.
var SupportedCurrencies = map[string]bool{
	"EUR": true,
	"USD": true,
	"GBP": true,
	"JPY": true,
}

// Transaction is one payment attempt for a merchant order. Amounts are
// minor units; the API renders them as two-decimal strings.
type Transaction struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID       snowflake.ID      `gorm:"column:merchant_id;not null;uniqueIndex:idx_transactions_merchant_order,priority:1" json:"merchant_id"`
	OrderID          string            `gorm:"column:order_id;type:text;not null;uniqueIndex:idx_transactions_merchant_order,priority:2" json:"order_id"`
	Amount           int64             `gorm:"not null" json:"-"`
	RefundedAmount   int64             `gorm:"column:refunded_amount;not null;default:0" json:"-"`
	Currency         string            `gorm:"type:text;not null" json:"currency"`
	Description      string            `gorm:"type:text;not null;default:''" json:"description,omitempty"`
	CustomerEmail    string            `gorm:"column:customer_email;type:text;not null;default:''" json:"customer_email,omitempty"`
	CustomerFirst    string            `gorm:"column:customer_first_name;type:text;not null;default:''" json:"customer_first_name,omitempty"`
	CustomerLast     string            `gorm:"column:customer_last_name;type:text;not null;default:''" json:"customer_last_name,omitempty"`
	SuccessURL       string            `gorm:"column:success_url;type:text;not null;default:''" json:"success_url,omitempty"`
	CancelURL        string            `gorm:"column:cancel_url;type:text;not null;default:''" json:"cancel_url,omitempty"`
	WebhookURL       string            `gorm:"column:webhook_url;type:text;not null;default:''" json:"webhook_url,omitempty"`
	Status           string            `gorm:"type:text;not null;default:'pending'" json:"status"`
	PaymentToken     string            `gorm:"column:payment_token;type:text;not null;uniqueIndex:idx_transactions_payment_token" json:"-"`
	ExpiresAt        time.Time         `gorm:"column:expires_at;not null" json:"expires_at"`
	PaidAt           *time.Time        `gorm:"column:paid_at" json:"paid_at,omitempty"`
	PSPReference     string            `gorm:"column:psp_reference;type:text;not null;default:''" json:"psp_reference,omitempty"`
	PSPTransactionID string            `gorm:"column:psp_transaction_id;type:text;not null;default:''" json:"psp_transaction_id,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// Terminal reports whether no further capture can happen. Refund states are
// terminal for payment but still accept refund operations.
func (t Transaction) Terminal() bool {
	switch t.Status {
	case StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Refundable returns the amount still available to refund.
func (t Transaction) Refundable() int64 {
	switch t.Status {
	case StatusSuccess, StatusPartialRefund:
		return t.Amount - t.RefundedAmount
	}
	return 0
}

// Expired reports whether the payment window has closed for a pending
// transaction.
func (t Transaction) Expired(now time.Time) bool {
	return t.Status == StatusPending && now.After(t.ExpiresAt)
}
