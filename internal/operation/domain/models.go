package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TypeCapture = "capture"
	TypeRefund  = "refund"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Operation is one unit of work submitted to the processor: the initial
// capture or a refund. Amounts are minor units.
type Operation struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID        snowflake.ID      `gorm:"column:merchant_id;not null;index:idx_operations_merchant" json:"merchant_id"`
	TransactionID     snowflake.ID      `gorm:"column:transaction_id;not null;index:idx_operations_transaction" json:"transaction_id"`
	ParentOperationID *snowflake.ID     `gorm:"column:parent_operation_id" json:"parent_operation_id,omitempty"`
	Type              string            `gorm:"type:text;not null" json:"type"`
	Amount            int64             `gorm:"not null" json:"-"`
	Currency          string            `gorm:"type:text;not null;default:''" json:"currency"`
	Status            string            `gorm:"type:text;not null;default:'pending';index:idx_operations_status" json:"status"`
	PSPReference      string            `gorm:"column:psp_reference;type:text;not null;default:''" json:"psp_reference,omitempty"`
	PSPTransactionID  string            `gorm:"column:psp_transaction_id;type:text;not null;default:''" json:"psp_transaction_id,omitempty"`
	PSPResponse       datatypes.JSONMap `gorm:"column:psp_response;type:jsonb" json:"psp_response,omitempty"`
	RefundReason      string            `gorm:"column:refund_reason;type:text;not null;default:''" json:"refund_reason,omitempty"`
	ErrorCode         string            `gorm:"column:error_code;type:text;not null;default:''" json:"error_code,omitempty"`
	ErrorMessage      string            `gorm:"column:error_message;type:text;not null;default:''" json:"error_message,omitempty"`
	SubmittedAt       *time.Time        `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	ProcessedAt       *time.Time        `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Operation) TableName() string { return "operations" }

// Terminal reports whether the operation reached a final state.
func (o Operation) Terminal() bool {
	switch o.Status {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
