package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Event taxonomy pushed to merchant endpoints.
const (
	EventTransactionCreated    = "transaction.created"
	EventTransactionProcessing = "transaction.processing"
	EventTransactionSuccess    = "transaction.success"
	EventTransactionFailed     = "transaction.failed"
	EventTransactionCancelled  = "transaction.cancelled"
	EventRefundProcessing      = "operation.refund.processing"
	EventRefundSuccess         = "operation.refund.success"
	EventRefundFailed          = "operation.refund.failed"
)

// MaxRetries caps total delivery attempts per event. After the final
// failure the event is parked as failed until a manual retry.
const MaxRetries = 5

// WebhookEvent is one notification owed to a merchant endpoint.
type WebhookEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID    snowflake.ID      `gorm:"column:merchant_id;not null" json:"merchant_id"`
	TransactionID snowflake.ID      `gorm:"column:transaction_id;not null;index:idx_webhook_events_transaction" json:"transaction_id"`
	OperationID   *snowflake.ID     `gorm:"column:operation_id" json:"operation_id,omitempty"`
	EventType     string            `gorm:"column:event_type;type:text;not null" json:"event_type"`
	WebhookURL    string            `gorm:"column:webhook_url;type:text;not null;default:''" json:"webhook_url,omitempty"`
	Payload       datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	Signature     string            `gorm:"type:text;not null;default:''" json:"signature,omitempty"`
	Status        string            `gorm:"type:text;not null;default:'pending'" json:"status"`
	RetryCount    int               `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	NextRetryAt   *time.Time        `gorm:"column:next_retry_at" json:"next_retry_at,omitempty"`
	LastError     string            `gorm:"column:last_error;type:text;not null;default:''" json:"last_error,omitempty"`
	HTTPStatus    int               `gorm:"column:http_status;not null;default:0" json:"http_status,omitempty"`
	ResponseBody  string            `gorm:"column:response_body;type:text;not null;default:''" json:"response_body,omitempty"`
	DeliveredAt   *time.Time        `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "webhook_events" }

// Exhausted reports whether the event has used up its delivery attempts.
func (e WebhookEvent) Exhausted() bool {
	return e.RetryCount >= MaxRetries
}
