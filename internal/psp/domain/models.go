package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProcessorCallback is the durable record of one processor notification.
// The (operation_id, status) unique index makes replayed callbacks no-ops.
type ProcessorCallback struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	OperationID   snowflake.ID      `gorm:"column:operation_id;not null;uniqueIndex:idx_processor_callbacks_operation_status,priority:1" json:"operation_id"`
	TransactionID snowflake.ID      `gorm:"column:transaction_id;not null" json:"transaction_id"`
	Status        string            `gorm:"type:text;not null;uniqueIndex:idx_processor_callbacks_operation_status,priority:2" json:"status"`
	PSPReference  string            `gorm:"column:psp_reference;type:text;not null;default:''" json:"psp_reference"`
	Payload       datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	ReceivedAt    time.Time         `gorm:"column:received_at;not null;default:CURRENT_TIMESTAMP" json:"received_at"`
}

// TableName sets the database table name.
func (ProcessorCallback) TableName() string { return "processor_callbacks" }
