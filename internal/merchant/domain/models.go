package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Merchant stores hashed API credentials and webhook delivery settings.
type Merchant struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Name          string       `gorm:"type:text;not null" json:"name"`
	APIKeyID      string       `gorm:"column:api_key_id;type:text;not null;uniqueIndex:idx_merchants_api_key_id" json:"api_key_id"`
	APIKeyHash    string       `gorm:"column:api_key_hash;type:text;not null" json:"-"`
	WebhookURL    string       `gorm:"column:webhook_url;type:text;not null;default:''" json:"webhook_url"`
	WebhookSecret string       `gorm:"column:webhook_secret;type:text;not null;default:''" json:"-"`
	Status        string       `gorm:"type:text;not null;default:'active'" json:"status"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Merchant) TableName() string { return "merchants" }

// Active reports whether the merchant may call the API.
func (m Merchant) Active() bool { return m.Status == StatusActive }
