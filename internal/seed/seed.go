package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	merchantdomain "github.com/smallbiznis/payway/internal/merchant/domain"
	"gorm.io/gorm"
)

const (
	defaultMerchantName  = "Demo Store"
	defaultAPIKeyID      = "pk_test_demo"
	defaultAPISecret     = "sk_test_demo"
	defaultWebhookURL    = "http://localhost:4000/webhooks/payway"
	defaultWebhookSecret = "whsec_demo"
)

// EnsureDefaultMerchant seeds a demo merchant so a fresh install can accept
// API calls immediately. Production deployments skip this.
func EnsureDefaultMerchant(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing merchantdomain.Merchant
		err := tx.WithContext(ctx).
			Where("api_key_id = ?", defaultAPIKeyID).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		merchant := merchantdomain.Merchant{
			ID:            node.Generate(),
			Name:          defaultMerchantName,
			APIKeyID:      defaultAPIKeyID,
			APIKeyHash:    merchantdomain.HashAPISecret(defaultAPISecret),
			WebhookURL:    defaultWebhookURL,
			WebhookSecret: defaultWebhookSecret,
			Status:        merchantdomain.StatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.WithContext(ctx).Create(&merchant).Error
	})
}
