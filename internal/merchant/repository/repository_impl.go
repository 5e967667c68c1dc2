package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/merchant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, merchant *domain.Merchant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO merchants (id, name, api_key_id, api_key_hash, webhook_url, webhook_secret, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		merchant.ID,
		merchant.Name,
		merchant.APIKeyID,
		merchant.APIKeyHash,
		merchant.WebhookURL,
		merchant.WebhookSecret,
		merchant.Status,
		merchant.CreatedAt,
		merchant.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Merchant, error) {
	var merchant domain.Merchant
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, api_key_id, api_key_hash, webhook_url, webhook_secret, status, created_at, updated_at
		 FROM merchants WHERE id = ?`,
		id,
	).Scan(&merchant).Error
	if err != nil {
		return nil, err
	}
	if merchant.ID == 0 {
		return nil, nil
	}
	return &merchant, nil
}

func (r *repo) FindByAPIKeyID(ctx context.Context, db *gorm.DB, apiKeyID string) (*domain.Merchant, error) {
	var merchant domain.Merchant
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, api_key_id, api_key_hash, webhook_url, webhook_secret, status, created_at, updated_at
		 FROM merchants WHERE api_key_id = ?`,
		apiKeyID,
	).Scan(&merchant).Error
	if err != nil {
		return nil, err
	}
	if merchant.ID == 0 {
		return nil, nil
	}
	return &merchant, nil
}
