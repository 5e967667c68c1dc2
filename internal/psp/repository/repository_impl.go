package repository

import (
	"context"

	"github.com/smallbiznis/payway/internal/psp/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCallback(ctx context.Context, db *gorm.DB, cb *domain.ProcessorCallback) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO processor_callbacks (id, operation_id, transaction_id, status, psp_reference, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (operation_id, status) DO NOTHING`,
		cb.ID,
		cb.OperationID,
		cb.TransactionID,
		cb.Status,
		cb.PSPReference,
		cb.Payload,
		cb.ReceivedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
