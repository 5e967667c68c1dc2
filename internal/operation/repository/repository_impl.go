package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/operation/domain"
	"github.com/smallbiznis/payway/pkg/db/option"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const columns = `id, merchant_id, transaction_id, parent_operation_id, type, amount, currency, status,
	psp_reference, psp_transaction_id, psp_response, refund_reason, error_code, error_message,
	submitted_at, processed_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, op *domain.Operation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO operations (id, merchant_id, transaction_id, parent_operation_id, type, amount, currency,
		 status, psp_reference, psp_transaction_id, psp_response, refund_reason, error_code, error_message,
		 submitted_at, processed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID,
		op.MerchantID,
		op.TransactionID,
		op.ParentOperationID,
		op.Type,
		op.Amount,
		op.Currency,
		op.Status,
		op.PSPReference,
		op.PSPTransactionID,
		op.PSPResponse,
		op.RefundReason,
		op.ErrorCode,
		op.ErrorMessage,
		op.SubmittedAt,
		op.ProcessedAt,
		op.CreatedAt,
		op.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Operation, error) {
	var op domain.Operation
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM operations WHERE id = ?`,
		id,
	).Scan(&op).Error
	if err != nil {
		return nil, err
	}
	if op.ID == 0 {
		return nil, nil
	}
	return &op, nil
}

func (r *repo) FindByIDForMerchant(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*domain.Operation, error) {
	var op domain.Operation
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM operations WHERE merchant_id = ? AND id = ?`,
		merchantID,
		id,
	).Scan(&op).Error
	if err != nil {
		return nil, err
	}
	if op.ID == 0 {
		return nil, nil
	}
	return &op, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter domain.ListOperationFilter, page pagination.Pagination) ([]*domain.Operation, error) {
	var ops []*domain.Operation
	stmt := db.WithContext(ctx).
		Model(&domain.Operation{}).
		Where("merchant_id = ?", merchantID)
	if filter.TransactionID != 0 {
		stmt = stmt.Where("transaction_id = ?", filter.TransactionID)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func (r *repo) ListByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) ([]*domain.Operation, error) {
	var ops []*domain.Operation
	err := db.WithContext(ctx).
		Model(&domain.Operation{}).
		Where("transaction_id = ?", transactionID).
		Order("created_at asc, id asc").
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func (r *repo) SumRefunded(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error) {
	var total sql.NullInt64
	err := db.WithContext(ctx).Raw(
		`SELECT SUM(amount) FROM operations
		 WHERE transaction_id = ? AND type = ? AND status IN ?`,
		transactionID,
		domain.TypeRefund,
		[]string{domain.StatusPending, domain.StatusProcessing, domain.StatusSuccess},
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (r *repo) MarkSubmitted(ctx context.Context, db *gorm.DB, id snowflake.ID, pspReference string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE operations SET status = ?, psp_reference = ?, submitted_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessing,
		pspReference,
		now,
		now,
		id,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, to, pspTransactionID, errorCode, errorMessage string, payload map[string]any, now time.Time) (bool, error) {
	response := datatypes.JSONMap{}
	for k, v := range payload {
		response[k] = v
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE operations SET status = ?, psp_transaction_id = ?, psp_response = ?, error_code = ?, error_message = ?,
		 processed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		pspTransactionID,
		response,
		errorCode,
		errorMessage,
		now,
		now,
		id,
		[]string{domain.StatusPending, domain.StatusProcessing},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindSuccessfulCapture(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*domain.Operation, error) {
	var op domain.Operation
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM operations
		 WHERE transaction_id = ? AND type = ? AND status = ?
		 ORDER BY created_at desc, id desc LIMIT 1`,
		transactionID,
		domain.TypeCapture,
		domain.StatusSuccess,
	).Scan(&op).Error
	if err != nil {
		return nil, err
	}
	if op.ID == 0 {
		return nil, nil
	}
	return &op, nil
}

func (r *repo) StatsByMerchant(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) ([]domain.StatsRow, error) {
	var rows []domain.StatsRow
	err := db.WithContext(ctx).Raw(
		`SELECT type, status, COUNT(*) AS count, SUM(amount) AS amount
		 FROM operations WHERE merchant_id = ?
		 GROUP BY type, status ORDER BY type, status`,
		merchantID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE operations SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`,
		domain.StatusCancelled,
		now,
		id,
		[]string{domain.StatusPending, domain.StatusProcessing},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
