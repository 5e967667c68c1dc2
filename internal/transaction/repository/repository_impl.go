package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/transaction/domain"
	"github.com/smallbiznis/payway/pkg/db/option"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const columns = `id, merchant_id, order_id, amount, refunded_amount, currency, description,
	customer_email, customer_first_name, customer_last_name, success_url, cancel_url, webhook_url,
	status, payment_token, expires_at, paid_at, psp_reference, psp_transaction_id, metadata,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO transactions (id, merchant_id, order_id, amount, refunded_amount, currency, description,
		 customer_email, customer_first_name, customer_last_name, success_url, cancel_url, webhook_url,
		 status, payment_token, expires_at, psp_reference, psp_transaction_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.MerchantID,
		txn.OrderID,
		txn.Amount,
		txn.RefundedAmount,
		txn.Currency,
		txn.Description,
		txn.CustomerEmail,
		txn.CustomerFirst,
		txn.CustomerLast,
		txn.SuccessURL,
		txn.CancelURL,
		txn.WebhookURL,
		txn.Status,
		txn.PaymentToken,
		txn.ExpiresAt,
		txn.PSPReference,
		txn.PSPTransactionID,
		txn.Metadata,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM transactions WHERE merchant_id = ? AND id = ?`,
		merchantID,
		id,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) FindByIDAny(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM transactions WHERE id = ?`,
		id,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM transactions WHERE payment_token = ?`,
		token,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter domain.ListTransactionFilter, page pagination.Pagination) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	stmt := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("merchant_id = ?", merchantID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.OrderID != "" {
		stmt = stmt.Where("order_id = ?", filter.OrderID)
	}
	if filter.CustomerEmail != "" {
		stmt = stmt.Where("customer_email = ?", filter.CustomerEmail)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []string, to string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`,
		to,
		now,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ApplyCaptureResult(ctx context.Context, db *gorm.DB, id snowflake.ID, to, pspReference, pspTransactionID string, paidAt *time.Time, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE transactions SET status = ?, psp_reference = ?, psp_transaction_id = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		pspReference,
		pspTransactionID,
		paidAt,
		now,
		id,
		domain.StatusProcessing,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ApplyRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedRefunded, newRefunded int64, to string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE transactions SET refunded_amount = ?, status = ?, updated_at = ?
		 WHERE id = ? AND refunded_amount = ? AND status IN ?`,
		newRefunded,
		to,
		now,
		id,
		expectedRefunded,
		[]string{domain.StatusSuccess, domain.StatusPartialRefund},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("status = ? AND expires_at < ?", domain.StatusPending, now).
		Order("expires_at asc").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
