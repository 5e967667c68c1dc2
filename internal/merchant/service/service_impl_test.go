package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/payway/internal/merchant/domain"
	"github.com/smallbiznis/payway/internal/merchant/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:merchant_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Merchant{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedMerchant(t *testing.T, db *gorm.DB, status string) domain.Merchant {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	merchant := domain.Merchant{
		ID:         node.Generate(),
		Name:       "Test Store",
		APIKeyID:   "pk_test_1",
		APIKeyHash: domain.HashAPISecret("sk_test_1"),
		Status:     status,
	}
	if err := db.Create(&merchant).Error; err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return merchant
}

func TestAuthenticate(t *testing.T) {
	db := setupTestDB(t)
	svc := New(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
	merchant := seedMerchant(t, db, domain.StatusActive)

	got, err := svc.Authenticate(context.Background(), "pk_test_1", "sk_test_1")
	assert.NoError(t, err)
	assert.Equal(t, merchant.ID, got.ID)

	_, err = svc.Authenticate(context.Background(), "pk_test_1", "sk_wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Authenticate(context.Background(), "pk_unknown", "sk_test_1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Authenticate(context.Background(), "", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthenticateDisabledMerchant(t *testing.T) {
	db := setupTestDB(t)
	svc := New(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
	seedMerchant(t, db, domain.StatusDisabled)

	_, err := svc.Authenticate(context.Background(), "pk_test_1", "sk_test_1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGetByID(t *testing.T) {
	db := setupTestDB(t)
	svc := New(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
	merchant := seedMerchant(t, db, domain.StatusActive)

	got, err := svc.GetByID(context.Background(), merchant.ID)
	assert.NoError(t, err)
	assert.Equal(t, merchant.APIKeyID, got.APIKeyID)

	_, err = svc.GetByID(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	node, _ := snowflake.NewNode(2)
	_, err = svc.GetByID(context.Background(), node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
