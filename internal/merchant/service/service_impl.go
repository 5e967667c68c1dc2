package service

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/merchant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("merchant.service"),
		repo: p.Repo,
	}
}

func (s *Service) Authenticate(ctx context.Context, apiKeyID, apiSecret string) (domain.Merchant, error) {
	apiKeyID = strings.TrimSpace(apiKeyID)
	if apiKeyID == "" || apiSecret == "" {
		return domain.Merchant{}, domain.ErrUnauthorized
	}

	merchant, err := s.repo.FindByAPIKeyID(ctx, s.db, apiKeyID)
	if err != nil {
		return domain.Merchant{}, err
	}
	if merchant == nil {
		return domain.Merchant{}, domain.ErrUnauthorized
	}

	hashed := domain.HashAPISecret(apiSecret)
	if subtle.ConstantTimeCompare([]byte(hashed), []byte(merchant.APIKeyHash)) != 1 {
		return domain.Merchant{}, domain.ErrUnauthorized
	}

	if !merchant.Active() {
		s.log.Warn("disabled merchant attempted authentication", zap.String("merchant_id", merchant.ID.String()))
		return domain.Merchant{}, domain.ErrUnauthorized
	}

	return *merchant, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Merchant, error) {
	if id == 0 {
		return domain.Merchant{}, domain.ErrNotFound
	}

	merchant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Merchant{}, err
	}
	if merchant == nil {
		return domain.Merchant{}, domain.ErrNotFound
	}

	return *merchant, nil
}
