package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Authenticate resolves the merchant for an API key pair. It returns
	// ErrUnauthorized for unknown keys, wrong secrets and disabled merchants.
	Authenticate(ctx context.Context, apiKeyID, apiSecret string) (Merchant, error)
	GetByID(ctx context.Context, id snowflake.ID) (Merchant, error)
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
)
