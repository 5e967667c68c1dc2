package merchantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// MerchantContextKey is the request context key for the authenticated merchant ID.
type MerchantContextKey struct{}

// WithMerchantID stores the merchant ID in the context.
func WithMerchantID(ctx context.Context, merchantID snowflake.ID) context.Context {
	return context.WithValue(ctx, MerchantContextKey{}, merchantID)
}

// MerchantIDFromContext returns the merchant ID from context, if set.
func MerchantIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(MerchantContextKey{})
	if value == nil {
		return 0, false
	}

	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
