package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/pkg/db/pagination"
)

// EnqueueRequest records a notification owed to a merchant. Delivery is
// attempted asynchronously after the row is durable.
type EnqueueRequest struct {
	MerchantID    snowflake.ID
	TransactionID snowflake.ID
	OperationID   *snowflake.ID
	EventType     string
	// TargetURL overrides the merchant's default endpoint when the
	// transaction was created with its own webhook_url.
	TargetURL string
	Payload   map[string]any
}

type RetryWebhookRequest struct {
	ID string
}

type ListWebhookRequest struct {
	PageToken     string
	PageSize      int
	TransactionID string
	Status        string
}

type ListWebhookFilter struct {
	TransactionID snowflake.ID
	Status        string
}

type ListWebhookResponse struct {
	pagination.PageInfo
	Events []WebhookEvent `json:"events"`
}

// Attempt is what one delivery attempt observed: the signature sent and
// the endpoint's response snapshot.
type Attempt struct {
	Signature    string
	HTTPStatus   int
	ResponseBody string
}

// Stats summarizes delivery health for a merchant.
type Stats struct {
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

type Service interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (WebhookEvent, error)
	// Deliver attempts delivery of one event and schedules the next retry
	// on failure.
	Deliver(ctx context.Context, eventID snowflake.ID) error
	// RetrySweep delivers due pending events and returns how many were
	// attempted.
	RetrySweep(ctx context.Context, limit int) (int, error)
	// Retry re-queues a failed event for the merchant in context.
	Retry(ctx context.Context, req RetryWebhookRequest) (WebhookEvent, error)
	List(ctx context.Context, req ListWebhookRequest) (ListWebhookResponse, error)
	GetStats(ctx context.Context) (Stats, error)
}

var (
	ErrInvalidMerchant = errors.New("invalid_merchant")
	ErrInvalidID       = errors.New("invalid_id")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidState    = errors.New("invalid_state")
	ErrNoEndpoint      = errors.New("no_webhook_endpoint")
)
