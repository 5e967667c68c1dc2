package domain

import "context"

// Callback statuses reported by the processor.
const (
	CallbackStatusSuccess = "success"
	CallbackStatusFailed  = "failed"
)

// SubmitRequest is the body posted to the processor for captures and
// refunds. Amounts are two-decimal strings on the wire.
type SubmitRequest struct {
	OperationID   string `json:"operation_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	// PaymentMethod is the shopper's choice on the payment page,
	// captures only.
	PaymentMethod string `json:"payment_method,omitempty"`
	// CaptureReference names the original capture a refund returns
	// funds for, refunds only.
	CaptureReference string `json:"capture_reference,omitempty"`
	CallbackURL      string `json:"callback_url"`
}

// Ack is the processor's synchronous acceptance of a submission. The
// outcome arrives later on the callback endpoint.
type Ack struct {
	PSPReference        string `json:"psp_reference"`
	EstimatedCompletion string `json:"estimated_completion"`
}

// Callback is the asynchronous outcome the processor posts back.
type Callback struct {
	OperationID      string         `json:"operation_id"`
	TransactionID    string         `json:"transaction_id"`
	Status           string         `json:"status"`
	PSPReference     string         `json:"psp_reference"`
	PSPTransactionID string         `json:"psp_transaction_id,omitempty"`
	ErrorCode        string         `json:"error_code,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
}

// GatewayClient submits work to the payment service provider.
type GatewayClient interface {
	SubmitCapture(ctx context.Context, req SubmitRequest) (Ack, error)
	SubmitRefund(ctx context.Context, req SubmitRequest) (Ack, error)
}
