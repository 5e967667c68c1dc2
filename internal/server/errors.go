package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	merchantdomain "github.com/smallbiznis/payway/internal/merchant/domain"
	operationdomain "github.com/smallbiznis/payway/internal/operation/domain"
	pspdomain "github.com/smallbiznis/payway/internal/psp/domain"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal_error")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, merchantdomain.ErrUnauthorized),
		errors.Is(err, pspdomain.ErrInvalidSignature),
		errors.Is(err, transactiondomain.ErrInvalidMerchant),
		errors.Is(err, operationdomain.ErrInvalidMerchant),
		errors.Is(err, webhookdomain.ErrInvalidMerchant):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, transactiondomain.ErrDuplicateOrder),
		errors.Is(err, transactiondomain.ErrInvalidState),
		errors.Is(err, operationdomain.ErrInvalidState),
		errors.Is(err, webhookdomain.ErrInvalidState):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, transactiondomain.ErrExpired):
		return http.StatusGone, errorPayload{
			Type:    "expired",
			Message: "payment window has expired",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case errors.Is(err, pspdomain.ErrGatewayUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_unavailable",
			Message: "payment processor unavailable",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isTransactionValidationError(err),
		isOperationValidationError(err),
		errors.Is(err, webhookdomain.ErrInvalidID),
		errors.Is(err, pspdomain.ErrInvalidCallback),
		errors.Is(err, pspdomain.ErrRefundExceeds):
		return true
	default:
		return false
	}
}

func isTransactionValidationError(err error) bool {
	switch {
	case errors.Is(err, transactiondomain.ErrInvalidOrder),
		errors.Is(err, transactiondomain.ErrInvalidAmount),
		errors.Is(err, transactiondomain.ErrInvalidCurrency),
		errors.Is(err, transactiondomain.ErrInvalidID):
		return true
	default:
		return false
	}
}

func isOperationValidationError(err error) bool {
	switch {
	case errors.Is(err, operationdomain.ErrInvalidType),
		errors.Is(err, operationdomain.ErrInvalidID),
		errors.Is(err, operationdomain.ErrInvalidAmount),
		errors.Is(err, operationdomain.ErrNoCaptureFound):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, transactiondomain.ErrNotFound),
		errors.Is(err, operationdomain.ErrNotFound),
		errors.Is(err, webhookdomain.ErrNotFound),
		errors.Is(err, merchantdomain.ErrNotFound),
		errors.Is(err, pspdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, transactiondomain.ErrDuplicateOrder):
		return "a transaction already exists for this order"
	case errors.Is(err, transactiondomain.ErrInvalidState),
		errors.Is(err, operationdomain.ErrInvalidState),
		errors.Is(err, webhookdomain.ErrInvalidState):
		return "resource is not in a state that allows this operation"
	default:
		return "conflict"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if code == "refund_exceeds_refundable" {
		return "amount"
	}
	if code == "no_capture_found" {
		return "transaction_id"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "refund_exceeds_refundable":
		return "refund exceeds the refundable amount"
	case "no_capture_found":
		return "no settled capture exists for this transaction"
	default:
		return "invalid value"
	}
}
