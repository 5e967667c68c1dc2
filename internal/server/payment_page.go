package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	"github.com/smallbiznis/payway/pkg/money"
)

// paymentPageResponse is the public shape of a transaction. It never leaks
// merchant identifiers or processor references.
type paymentPageResponse struct {
	OrderID     string    `json:"order_id"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func renderPaymentPage(txn transactiondomain.Transaction) paymentPageResponse {
	return paymentPageResponse{
		OrderID:     txn.OrderID,
		Amount:      money.Format(txn.Amount),
		Currency:    txn.Currency,
		Description: txn.Description,
		Status:      txn.Status,
		ExpiresAt:   txn.ExpiresAt,
	}
}

func (s *Server) GetPaymentPage(c *gin.Context) {
	token, ok := s.paymentPageToken(c)
	if !ok {
		return
	}

	txn, err := s.txnSvc.GetByToken(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderPaymentPage(txn)})
}

func (s *Server) ProcessPayment(c *gin.Context) {
	token, ok := s.paymentPageToken(c)
	if !ok {
		return
	}

	// The body is optional, a bare POST submits with the default method.
	var req struct {
		PaymentMethod string `json:"payment_method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := s.pspSvc.ProcessPayment(c.Request.Context(), token, strings.TrimSpace(req.PaymentMethod))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": renderPaymentPage(txn)})
}

func (s *Server) CancelPayment(c *gin.Context) {
	token, ok := s.paymentPageToken(c)
	if !ok {
		return
	}

	txn, err := s.txnSvc.CancelByToken(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderPaymentPage(txn)})
}

// paymentPageToken validates the path token and applies the public rate
// limit. Limiter outages fail open.
func (s *Server) paymentPageToken(c *gin.Context) (string, bool) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		AbortWithError(c, transactiondomain.ErrNotFound)
		return "", false
	}

	if s.pageLimiter.Enabled() {
		allowed, err := s.pageLimiter.AllowToken(c.Request.Context(), token)
		if err == nil && !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return "", false
		}
	}

	return token, true
}
