package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	operationdomain "github.com/smallbiznis/payway/internal/operation/domain"
	pspdomain "github.com/smallbiznis/payway/internal/psp/domain"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"github.com/smallbiznis/payway/pkg/money"
)

type transactionResponse struct {
	ID               string         `json:"id"`
	OrderID          string         `json:"order_id"`
	Amount           string         `json:"amount"`
	RefundedAmount   string         `json:"refunded_amount"`
	Currency         string         `json:"currency"`
	Description      string         `json:"description,omitempty"`
	CustomerEmail    string         `json:"customer_email,omitempty"`
	CustomerFirst    string         `json:"customer_first_name,omitempty"`
	CustomerLast     string         `json:"customer_last_name,omitempty"`
	SuccessURL       string         `json:"success_url,omitempty"`
	CancelURL        string         `json:"cancel_url,omitempty"`
	WebhookURL       string         `json:"webhook_url,omitempty"`
	Status           string         `json:"status"`
	PaymentURL       string         `json:"payment_url,omitempty"`
	ExpiresAt        time.Time      `json:"expires_at"`
	PaidAt           *time.Time     `json:"paid_at,omitempty"`
	PSPReference     string         `json:"psp_reference,omitempty"`
	PSPTransactionID string         `json:"psp_transaction_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type operationResponse struct {
	ID                string     `json:"id"`
	TransactionID     string     `json:"transaction_id"`
	ParentOperationID string     `json:"parent_operation_id,omitempty"`
	Type              string     `json:"type"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency,omitempty"`
	Status            string     `json:"status"`
	PSPReference      string     `json:"psp_reference,omitempty"`
	PSPTransactionID  string     `json:"psp_transaction_id,omitempty"`
	RefundReason      string     `json:"refund_reason,omitempty"`
	ErrorCode         string     `json:"error_code,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (s *Server) renderTransaction(txn transactiondomain.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:               txn.ID.String(),
		OrderID:          txn.OrderID,
		Amount:           money.Format(txn.Amount),
		RefundedAmount:   money.Format(txn.RefundedAmount),
		Currency:         txn.Currency,
		Description:      txn.Description,
		CustomerEmail:    txn.CustomerEmail,
		CustomerFirst:    txn.CustomerFirst,
		CustomerLast:     txn.CustomerLast,
		SuccessURL:       txn.SuccessURL,
		CancelURL:        txn.CancelURL,
		WebhookURL:       txn.WebhookURL,
		Status:           txn.Status,
		ExpiresAt:        txn.ExpiresAt,
		PaidAt:           txn.PaidAt,
		PSPReference:     txn.PSPReference,
		PSPTransactionID: txn.PSPTransactionID,
		Metadata:         txn.Metadata,
		CreatedAt:        txn.CreatedAt,
		UpdatedAt:        txn.UpdatedAt,
	}

	// The payment link only makes sense while the transaction is payable.
	if txn.Status == transactiondomain.StatusPending && txn.PaymentToken != "" {
		resp.PaymentURL = strings.TrimRight(s.cfg.PaymentPageBaseURL, "/") + "/payment/" + txn.PaymentToken
	}

	return resp
}

func renderOperation(op operationdomain.Operation) operationResponse {
	resp := operationResponse{
		ID:               op.ID.String(),
		TransactionID:    op.TransactionID.String(),
		Type:             op.Type,
		Amount:           money.Format(op.Amount),
		Currency:         op.Currency,
		Status:           op.Status,
		PSPReference:     op.PSPReference,
		PSPTransactionID: op.PSPTransactionID,
		RefundReason:     op.RefundReason,
		ErrorCode:        op.ErrorCode,
		ErrorMessage:     op.ErrorMessage,
		SubmittedAt:      op.SubmittedAt,
		ProcessedAt:      op.ProcessedAt,
		CreatedAt:        op.CreatedAt,
		UpdatedAt:        op.UpdatedAt,
	}
	if op.ParentOperationID != nil {
		resp.ParentOperationID = op.ParentOperationID.String()
	}
	return resp
}

func (s *Server) CreateTransaction(c *gin.Context) {
	var req transactiondomain.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := s.txnSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.renderTransaction(txn)})
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status        string `form:"status"`
		OrderID       string `form:"order_id"`
		CustomerEmail string `form:"customer_email"`
		CreatedFrom   string `form:"created_from"`
		CreatedTo     string `form:"created_to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	createdFrom, err := parseOptionalTime(query.CreatedFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}

	createdTo, err := parseOptionalTime(query.CreatedTo, true)
	if err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}

	resp, err := s.txnSvc.List(c.Request.Context(), transactiondomain.ListTransactionRequest{
		PageToken:     query.PageToken,
		PageSize:      query.PageSize,
		Status:        strings.TrimSpace(query.Status),
		OrderID:       strings.TrimSpace(query.OrderID),
		CustomerEmail: strings.TrimSpace(query.CustomerEmail),
		CreatedFrom:   createdFrom,
		CreatedTo:     createdTo,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]transactionResponse, 0, len(resp.Transactions))
	for _, txn := range resp.Transactions {
		items = append(items, s.renderTransaction(txn))
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"transactions": items,
		"page_info":    resp.PageInfo,
	}})
}

func (s *Server) GetTransaction(c *gin.Context) {
	txn, err := s.txnSvc.GetByID(c.Request.Context(), transactiondomain.GetTransactionRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.renderTransaction(txn)})
}

func (s *Server) CancelTransaction(c *gin.Context) {
	txn, err := s.txnSvc.Cancel(c.Request.Context(), transactiondomain.CancelTransactionRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.renderTransaction(txn)})
}

func (s *Server) RefundTransaction(c *gin.Context) {
	var req struct {
		Amount string `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	op, err := s.pspSvc.Refund(c.Request.Context(), pspdomain.RefundRequest{
		TransactionID: strings.TrimSpace(c.Param("id")),
		Amount:        strings.TrimSpace(req.Amount),
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": renderOperation(op)})
}

func (s *Server) ListTransactionOperations(c *gin.Context) {
	txn, err := s.txnSvc.GetByID(c.Request.Context(), transactiondomain.GetTransactionRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ops, err := s.opSvc.ListByTransaction(c.Request.Context(), txn.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		items = append(items, renderOperation(op))
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"operations": items}})
}
