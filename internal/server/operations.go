package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	operationdomain "github.com/smallbiznis/payway/internal/operation/domain"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"github.com/smallbiznis/payway/pkg/money"
)

func (s *Server) ListOperations(c *gin.Context) {
	var query struct {
		pagination.Pagination
		TransactionID string `form:"transaction_id"`
		Type          string `form:"type"`
		Status        string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.opSvc.List(c.Request.Context(), operationdomain.ListOperationRequest{
		PageToken:     query.PageToken,
		PageSize:      query.PageSize,
		TransactionID: strings.TrimSpace(query.TransactionID),
		Type:          strings.TrimSpace(query.Type),
		Status:        strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]operationResponse, 0, len(resp.Operations))
	for _, op := range resp.Operations {
		items = append(items, renderOperation(op))
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"operations": items,
		"page_info":  resp.PageInfo,
	}})
}

func (s *Server) GetOperation(c *gin.Context) {
	op, err := s.opSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderOperation(op)})
}

// CancelOperation abandons a pending or processing operation. Settled
// operations cannot be cancelled.
func (s *Server) CancelOperation(c *gin.Context) {
	op, err := s.opSvc.CancelForMerchant(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderOperation(op)})
}

// GetOperationStats summarizes the merchant's operations by type and
// status.
func (s *Server) GetOperationStats(c *gin.Context) {
	rows, err := s.opSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		items = append(items, gin.H{
			"type":   row.Type,
			"status": row.Status,
			"count":  row.Count,
			"amount": money.Format(row.Amount),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"operations": items}})
}
