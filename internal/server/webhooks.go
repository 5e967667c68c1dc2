package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"github.com/smallbiznis/payway/pkg/db/pagination"
)

func (s *Server) ListWebhooks(c *gin.Context) {
	var query struct {
		pagination.Pagination
		TransactionID string `form:"transaction_id"`
		Status        string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.webhookSvc.List(c.Request.Context(), webhookdomain.ListWebhookRequest{
		PageToken:     query.PageToken,
		PageSize:      query.PageSize,
		TransactionID: strings.TrimSpace(query.TransactionID),
		Status:        strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetWebhookStats(c *gin.Context) {
	stats, err := s.webhookSvc.GetStats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) RetryWebhook(c *gin.Context) {
	event, err := s.webhookSvc.Retry(c.Request.Context(), webhookdomain.RetryWebhookRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}
