package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	pspclient "github.com/smallbiznis/payway/internal/psp/client"
	pspdomain "github.com/smallbiznis/payway/internal/psp/domain"
)

const maxCallbackBodySize = 1 << 20

func (s *Server) ProcessorCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBodySize))
	if err != nil {
		AbortWithError(c, pspdomain.ErrInvalidCallback)
		return
	}

	signature := c.GetHeader(pspclient.SignatureHeader)
	if err := s.pspSvc.HandleCallback(c.Request.Context(), body, signature); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
