package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/internal/service"
)

type Lister interface {
	List(ctx context.Context, req service.ListRequest) (service.Summary, error)
}

type Scanner interface {
	Scan(ctx context.Context, req service.ScanRequest) (service.Summary, error)
}

// TriggerHandler starts producer runs over HTTP.
type TriggerHandler struct {
	lister  Lister
	scanner Scanner
	logger  *zap.Logger
}

func NewTriggerHandler(lister Lister, scanner Scanner, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{
		lister:  lister,
		scanner: scanner,
		logger:  logger,
	}
}

// ListEmails handles POST /v1/emails/list
func (h *TriggerHandler) ListEmails(c *gin.Context) {
	var req service.ListRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	summary, err := h.lister.List(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Email list run failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ScanEmails handles POST /v1/emails/scan
func (h *TriggerHandler) ScanEmails(c *gin.Context) {
	var req service.ScanRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Count < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must not be negative"})
		return
	}

	summary, err := h.scanner.Scan(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Email scan run failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return false
	}
	return true
}
