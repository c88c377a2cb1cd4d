package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/lichen/pkg/redis"
)

// DeadLetterReader lists job pages that exhausted their retries
type DeadLetterReader interface {
	List(ctx context.Context, count int64) ([]redis.DeadPage, error)
	Count(ctx context.Context) (int64, error)
}

// DLQHandler handles dead letter queue API requests
type DLQHandler struct {
	dlq    DeadLetterReader
	logger ectologger.Logger
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(dlq DeadLetterReader, logger ectologger.Logger) *DLQHandler {
	return &DLQHandler{dlq: dlq, logger: logger}
}

// DLQListResponse represents the response for listing DLQ entries
type DLQListResponse struct {
	Entries []redis.DeadPage `json:"entries"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

func (h *DLQHandler) Register(g *echo.Group) {
	g.GET("", h.List)
}

// List returns dead letter queue entries
// GET /api/v1/dlq
func (h *DLQHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	count := int64(100)
	if countStr := c.QueryParam("count"); countStr != "" {
		if parsed, err := strconv.ParseInt(countStr, 10, 64); err == nil && parsed > 0 {
			count = parsed
		}
	}

	entries, err := h.dlq.List(ctx, count)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list DLQ entries")
		return err
	}

	total, err := h.dlq.Count(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Failed to count DLQ entries")
	}

	return c.JSON(http.StatusOK, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   total,
	})
}
