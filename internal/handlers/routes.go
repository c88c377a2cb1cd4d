package handlers

import "github.com/labstack/echo/v4"

// Handlers groups every API handler mounted under /api/v1
type Handlers struct {
	Jobs    *JobHandler
	Imports *ImportHandler
	DLQ     *DLQHandler
}

// Register mounts the handlers on the API group. Nil handlers are skipped.
func (h Handlers) Register(api *echo.Group) {
	if h.Jobs != nil {
		h.Jobs.Register(api.Group("/jobs"))
	}
	if h.Imports != nil {
		h.Imports.Register(api.Group("/imports"))
	}
	if h.DLQ != nil {
		h.DLQ.Register(api.Group("/dlq"))
	}
}
