package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobService submits and cancels batch jobs
type JobService interface {
	Submit(ctx context.Context, jobType models.JobType, criteria models.JobCriteria, actor *string) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// JobReader reads and prunes persisted jobs
type JobReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByActor(ctx context.Context, actor string, limit int) ([]models.Job, error)
	CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Enqueuer hands the first page of a job to the workers
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, page int) (string, error)
}

// JobHandler handles job API endpoints
type JobHandler struct {
	service   JobService
	jobs      JobReader
	queue     Enqueuer
	retention time.Duration
	logger    ectologger.Logger
}

// NewJobHandler creates a new job handler. retention is the default cleanup age.
func NewJobHandler(service JobService, jobs JobReader, queue Enqueuer, retention time.Duration, logger ectologger.Logger) *JobHandler {
	return &JobHandler{
		service:   service,
		jobs:      jobs,
		queue:     queue,
		retention: retention,
		logger:    logger,
	}
}

// CreateJobRequest represents the create job request body
type CreateJobRequest struct {
	Type     models.JobType     `json:"type" validate:"required,oneof=import_tag import_type refresh reconcile"`
	Criteria models.JobCriteria `json:"criteria"`
}

// CleanupResponse reports how many finished jobs were removed
type CleanupResponse struct {
	Deleted   int64  `json:"deleted"`
	OlderThan string `json:"older_than"`
}

// Register registers job routes
func (h *JobHandler) Register(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.DELETE("", h.Cleanup)
	g.GET("/:id", h.GetByID)
	g.POST("/:id/cancel", h.Cancel)
}

// Create submits a job and enqueues its first page
// POST /api/v1/jobs
func (h *JobHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Create")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	req, err := BindAndValidate[CreateJobRequest](c)
	if err != nil {
		return err
	}

	job, err := h.service.Submit(ctx, req.Type, req.Criteria, lichenctx.ActorRef(ctx))
	if err != nil {
		return err
	}

	if _, err := h.queue.Enqueue(ctx, job.ID, 0); err != nil {
		h.logger.WithContext(ctx).WithError(err).Errorf("Failed to enqueue job %s", job.ID)
		if _, cancelErr := h.service.Cancel(ctx, job.ID); cancelErr != nil {
			h.logger.WithContext(ctx).WithError(cancelErr).Warnf("Failed to cancel unqueued job %s", job.ID)
		}
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "job queue is unavailable")
	}

	h.logger.WithContext(ctx).Infof("Submitted %s job %s", job.Type, job.ID)
	return AcceptedResponse(c, job)
}

// GetByID returns a job's status
// GET /api/v1/jobs/:id
func (h *JobHandler) GetByID(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.GetByID")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, job)
}

// List returns the most recent jobs of an actor, defaulting to the caller
// GET /api/v1/jobs?actor=&limit=
func (h *JobHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.List")
	defer span.End()

	actor := c.QueryParam("actor")
	if actor == "" {
		actor = lichenctx.GetActor(ctx)
	}
	if actor == "" {
		return BadRequest("actor query parameter is required")
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return BadRequest("limit must be a positive integer")
		}
		limit = min(parsed, maxListLimit)
	}

	jobs, err := h.jobs.ListByActor(ctx, actor, limit)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list jobs")
		return err
	}

	return SuccessResponse(c, jobs)
}

// Cancel stops a job before its next page
// POST /api/v1/jobs/:id/cancel
func (h *JobHandler) Cancel(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Cancel")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.service.Cancel(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, job)
}

// Cleanup deletes finished jobs older than a duration
// DELETE /api/v1/jobs?older_than=720h
func (h *JobHandler) Cleanup(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Cleanup")
	defer span.End()

	age := h.retention
	if raw := c.QueryParam("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return BadRequest("older_than must be a positive duration such as 720h")
		}
		age = parsed
	}

	deleted, err := h.jobs.CleanupOlderThan(ctx, age)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to clean up jobs")
		return err
	}

	return SuccessResponse(c, CleanupResponse{Deleted: deleted, OlderThan: age.String()})
}
