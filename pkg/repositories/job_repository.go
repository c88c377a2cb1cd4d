package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/lichen/pkg/database"
	"github.com/Ramsey-B/lichen/pkg/metrics"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const jobsTable = "job"

var jobStruct = database.NewStruct(new(models.Job))

// ErrJobFinished is returned when a transition is attempted on a completed, failed or cancelled job.
var ErrJobFinished = errors.New("job is already finished")

var terminalStatuses = []any{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled}

// JobRepository is the job status store
type JobRepository struct {
	*Repository
}

// NewJobRepository creates a new job repository
func NewJobRepository(db database.DB, logger ectologger.Logger) *JobRepository {
	return &JobRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a pending job
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.Create")
	defer span.End()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.JobStatusPending
	if job.ErrorMessages.Data == nil {
		job.ErrorMessages = database.NewJSONB([]string{})
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(jobsTable).
		Cols("id", "type", "status", "actor", "criteria", "total_items", "error_messages", "created_at", "updated_at").
		Values(job.ID, job.Type, job.Status, job.Actor, job.Criteria, job.TotalItems, job.ErrorMessages,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id":   job.ID,
			"job_type": job.Type,
		}).Error("failed to create job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create job")
	}

	metrics.JobTransitions.WithLabelValues(string(job.Type), string(job.Status)).Inc()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
	}).Infof("Created %s", jobsTable)
	return nil
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.GetByID")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var job models.Job
	err := r.exec(ctx).GetContext(ctx, &job, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
		}).Error("failed to get job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job")
	}

	return &job, nil
}

// ListByActor retrieves the most recent jobs submitted by actor
func (r *JobRepository) ListByActor(ctx context.Context, actor string, limit int) ([]models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.ListByActor")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	sb.Where(sb.Equal("actor", actor))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var jobs []models.Job
	if err := r.exec(ctx).SelectContext(ctx, &jobs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"actor": actor,
		}).Error("failed to list jobs by actor")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list jobs by actor")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"actor": actor,
	}).Debugf("Listed %d jobs by actor", len(jobs))
	return jobs, nil
}

// UpdateStatus moves a job to status. Finished jobs are never revisited: the update matches
// only non-terminal rows and reports ErrJobFinished otherwise.
func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.UpdateStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("status", status),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	}
	if status == models.JobStatusRunning {
		assignments = append(assignments, ub.Assign("started_at", sqlbuilder.Raw("COALESCE(started_at, NOW())")))
	}
	if status.IsTerminal() {
		assignments = append(assignments, ub.Assign("finished_at", sqlbuilder.Raw("NOW()")))
	}
	ub.Update(jobsTable).
		Set(assignments...).
		Where(ub.Equal("id", id), ub.NotIn("status", terminalStatuses...))

	query, args := ub.Build()
	result, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
			"status": status,
		}).Error("failed to update job status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update job status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update job status")
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrJobFinished
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": id,
	}).Infof("Updated status of %s to %s", jobsTable, status)
	return nil
}

// UpdateProgress raises progress and total; both only ever grow.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress, totalItems int) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.UpdateProgress")
	defer span.End()

	query := `
		UPDATE job
		SET progress = GREATEST(progress, $1), total_items = GREATEST(total_items, $2), updated_at = NOW()
		WHERE id = $3`

	result, err := r.exec(ctx).ExecContext(ctx, query, progress, totalItems, id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
		}).Error("failed to update job progress")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update job progress")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update job progress")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}
	return nil
}

// RecordPage folds a page tally into the running totals. Error messages are appended up to
// maxMessages; the rest only increase error_overflow.
func (r *JobRepository) RecordPage(ctx context.Context, id uuid.UUID, page int, tally models.PageTally, maxMessages int) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.RecordPage")
	defer span.End()

	messages := tally.Errors
	if messages == nil {
		messages = []string{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return err
	}

	query := `
		UPDATE job
		SET processed = processed + $1,
			succeeded = succeeded + $2,
			skipped = skipped + $3,
			errored = errored + $4,
			error_overflow = error_overflow + GREATEST(0, jsonb_array_length(error_messages) + $5 - $6),
			error_messages = (
				SELECT COALESCE(jsonb_agg(m.value ORDER BY m.ordinality), '[]'::jsonb)
				FROM jsonb_array_elements(error_messages || $7::jsonb) WITH ORDINALITY AS m(value, ordinality)
				WHERE m.ordinality <= $6
			),
			current_page = GREATEST(current_page, $8),
			updated_at = NOW()
		WHERE id = $9`

	result, err := r.exec(ctx).ExecContext(ctx, query,
		tally.Processed, tally.Succeeded, tally.Skipped, tally.Errored,
		len(messages), maxMessages, string(encoded), page, id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
			"page":   page,
		}).Error("failed to record job page")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record job page")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record job page")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":    id,
		"page":      page,
		"processed": tally.Processed,
		"errored":   tally.Errored,
	}).Debugf("Recorded page of %s", jobsTable)
	return nil
}

// SetError stores the message that failed the job
func (r *JobRepository) SetError(ctx context.Context, id uuid.UUID, message string) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.SetError")
	defer span.End()

	return r.setColumn(ctx, id, "error", message)
}

// SetResult stores the path of the job's result artifact
func (r *JobRepository) SetResult(ctx context.Context, id uuid.UUID, path string) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.SetResult")
	defer span.End()

	return r.setColumn(ctx, id, "result_path", path)
}

func (r *JobRepository) setColumn(ctx context.Context, id uuid.UUID, column string, value any) error {
	ub := database.NewUpdateBuilder()
	ub.Update(jobsTable).
		Set(
			ub.Assign(column, value),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
			"column": column,
		}).Error("failed to update job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update job")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}
	return nil
}

// CleanupOlderThan deletes finished jobs created more than age ago
func (r *JobRepository) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.CleanupOlderThan")
	defer span.End()

	cutoff := time.Now().Add(-age)
	db := database.NewDeleteBuilder()
	db.DeleteFrom(jobsTable).
		Where(db.LessThan("created_at", cutoff), db.In("status", terminalStatuses...))

	query, args := db.Build()
	result, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"cutoff": cutoff,
		}).Error("failed to clean up jobs")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to clean up jobs")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"cutoff": cutoff,
		"count":  rows,
	}).Info("Cleaned up finished jobs")
	return rows, nil
}
