package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/lichen/pkg/database"
)

// JobStatus represents the lifecycle state of a batch job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType identifies the batch workload
type JobType string

const (
	JobTypeImportTag  JobType = "import_tag"
	JobTypeImportType JobType = "import_type"
	JobTypeRefresh    JobType = "refresh"
	JobTypeReconcile  JobType = "reconcile"
)

// JobCriteria is the filter a job pages over; it is enough to restart the job.
type JobCriteria struct {
	TagID      int64  `json:"tag_id,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
	Force      bool   `json:"force,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
}

// Job tracks one bounded unit of paginated work
type Job struct {
	ID            uuid.UUID                   `db:"id" json:"id"`
	Type          JobType                     `db:"type" json:"type"`
	Status        JobStatus                   `db:"status" json:"status"`
	Actor         *string                     `db:"actor" json:"actor,omitempty"`
	Criteria      database.JSONB[JobCriteria] `db:"criteria" json:"criteria"`
	Progress      int                         `db:"progress" json:"progress"`
	TotalItems    int                         `db:"total_items" json:"total_items"`
	Processed     int                         `db:"processed" json:"processed"`
	Succeeded     int                         `db:"succeeded" json:"succeeded"`
	Skipped       int                         `db:"skipped" json:"skipped"`
	Errored       int                         `db:"errored" json:"errored"`
	ErrorMessages database.JSONB[[]string]    `db:"error_messages" json:"error_messages"`
	// ErrorOverflow counts record errors beyond the retained messages
	ErrorOverflow int        `db:"error_overflow" json:"error_overflow"`
	Error         *string    `db:"error" json:"error,omitempty"`
	ResultPath    *string    `db:"result_path" json:"result_path,omitempty"`
	CurrentPage   int        `db:"current_page" json:"current_page"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

func (Job) TableName() string {
	return "job"
}

// PageTally is the per-page outcome the driver folds into a job.
type PageTally struct {
	Processed int
	Succeeded int
	Skipped   int
	Errored   int
	Errors    []string
}

func (t *PageTally) Add(other PageTally) {
	t.Processed += other.Processed
	t.Succeeded += other.Succeeded
	t.Skipped += other.Skipped
	t.Errored += other.Errored
	t.Errors = append(t.Errors, other.Errors...)
}
