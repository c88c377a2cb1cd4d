// Package jobs drives paginated batch work: importing every record behind a tag or object type,
// refreshing previously imported records, and reconciling local records against the remote
// system. A job advances one page at a time; pages are dispatched synchronously by Run or as
// continuation messages by the Queue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/database"
	"github.com/Ramsey-B/lichen/pkg/easydb"
	"github.com/Ramsey-B/lichen/pkg/events"
	"github.com/Ramsey-B/lichen/pkg/importer"
	"github.com/Ramsey-B/lichen/pkg/metrics"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
	"github.com/Ramsey-B/lichen/pkg/repositories"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const (
	DefaultPageSize         = 100
	DefaultFlushEvery       = 25
	DefaultMaxErrorMessages = 20
	DefaultMaxPages         = 100000

	recordSavepoint = "import_record"
)

var (
	// ErrUnsupportedJobType is returned for job types the driver cannot run
	ErrUnsupportedJobType = errors.New("unsupported job type")
	// ErrInvalidCriteria is returned when a job's criteria cannot describe its work
	ErrInvalidCriteria = errors.New("invalid job criteria")
)

// JobStore is the durable job status store.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress, totalItems int) error
	RecordPage(ctx context.Context, id uuid.UUID, page int, tally models.PageTally, maxMessages int) error
	SetError(ctx context.Context, id uuid.UUID, message string) error
}

// RemoteSource pages through remote search results.
type RemoteSource interface {
	ByTag(ctx context.Context, tagID int64, offset, limit int) (easydb.Page, error)
	ByObjectType(ctx context.Context, objectType string, offset, limit int) (easydb.Page, error)
	Exists(ctx context.Context, globalObjectIDs []string) (map[string]bool, error)
}

// LocalRecords pages through previously imported records.
type LocalRecords interface {
	ListPage(ctx context.Context, offset, limit int) ([]models.ImportRecord, error)
	Count(ctx context.Context) (int, error)
	DeleteByGlobalObjectID(ctx context.Context, globalObjectID string) error
}

// Importer imports single records on the transaction carried by ctx.
type Importer interface {
	ImportRecord(ctx context.Context, raw rawrecord.Record, opts importer.Options) (*importer.Result, error)
	ImportByGlobalObjectID(ctx context.Context, globalObjectID string, opts importer.Options) (*importer.Result, error)
	Announce(ctx context.Context, result *importer.Result)
}

// Config bounds page work
type Config struct {
	PageSize int
	// FlushEvery commits the page transaction after this many records
	FlushEvery       int
	MaxErrorMessages int
	// MaxPages bounds Run
	MaxPages int
}

// Driver runs the per-job state machine pending -> running -> completed | failed. Cancelled is
// set out of band and stops the job before its next page.
type Driver struct {
	db        database.DB
	jobs      JobStore
	remote    RemoteSource
	local     LocalRecords
	importer  Importer
	publisher importer.Publisher
	config    Config
	logger    ectologger.Logger
}

func NewDriver(db database.DB, jobs JobStore, remote RemoteSource, local LocalRecords, imp Importer, publisher importer.Publisher, config Config, logger ectologger.Logger) *Driver {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	config.PageSize = min(config.PageSize, easydb.MaxLimit)
	if config.FlushEvery <= 0 {
		config.FlushEvery = DefaultFlushEvery
	}
	if config.MaxErrorMessages <= 0 {
		config.MaxErrorMessages = DefaultMaxErrorMessages
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultMaxPages
	}

	return &Driver{
		db:        db,
		jobs:      jobs,
		remote:    remote,
		local:     local,
		importer:  imp,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

// Validate checks that criteria carry what jobType needs.
func Validate(jobType models.JobType, criteria models.JobCriteria) error {
	switch jobType {
	case models.JobTypeImportTag:
		if criteria.TagID <= 0 {
			return fmt.Errorf("%w: %s requires tag_id", ErrInvalidCriteria, jobType)
		}
	case models.JobTypeImportType:
		if criteria.ObjectType == "" {
			return fmt.Errorf("%w: %s requires object_type", ErrInvalidCriteria, jobType)
		}
	case models.JobTypeRefresh, models.JobTypeReconcile:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedJobType, jobType)
	}
	if criteria.PageSize < 0 || criteria.PageSize > easydb.MaxLimit {
		return fmt.Errorf("%w: page_size must be between 0 and %d", ErrInvalidCriteria, easydb.MaxLimit)
	}
	return nil
}

// Submit validates and stores a new pending job.
func (d *Driver) Submit(ctx context.Context, jobType models.JobType, criteria models.JobCriteria, actor *string) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "Driver.Submit", attribute.String("job_type", string(jobType)))
	defer span.End()

	if err := Validate(jobType, criteria); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	job := &models.Job{
		Type:  jobType,
		Actor: actor,
	}
	job.Criteria.Data = criteria
	if err := d.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   job.ID,
		"job_type": jobType,
	}).Info("job submitted")
	return job, nil
}

// Cancel marks a job cancelled. The driver stops before the job's next page.
func (d *Driver) Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := d.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.jobs.UpdateStatus(ctx, id, models.JobStatusCancelled); err != nil {
		if errors.Is(err, repositories.ErrJobFinished) {
			return nil, httperror.NewHTTPErrorf(http.StatusConflict, "job %s is already %s", id, job.Status)
		}
		return nil, err
	}
	metrics.JobTransitions.WithLabelValues(string(job.Type), string(models.JobStatusCancelled)).Inc()

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": id,
	}).Info("job cancelled")
	return d.jobs.GetByID(ctx, id)
}

// Run dispatches pages until the job reaches a terminal status or MaxPages is hit. It resumes
// after the last recorded page. A page that fails fails the job.
func (d *Driver) Run(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := d.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	page := 0
	if job.Processed > 0 {
		page = job.CurrentPage + 1
	}

	for i := 0; i < d.config.MaxPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, done, err := d.RunPage(ctx, id, page)
		if err != nil {
			if !done {
				if failErr := d.FailPage(context.WithoutCancel(ctx), id, page, err); failErr != nil {
					d.logger.WithContext(ctx).WithError(failErr).Warnf("failed to mark job %s failed", id)
				}
			}
			return nil, err
		}
		if done {
			return d.jobs.GetByID(ctx, id)
		}
		page = next
	}

	return nil, fmt.Errorf("job %s did not finish within %d pages", id, d.config.MaxPages)
}

// page is one fetched unit of work
type page struct {
	total int
	items []workItem
	full  bool
	// offset the page was read from
	offset int
}

type workItem struct {
	identity string
	raw      rawrecord.Record
	// missing is set by reconcile for local records the remote no longer has
	missing bool
}

// RunPage runs page number pageNum of job id. It returns the next page number and whether the
// job is finished. Fetch failures fail the job and are returned; per-record failures are only
// tallied.
func (d *Driver) RunPage(ctx context.Context, id uuid.UUID, pageNum int) (int, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "Driver.RunPage",
		attribute.String("job_id", id.String()),
		attribute.Int("page", pageNum),
	)
	defer span.End()

	ctx = lichenctx.SetJobID(ctx, id.String())

	job, err := d.jobs.GetByID(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if job.Status.IsTerminal() {
		d.logger.WithContext(ctx).WithFields(map[string]any{
			"job_id": id,
			"status": job.Status,
			"page":   pageNum,
		}).Info("job is finished, not dispatching page")
		return pageNum, true, nil
	}
	if job.Actor != nil {
		ctx = lichenctx.SetActor(ctx, *job.Actor)
	}

	if job.Status == models.JobStatusPending {
		if done, err := d.transition(ctx, job, models.JobStatusRunning); done || err != nil {
			return pageNum, done, err
		}
	}

	fetched, err := d.fetch(ctx, job, pageNum)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page fetch failed")
		d.fail(ctx, job, pageNum, err)
		return pageNum, true, err
	}

	tally, err := d.process(ctx, job, fetched)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page processing failed")
		return pageNum, false, err
	}

	if err := d.jobs.RecordPage(ctx, id, pageNum, tally, d.config.MaxErrorMessages); err != nil {
		return pageNum, false, err
	}
	metrics.PagesProcessed.WithLabelValues(string(job.Type)).Inc()

	processed := job.Processed + tally.Processed
	total := max(fetched.total, job.TotalItems, processed)
	done := !fetched.full
	if done {
		// a finished job has covered every item it saw
		processed = total
	}
	if err := d.jobs.UpdateProgress(ctx, id, processed, total); err != nil {
		return pageNum, false, err
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":    id,
		"page":      pageNum,
		"processed": tally.Processed,
		"succeeded": tally.Succeeded,
		"skipped":   tally.Skipped,
		"errored":   tally.Errored,
	}).Info("job page processed")

	if done {
		if _, err := d.transition(ctx, job, models.JobStatusCompleted); err != nil {
			return pageNum, true, err
		}
		return pageNum, true, nil
	}
	return pageNum + 1, false, nil
}

// transition reports done when the job was finished out of band in the meantime.
func (d *Driver) transition(ctx context.Context, job *models.Job, status models.JobStatus) (bool, error) {
	err := d.jobs.UpdateStatus(ctx, job.ID, status)
	if errors.Is(err, repositories.ErrJobFinished) {
		d.logger.WithContext(ctx).WithFields(map[string]any{
			"job_id": job.ID,
			"status": status,
		}).Info("job finished out of band")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	metrics.JobTransitions.WithLabelValues(string(job.Type), string(status)).Inc()
	job.Status = status
	return false, nil
}

// FailPage fails a job whose page pageNum could not be completed, keeping cause as the job's
// error. Jobs that are already finished are left alone.
func (d *Driver) FailPage(ctx context.Context, id uuid.UUID, pageNum int, cause error) error {
	job, err := d.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	d.fail(ctx, job, pageNum, cause)
	return nil
}

func (d *Driver) fail(ctx context.Context, job *models.Job, pageNum int, cause error) {
	d.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"page":     pageNum,
		"criteria": job.Criteria.Data,
	}).Error("job page failed")

	if err := d.jobs.SetError(ctx, job.ID, fmt.Sprintf("page %d: %v", pageNum, cause)); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warnf("failed to store error of job %s", job.ID)
	}
	if _, err := d.transition(ctx, job, models.JobStatusFailed); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warnf("failed to mark job %s failed", job.ID)
	}
}

// pageSize never exceeds what one search request returns, so offsets stay contiguous.
func (d *Driver) pageSize(job *models.Job) int {
	if job.Criteria.Data.PageSize > 0 {
		return min(job.Criteria.Data.PageSize, easydb.MaxLimit)
	}
	return d.config.PageSize
}

func (d *Driver) fetch(ctx context.Context, job *models.Job, pageNum int) (*page, error) {
	criteria := job.Criteria.Data
	size := d.pageSize(job)
	offset := pageNum * size

	switch job.Type {
	case models.JobTypeImportTag:
		result, err := d.remote.ByTag(ctx, criteria.TagID, offset, size)
		if err != nil {
			return nil, err
		}
		return remotePage(result, offset), nil

	case models.JobTypeImportType:
		result, err := d.remote.ByObjectType(ctx, criteria.ObjectType, offset, size)
		if err != nil {
			return nil, err
		}
		return remotePage(result, offset), nil

	case models.JobTypeRefresh:
		return d.localPage(ctx, offset, size)

	case models.JobTypeReconcile:
		// deleted rows shift every later row towards the front
		if !criteria.DryRun {
			offset = max(0, offset-job.Succeeded)
		}
		p, err := d.localPage(ctx, offset, size)
		if err != nil {
			return nil, err
		}
		if len(p.items) == 0 {
			return p, nil
		}

		ids := make([]string, len(p.items))
		for i, item := range p.items {
			ids[i] = item.identity
		}
		present, err := d.remote.Exists(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range p.items {
			p.items[i].missing = !present[p.items[i].identity]
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedJobType, job.Type)
	}
}

func remotePage(result easydb.Page, offset int) *page {
	p := &page{
		total:  result.Count,
		full:   result.Full(),
		offset: offset,
		items:  make([]workItem, 0, len(result.Objects)),
	}
	for _, raw := range result.Objects {
		identity, _ := raw.GlobalObjectID()
		p.items = append(p.items, workItem{identity: identity, raw: raw})
	}
	return p
}

func (d *Driver) localPage(ctx context.Context, offset, size int) (*page, error) {
	total, err := d.local.Count(ctx)
	if err != nil {
		return nil, err
	}
	records, err := d.local.ListPage(ctx, offset, size)
	if err != nil {
		return nil, err
	}

	p := &page{
		total:  total,
		full:   len(records) == size,
		offset: offset,
		items:  make([]workItem, 0, len(records)),
	}
	for _, record := range records {
		p.items = append(p.items, workItem{identity: record.GlobalObjectID})
	}
	return p, nil
}

// batch is the open page transaction plus what to announce once it commits.
type batch struct {
	ctx       context.Context
	tx        database.Tx
	imported  []*importer.Result
	deleted   []string
	processed int
}

func (d *Driver) begin(ctx context.Context) (*batch, error) {
	txCtx, tx, err := d.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &batch{ctx: txCtx, tx: tx}, nil
}

func (d *Driver) flush(ctx context.Context, b *batch) error {
	if err := b.tx.Commit(b.ctx); err != nil {
		return err
	}
	for _, result := range b.imported {
		d.importer.Announce(ctx, result)
	}
	for _, globalObjectID := range b.deleted {
		d.announceDeleted(ctx, globalObjectID)
	}
	return nil
}

// process runs every item of p in its own savepoint and commits every FlushEvery items.
func (d *Driver) process(ctx context.Context, job *models.Job, p *page) (models.PageTally, error) {
	var tally models.PageTally
	if len(p.items) == 0 {
		return tally, nil
	}

	b, err := d.begin(ctx)
	if err != nil {
		return tally, err
	}
	defer func() { _ = b.tx.Rollback(b.ctx) }()

	for _, item := range p.items {
		if err := ctx.Err(); err != nil {
			return tally, err
		}

		if err := b.tx.Savepoint(b.ctx, recordSavepoint); err != nil {
			return tally, err
		}

		outcome, err := d.processItem(b, job, item)
		tally.Processed++
		if err != nil {
			if rbErr := b.tx.RollbackTo(b.ctx, recordSavepoint); rbErr != nil {
				return tally, rbErr
			}
			tally.Errored++
			tally.Errors = append(tally.Errors, fmt.Sprintf("%s: %v", item.identity, err))
			metrics.RecordsProcessed.WithLabelValues(string(job.Type), "errored").Inc()
			d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"job_id":   job.ID,
				"identity": item.identity,
				"offset":   p.offset,
				"criteria": job.Criteria.Data,
			}).Warn("record failed, continuing")
		} else {
			if err := b.tx.Release(b.ctx, recordSavepoint); err != nil {
				return tally, err
			}
			if outcome == importer.OutcomeSkipped {
				tally.Skipped++
			} else {
				tally.Succeeded++
			}
		}

		b.processed++
		if b.processed >= d.config.FlushEvery {
			if err := d.flush(ctx, b); err != nil {
				return tally, err
			}
			if b, err = d.begin(ctx); err != nil {
				return tally, err
			}
		}
	}

	return tally, d.flush(ctx, b)
}

func (d *Driver) processItem(b *batch, job *models.Job, item workItem) (importer.Outcome, error) {
	opts := importer.Options{Actor: job.Actor, Force: job.Criteria.Data.Force}

	switch job.Type {
	case models.JobTypeImportTag, models.JobTypeImportType:
		result, err := d.importer.ImportRecord(b.ctx, item.raw, opts)
		if err != nil {
			return "", err
		}
		b.imported = append(b.imported, result)
		return result.Outcome, nil

	case models.JobTypeRefresh:
		result, err := d.importer.ImportByGlobalObjectID(b.ctx, item.identity, opts)
		if err != nil {
			return "", err
		}
		b.imported = append(b.imported, result)
		return result.Outcome, nil

	case models.JobTypeReconcile:
		if !item.missing {
			return importer.OutcomeSkipped, nil
		}
		if job.Criteria.Data.DryRun {
			d.logger.WithContext(b.ctx).WithFields(map[string]any{
				"job_id":           job.ID,
				"global_object_id": item.identity,
			}).Info("dry run: would delete record missing remotely")
			return importer.OutcomeUpdated, nil
		}
		if err := d.local.DeleteByGlobalObjectID(b.ctx, item.identity); err != nil {
			return "", err
		}
		b.deleted = append(b.deleted, item.identity)
		return importer.OutcomeUpdated, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedJobType, job.Type)
	}
}

func (d *Driver) announceDeleted(ctx context.Context, globalObjectID string) {
	if d.publisher == nil {
		return
	}
	err := d.publisher.Publish(ctx, &events.ImportEvent{
		Type:           events.TypeOccurrenceDeleted,
		GlobalObjectID: globalObjectID,
		Actor:          lichenctx.GetActor(ctx),
		JobID:          lichenctx.GetJobID(ctx),
	})
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Warnf("failed to announce deletion of %s", globalObjectID)
	}
}
