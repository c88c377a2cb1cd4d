package jobs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/lichen/pkg/database"
	"github.com/Ramsey-B/lichen/pkg/easydb"
	"github.com/Ramsey-B/lichen/pkg/events"
	"github.com/Ramsey-B/lichen/pkg/importer"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
	"github.com/Ramsey-B/lichen/pkg/repositories"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type memoryJobs struct {
	jobs     map[uuid.UUID]*models.Job
	progress []int
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{jobs: map[uuid.UUID]*models.Job{}}
}

func (m *memoryJobs) Create(_ context.Context, job *models.Job) error {
	job.ID = uuid.New()
	job.Status = models.JobStatusPending
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *memoryJobs) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, repositories.NotFound("job %s does not exist", id)
	}
	copied := *job
	return &copied, nil
}

func (m *memoryJobs) UpdateStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	job, ok := m.jobs[id]
	if !ok {
		return repositories.NotFound("job %s does not exist", id)
	}
	if job.Status.IsTerminal() {
		return repositories.ErrJobFinished
	}
	job.Status = status
	return nil
}

func (m *memoryJobs) UpdateProgress(_ context.Context, id uuid.UUID, progress, totalItems int) error {
	job := m.jobs[id]
	job.Progress = max(job.Progress, progress)
	job.TotalItems = max(job.TotalItems, totalItems)
	m.progress = append(m.progress, job.Progress)
	return nil
}

func (m *memoryJobs) RecordPage(_ context.Context, id uuid.UUID, page int, tally models.PageTally, maxMessages int) error {
	job := m.jobs[id]
	job.Processed += tally.Processed
	job.Succeeded += tally.Succeeded
	job.Skipped += tally.Skipped
	job.Errored += tally.Errored
	for _, msg := range tally.Errors {
		if len(job.ErrorMessages.Data) < maxMessages {
			job.ErrorMessages.Data = append(job.ErrorMessages.Data, msg)
		} else {
			job.ErrorOverflow++
		}
	}
	job.CurrentPage = max(job.CurrentPage, page)
	return nil
}

func (m *memoryJobs) SetError(_ context.Context, id uuid.UUID, message string) error {
	m.jobs[id].Error = &message
	return nil
}

type fakeRemote struct {
	objects []rawrecord.Record
	missing map[string]bool
	err     error
	calls   int
	offsets []int
}

// page serves what the search endpoint would for offset and limit.
func (f *fakeRemote) page(offset, limit int) (easydb.Page, error) {
	f.calls++
	if f.err != nil {
		return easydb.Page{}, f.err
	}
	f.offsets = append(f.offsets, offset)
	limit = easydb.NewSearchRequest(offset, limit, nil).Limit
	end := min(offset+limit, len(f.objects))
	var objects []rawrecord.Record
	if offset < end {
		objects = f.objects[offset:end]
	}
	return easydb.Page{Count: len(f.objects), Offset: offset, Limit: limit, Objects: objects}, nil
}

func (f *fakeRemote) ByTag(_ context.Context, _ int64, offset, limit int) (easydb.Page, error) {
	return f.page(offset, limit)
}

func (f *fakeRemote) ByObjectType(_ context.Context, _ string, offset, limit int) (easydb.Page, error) {
	return f.page(offset, limit)
}

func (f *fakeRemote) Exists(_ context.Context, ids []string) (map[string]bool, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]bool{}
	for _, id := range ids {
		out[id] = !f.missing[id]
	}
	return out, nil
}

type fakeLocal struct {
	records []models.ImportRecord
	deleted []string
}

func (f *fakeLocal) ListPage(_ context.Context, offset, limit int) ([]models.ImportRecord, error) {
	end := min(offset+limit, len(f.records))
	if offset >= end {
		return nil, nil
	}
	return append([]models.ImportRecord(nil), f.records[offset:end]...), nil
}

func (f *fakeLocal) Count(_ context.Context) (int, error) {
	return len(f.records), nil
}

func (f *fakeLocal) DeleteByGlobalObjectID(_ context.Context, globalObjectID string) error {
	for i, record := range f.records {
		if record.GlobalObjectID == globalObjectID {
			f.records = append(f.records[:i], f.records[i+1:]...)
			f.deleted = append(f.deleted, globalObjectID)
			return nil
		}
	}
	return repositories.NotFound("import record %s not found", globalObjectID)
}

type fakeImporter struct {
	failing   map[string]bool
	skipped   map[string]bool
	imported  []string
	announced []string
	forced    bool
}

func (f *fakeImporter) result(globalObjectID string, opts importer.Options) (*importer.Result, error) {
	if f.failing[globalObjectID] {
		return nil, &importer.ImportFailedError{Identity: globalObjectID, Kind: importer.KindMappingFailed, Err: errors.New("unexpected shape")}
	}
	f.imported = append(f.imported, globalObjectID)
	f.forced = f.forced || opts.Force
	outcome := importer.OutcomeCreated
	if f.skipped[globalObjectID] {
		outcome = importer.OutcomeSkipped
	}
	return &importer.Result{Record: models.NewImportRecord(globalObjectID), Outcome: outcome}, nil
}

func (f *fakeImporter) ImportRecord(_ context.Context, raw rawrecord.Record, opts importer.Options) (*importer.Result, error) {
	globalObjectID, _ := raw.GlobalObjectID()
	return f.result(globalObjectID, opts)
}

func (f *fakeImporter) ImportByGlobalObjectID(_ context.Context, globalObjectID string, opts importer.Options) (*importer.Result, error) {
	return f.result(globalObjectID, opts)
}

func (f *fakeImporter) Announce(_ context.Context, result *importer.Result) {
	f.announced = append(f.announced, result.Record.GlobalObjectID)
}

type recordingPublisher struct {
	events []*events.ImportEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt *events.ImportEvent) error {
	p.events = append(p.events, evt)
	return nil
}

func rawRecords(n int) []rawrecord.Record {
	out := make([]rawrecord.Record, n)
	for i := range out {
		out[i] = rawrecord.New(map[string]any{
			"_global_object_id": fmt.Sprintf("%d@x", i+1),
			"_objecttype":       "fungarium",
		})
	}
	return out
}

type driverFixture struct {
	driver   *Driver
	mock     sqlmock.Sqlmock
	jobs     *memoryJobs
	remote   *fakeRemote
	local    *fakeLocal
	importer *fakeImporter
	events   *recordingPublisher
}

func newDriverFixture(t *testing.T, config Config) *driverFixture {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	f := &driverFixture{
		mock:     mock,
		jobs:     newMemoryJobs(),
		remote:   &fakeRemote{},
		local:    &fakeLocal{},
		importer: &fakeImporter{failing: map[string]bool{}, skipped: map[string]bool{}},
		events:   &recordingPublisher{},
	}
	db := database.NewDatabaseInstance(sqlx.NewDb(raw, "postgres"), testLogger())
	f.driver = NewDriver(db, f.jobs, f.remote, f.local, f.importer, f.events, config, testLogger())
	return f
}

func (f *driverFixture) submit(t *testing.T, jobType models.JobType, criteria models.JobCriteria) uuid.UUID {
	t.Helper()
	job, err := f.driver.Submit(context.Background(), jobType, criteria, nil)
	require.NoError(t, err)
	return job.ID
}

// expectPage mirrors the driver's transaction handling for a page whose records succeed or fail
// as given.
func (f *driverFixture) expectPage(outcomes []bool, flushEvery int) {
	if len(outcomes) == 0 {
		return
	}
	f.mock.ExpectBegin()
	for i, ok := range outcomes {
		f.mock.ExpectExec("^" + regexp.QuoteMeta("SAVEPOINT import_record") + "$").WillReturnResult(sqlmock.NewResult(0, 0))
		if ok {
			f.mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT import_record")).WillReturnResult(sqlmock.NewResult(0, 0))
		} else {
			f.mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT import_record")).WillReturnResult(sqlmock.NewResult(0, 0))
		}
		if (i+1)%flushEvery == 0 {
			f.mock.ExpectCommit()
			f.mock.ExpectBegin()
		}
	}
	f.mock.ExpectCommit()
}

func succeeding(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

func TestDriver_ImportTagProgressIsMonotonic(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 2})
	f.remote.objects = rawRecords(5)
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 7})

	f.expectPage(succeeding(2), DefaultFlushEvery)
	f.expectPage(succeeding(2), DefaultFlushEvery)
	f.expectPage(succeeding(1), DefaultFlushEvery)

	job, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 5, job.Processed)
	assert.Equal(t, 5, job.Succeeded)
	assert.Equal(t, 5, job.TotalItems)
	assert.Equal(t, job.TotalItems, job.Progress)
	assert.IsNonDecreasing(t, f.jobs.progress)
	assert.Len(t, f.importer.announced, 5)
}

func TestDriver_PartialFailureIsolation(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 10})
	f.remote.objects = rawRecords(4)
	f.importer.failing["3@x"] = true
	id := f.submit(t, models.JobTypeImportType, models.JobCriteria{ObjectType: "fungarium"})

	f.expectPage([]bool{true, true, false, true}, DefaultFlushEvery)

	job, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 4, job.Processed)
	assert.Equal(t, 3, job.Succeeded)
	assert.Equal(t, 1, job.Errored)
	require.Len(t, job.ErrorMessages.Data, 1)
	assert.Contains(t, job.ErrorMessages.Data[0], "3@x")
	assert.NotContains(t, f.importer.announced, "3@x")
}

func TestDriver_ErrorMessagesAreCapped(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 10, MaxErrorMessages: 2})
	f.remote.objects = rawRecords(4)
	for _, raw := range f.remote.objects {
		gid, _ := raw.GlobalObjectID()
		f.importer.failing[gid] = true
	}
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 1})

	f.expectPage([]bool{false, false, false, false}, DefaultFlushEvery)

	job, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 4, job.Errored)
	assert.Len(t, job.ErrorMessages.Data, 2)
	assert.Equal(t, 2, job.ErrorOverflow)
}

func TestDriver_FlushesEveryN(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 10, FlushEvery: 2})
	f.remote.objects = rawRecords(3)
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 1})

	f.expectPage(succeeding(3), 2)

	_, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDriver_SkippedRecordsAreTallied(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 10})
	f.remote.objects = rawRecords(2)
	f.importer.skipped["1@x"] = true
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 1})

	f.expectPage(succeeding(2), DefaultFlushEvery)

	job, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Skipped)
	assert.Equal(t, 1, job.Succeeded)
}

func TestDriver_CancelledBetweenPages(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 2})
	f.remote.objects = rawRecords(5)
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 7})

	f.expectPage(succeeding(2), DefaultFlushEvery)

	next, done, err := f.driver.RunPage(context.Background(), id, 0)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, next)

	_, err = f.driver.Cancel(context.Background(), id)
	require.NoError(t, err)

	_, done, err = f.driver.RunPage(context.Background(), id, next)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 1, f.remote.calls)

	job, err := f.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Equal(t, 2, job.Processed)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDriver_CancelFinishedJobConflicts(t *testing.T) {
	f := newDriverFixture(t, Config{})
	id := f.submit(t, models.JobTypeRefresh, models.JobCriteria{})
	f.jobs.jobs[id].Status = models.JobStatusCompleted

	_, err := f.driver.Cancel(context.Background(), id)
	assert.Error(t, err)
	assert.Equal(t, models.JobStatusCompleted, f.jobs.jobs[id].Status)
}

func TestDriver_FetchFailureFailsJob(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 2})
	f.remote.err = &easydb.RemoteError{Op: "search", Err: errors.New("bad gateway")}
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 7})

	_, done, err := f.driver.RunPage(context.Background(), id, 0)
	assert.ErrorIs(t, err, easydb.ErrRemoteFetchFailed)
	assert.True(t, done)

	job, err := f.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "bad gateway")
}

func TestDriver_PageSizeBeyondSearchLimitIsClamped(t *testing.T) {
	f := newDriverFixture(t, Config{})
	f.remote.objects = rawRecords(2500)
	job := &models.Job{Type: models.JobTypeImportTag}
	job.Criteria.Data = models.JobCriteria{TagID: 7, PageSize: 2000}
	require.NoError(t, f.jobs.Create(context.Background(), job))

	f.expectPage(succeeding(1000), DefaultFlushEvery)
	f.expectPage(succeeding(1000), DefaultFlushEvery)
	f.expectPage(succeeding(500), DefaultFlushEvery)

	finished, err := f.driver.Run(context.Background(), job.ID)
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, []int{0, 1000, 2000}, f.remote.offsets)
	assert.Equal(t, models.JobStatusCompleted, finished.Status)
	assert.Equal(t, 2500, finished.Succeeded)
	assert.Len(t, f.importer.imported, 2500)
}

func TestDriver_PersistenceFailureFailsJob(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 10})
	f.remote.objects = rawRecords(3)
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 7})

	f.mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := f.driver.Run(context.Background(), id)
	require.Error(t, err)

	job, err := f.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "connection refused")
}

func TestDriver_FailPageLeavesFinishedJobs(t *testing.T) {
	f := newDriverFixture(t, Config{})
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 7})
	_, err := f.driver.Cancel(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, f.driver.FailPage(context.Background(), id, 0, errors.New("gave up")))
	assert.Equal(t, models.JobStatusCancelled, f.jobs.jobs[id].Status)
	assert.Nil(t, f.jobs.jobs[id].Error)
}

func TestDriver_EmptyResultCompletes(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 2})
	id := f.submit(t, models.JobTypeImportTag, models.JobCriteria{TagID: 7})

	job, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, job.Processed)
}

func TestDriver_RefreshForcesReimport(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 10})
	f.local.records = []models.ImportRecord{{GlobalObjectID: "1@x"}, {GlobalObjectID: "2@x"}}
	id := f.submit(t, models.JobTypeRefresh, models.JobCriteria{Force: true})

	f.expectPage(succeeding(2), DefaultFlushEvery)

	job, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"1@x", "2@x"}, f.importer.imported)
	assert.True(t, f.importer.forced)
}

func TestDriver_ReconcileDeletesMissing(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 2})
	for i := 1; i <= 5; i++ {
		f.local.records = append(f.local.records, models.ImportRecord{GlobalObjectID: fmt.Sprintf("%d@x", i)})
	}
	f.remote.missing = map[string]bool{"1@x": true, "2@x": true, "4@x": true}
	id := f.submit(t, models.JobTypeReconcile, models.JobCriteria{})

	// page 0 deletes 1 and 2; page 1 starts at offset 0 again and reads 3, 4; page 2 reads 5
	f.expectPage(succeeding(2), DefaultFlushEvery)
	f.expectPage(succeeding(2), DefaultFlushEvery)
	f.expectPage(succeeding(1), DefaultFlushEvery)

	job, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"1@x", "2@x", "4@x"}, f.local.deleted)
	assert.Equal(t, 3, job.Succeeded)
	assert.Equal(t, 2, job.Skipped)
	require.Len(t, f.events.events, 3)
	assert.Equal(t, events.TypeOccurrenceDeleted, f.events.events[0].Type)
}

func TestDriver_ReconcileDryRunKeepsRecords(t *testing.T) {
	f := newDriverFixture(t, Config{PageSize: 10})
	f.local.records = []models.ImportRecord{{GlobalObjectID: "1@x"}, {GlobalObjectID: "2@x"}}
	f.remote.missing = map[string]bool{"2@x": true}
	id := f.submit(t, models.JobTypeReconcile, models.JobCriteria{DryRun: true})

	f.expectPage(succeeding(2), DefaultFlushEvery)

	job, err := f.driver.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, f.local.deleted)
	assert.Len(t, f.local.records, 2)
	assert.Equal(t, 1, job.Succeeded)
	assert.Empty(t, f.events.events)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(models.JobTypeImportTag, models.JobCriteria{TagID: 3}))
	assert.ErrorIs(t, Validate(models.JobTypeImportTag, models.JobCriteria{}), ErrInvalidCriteria)
	assert.ErrorIs(t, Validate(models.JobTypeImportType, models.JobCriteria{}), ErrInvalidCriteria)
	assert.NoError(t, Validate(models.JobTypeReconcile, models.JobCriteria{DryRun: true}))
	assert.ErrorIs(t, Validate("export", models.JobCriteria{}), ErrUnsupportedJobType)
	assert.NoError(t, Validate(models.JobTypeRefresh, models.JobCriteria{PageSize: easydb.MaxLimit}))
	assert.ErrorIs(t, Validate(models.JobTypeRefresh, models.JobCriteria{PageSize: easydb.MaxLimit + 1}), ErrInvalidCriteria)
}
