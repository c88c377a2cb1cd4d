package repositories

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/lichen/pkg/database"
	"github.com/Ramsey-B/lichen/pkg/models"
)

func getTestLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newMockDB(t *testing.T) (database.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return database.NewDatabaseInstance(sqlx.NewDb(raw, "postgres"), getTestLogger()), mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestJobRepository_UpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db, getTestLogger())
	id := uuid.New()

	mock.ExpectExec(q("UPDATE job SET status = $1, updated_at = NOW(), started_at = COALESCE(started_at, NOW()) WHERE id = $2 AND status NOT IN ($3, $4, $5)")).
		WithArgs(models.JobStatusRunning, id, models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), id, models.JobStatusRunning))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_UpdateStatus_TerminalIsNeverRevisited(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db, getTestLogger())
	id := uuid.New()

	mock.ExpectExec(q("UPDATE job SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM job WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "status"}).AddRow(id.String(), "import_tag", "cancelled"))

	err := repo.UpdateStatus(context.Background(), id, models.JobStatusCompleted)
	assert.True(t, errors.Is(err, ErrJobFinished))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_UpdateStatus_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db, getTestLogger())
	id := uuid.New()

	mock.ExpectExec(q("UPDATE job SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM job WHERE id = $1")).WillReturnError(sql.ErrNoRows)

	err := repo.UpdateStatus(context.Background(), id, models.JobStatusFailed)
	assert.True(t, IsNotFound(err))
}

func TestJobRepository_UpdateProgressIsMonotonic(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db, getTestLogger())
	id := uuid.New()

	mock.ExpectExec(q("SET progress = GREATEST(progress, $1), total_items = GREATEST(total_items, $2)")).
		WithArgs(40, 100, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateProgress(context.Background(), id, 40, 100))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_RecordPage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db, getTestLogger())
	id := uuid.New()

	tally := models.PageTally{Processed: 3, Succeeded: 1, Skipped: 1, Errored: 1, Errors: []string{"1@x: boom"}}
	mock.ExpectExec(q("error_overflow = error_overflow + GREATEST(0, jsonb_array_length(error_messages) + $5 - $6)")).
		WithArgs(3, 1, 1, 1, 1, 20, `["1@x: boom"]`, 2, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordPage(context.Background(), id, 2, tally, 20))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_CleanupOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db, getTestLogger())

	mock.ExpectExec(q("DELETE FROM job WHERE created_at < $1 AND status IN ($2, $3, $4)")).
		WithArgs(sqlmock.AnyArg(), models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := repo.CleanupOlderThan(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
}

func TestImportRecordRepository_GetByGlobalObjectID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewImportRecordRepository(db, getTestLogger())

	mock.ExpectQuery(q("FROM import_record WHERE global_object_id = $1")).
		WithArgs("1@x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByGlobalObjectID(context.Background(), "1@x")
	assert.True(t, IsNotFound(err))
}

func TestImportRecordRepository_GetByGlobalObjectID_LoadsGraph(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewImportRecordRepository(db, getTestLogger())

	mock.ExpectQuery(q("FROM import_record WHERE global_object_id = $1")).
		WithArgs("1@x").
		WillReturnRows(sqlmock.NewRows([]string{"id", "global_object_id", "object_type", "occurrence_ref"}).
			AddRow(5, "1@x", "fungarium", 11))
	mock.ExpectQuery(q("FROM occurrence WHERE id = $1")).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurrence_id", "catalog_number", "location_ref"}).
			AddRow(11, "1@x", "ZT Myc 1", 3))
	mock.ExpectQuery(q("FROM location WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "location_id", "country"}).AddRow(3, "700@x", "Schweiz"))
	mock.ExpectQuery(q("FROM measurement_or_fact WHERE occurrence_ref = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "measurement_id"}).AddRow(1, "m1"))
	mock.ExpectQuery(q("FROM resource_relationship WHERE occurrence_ref = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	record, err := repo.GetByGlobalObjectID(context.Background(), "1@x")
	require.NoError(t, err)
	require.NotNil(t, record.Occurrence)
	assert.Equal(t, "ZT Myc 1", models.Deref(record.Occurrence.CatalogNumber))
	require.NotNil(t, record.Occurrence.Location)
	assert.Equal(t, "Schweiz", models.Deref(record.Occurrence.Location.Country))
	assert.Nil(t, record.Occurrence.Organism)
	require.Len(t, record.Occurrence.Measurements, 1)
	assert.Empty(t, record.Occurrence.Relationships)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportRecordRepository_DeleteByGlobalObjectID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewImportRecordRepository(db, getTestLogger())

	mock.ExpectExec(q("DELETE FROM occurrence WHERE id IN (SELECT occurrence_ref FROM import_record WHERE global_object_id = $1)")).
		WithArgs("1@x").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.DeleteByGlobalObjectID(context.Background(), "1@x"))

	mock.ExpectExec(q("DELETE FROM occurrence")).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, IsNotFound(repo.DeleteByGlobalObjectID(context.Background(), "2@x")))
}

func TestGraphStore_Save(t *testing.T) {
	db, mock := newMockDB(t)
	imports := NewImportRecordRepository(db, getTestLogger())
	store := NewGraphStore(db, imports, getTestLogger())

	record := models.NewImportRecord("1@x")
	record.ObjectType = "fungarium"
	record.Occurrence = &models.Occurrence{
		OccurrenceID: "1@x",
		Location:     &models.Location{LocationID: "700@x"},
	}

	// the location is shared and already exists: it is updated in place
	mock.ExpectQuery(q("SELECT id FROM location WHERE location_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(q("UPDATE location SET")).WillReturnResult(sqlmock.NewResult(0, 1))

	// the occurrence is new
	mock.ExpectQuery(q("SELECT id FROM occurrence WHERE occurrence_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(q("INSERT INTO occurrence")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	mock.ExpectExec(q("DELETE FROM measurement_or_fact WHERE occurrence_ref = $1")).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("DELETE FROM resource_relationship WHERE occurrence_ref = $1")).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now()
	mock.ExpectQuery(q("INSERT INTO import_record")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_imported_at", "last_updated_at"}).AddRow(5, now, now))

	require.NoError(t, store.Save(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(5), record.ID)
	assert.Equal(t, int64(11), record.OccurrenceRef)
	assert.Equal(t, int64(3), record.Occurrence.Location.ID)
	require.NotNil(t, record.Occurrence.LocationRef)
	assert.Equal(t, int64(3), *record.Occurrence.LocationRef)
	assert.Nil(t, record.Occurrence.OrganismRef)
}

func TestGraphStore_SavePrunesStaleMeasurements(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGraphStore(db, NewImportRecordRepository(db, getTestLogger()), getTestLogger())

	record := models.NewImportRecord("1@x")
	record.ID = 5
	record.Occurrence = &models.Occurrence{
		OccurrenceID: "1@x",
		Measurements: []*models.MeasurementOrFact{{MeasurementID: "m1"}},
	}

	mock.ExpectQuery(q("SELECT id FROM occurrence")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec(q("UPDATE occurrence SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT id FROM measurement_or_fact")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))
	mock.ExpectExec(q("UPDATE measurement_or_fact SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("DELETE FROM measurement_or_fact WHERE occurrence_ref = $1 AND measurement_id NOT IN ($2)")).
		WithArgs(int64(11), "m1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("DELETE FROM resource_relationship")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("UPDATE import_record SET")).
		WillReturnRows(sqlmock.NewRows([]string{"last_updated_at"}).AddRow(time.Now()))

	require.NoError(t, store.Save(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(11), record.Occurrence.Measurements[0].OccurrenceRef)
}
