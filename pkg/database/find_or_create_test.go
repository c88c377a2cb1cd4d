package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

func locationFactory() *InsertBuilder {
	ib := NewInsertBuilder()
	return ib.InsertInto("location").Cols("location_id", "country").Values("700@x", "Schweiz")
}

var locationKey = NaturalKey{Table: "location", Column: "location_id", Value: "700@x"}

func TestFindOrCreate_Existing(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM location WHERE location_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	result, err := FindOrCreate(context.Background(), db, locationKey, locationFactory)
	require.NoError(t, err)
	assert.Equal(t, FindOrCreateResult{ID: 3, Attempts: 1}, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreate_Inserts(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM location")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO location (location_id, country) VALUES ($1, $2) ON CONFLICT (location_id) DO NOTHING RETURNING id")).
		WithArgs("700@x", "Schweiz").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	result, err := FindOrCreate(context.Background(), db, locationKey, locationFactory)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, int64(9), result.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreate_UniqueViolationRefetchesInsideSavepoint(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	ctx, tx, err := GetTx(context.Background(), testLogger(), db, nil)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM location")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT find_or_create")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO location")).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT find_or_create")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM location")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))

	result, err := FindOrCreate(ctx, tx, locationKey, locationFactory)
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, int64(4), result.ID)
	assert.Equal(t, 2, result.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreate_ExhaustsRetries(t *testing.T) {
	db, mock := newMock(t)

	for i := 0; i < DefaultFindOrCreateAttempts; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM location")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO location")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}

	_, err := FindOrCreate(context.Background(), db, locationKey, locationFactory)
	assert.True(t, errors.Is(err, ErrFindOrCreateExhausted))
}

func TestFindOrCreate_EmptyKey(t *testing.T) {
	db, _ := newMock(t)

	_, err := FindOrCreate(context.Background(), db, NaturalKey{Table: "location", Column: "location_id"}, locationFactory)
	assert.Error(t, err)
}

func TestTransaction_BorrowedHandleDoesNotCommit(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	ctx, owner, err := GetTx(context.Background(), testLogger(), db, nil)
	require.NoError(t, err)

	_, borrowed, err := GetTx(ctx, testLogger(), db, nil)
	require.NoError(t, err)
	require.NoError(t, borrowed.Commit(ctx))
	require.NoError(t, borrowed.Rollback(ctx))
	assert.True(t, owner.IsOpen())

	mock.ExpectCommit()
	require.NoError(t, owner.Commit(ctx))
	assert.False(t, borrowed.IsOpen())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}
