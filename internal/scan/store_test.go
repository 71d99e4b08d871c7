package scan

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeTime = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func newRecordStore(t *testing.T) (*SQLRecordStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLRecordStore(db, testLogger()), mock
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "filename", "object_key", "virus_scan_status", "virus_scan_message",
		"virus_name", "virus_scan_started_at", "virus_scan_completed_at", "created_at",
	})
}

func TestGetRecord(t *testing.T) {
	store, mock := newRecordStore(t)

	started := storeTime.Add(-10 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
		WithArgs(int64(42)).
		WillReturnRows(recordRows().AddRow(
			int64(42), "permit.pdf", "cache/permit.pdf", int64(StatusScanning), "",
			nil, started, nil, storeTime.Add(-time.Hour)))

	rec, err := store.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, StatusScanning, rec.Status)
	assert.True(t, rec.HasFile)
	require.NotNil(t, rec.StartedAt)
	assert.Equal(t, started, *rec.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecordNotFound(t *testing.T) {
	store, mock := newRecordStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	rec, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetRecordNullStatusIsPending(t *testing.T) {
	store, mock := newRecordStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
		WithArgs(int64(3)).
		WillReturnRows(recordRows().AddRow(
			int64(3), "old.pdf", "cache/old.pdf", nil, nil,
			nil, nil, nil, storeTime.Add(-48*time.Hour)))

	rec, err := store.Get(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestTransitionCompareAndSet(t *testing.T) {
	store, mock := newRecordStore(t)

	started := storeTime
	mock.ExpectExec(regexp.QuoteMeta(transitionQuery)).
		WithArgs(int(StatusScanning), "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42), int(StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.Transition(context.Background(), 42, StatusPending, StatusScanning, Fields{StartedAt: &started})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionLostRace(t *testing.T) {
	store, mock := newRecordStore(t)

	// Another worker already moved the record out of scanning; the terminal
	// write must not apply.
	mock.ExpectExec(regexp.QuoteMeta(transitionQuery)).
		WithArgs(int(StatusClean), "File is clean", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42), int(StatusScanning)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Transition(context.Background(), 42, StatusScanning, StatusClean, Fields{Message: "File is clean"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitionFromPendingFallsBackToNullStatus(t *testing.T) {
	store, mock := newRecordStore(t)

	// Rows created before scanning support carry a NULL status; a pending
	// compare-and-set must still claim them.
	mock.ExpectExec(regexp.QuoteMeta(transitionQuery)).
		WithArgs(int(StatusScanning), "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(9), int(StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(transitionFromNullQuery)).
		WithArgs(int(StatusScanning), "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	started := storeTime
	ok, err := store.Transition(context.Background(), 9, StatusPending, StatusScanning, Fields{StartedAt: &started})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStuckScanningQuery(t *testing.T) {
	store, mock := newRecordStore(t)

	cutoff := storeTime.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(stuckScanningQuery)).
		WithArgs(cutoff).
		WillReturnRows(recordRows().
			AddRow(int64(1), "a.pdf", "cache/a.pdf", int64(StatusScanning), "", nil, storeTime.Add(-2*time.Hour), nil, storeTime.Add(-3*time.Hour)).
			AddRow(int64(2), "b.pdf", "cache/b.pdf", int64(StatusScanning), "", nil, storeTime.Add(-90*time.Minute), nil, storeTime.Add(-3*time.Hour)))

	records, err := store.StuckScanning(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, StatusScanning, records[1].Status)
}

func TestCountByStatus(t *testing.T) {
	store, mock := newRecordStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(countByStatusQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"virus_scan_status", "count"}).
			AddRow(int(StatusPending), int64(4)).
			AddRow(int(StatusClean), int64(120)).
			AddRow(int(StatusInfected), int64(1)))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[StatusPending])
	assert.Equal(t, int64(120), counts[StatusClean])
	assert.Equal(t, int64(1), counts[StatusInfected])
	assert.Zero(t, counts[StatusScanError])
}

func TestStaleErrorsQuery(t *testing.T) {
	store, mock := newRecordStore(t)

	cutoff := storeTime.Add(-24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(staleErrorsQuery)).
		WithArgs(cutoff).
		WillReturnRows(recordRows().
			AddRow(int64(5), "c.pdf", "cache/c.pdf", int64(StatusScanError), "Scan timeout", nil, nil, storeTime.Add(-30*time.Hour), storeTime.Add(-31*time.Hour)))

	records, err := store.StaleErrors(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Scan timeout", records[0].Message)
	require.NotNil(t, records[0].CompletedAt)
}

func TestUnscannedQueryIncludesFilelessRecords(t *testing.T) {
	store, mock := newRecordStore(t)

	cutoff := storeTime.Add(-30 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta(unscannedQuery)).
		WithArgs(cutoff).
		WillReturnRows(recordRows().
			AddRow(int64(7), "d.pdf", "cache/d.pdf", int64(StatusPending), "", nil, nil, nil, storeTime.Add(-time.Hour)).
			AddRow(int64(8), "e.pdf", "", int64(StatusPending), "", nil, nil, nil, storeTime.Add(-time.Hour)))

	records, err := store.Unscanned(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].HasFile)
	assert.False(t, records[1].HasFile, "records without a stored object must still be returned")
}
