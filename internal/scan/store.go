package scan

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/permitportal/storageops/internal/logging"
)

// Fields carries the columns a status transition writes alongside the new
// status. Nil pointers clear the column.
type Fields struct {
	Message     string
	VirusName   string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RecordStore is the persistence contract for scannable file records.
// Transition is an atomic compare-and-set on the current status so a scan
// attempt and a concurrent sweep can never double-process a record.
type RecordStore interface {
	// Get loads one record. Returns (nil, nil) when the id does not exist.
	Get(ctx context.Context, id int64) (*Record, error)

	// Transition moves the record from exactly `from` to `to`. Returns false
	// without error when the record was no longer in `from`.
	Transition(ctx context.Context, id int64, from, to Status, fields Fields) (bool, error)

	// StuckScanning returns records scanning since before the cutoff.
	StuckScanning(ctx context.Context, cutoff time.Time) ([]Record, error)

	// UnscannedWithFile returns pending records with an attached file created
	// before the cutoff.
	UnscannedWithFile(ctx context.Context, cutoff time.Time) ([]Record, error)

	// Unscanned returns all pending records created before the cutoff,
	// including ones with no attached file.
	Unscanned(ctx context.Context, cutoff time.Time) ([]Record, error)

	// StaleErrors returns scan_error records whose scan completed before the
	// cutoff.
	StaleErrors(ctx context.Context, cutoff time.Time) ([]Record, error)
}

// SQLRecordStore implements RecordStore on Postgres.
type SQLRecordStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLRecordStore creates a Postgres-backed record store.
func NewSQLRecordStore(db *sql.DB, logger *logging.Logger) *SQLRecordStore {
	return &SQLRecordStore{db: db, logger: logger}
}

// EnsureSchema creates the scannable_files table if it does not exist.
func (s *SQLRecordStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scannable_files (
			id                      BIGSERIAL PRIMARY KEY,
			filename                TEXT NOT NULL,
			object_key              TEXT NOT NULL DEFAULT '',
			virus_scan_status       INTEGER,
			virus_scan_message      TEXT,
			virus_name              TEXT,
			virus_scan_started_at   TIMESTAMPTZ,
			virus_scan_completed_at TIMESTAMPTZ,
			created_at              TIMESTAMPTZ NOT NULL,
			updated_at              TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create scannable_files table: %w", err)
	}
	return nil
}

const recordColumns = `id, filename, object_key, virus_scan_status, virus_scan_message, virus_name, virus_scan_started_at, virus_scan_completed_at, created_at`

const getQuery = `SELECT ` + recordColumns + ` FROM scannable_files WHERE id = $1`

// Get implements RecordStore.
func (s *SQLRecordStore) Get(ctx context.Context, id int64) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, getQuery, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %d: %w", id, err)
	}
	return rec, nil
}

const transitionQuery = `UPDATE scannable_files SET virus_scan_status = $1, virus_scan_message = $2, virus_name = $3, virus_scan_started_at = $4, virus_scan_completed_at = $5, updated_at = $6 WHERE id = $7 AND virus_scan_status = $8`

// Transition implements RecordStore.
func (s *SQLRecordStore) Transition(ctx context.Context, id int64, from, to Status, fields Fields) (bool, error) {
	var virusName sql.NullString
	if fields.VirusName != "" {
		virusName = sql.NullString{String: fields.VirusName, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, transitionQuery,
		int(to), fields.Message, virusName,
		nullTime(fields.StartedAt), nullTime(fields.CompletedAt),
		time.Now(), id, int(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition record %d %s->%s: %w", id, from, to, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 && from == StatusPending {
		// Rows that predate scanning support carry a NULL status; treat NULL
		// as pending for the compare-and-set.
		return s.transitionFromNull(ctx, id, to, fields, virusName)
	}
	return n > 0, nil
}

const transitionFromNullQuery = `UPDATE scannable_files SET virus_scan_status = $1, virus_scan_message = $2, virus_name = $3, virus_scan_started_at = $4, virus_scan_completed_at = $5, updated_at = $6 WHERE id = $7 AND virus_scan_status IS NULL`

func (s *SQLRecordStore) transitionFromNull(ctx context.Context, id int64, to Status, fields Fields, virusName sql.NullString) (bool, error) {
	res, err := s.db.ExecContext(ctx, transitionFromNullQuery,
		int(to), fields.Message, virusName,
		nullTime(fields.StartedAt), nullTime(fields.CompletedAt),
		time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to transition record %d from null status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const stuckScanningQuery = `SELECT ` + recordColumns + ` FROM scannable_files WHERE virus_scan_status = 1 AND virus_scan_started_at < $1`

// StuckScanning implements RecordStore.
func (s *SQLRecordStore) StuckScanning(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.queryRecords(ctx, stuckScanningQuery, cutoff)
}

const unscannedWithFileQuery = `SELECT ` + recordColumns + ` FROM scannable_files WHERE (virus_scan_status IS NULL OR virus_scan_status = 0) AND object_key <> '' AND created_at < $1`

// UnscannedWithFile implements RecordStore.
func (s *SQLRecordStore) UnscannedWithFile(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.queryRecords(ctx, unscannedWithFileQuery, cutoff)
}

const unscannedQuery = `SELECT ` + recordColumns + ` FROM scannable_files WHERE (virus_scan_status IS NULL OR virus_scan_status = 0) AND created_at < $1`

// Unscanned implements RecordStore.
func (s *SQLRecordStore) Unscanned(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.queryRecords(ctx, unscannedQuery, cutoff)
}

const staleErrorsQuery = `SELECT ` + recordColumns + ` FROM scannable_files WHERE virus_scan_status = 4 AND virus_scan_completed_at < $1`

// StaleErrors implements RecordStore.
func (s *SQLRecordStore) StaleErrors(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.queryRecords(ctx, staleErrorsQuery, cutoff)
}

const countByStatusQuery = `SELECT COALESCE(virus_scan_status, 0), COUNT(*) FROM scannable_files GROUP BY COALESCE(virus_scan_status, 0)`

// CountByStatus returns how many records sit in each status. NULL statuses
// count as pending.
func (s *SQLRecordStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, countByStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to count scannable files: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var (
			status int
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] += n
	}
	return counts, rows.Err()
}

func (s *SQLRecordStore) queryRecords(ctx context.Context, query string, cutoff time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query scannable files: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		status    sql.NullInt64
		message   sql.NullString
		virusName sql.NullString
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Filename, &rec.ObjectKey, &status, &message, &virusName, &started, &completed, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	if status.Valid {
		rec.Status = Status(status.Int64)
	} else {
		rec.Status = StatusPending
	}
	rec.Message = message.String
	rec.VirusName = virusName.String
	rec.HasFile = rec.ObjectKey != ""
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
