// Package retryqueue durably records refresh retry requests for the
// platform's background workers. The health monitor enqueues fire-and-forget;
// consumption happens out of process.
package retryqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/permitportal/storageops/internal/logging"
)

// DefaultDelay is how far in the future an enqueued retry becomes runnable.
const DefaultDelay = 5 * time.Minute

// Queue persists refresh retries in Postgres.
type Queue struct {
	db     *sql.DB
	logger *logging.Logger
	delay  time.Duration
	now    func() time.Time
}

// New creates a queue with the default retry delay.
func New(db *sql.DB, logger *logging.Logger) *Queue {
	return &Queue{db: db, logger: logger, delay: DefaultDelay, now: time.Now}
}

// SetClock overrides the queue's clock (for testing).
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// EnsureSchema creates the refresh_retries table if it does not exist.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS refresh_retries (
			id         BIGSERIAL PRIMARY KEY,
			reason     TEXT NOT NULL,
			run_after  TIMESTAMPTZ NOT NULL,
			consumed   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create refresh_retries table: %w", err)
	}
	return nil
}

const enqueueQuery = `INSERT INTO refresh_retries (reason, run_after, created_at) VALUES ($1, $2, $3)`

// EnqueueRefreshRetry records one retry request, runnable after the delay.
func (q *Queue) EnqueueRefreshRetry(ctx context.Context, reason string) error {
	now := q.now()
	_, err := q.db.ExecContext(ctx, enqueueQuery, reason, now.Add(q.delay), now)
	if err != nil {
		return fmt.Errorf("failed to enqueue refresh retry: %w", err)
	}
	q.logger.Info("Scheduled credential refresh retry in %s: %s", q.delay, reason)
	return nil
}

const pendingCountQuery = `SELECT COUNT(*) FROM refresh_retries WHERE consumed = FALSE`

// PendingCount returns how many retries await consumption.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx, pendingCountQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending retries: %w", err)
	}
	return n, nil
}
