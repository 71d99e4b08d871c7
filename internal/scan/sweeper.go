package scan

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/permitportal/storageops/internal/logging"
)

const (
	// stuckScanningAge is how long a record may sit in scanning before the
	// worker is presumed dead.
	stuckScanningAge = time.Hour

	// unscannedAge gives normal upload processing time to enqueue a scan
	// before the sweeper steps in.
	unscannedAge = 30 * time.Minute

	// staleErrorAge is how old a scan_error must be before one retry.
	staleErrorAge = 24 * time.Hour

	// tempFileAge is how old an orphaned transient file must be before
	// removal.
	tempFileAge = 2 * time.Hour
)

// SweepReport summarizes one reconcile pass.
type SweepReport struct {
	Processed        int
	Errors           int
	TempFilesRemoved int
}

// Sweeper detects and recovers stuck, missed, and errored scans. Each
// record's remediation is independent: a failure is logged and counted, never
// aborts the pass.
type Sweeper struct {
	store   RecordStore
	manager *Manager
	logger  *logging.Logger
	metrics *Metrics
	tempDir string
	now     func() time.Time
}

// NewSweeper creates a sweeper driving the given manager.
func NewSweeper(store RecordStore, manager *Manager, logger *logging.Logger, tempDir string) *Sweeper {
	if tempDir == "" {
		tempDir = DefaultTempDir
	}
	return &Sweeper{
		store:   store,
		manager: manager,
		logger:  logger,
		metrics: NewMetrics(),
		tempDir: tempDir,
		now:     time.Now,
	}
}

// SetClock overrides the sweeper's clock (for testing).
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Reconcile runs one recovery pass over all three stuck categories, then
// removes orphaned transient files.
func (s *Sweeper) Reconcile(ctx context.Context) SweepReport {
	s.logger.Info("Starting cleanup of stuck virus scans")

	var report SweepReport
	s.sweepStuckScanning(ctx, &report)
	s.sweepUnscanned(ctx, &report)
	s.sweepStaleErrors(ctx, &report)

	s.logger.Info("Cleanup completed: %d processed, %d errors", report.Processed, report.Errors)

	report.TempFilesRemoved = s.cleanupTempFiles()
	s.metrics.RecordTempFilesRemoved(report.TempFilesRemoved)

	return report
}

// Records scanning for over an hour: the worker died mid-scan. Reset to
// pending and immediately re-attempt.
func (s *Sweeper) sweepStuckScanning(ctx context.Context, report *SweepReport) {
	records, err := s.store.StuckScanning(ctx, s.now().Add(-stuckScanningAge))
	if err != nil {
		s.logger.Error("Failed to query stuck scanning records: %v", err)
		report.Errors++
		return
	}

	for _, rec := range records {
		s.logger.Warn("Resetting stuck scanning record %d", rec.ID)
		ok, err := s.store.Transition(ctx, rec.ID, StatusScanning, StatusPending, Fields{
			Message: "Reset from stuck scanning status",
		})
		if err != nil {
			s.logger.Error("Failed to reset stuck record %d: %v", rec.ID, err)
			report.Errors++
			continue
		}
		if !ok {
			// Completed or reclaimed between query and reset.
			continue
		}
		s.metrics.RecordRemediation("stuck_scanning")
		s.rescan(ctx, rec.ID, report)
	}
}

// Records with an attached file still pending past the grace window: the
// enqueue was missed. Scan directly.
func (s *Sweeper) sweepUnscanned(ctx context.Context, report *SweepReport) {
	records, err := s.store.UnscannedWithFile(ctx, s.now().Add(-unscannedAge))
	if err != nil {
		s.logger.Error("Failed to query unscanned records: %v", err)
		report.Errors++
		return
	}

	for _, rec := range records {
		s.logger.Info("Scanning previously unscanned record %d", rec.ID)
		s.metrics.RecordRemediation("unscanned")
		s.rescan(ctx, rec.ID, report)
	}
}

// Old scan errors get one retry after a day.
func (s *Sweeper) sweepStaleErrors(ctx context.Context, report *SweepReport) {
	records, err := s.store.StaleErrors(ctx, s.now().Add(-staleErrorAge))
	if err != nil {
		s.logger.Error("Failed to query stale scan errors: %v", err)
		report.Errors++
		return
	}

	for _, rec := range records {
		s.logger.Info("Retrying old scan error for record %d", rec.ID)
		ok, err := s.store.Transition(ctx, rec.ID, StatusScanError, StatusPending, Fields{
			Message: "Retrying after error",
		})
		if err != nil {
			s.logger.Error("Failed to reset errored record %d: %v", rec.ID, err)
			report.Errors++
			continue
		}
		if !ok {
			continue
		}
		s.metrics.RecordRemediation("stale_error")
		s.rescan(ctx, rec.ID, report)
	}
}

func (s *Sweeper) rescan(ctx context.Context, id int64, report *SweepReport) {
	if err := s.manager.Scan(ctx, id); err != nil {
		s.logger.Error("Fallback scan failed for record %d: %v", id, err)
		report.Errors++
		return
	}
	report.Processed++
}

// cleanupTempFiles removes transient scan files older than tempFileAge.
// Orphans accumulate when a worker dies between download and cleanup.
func (s *Sweeper) cleanupTempFiles() int {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read temp dir %s: %v", s.tempDir, err)
		}
		return 0
	}

	cutoff := s.now().Add(-tempFileAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.tempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to delete temp file %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Cleaned up %d old temporary scan files", removed)
	}
	return removed
}
