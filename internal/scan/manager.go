package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/permitportal/storageops/internal/logging"
)

// DefaultTempDir is where files are staged for scanning.
const DefaultTempDir = "/tmp/virus_scan"

// Downloader fetches an object to a local path. Satisfied by objstore.Bucket.
type Downloader interface {
	Download(ctx context.Context, key, destPath string) (int64, error)
}

// Manager runs the per-file scan state machine:
//
//	pending -> scanning -> clean | infected | scan_error
//
// Transitions never skip scanning, and every claim of a record is a
// compare-and-set so concurrent workers and the sweeper cannot
// double-process it.
type Manager struct {
	store   RecordStore
	scanner Scanner
	files   Downloader
	logger  *logging.Logger
	metrics *Metrics
	tempDir string
	now     func() time.Time
}

// NewManager creates a scan lifecycle manager.
func NewManager(store RecordStore, scanner Scanner, files Downloader, logger *logging.Logger, tempDir string) *Manager {
	if tempDir == "" {
		tempDir = DefaultTempDir
	}
	return &Manager{
		store:   store,
		scanner: scanner,
		files:   files,
		logger:  logger,
		metrics: NewMetrics(),
		tempDir: tempDir,
		now:     time.Now,
	}
}

// SetClock overrides the manager's clock (for testing).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Scan runs one scan attempt for the record. Engine failures and timeouts
// are recorded on the record as scan_error, never returned; the error return
// covers only infrastructure faults (record missing, store unreachable).
func (m *Manager) Scan(ctx context.Context, id int64) error {
	m.logger.Info("Starting virus scan for record %d", id)

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		m.logger.Error("Cannot find scannable record with id %d", id)
		return fmt.Errorf("record %d: %w", id, serrors.ErrNotFound)
	}

	if !rec.HasFile {
		m.logger.Warn("No file attached to record %d", id)
		completed := m.now()
		_, err := m.store.Transition(ctx, id, rec.Status, StatusScanError, Fields{
			Message:     "No file attached",
			CompletedAt: &completed,
		})
		return err
	}

	if rec.Status != StatusPending {
		m.logger.Warn("Record %d is %s, skipping scan", id, rec.Status)
		return nil
	}

	started := m.now()
	claimed, err := m.store.Transition(ctx, id, StatusPending, StatusScanning, Fields{StartedAt: &started})
	if err != nil {
		return err
	}
	if !claimed {
		m.logger.Warn("Record %d claimed by another worker, skipping", id)
		return nil
	}

	tempPath, err := m.downloadForScan(ctx, rec)
	if err != nil {
		m.logger.Error("Failed to download record %d for scanning: %v", id, err)
		return m.recordEngineError(ctx, id, started, fmt.Sprintf("Scan failed: %v", err))
	}
	defer m.removeTempFile(tempPath)

	payload, err := m.scanner.Scan(ctx, tempPath)
	if err != nil {
		m.logger.Error("Virus scan failed for record %d: %v", id, err)
		return m.recordEngineError(ctx, id, started, fmt.Sprintf("Scan failed: %v", err))
	}

	result := Normalize(payload)
	completed := m.now()
	_, err = m.store.Transition(ctx, id, StatusScanning, result.Status(), Fields{
		Message:     result.Message,
		VirusName:   result.VirusName,
		CompletedAt: &completed,
	})
	if err != nil {
		return err
	}

	m.metrics.RecordScan(result.Verdict, completed.Sub(started).Seconds())
	m.logger.Info("Virus scan completed for record %d: %s", id, result.Message)
	return nil
}

func (m *Manager) recordEngineError(ctx context.Context, id int64, started time.Time, message string) error {
	completed := m.now()
	_, err := m.store.Transition(ctx, id, StatusScanning, StatusScanError, Fields{
		Message:     message,
		CompletedAt: &completed,
	})
	m.metrics.RecordScan(VerdictError, completed.Sub(started).Seconds())
	return err
}

func (m *Manager) downloadForScan(ctx context.Context, rec *Record) (string, error) {
	if err := os.MkdirAll(m.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir %s: %w", m.tempDir, err)
	}

	tempPath := filepath.Join(m.tempDir, fmt.Sprintf("%s_%s", uuid.NewString(), filepath.Base(rec.Filename)))
	m.logger.Debug("Downloading file for scan to: %s", tempPath)

	size, err := m.files.Download(ctx, rec.ObjectKey, tempPath)
	if err != nil {
		return "", err
	}
	m.logger.Debug("Downloaded file size: %d bytes", size)
	return tempPath, nil
}

func (m *Manager) removeTempFile(path string) {
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("Failed to delete temp file %s: %v", path, err)
		}
		return
	}
	m.logger.Debug("Cleaned up temporary scan file: %s", path)
}
