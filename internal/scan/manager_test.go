package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scanTime = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

// memRecordStore is an in-memory RecordStore enforcing the same
// compare-and-set semantics as the SQL implementation.
type memRecordStore struct {
	mu      sync.Mutex
	records map[int64]*Record
	trail   []string
	getErr  error
}

func newMemRecordStore(records ...*Record) *memRecordStore {
	s := &memRecordStore{records: make(map[int64]*Record)}
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return s
}

func (s *memRecordStore) Get(ctx context.Context, id int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memRecordStore) Transition(ctx context.Context, id int64, from, to Status, fields Fields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	rec.Message = fields.Message
	rec.VirusName = fields.VirusName
	rec.StartedAt = fields.StartedAt
	rec.CompletedAt = fields.CompletedAt
	s.trail = append(s.trail, fmt.Sprintf("%d:%s->%s", id, from, to))
	return true, nil
}

func (s *memRecordStore) StuckScanning(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.filter(func(r *Record) bool {
		return r.Status == StatusScanning && r.StartedAt != nil && r.StartedAt.Before(cutoff)
	})
}

func (s *memRecordStore) UnscannedWithFile(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.filter(func(r *Record) bool {
		return r.Status == StatusPending && r.HasFile && r.CreatedAt.Before(cutoff)
	})
}

func (s *memRecordStore) Unscanned(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.filter(func(r *Record) bool {
		return r.Status == StatusPending && r.CreatedAt.Before(cutoff)
	})
}

func (s *memRecordStore) StaleErrors(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.filter(func(r *Record) bool {
		return r.Status == StatusScanError && r.CompletedAt != nil && r.CompletedAt.Before(cutoff)
	})
}

func (s *memRecordStore) filter(keep func(*Record) bool) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *memRecordStore) status(id int64) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Status
}

func (s *memRecordStore) record(id int64) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

// fakeScanner returns a canned payload and remembers whether the scanned
// file existed at call time.
type fakeScanner struct {
	payload       map[string]any
	err           error
	scannedPaths  []string
	fileWasOnDisk bool
}

func (f *fakeScanner) Scan(ctx context.Context, path string) (map[string]any, error) {
	f.scannedPaths = append(f.scannedPaths, path)
	_, statErr := os.Stat(path)
	f.fileWasOnDisk = statErr == nil
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func (f *fakeScanner) Ping(ctx context.Context) bool { return f.err == nil }

// fakeDownloader writes canned content to the destination path.
type fakeDownloader struct {
	content []byte
	err     error
}

func (f *fakeDownloader) Download(ctx context.Context, key, destPath string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if err := os.WriteFile(destPath, f.content, 0o600); err != nil {
		return 0, err
	}
	return int64(len(f.content)), nil
}

func pendingRecord(id int64) *Record {
	return &Record{
		ID:        id,
		Filename:  "permit.pdf",
		ObjectKey: "cache/permit.pdf",
		HasFile:   true,
		Status:    StatusPending,
		CreatedAt: scanTime.Add(-time.Hour),
	}
}

func newTestManager(t *testing.T, store RecordStore, scanner Scanner, dl Downloader) (*Manager, string) {
	t.Helper()
	tempDir := t.TempDir()
	m := NewManager(store, scanner, dl, testLogger(), tempDir)
	m.SetClock(func() time.Time { return scanTime })
	return m, tempDir
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "transient scan file must be removed on every exit path")
}

func TestScanCleanFile(t *testing.T) {
	store := newMemRecordStore(pendingRecord(1))
	scanner := &fakeScanner{payload: map[string]any{"status": "clean", "message": "File is clean"}}
	mgr, tempDir := newTestManager(t, store, scanner, &fakeDownloader{content: []byte("document body")})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	rec := store.record(1)
	assert.Equal(t, StatusClean, rec.Status)
	assert.Equal(t, "File is clean", rec.Message)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, scanTime, *rec.CompletedAt)

	// pending -> scanning -> clean, never skipping scanning.
	assert.Equal(t, []string{"1:pending->scanning", "1:scanning->clean"}, store.trail)
	assert.True(t, scanner.fileWasOnDisk, "downloaded file must exist when the engine runs")
	assertTempDirEmpty(t, tempDir)
}

func TestScanInfectedFile(t *testing.T) {
	store := newMemRecordStore(pendingRecord(1))
	scanner := &fakeScanner{payload: map[string]any{
		"status": "infected", "message": "Virus detected: Eicar-Test-Signature", "virus_name": "Eicar-Test-Signature",
	}}
	mgr, tempDir := newTestManager(t, store, scanner, &fakeDownloader{content: []byte("x")})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	rec := store.record(1)
	assert.Equal(t, StatusInfected, rec.Status)
	assert.Equal(t, "Eicar-Test-Signature", rec.VirusName)
	assertTempDirEmpty(t, tempDir)
}

func TestScanBooleanKeyedPayload(t *testing.T) {
	store := newMemRecordStore(pendingRecord(1))
	scanner := &fakeScanner{payload: map[string]any{"clean": false, "virus": "Trojan.Generic", "message": "found"}}
	mgr, _ := newTestManager(t, store, scanner, &fakeDownloader{content: []byte("x")})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	rec := store.record(1)
	assert.Equal(t, StatusInfected, rec.Status)
	assert.Equal(t, "Trojan.Generic", rec.VirusName)
}

func TestScanEngineErrorRecordedNotRaised(t *testing.T) {
	store := newMemRecordStore(pendingRecord(1))
	scanner := &fakeScanner{err: errors.New("daemon exploded")}
	mgr, tempDir := newTestManager(t, store, scanner, &fakeDownloader{content: []byte("x")})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	rec := store.record(1)
	assert.Equal(t, StatusScanError, rec.Status)
	assert.Contains(t, rec.Message, "Scan failed: daemon exploded")
	require.NotNil(t, rec.CompletedAt)
	assertTempDirEmpty(t, tempDir)
}

func TestScanErrorPayloadEndsInScanError(t *testing.T) {
	store := newMemRecordStore(pendingRecord(1))
	scanner := &fakeScanner{payload: map[string]any{"status": "error", "message": "Scan timeout"}}
	mgr, tempDir := newTestManager(t, store, scanner, &fakeDownloader{content: []byte("x")})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	assert.Equal(t, StatusScanError, store.status(1))
	assert.Equal(t, "Scan timeout", store.record(1).Message)
	assertTempDirEmpty(t, tempDir)
}

func TestScanDownloadFailure(t *testing.T) {
	store := newMemRecordStore(pendingRecord(1))
	scanner := &fakeScanner{payload: map[string]any{"status": "clean"}}
	mgr, tempDir := newTestManager(t, store, scanner, &fakeDownloader{err: errors.New("object gone")})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	rec := store.record(1)
	assert.Equal(t, StatusScanError, rec.Status)
	assert.Contains(t, rec.Message, "object gone")
	assert.Empty(t, scanner.scannedPaths, "engine must not run without a downloaded file")
	assertTempDirEmpty(t, tempDir)
}

func TestScanNoFileAttached(t *testing.T) {
	rec := pendingRecord(1)
	rec.ObjectKey = ""
	rec.HasFile = false
	store := newMemRecordStore(rec)
	scanner := &fakeScanner{}
	mgr, _ := newTestManager(t, store, scanner, &fakeDownloader{})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	got := store.record(1)
	assert.Equal(t, StatusScanError, got.Status)
	assert.Equal(t, "No file attached", got.Message)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, scanner.scannedPaths)
}

func TestPendingPassMarksFilelessRecords(t *testing.T) {
	withFile := pendingRecord(1)
	fileless := pendingRecord(2)
	fileless.ObjectKey = ""
	fileless.HasFile = false
	store := newMemRecordStore(withFile, fileless)
	scanner := &fakeScanner{payload: map[string]any{"status": "clean", "message": "File is clean"}}
	mgr, _ := newTestManager(t, store, scanner, &fakeDownloader{})

	pending, err := store.Unscanned(context.Background(), scanTime)
	require.NoError(t, err)
	require.Len(t, pending, 2, "pending pass must see records with no attached file")

	for _, rec := range pending {
		require.NoError(t, mgr.Scan(context.Background(), rec.ID))
	}

	assert.Equal(t, StatusClean, store.status(1))
	assert.Equal(t, StatusScanError, store.status(2))
	assert.Equal(t, "No file attached", store.record(2).Message)
}

func TestScanRecordNotFound(t *testing.T) {
	store := newMemRecordStore()
	mgr, _ := newTestManager(t, store, &fakeScanner{}, &fakeDownloader{})

	err := mgr.Scan(context.Background(), 99)
	assert.True(t, serrors.IsNotFound(err))
}

func TestScanSkipsTerminalRecord(t *testing.T) {
	rec := pendingRecord(1)
	rec.Status = StatusClean
	store := newMemRecordStore(rec)
	scanner := &fakeScanner{}
	mgr, _ := newTestManager(t, store, scanner, &fakeDownloader{})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	assert.Equal(t, StatusClean, store.status(1))
	assert.Empty(t, scanner.scannedPaths)
	assert.Empty(t, store.trail)
}

// racingStore reports the record as pending from Get but lets another worker
// win the claim, so the compare-and-set path is exercised.
type racingStore struct {
	*memRecordStore
}

func (s *racingStore) Get(ctx context.Context, id int64) (*Record, error) {
	rec, err := s.memRecordStore.Get(ctx, id)
	if rec != nil {
		rec.Status = StatusPending
	}
	return rec, err
}

func TestScanLosesClaimRace(t *testing.T) {
	rec := pendingRecord(1)
	rec.Status = StatusScanning
	store := &racingStore{newMemRecordStore(rec)}
	scanner := &fakeScanner{}
	mgr, _ := newTestManager(t, store, scanner, &fakeDownloader{})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	assert.Empty(t, scanner.scannedPaths)
	assert.Empty(t, store.trail, "a lost claim must not write any transition")
}

func TestScanTempFileNameUsesOriginalFilename(t *testing.T) {
	store := newMemRecordStore(pendingRecord(1))
	scanner := &fakeScanner{payload: map[string]any{"status": "clean", "message": "ok"}}
	mgr, _ := newTestManager(t, store, scanner, &fakeDownloader{content: []byte("x")})

	require.NoError(t, mgr.Scan(context.Background(), 1))

	require.Len(t, scanner.scannedPaths, 1)
	base := filepath.Base(scanner.scannedPaths[0])
	assert.Contains(t, base, "_permit.pdf")
}
