// Package scan drives the virus-scan lifecycle for uploaded documents: the
// per-file state machine, the ClamAV streaming client, and the sweeper that
// recovers stuck or missed scans.
package scan

import (
	"fmt"
	"time"
)

// Status is a file's position in the scan state machine. Ordinals are stored
// in the database and must stay stable.
type Status int

const (
	StatusPending Status = iota
	StatusScanning
	StatusClean
	StatusInfected
	StatusScanError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusScanning:
		return "scanning"
	case StatusClean:
		return "clean"
	case StatusInfected:
		return "infected"
	case StatusScanError:
		return "scan_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further automatic transition occurs from s.
func (s Status) Terminal() bool {
	return s == StatusClean || s == StatusInfected || s == StatusScanError
}

// ParseStatus maps a stored status name back to its enum value.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "pending":
		return StatusPending, nil
	case "scanning":
		return StatusScanning, nil
	case "clean":
		return StatusClean, nil
	case "infected":
		return StatusInfected, nil
	case "scan_error":
		return StatusScanError, nil
	}
	return 0, fmt.Errorf("unknown scan status %q", name)
}

// Record is one scannable file row.
type Record struct {
	ID          int64
	Filename    string
	ObjectKey   string
	HasFile     bool
	Status      Status
	Message     string
	VirusName   string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// StatusText renders the record's status for operators.
func (r Record) StatusText() string {
	switch r.Status {
	case StatusPending:
		return "Pending scan"
	case StatusScanning:
		return "Scanning in progress"
	case StatusClean:
		return "File is clean"
	case StatusInfected:
		return fmt.Sprintf("Virus detected: %s", r.Message)
	case StatusScanError:
		return fmt.Sprintf("Scan failed: %s", r.Message)
	default:
		return "Unknown status"
	}
}

// SafeToUse reports whether the file may be served to users.
func (r Record) SafeToUse() bool {
	return r.Status == StatusClean
}

// ScanInProgress reports whether a scan is pending or running.
func (r Record) ScanInProgress() bool {
	return r.Status == StatusPending || r.Status == StatusScanning
}
