package health

import (
	"fmt"
	"time"
)

// Severity classifies a health snapshot for reporting. It never drives
// control flow.
type Severity int

const (
	SeverityGood Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityGood:
		return "GOOD"
	case SeverityWarning:
		return "NEEDS_REFRESH"
	default:
		return "CRITICAL"
	}
}

// Status is the ephemeral snapshot produced by one health-check run.
type Status struct {
	HasCredentials               bool           `json:"has_credentials" yaml:"has_credentials"`
	CredentialsValid             bool           `json:"credentials_valid" yaml:"credentials_valid"`
	TimeUntilExpiry              *time.Duration `json:"time_until_expiry,omitempty" yaml:"time_until_expiry,omitempty"`
	NeedsRefresh                 bool           `json:"needs_refresh" yaml:"needs_refresh"`
	ParameterStoreAccessible     bool           `json:"parameter_store_accessible" yaml:"parameter_store_accessible"`
	EnvironmentFallbackAvailable bool           `json:"environment_fallback_available" yaml:"environment_fallback_available"`
	UsingPendingKey              bool           `json:"using_pending_key" yaml:"using_pending_key"`
}

// Severity classifies the snapshot. Expiry under one hour is critical
// regardless of validity.
func (s Status) Severity() Severity {
	if !s.HasCredentials || !s.CredentialsValid {
		return SeverityCritical
	}
	if s.TimeUntilExpiry != nil && *s.TimeUntilExpiry < time.Hour {
		return SeverityCritical
	}
	if s.NeedsRefresh {
		return SeverityWarning
	}
	return SeverityGood
}

// Summary returns a single-line operator summary.
func (s Status) Summary() string {
	expiry := "n/a"
	if s.TimeUntilExpiry != nil {
		expiry = fmt.Sprintf("%.2fh", s.TimeUntilExpiry.Hours())
	}
	return fmt.Sprintf("credentials=%t valid=%t expiry=%s needs_refresh=%t pending_key=%t source_accessible=%t fallback=%t",
		s.HasCredentials, s.CredentialsValid, expiry, s.NeedsRefresh, s.UsingPendingKey, s.ParameterStoreAccessible, s.EnvironmentFallbackAvailable)
}
