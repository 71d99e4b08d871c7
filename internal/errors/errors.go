// Package errors provides error types shared across the storageops CLI.
// Library-level packages classify failures and degrade to booleans or
// fallbacks; these types carry the operator-facing context for the cases
// that do surface at the command boundary.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError is an error that should be shown to the operator with helpful context.
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ErrNotFound indicates a lookup against an external source found no value.
// Callers use this to distinguish "key absent" from transport failures.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable checks whether an error looks like a transient failure worth
// retrying (throttling, timeouts, broken connections).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"throttl",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// StorageSuggestion returns a helpful suggestion for object-storage errors.
func StorageSuggestion(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "accessdenied") || strings.Contains(errStr, "invalidaccesskeyid") || strings.Contains(errStr, "signaturedoesnotmatch"):
		return "Stored credentials may have been revoked; run 'storageops refresh' to fetch rotated keys"
	case strings.Contains(errStr, "nosuchbucket"):
		return "Check the configured bucket name and storage endpoint"
	case strings.Contains(errStr, "no such host") || strings.Contains(errStr, "connection refused"):
		return "Check the storage endpoint URL and network connectivity"
	default:
		return "Check storage endpoint, bucket, and credential configuration"
	}
}

// ParameterSourceSuggestion returns a helpful suggestion for rotation-source errors.
func ParameterSourceSuggestion(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "accessdenied"):
		return "Check IAM permissions: ssm:GetParameter and kms:Decrypt (for SecureString)"
	case strings.Contains(errStr, "parameternotfound") || strings.Contains(errStr, "resourcenotfoundexception"):
		return "Verify the parameter base path; the rotation provider may not have published keys yet"
	case strings.Contains(errStr, "throttl"):
		return "Request was throttled. The scheduled refresh will retry on its next run"
	case strings.Contains(errStr, "region"):
		return "Check that the configured region matches where the parameters are stored"
	default:
		return "Check AWS credentials, region, and permissions for the rotation source"
	}
}
