// Package health inspects credential freshness and validity, triggers
// emergency refreshes, and emits structured status for dashboards.
package health

import (
	"context"
	"time"

	"github.com/permitportal/storageops/internal/credstore"
	"github.com/permitportal/storageops/internal/logging"
	"github.com/permitportal/storageops/internal/objstore"
)

// RefreshEngine is the slice of the refresh engine the monitor drives.
type RefreshEngine interface {
	RefreshCredentials(ctx context.Context) bool
	TestCredentials(ctx context.Context, set *credstore.CredentialSet) bool
	UsingPendingDeletionKey(ctx context.Context, set *credstore.CredentialSet) bool
	RotationSourceAccessible(ctx context.Context) bool
	EnvironmentFallbackAvailable() bool
}

// RetryQueue accepts a durable async refresh retry when the synchronous
// emergency refresh fails. Fire-and-forget: enqueue errors are logged, never
// returned.
type RetryQueue interface {
	EnqueueRefreshRetry(ctx context.Context, reason string) error
}

// Monitor runs the scheduled credential health check.
type Monitor struct {
	store   credstore.Store
	engine  RefreshEngine
	cache   objstore.Invalidator
	retry   RetryQueue
	logger  *logging.Logger
	metrics *Metrics

	// needsRefreshBuffer is wider than the engine's own validity buffer so
	// the health check flags drift before the engine would act on it.
	needsRefreshBuffer time.Duration
	now                func() time.Time
}

// NewMonitor creates a health monitor.
func NewMonitor(store credstore.Store, engine RefreshEngine, cache objstore.Invalidator, retry RetryQueue, logger *logging.Logger, needsRefreshBuffer time.Duration) *Monitor {
	if needsRefreshBuffer == 0 {
		needsRefreshBuffer = 8 * time.Hour
	}
	return &Monitor{
		store:              store,
		engine:             engine,
		cache:              cache,
		retry:              retry,
		logger:             logger,
		metrics:            NewMetrics(),
		needsRefreshBuffer: needsRefreshBuffer,
		now:                time.Now,
	}
}

// SetClock overrides the monitor's clock (for testing).
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Observe computes the health snapshot without taking corrective action.
func (m *Monitor) Observe(ctx context.Context) Status {
	var status Status

	cur, err := m.store.Current(ctx, credstore.DefaultName)
	if err != nil {
		m.logger.Error("Failed to load current credentials: %v", err)
	}

	if cur != nil {
		status.HasCredentials = true

		until := cur.TimeUntilExpiry(m.now())
		status.TimeUntilExpiry = &until

		status.CredentialsValid = m.engine.TestCredentials(ctx, cur)
		status.NeedsRefresh = cur.ExpiresAt.Before(m.now().Add(m.needsRefreshBuffer))

		if m.engine.UsingPendingDeletionKey(ctx, cur) {
			status.UsingPendingKey = true
			status.NeedsRefresh = true
		}
	} else {
		status.NeedsRefresh = true
	}

	status.ParameterStoreAccessible = m.engine.RotationSourceAccessible(ctx)
	status.EnvironmentFallbackAvailable = m.engine.EnvironmentFallbackAvailable()
	return status
}

// RunHealthCheck computes the health snapshot and takes immediate corrective
// action when the credentials need attention.
func (m *Monitor) RunHealthCheck(ctx context.Context) Status {
	m.logger.Info("Starting credential health check")
	start := m.now()

	status := m.Observe(ctx)

	if status.UsingPendingKey {
		m.cache.Invalidate()
		m.logger.Warn("Client cache invalidated: current key is pending deletion")
	}

	m.logStatus(status)

	if status.NeedsRefresh || !status.CredentialsValid {
		m.logger.Warn("Health check detected credential issues, performing emergency refresh")

		if m.engine.RefreshCredentials(ctx) {
			m.logger.Info("Emergency credential refresh completed successfully")
			m.metrics.RecordRefresh("success")
			status.CredentialsValid = m.engine.TestCredentials(ctx, nil)
			status.NeedsRefresh = false
			status.HasCredentials = true
			m.cache.Invalidate()
		} else {
			m.logger.Error("Emergency credential refresh failed, queueing async retry")
			m.metrics.RecordRefresh("failure")
			if err := m.retry.EnqueueRefreshRetry(ctx, "emergency refresh failed"); err != nil {
				m.logger.Error("Failed to enqueue refresh retry: %v", err)
			}
		}
	}

	m.alertOnCritical(status)
	m.metrics.RecordHealthCheck(status, m.now().Sub(start).Seconds())

	return status
}

func (m *Monitor) logStatus(status Status) {
	m.logger.Info("Credential health check results:")
	m.logger.Info("  Has credentials: %t", status.HasCredentials)
	m.logger.Info("  Credentials valid: %t", status.CredentialsValid)
	if status.TimeUntilExpiry != nil {
		m.logger.Info("  Time until expiry: %.2f hours", status.TimeUntilExpiry.Hours())
	}
	m.logger.Info("  Needs refresh: %t", status.NeedsRefresh)
	m.logger.Info("  Using pending key: %t", status.UsingPendingKey)
	m.logger.Info("  Rotation source accessible: %t", status.ParameterStoreAccessible)
	m.logger.Info("  Environment fallback available: %t", status.EnvironmentFallbackAvailable)

	switch status.Severity() {
	case SeverityGood:
		m.logger.Info("Credential health: GOOD")
	case SeverityWarning:
		m.logger.Warn("Credential health: NEEDS_REFRESH")
	default:
		m.logger.Error("Credential health: CRITICAL")
	}
}

func (m *Monitor) alertOnCritical(status Status) {
	switch {
	case !status.HasCredentials:
		m.logger.Error("CRITICAL: no credentials found in database")
	case !status.CredentialsValid:
		m.logger.Error("CRITICAL: current credentials are invalid")
	case status.TimeUntilExpiry != nil && *status.TimeUntilExpiry < time.Hour:
		m.logger.Error("CRITICAL: credentials expire in less than 1 hour")
	}
}
