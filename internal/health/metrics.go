package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	healthCheckDuration *prometheus.HistogramVec
	healthSeverity      *prometheus.GaugeVec
	timeUntilExpiry     prometheus.Gauge
	refreshTotal        *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// Metrics records credential-pipeline metrics. Metrics are no-ops until
// InitMetrics has run, so library code can record unconditionally.
type Metrics struct{}

// NewMetrics creates a Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers all Prometheus metrics. Call once at startup when
// metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		healthCheckDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storageops_health_check_duration_seconds",
				Help:    "Duration of credential health checks in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"severity"},
		)

		healthSeverity = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storageops_credential_health",
				Help: "Credential health by severity (1 = current state)",
			},
			[]string{"severity"},
		)

		timeUntilExpiry = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storageops_credential_time_until_expiry_seconds",
				Help: "Seconds until the current credential set expires",
			},
		)

		refreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storageops_credential_refresh_total",
				Help: "Total credential refresh attempts by outcome",
			},
			[]string{"outcome"},
		)

		metricsRegistered = true
	})
}

// RecordHealthCheck records one health-check snapshot.
func (m *Metrics) RecordHealthCheck(status Status, durationSeconds float64) {
	if !metricsRegistered {
		return
	}

	severity := status.Severity().String()
	healthCheckDuration.WithLabelValues(severity).Observe(durationSeconds)

	for _, s := range []Severity{SeverityGood, SeverityWarning, SeverityCritical} {
		value := 0.0
		if s == status.Severity() {
			value = 1.0
		}
		healthSeverity.WithLabelValues(s.String()).Set(value)
	}

	if status.TimeUntilExpiry != nil {
		timeUntilExpiry.Set(status.TimeUntilExpiry.Seconds())
	}
}

// RecordRefresh records a refresh attempt outcome ("success" or "failure").
func (m *Metrics) RecordRefresh(outcome string) {
	if !metricsRegistered || refreshTotal == nil {
		return
	}
	refreshTotal.WithLabelValues(outcome).Inc()
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
