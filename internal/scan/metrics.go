package scan

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal        *prometheus.CounterVec
	scanDuration      *prometheus.HistogramVec
	sweepRemediations *prometheus.CounterVec
	tempFilesRemoved  prometheus.Counter

	metricsOnce       sync.Once
	metricsRegistered bool
)

// Metrics records scan-lifecycle metrics. Metrics are no-ops until
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
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storageops_virus_scans_total",
				Help: "Total virus scans by verdict",
			},
			[]string{"verdict"},
		)

		scanDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storageops_virus_scan_duration_seconds",
				Help:    "Duration of virus scans in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
			},
			[]string{"verdict"},
		)

		sweepRemediations = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storageops_scan_sweep_remediations_total",
				Help: "Stuck-scan remediations by category",
			},
			[]string{"category"},
		)

		tempFilesRemoved = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storageops_scan_temp_files_removed_total",
				Help: "Orphaned transient scan files removed by the sweeper",
			},
		)

		metricsRegistered = true
	})
}

// RecordScan records one completed scan attempt.
func (m *Metrics) RecordScan(verdict Verdict, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	scansTotal.WithLabelValues(verdict.String()).Inc()
	scanDuration.WithLabelValues(verdict.String()).Observe(durationSeconds)
}

// RecordRemediation records one sweeper remediation by category
// ("stuck_scanning", "unscanned", "stale_error").
func (m *Metrics) RecordRemediation(category string) {
	if !metricsRegistered {
		return
	}
	sweepRemediations.WithLabelValues(category).Inc()
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}

// RecordTempFilesRemoved records orphaned transient files deleted.
func (m *Metrics) RecordTempFilesRemoved(n int) {
	if !metricsRegistered || n == 0 {
		return
	}
	tempFilesRemoved.Add(float64(n))
}
