package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	GuardOutcomes   *prometheus.CounterVec
	GuardWaitMs     prometheus.Histogram
	ScanDurationMs  prometheus.Histogram
	DuplicateGroups *prometheus.GaugeVec
	MergesApplied   prometheus.Counter
	MergesStale     prometheus.Counter
	MergesFailed    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		GuardOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_guard_outcomes_total",
			Help: "Write guard submissions by outcome (completed, replayed, in_progress, failed)",
		}, []string{"outcome"}),
		GuardWaitMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "registrar_guard_wait_duration_ms",
			Help:    "Time callers spend waiting on an in-flight duplicate in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 3000},
		}),
		ScanDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "registrar_scan_duration_ms",
			Help:    "Duplication scan duration in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		DuplicateGroups: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "registrar_duplicate_groups",
			Help: "Duplicate groups found by the latest scan, per entity kind",
		}, []string{"kind"}),
		MergesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "registrar_merges_applied_total",
			Help: "Duplicate groups successfully merged by the remediation engine",
		}),
		MergesStale: promauto.NewCounter(prometheus.CounterOpts{
			Name: "registrar_merges_stale_total",
			Help: "Duplicate groups skipped because their membership changed since the scan",
		}),
		MergesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "registrar_merges_failed_total",
			Help: "Duplicate group merges rolled back due to transaction failure",
		}),
	}
}

// ObserveGuardOutcome records a write guard submission result.
func (m *Metrics) ObserveGuardOutcome(outcome string) {
	m.GuardOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveGuardWait records time spent waiting on an in-flight fingerprint.
func (m *Metrics) ObserveGuardWait(d time.Duration) {
	m.GuardWaitMs.Observe(float64(d.Microseconds()) / 1000.0)
}

// ObserveMerge records the outcome of one remediation attempt.
func (m *Metrics) ObserveMerge(status string) {
	switch status {
	case "fixed":
		m.MergesApplied.Inc()
	case "stale":
		m.MergesStale.Inc()
	case "failed":
		m.MergesFailed.Inc()
	}
}

// ObserveScan records a completed scan and the per-kind group counts.
func (m *Metrics) ObserveScan(d time.Duration, groupsPerKind map[string]int) {
	m.ScanDurationMs.Observe(float64(d.Microseconds()) / 1000.0)
	for kind, n := range groupsPerKind {
		m.DuplicateGroups.WithLabelValues(kind).Set(float64(n))
	}
}
