package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GCMetrics provides observability for the partial upload sweeper.
type GCMetrics interface {
	// RecordSweep records one sweep pass.
	//
	// Parameters:
	//   - found: Staged uploads older than the age threshold
	//   - removed: Staged uploads actually deleted (0 in dry-run mode)
	//   - duration: Time taken by the pass
	//   - err: Error that aborted the pass, nil if it completed
	RecordSweep(found, removed int, duration time.Duration, err error)
}

// gcMetrics is the Prometheus implementation of GCMetrics.
type gcMetrics struct {
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	orphansFound  prometheus.Counter
	orphansPurged prometheus.Counter
	lastRun       prometheus.Gauge
}

// NewGCMetrics creates a Prometheus-backed GCMetrics instance, or a no-op
// implementation if metrics are not enabled.
func NewGCMetrics() GCMetrics {
	if !IsEnabled() {
		return NewNoopGCMetrics()
	}
	return newGCMetrics(GetRegistry())
}

func newGCMetrics(reg prometheus.Registerer) *gcMetrics {
	return &gcMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gc_runs_total",
				Help:      "Total number of partial upload sweeps by outcome",
			},
			[]string{"status"},
		),
		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gc_run_duration_seconds",
				Help:      "Duration of partial upload sweeps in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		orphansFound: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gc_orphans_found_total",
				Help:      "Total number of stale partial uploads found",
			},
		),
		orphansPurged: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gc_orphans_removed_total",
				Help:      "Total number of stale partial uploads removed",
			},
		),
		lastRun: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gc_last_run_timestamp_seconds",
				Help:      "Unix time of the last completed sweep",
			},
		),
	}
}

func (m *gcMetrics) RecordSweep(found, removed int, duration time.Duration, err error) {
	m.runsTotal.WithLabelValues(statusLabel(err)).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.orphansFound.Add(float64(found))
	m.orphansPurged.Add(float64(removed))
	if err == nil {
		m.lastRun.SetToCurrentTime()
	}
}

// noopGCMetrics is a no-op implementation of GCMetrics.
type noopGCMetrics struct{}

// NewNoopGCMetrics returns a GCMetrics that records nothing.
func NewNoopGCMetrics() GCMetrics {
	return noopGCMetrics{}
}

func (noopGCMetrics) RecordSweep(int, int, time.Duration, error) {}
