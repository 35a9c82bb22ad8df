package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionMetrics provides observability for web sessions.
type SessionMetrics interface {
	// RecordSessionCreated counts a new session. canWrite is the session's
	// write permission.
	RecordSessionCreated(canWrite bool)

	// RecordSessionReleased counts a session whose last reference was dropped.
	RecordSessionReleased()

	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - verb: "get", "put" or "delete"
	//   - outcome: response variant ("content", "no_content", "client_error",
	//     "redirect") or "failed" for RPC-level errors
	//   - duration: Time taken to produce the response
	RecordRequest(verb string, outcome string, duration time.Duration)

	// RecordBytes records body bytes served ("read") or stored ("write").
	RecordBytes(direction string, bytes int)
}

// sessionMetrics is the Prometheus implementation of SessionMetrics.
type sessionMetrics struct {
	sessionsCreated  *prometheus.CounterVec
	sessionsReleased prometheus.Counter
	activeSessions   prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
}

// NewSessionMetrics creates a Prometheus-backed SessionMetrics instance, or a
// no-op implementation if metrics are not enabled.
func NewSessionMetrics() SessionMetrics {
	if !IsEnabled() {
		return NewNoopSessionMetrics()
	}
	return newSessionMetrics(GetRegistry())
}

func newSessionMetrics(reg prometheus.Registerer) *sessionMetrics {
	return &sessionMetrics{
		sessionsCreated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total number of sessions created, by write permission",
			},
			[]string{"can_write"},
		),
		sessionsReleased: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_released_total",
				Help:      "Total number of sessions released",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Current number of live sessions",
			},
		),
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_requests_total",
				Help:      "Total number of session requests by verb and outcome",
			},
			[]string{"verb", "outcome"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_request_duration_seconds",
				Help:      "Duration of session requests in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"verb"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_bytes_total",
				Help:      "Total body bytes served and stored by sessions",
			},
			[]string{"direction"},
		),
	}
}

func (m *sessionMetrics) RecordSessionCreated(canWrite bool) {
	label := "false"
	if canWrite {
		label = "true"
	}
	m.sessionsCreated.WithLabelValues(label).Inc()
	m.activeSessions.Inc()
}

func (m *sessionMetrics) RecordSessionReleased() {
	m.sessionsReleased.Inc()
	m.activeSessions.Dec()
}

func (m *sessionMetrics) RecordRequest(verb string, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(verb, outcome).Inc()
	m.requestDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

func (m *sessionMetrics) RecordBytes(direction string, bytes int) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

// noopSessionMetrics is a no-op implementation of SessionMetrics.
type noopSessionMetrics struct{}

// NewNoopSessionMetrics returns a SessionMetrics that records nothing.
func NewNoopSessionMetrics() SessionMetrics {
	return noopSessionMetrics{}
}

func (noopSessionMetrics) RecordSessionCreated(bool)                   {}
func (noopSessionMetrics) RecordSessionReleased()                      {}
func (noopSessionMetrics) RecordRequest(string, string, time.Duration) {}
func (noopSessionMetrics) RecordBytes(string, int)                     {}
