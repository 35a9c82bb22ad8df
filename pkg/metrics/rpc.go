package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPCMetrics provides observability for capability RPC connections.
//
// Each connection gets its own observer from ForConnection:
//
//	conn := capability.NewConn(rw, capability.ConnOptions{
//	    Bootstrap: view,
//	    Observer:  rpcMetrics.ForConnection(),
//	})
type RPCMetrics interface {
	// ForConnection returns a capability.Observer for one connection. Its
	// export count is added to the process-wide total until the connection
	// reports zero exports.
	ForConnection() capability.Observer

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)
}

// rpcMetrics is the Prometheus implementation of RPCMetrics.
type rpcMetrics struct {
	callsTotal          *prometheus.CounterVec
	callDuration        *prometheus.HistogramVec
	callsRejected       *prometheus.CounterVec
	exports             prometheus.Gauge
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
}

// NewRPCMetrics creates a Prometheus-backed RPCMetrics instance, or a no-op
// implementation if metrics are not enabled.
func NewRPCMetrics() RPCMetrics {
	if !IsEnabled() {
		return NewNoopRPCMetrics()
	}
	return newRPCMetrics(GetRegistry())
}

func newRPCMetrics(reg prometheus.Registerer) *rpcMetrics {
	return &rpcMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_calls_total",
				Help:      "Total number of inbound capability calls by interface, method, and outcome",
			},
			[]string{"interface", "method", "status"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_call_duration_seconds",
				Help:      "Duration of inbound capability calls in seconds",
				Buckets: []float64{
					0.0005, // 500us
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"interface", "method"},
		),
		callsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_calls_rejected_total",
				Help:      "Total number of calls rejected by the per-connection rate limit",
			},
			[]string{"interface", "method"},
		),
		exports: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_exported_capabilities",
				Help:      "Capabilities currently exported to peers",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_active_connections",
				Help:      "Current number of RPC connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_connections_accepted_total",
				Help:      "Total number of RPC connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_connections_closed_total",
				Help:      "Total number of RPC connections closed",
			},
		),
	}
}

func methodLabels(m capability.Method) (string, string) {
	iface := m.InterfaceName
	if iface == "" {
		iface = "unknown"
	}
	method := m.MethodName
	if method == "" {
		method = "unknown"
	}
	return iface, method
}

func callStatus(err error) string {
	if err == nil {
		return "success"
	}
	var e *capability.Exception
	if errors.As(err, &e) {
		return e.Type.String()
	}
	return "failed"
}

func (m *rpcMetrics) ForConnection() capability.Observer {
	return &connObserver{m: m}
}

// connObserver turns a connection's absolute export count into deltas on
// the shared gauge.
type connObserver struct {
	m *rpcMetrics

	mu      sync.Mutex
	exports int
}

func (o *connObserver) RecordCall(method capability.Method, duration time.Duration, err error) {
	o.m.RecordCall(method, duration, err)
}

func (o *connObserver) RecordRejected(method capability.Method) {
	o.m.RecordRejected(method)
}

func (o *connObserver) SetExports(count int) {
	o.mu.Lock()
	delta := count - o.exports
	o.exports = count
	o.mu.Unlock()

	o.m.exports.Add(float64(delta))
}

func (m *rpcMetrics) RecordCall(method capability.Method, duration time.Duration, err error) {
	iface, name := methodLabels(method)
	m.callsTotal.WithLabelValues(iface, name, callStatus(err)).Inc()
	m.callDuration.WithLabelValues(iface, name).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordRejected(method capability.Method) {
	iface, name := methodLabels(method)
	m.callsRejected.WithLabelValues(iface, name).Inc()
}

func (m *rpcMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *rpcMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *rpcMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

// noopRPCMetrics is a no-op implementation of RPCMetrics.
type noopRPCMetrics struct{}

// NewNoopRPCMetrics returns an RPCMetrics that records nothing.
func NewNoopRPCMetrics() RPCMetrics {
	return noopRPCMetrics{}
}

func (noopRPCMetrics) ForConnection() capability.Observer { return noopObserver{} }
func (noopRPCMetrics) RecordConnectionAccepted()  {}
func (noopRPCMetrics) RecordConnectionClosed()    {}
func (noopRPCMetrics) SetActiveConnections(int32) {}

type noopObserver struct{}

func (noopObserver) RecordCall(capability.Method, time.Duration, error) {}
func (noopObserver) RecordRejected(capability.Method)                   {}
func (noopObserver) SetExports(int)                                     {}
