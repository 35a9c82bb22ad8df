package config

import (
	"github.com/marmos91/grainweb/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// RPC is the metrics collector for the RPC adapter (never nil, uses noop if disabled)
	RPC metrics.RPCMetrics

	// Session is the metrics collector for web sessions (never nil)
	Session metrics.SessionMetrics

	// GC is the metrics collector for the upload sweeper (never nil)
	GC metrics.GCMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			RPC:     metrics.NewNoopRPCMetrics(),
			Session: metrics.NewNoopSessionMetrics(),
			GC:      metrics.NewNoopGCMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Address:         cfg.Metrics.Address,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	return &MetricsResult{
		Server:  server,
		RPC:     metrics.NewRPCMetrics(),
		Session: metrics.NewSessionMetrics(),
		GC:      metrics.NewGCMetrics(),
	}
}
