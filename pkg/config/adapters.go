package config

import (
	"github.com/marmos91/grainweb/pkg/adapter"
	"github.com/marmos91/grainweb/pkg/adapter/rpc"
	"github.com/marmos91/grainweb/pkg/gc"
)

// CreateAdapters creates the front-end adapters from the configuration.
//
// Parameters:
//   - cfg: The complete grainweb configuration
//   - m: Metrics collectors from InitializeMetrics
//
// Returns:
//   - []adapter.Adapter: Adapters ready to be added to the server
func CreateAdapters(cfg *Config, m *MetricsResult) []adapter.Adapter {
	return []adapter.Adapter{
		rpc.New(cfg.Adapters.RPC, m.RPC, m.Session),
	}
}

// GCCollectorConfig converts the gc section into the collector's config.
func GCCollectorConfig(cfg *Config) gc.Config {
	return gc.Config{
		Enabled:  cfg.GC.Enabled,
		Interval: cfg.GC.Interval,
		MaxAge:   cfg.GC.MaxAge,
		DryRun:   cfg.GC.DryRun,
	}
}
