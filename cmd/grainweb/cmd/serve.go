package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/pkg/config"
	"github.com/marmos91/grainweb/pkg/gc"
	"github.com/marmos91/grainweb/pkg/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the grain",
	Long: `Loads the configuration, opens the stores and serves the grain's RPC
interface until the host closes the stream or a SIGINT/SIGTERM arrives.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

// serve wires the configured stores, services and adapters and blocks
// until the server stops.
func serve(ctx context.Context, cfg *config.Config) error {
	stores, err := config.CreateStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("Failed to close stores: %v", err)
		}
	}()

	m := config.InitializeMetrics(cfg)

	opts := server.Options{
		Metrics:     m.Server,
		StopTimeout: cfg.Server.ShutdownTimeout,
	}

	if sweepable := stores.Sweepable(); sweepable != nil {
		collector, err := gc.NewCollector(sweepable, config.GCCollectorConfig(cfg), m.GC)
		if err != nil {
			return err
		}
		opts.Collector = collector
	} else if cfg.GC.Enabled {
		logger.Info("Storage type %s stages no uploads; sweeper not needed", cfg.Storage.Type)
	}

	srv := server.New(stores.Adapter(), opts)
	for _, a := range config.CreateAdapters(cfg, m) {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	err = srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Server stopped gracefully")
		return nil
	}
	return err
}
