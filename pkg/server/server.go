package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/pkg/adapter"
	"github.com/marmos91/grainweb/pkg/gc"
	"github.com/marmos91/grainweb/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultStopTimeout bounds the Stop calls issued to adapters on shutdown.
const DefaultStopTimeout = 30 * time.Second

// errAdapterFinished is returned inside the group when an adapter's Serve
// returns nil on its own, which tears the rest of the process down.
var errAdapterFinished = errors.New("adapter finished")

// Server runs the grain's front-end adapters over one set of stores,
// together with the background services that keep those stores healthy.
//
// Lifecycle:
//  1. Creation: New() with the shared stores and optional services
//  2. Registration: AddAdapter() for each front end
//  3. Startup: Serve() starts the metrics endpoint, the upload sweeper and
//     every adapter concurrently
//  4. Shutdown: context cancellation, an adapter failure, or an adapter
//     finishing (the host closed its stream) stops everything
//
// Thread safety:
// Server is safe for concurrent use. Serve() may only be called once.
//
// Example usage:
//
//	srv := server.New(stores, server.Options{Collector: collector})
//	if err := srv.AddAdapter(rpc.New(rpcConfig, nil, nil)); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Server struct {
	stores  adapter.Stores
	options Options

	// mu protects the adapters slice
	mu       sync.RWMutex
	adapters []adapter.Adapter

	served atomic.Bool
}

// Options configures the services run alongside the adapters. The zero
// value runs adapters only.
type Options struct {
	// Collector sweeps orphaned staged uploads. Optional.
	Collector *gc.Collector

	// Metrics serves the Prometheus endpoint. Optional.
	Metrics *metrics.Server

	// StopTimeout bounds adapter and sweeper shutdown (default: 30s).
	StopTimeout time.Duration
}

// New creates a Server over stores.
//
// Panics if either store is nil (indicates programmer error).
func New(stores adapter.Stores, options Options) *Server {
	if stores.Static == nil {
		panic("static tree cannot be nil")
	}
	if stores.Data == nil {
		panic("var store cannot be nil")
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = DefaultStopTimeout
	}

	return &Server{
		stores:   stores,
		options:  options,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter injects the shared stores into a and registers it.
//
// Returns an error if an adapter for the same protocol is already
// registered or Serve() has been called. Panics if a is nil.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served.Load() {
		return fmt.Errorf("cannot add %s adapter after Serve() has been called", a.Protocol())
	}

	protocol := a.Protocol()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
	}

	a.SetStores(s.stores)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter", protocol)
	return nil
}

// Serve starts all registered adapters and blocks until they have all
// stopped.
//
// Returns:
//   - nil when an adapter finished on its own and the rest shut down
//   - ctx.Err() when shutdown was triggered by ctx
//   - the first adapter or metrics server error otherwise
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if !s.served.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return errors.New("Serve() has already been called on this server instance")
	}
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting grainweb with %d adapter(s)", len(adapters))
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	if s.options.Metrics != nil {
		g.Go(func() error {
			return s.options.Metrics.Start(gctx)
		})
	}

	if s.options.Collector != nil {
		s.options.Collector.Start()
	}

	for _, a := range adapters {
		a := a
		g.Go(func() error {
			protocol := a.Protocol()
			logger.Info("Starting %s adapter", protocol)

			err := a.Serve(gctx)
			switch {
			case gctx.Err() != nil:
				// Shutdown already underway; errors here are fallout.
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Debug("%s adapter stopped with: %v", protocol, err)
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
				return nil
			case err != nil:
				logger.Error("%s adapter failed: %v - initiating shutdown", protocol, err)
				return fmt.Errorf("%s adapter error: %w", protocol, err)
			default:
				logger.Info("%s adapter finished - initiating shutdown", protocol)
				return errAdapterFinished
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		}
		s.stopAllAdapters(adapters)
		return nil
	})

	logger.Debug("All services launched in %v", time.Since(startTime))

	err := g.Wait()

	if s.options.Collector != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.options.StopTimeout)
		if stopErr := s.options.Collector.Stop(stopCtx); stopErr != nil {
			logger.Warn("Error stopping upload sweeper: %v", stopErr)
		}
		cancel()
	}

	logger.Info("grainweb stopped")

	switch {
	case errors.Is(err, errAdapterFinished):
		return nil
	case err != nil:
		return err
	default:
		return ctx.Err()
	}
}

// stopAllAdapters stops adapters in reverse registration order, giving
// them StopTimeout in total. Errors are logged, not returned.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.StopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (%s)", protocol, adp.Addr())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stopped", protocol)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
