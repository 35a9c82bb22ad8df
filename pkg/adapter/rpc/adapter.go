// Package rpc serves the grain's UiView over capability RPC.
//
// With the fd transport the adapter adopts the single stream socket the host
// hands to the grain at launch and returns once the host closes it. With the
// unix and tcp transports it accepts any number of connections, each getting
// its own view over the shared stores.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/marmos91/grainweb/internal/ratelimiter"
	"github.com/marmos91/grainweb/pkg/adapter"
	"github.com/marmos91/grainweb/pkg/metrics"
)

// Adapter implements adapter.Adapter for the grain RPC protocol.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled, which shuts every capability.Conn down and
//     releases the sessions and views it exported
//  4. Wait for connection goroutines to finish (up to ShutdownTimeout)
//  5. Force-close any remaining streams after timeout
//
// Thread safety:
// All methods are safe for concurrent use.
type Adapter struct {
	config Config

	stores adapter.Stores

	rpcMetrics     metrics.RPCMetrics
	sessionMetrics metrics.SessionMetrics

	// limiters builds one call limiter per connection; nil means unlimited.
	limiters ratelimiter.Factory

	// mu protects listener and addr
	mu       sync.Mutex
	listener net.Listener
	addr     string

	activeConns sync.WaitGroup
	connCount   atomic.Int32
	connSeq     atomic.Uint64

	// connSemaphore is nil when MaxConnections is 0 (unlimited)
	connSemaphore chan struct{}

	shutdownOnce   sync.Once
	shutdown       chan struct{}
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps connection name to *capability.Conn for forced closure
	activeConnections sync.Map
}

// New creates an Adapter. Nil metrics select the no-op implementations.
//
// Panics if the configuration is invalid after defaults are applied.
func New(config Config, rpcMetrics metrics.RPCMetrics, sessionMetrics metrics.SessionMetrics) *Adapter {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid RPC config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 && config.Transport != TransportFD {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}

	if rpcMetrics == nil {
		rpcMetrics = metrics.NewNoopRPCMetrics()
	}
	if sessionMetrics == nil {
		sessionMetrics = metrics.NewNoopSessionMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Adapter{
		config:         config,
		rpcMetrics:     rpcMetrics,
		sessionMetrics: sessionMetrics,
		limiters:       ratelimiter.PerConnection(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst),
		connSemaphore:  connSemaphore,
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetStores injects the shared static tree and var store.
func (a *Adapter) SetStores(stores adapter.Stores) {
	a.stores = stores
	logger.Debug("RPC adapter stores configured")
}

// Serve runs the configured transport until ctx is cancelled, Stop is
// called, or (fd transport) the host closes the stream.
func (a *Adapter) Serve(ctx context.Context) error {
	if a.stores.Static == nil || a.stores.Data == nil {
		return errors.New("RPC adapter: stores not configured")
	}
	defer a.initiateShutdown()

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("RPC shutdown signal received: %v", ctx.Err())
			a.initiateShutdown()
		case <-a.shutdown:
		}
	}()

	if a.config.Transport == TransportFD {
		return a.serveFD()
	}
	return a.serveListener()
}

func (a *Adapter) serveFD() error {
	nc, err := openFD(a.config.FD)
	if err != nil {
		return err
	}

	a.setAddr(fmt.Sprintf("fd:%d", a.config.FD))
	logger.Info("RPC serving on inherited descriptor %d", a.config.FD)

	a.trackOpen()
	err = a.serveConn(a.shutdownCtx, nc, "host")
	a.trackClose()

	select {
	case <-a.shutdown:
		return nil
	default:
	}

	if err != nil {
		return fmt.Errorf("RPC stream: %w", err)
	}
	logger.Info("Host closed the RPC stream")
	return nil
}

func (a *Adapter) serveListener() error {
	if a.config.Transport == TransportUnix {
		// A stale socket from a previous run blocks Listen.
		if err := os.Remove(a.config.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket %s: %w", a.config.Address, err)
		}
	}

	listener, err := net.Listen(a.config.Transport, a.config.Address)
	if err != nil {
		return fmt.Errorf("failed to create RPC listener on %s %s: %w",
			a.config.Transport, a.config.Address, err)
	}

	a.mu.Lock()
	a.listener = listener
	a.addr = listener.Addr().String()
	a.mu.Unlock()

	// Stop may have run before the listener existed.
	select {
	case <-a.shutdown:
		_ = listener.Close()
		return a.gracefulShutdown()
	default:
	}

	logger.Info("RPC server listening on %s %s", a.config.Transport, listener.Addr())
	logger.Debug("RPC config: max_connections=%d max_message_size=%d idle_timeout=%v rate_limit=%d/s",
		a.config.MaxConnections, a.config.MaxMessageSize, a.config.IdleTimeout,
		a.config.RateLimit.RequestsPerSecond)

	for {
		if a.connSemaphore != nil {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		nc, err := listener.Accept()
		if err != nil {
			if a.connSemaphore != nil {
				<-a.connSemaphore
			}

			select {
			case <-a.shutdown:
				return a.gracefulShutdown()
			default:
				logger.Debug("Error accepting RPC connection: %v", err)
				continue
			}
		}

		name := fmt.Sprintf("%s#%d", nc.RemoteAddr(), a.connSeq.Add(1))
		a.trackOpen()
		logger.Debug("RPC connection accepted: %s (active: %d)", name, a.connCount.Load())

		go func() {
			defer func() {
				a.trackClose()
				if a.connSemaphore != nil {
					<-a.connSemaphore
				}
				logger.Debug("RPC connection closed: %s (active: %d)", name, a.connCount.Load())
			}()

			if err := a.serveConn(a.shutdownCtx, nc, name); err != nil && !errors.Is(err, context.Canceled) {
				logger.Debug("RPC connection %s ended: %v", name, err)
			}
		}()
	}
}

func (a *Adapter) trackOpen() {
	a.activeConns.Add(1)
	n := a.connCount.Add(1)
	a.rpcMetrics.RecordConnectionAccepted()
	a.rpcMetrics.SetActiveConnections(n)
}

func (a *Adapter) trackClose() {
	n := a.connCount.Add(-1)
	a.rpcMetrics.RecordConnectionClosed()
	a.rpcMetrics.SetActiveConnections(n)
	a.activeConns.Done()
}

func (a *Adapter) setAddr(addr string) {
	a.mu.Lock()
	a.addr = addr
	a.mu.Unlock()
}

// initiateShutdown closes the listener and cancels every connection. Safe
// to call multiple times.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("RPC shutdown initiated")
		close(a.shutdown)

		a.mu.Lock()
		listener := a.listener
		a.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing RPC listener: %v", err)
			}
		}

		a.cancelRequests()
	})
}

// gracefulShutdown waits up to ShutdownTimeout for connections to finish,
// then force-closes the rest.
func (a *Adapter) gracefulShutdown() error {
	logger.Info("RPC graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		a.connCount.Load(), a.config.ShutdownTimeout)

	select {
	case <-a.connectionsDone():
		logger.Info("RPC graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(a.config.ShutdownTimeout):
		remaining := a.connCount.Load()
		logger.Warn("RPC shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, a.config.ShutdownTimeout)
		a.forceCloseConnections()
		return fmt.Errorf("RPC shutdown timeout: %d connections force-closed", remaining)
	}
}

func (a *Adapter) connectionsDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()
	return done
}

func (a *Adapter) forceCloseConnections() {
	closed := 0
	a.activeConnections.Range(func(key, value any) bool {
		if err := value.(*capability.Conn).Close(); err != nil {
			logger.Debug("Error force-closing RPC connection %s: %v", key, err)
		} else {
			closed++
		}
		return true
	})
	if closed > 0 {
		logger.Info("Force-closed %d RPC connection(s)", closed)
	}
}

// Stop initiates shutdown and waits for connections to finish or ctx to end.
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	select {
	case <-a.connectionsDone():
		return nil
	case <-ctx.Done():
		logger.Warn("RPC shutdown context cancelled: %d connection(s) still active: %v",
			a.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// ActiveConnections returns the number of connections being served.
func (a *Adapter) ActiveConnections() int32 {
	return a.connCount.Load()
}

// Addr returns the listener address, "fd:N" for the fd transport, or "" if
// Serve has not started.
func (a *Adapter) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Protocol returns "RPC".
func (a *Adapter) Protocol() string {
	return "RPC"
}
