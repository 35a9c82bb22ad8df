package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/marmos91/grainweb/internal/protocol/grain"
	"github.com/marmos91/grainweb/pkg/app"
)

// idleConn pushes the read deadline forward before every read, so a peer
// that goes quiet for longer than timeout has its connection closed.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// serveConn runs one RPC session: the peer bootstraps a fresh UiView, and
// the peer's own root capability becomes the view's host API once the
// connection is up. It blocks until the connection ends.
//
// The view is owned by the connection's bootstrap export and is shut down
// with it, which in turn releases the host API capability.
func (a *Adapter) serveConn(ctx context.Context, nc net.Conn, name string) error {
	defer func() {
		// Panic recovery - prevents a single connection from crashing the server
		if r := recover(); r != nil {
			logger.Error("Panic in RPC connection %s: %v", name, r)
			_ = nc.Close()
		}
	}()

	var stream net.Conn = nc
	if a.config.IdleTimeout > 0 {
		stream = &idleConn{Conn: nc, timeout: a.config.IdleTimeout}
	}

	api, resolver := capability.NewPromisedClient()
	view, err := app.NewView(app.ViewConfig{
		Static:  a.stores.Static,
		Data:    a.stores.Data,
		Metrics: a.sessionMetrics,
		API:     api,
	})
	if err != nil {
		api.Release()
		_ = nc.Close()
		return fmt.Errorf("create view: %w", err)
	}

	var limiter capability.Limiter
	if a.limiters != nil {
		limiter = a.limiters()
	}

	conn := capability.NewConn(stream, capability.ConnOptions{
		Bootstrap:      capability.NewServerClient(grain.NewUiViewServer(view)),
		MaxMessageSize: a.config.MaxMessageSize,
		Limiter:        limiter,
		Observer:       a.rpcMetrics.ForConnection(),
		Name:           name,
	})

	a.activeConnections.Store(name, conn)
	defer a.activeConnections.Delete(name)

	go resolveHostAPI(ctx, conn, resolver, name)

	return conn.Serve(ctx)
}

// resolveHostAPI settles the view's API promise with the peer's bootstrap
// capability. Calls the view made in the meantime are queued by the promise.
func resolveHostAPI(ctx context.Context, conn *capability.Conn, resolver *capability.Resolver, name string) {
	host, err := conn.Bootstrap(ctx)
	if err != nil {
		logger.Debug("RPC connection %s: host API unavailable: %v", name, err)
		_ = resolver.Reject(err)
		return
	}
	if err := resolver.Fulfill(host); err != nil {
		host.Release()
		logger.Warn("RPC connection %s: resolve host API: %v", name, err)
		return
	}
	logger.Debug("RPC connection %s: host API resolved", name)
}
