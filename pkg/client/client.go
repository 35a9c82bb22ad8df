// Package client plays the host side of a grain connection: it exports a
// host API capability, bootstraps the grain's UiView and opens web sessions
// on it. The grainweb CLI uses it to poke at a running grain.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/marmos91/grainweb/internal/protocol/grain"
	"github.com/marmos91/grainweb/internal/protocol/rpc"
	"github.com/marmos91/grainweb/internal/protocol/websession"
	"github.com/marmos91/grainweb/pkg/app"
)

// Client is a connection to one grain.
type Client struct {
	conn     *capability.Conn
	root     *capability.Client
	serveErr chan error
}

// hostAPI answers every call from the grain with unimplemented.
type hostAPI struct{}

func (hostAPI) Dispatch(ctx context.Context, call capability.Call) (capability.Payload, error) {
	return capability.Payload{}, capability.MethodUnimplemented(call.Method)
}

// Dial connects to a grain listening on network ("unix" or "tcp") at addr.
func Dial(ctx context.Context, network, addr string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	return New(ctx, nc)
}

// New runs the host side of nc and bootstraps the grain's view. The
// Client owns nc.
func New(ctx context.Context, nc net.Conn) (*Client, error) {
	conn := capability.NewConn(nc, capability.ConnOptions{
		Name:      "cli",
		Bootstrap: capability.NewServerClient(hostAPI{}),
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- conn.Serve(context.Background()) }()

	root, err := conn.Bootstrap(ctx)
	if err != nil {
		_ = conn.Close()
		<-serveErr
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &Client{conn: conn, root: root, serveErr: serveErr}, nil
}

// View returns the grain's UiView. It is valid until Close.
func (c *Client) View() grain.UiViewClient {
	return grain.UiViewClient{Client: c.root}
}

// SessionOptions describe the user a session is opened for.
type SessionOptions struct {
	DisplayName string
	CanWrite    bool
	BasePath    string
	UserAgent   string
}

// Session is an open web session. Release it when done.
type Session struct {
	websession.Client
}

// Release drops the session capability.
func (s *Session) Release() {
	s.Client.Client.Release()
}

// NewSession opens a web session as the described user.
func (c *Client) NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	params, err := rpc.Marshal(websession.Params{
		BasePath:  opts.BasePath,
		UserAgent: opts.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("encode session params: %w", err)
	}

	perms := make([]bool, app.PermissionWrite+1)
	perms[app.PermissionWrite] = opts.CanWrite

	session, err := c.View().NewSession(ctx, grain.NewSessionRequest{
		UserInfo: grain.UserInfo{
			DisplayName: grain.Text(opts.DisplayName),
			Permissions: perms,
		},
		SessionType:   websession.InterfaceID,
		SessionParams: params,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Opened session for %q (write=%v)", opts.DisplayName, opts.CanWrite)
	return &Session{Client: websession.Client{Client: session}}, nil
}

// Close releases the view and tears the connection down.
func (c *Client) Close() error {
	c.root.Release()
	if err := c.conn.Close(); err != nil {
		return err
	}
	if err := <-c.serveErr; err != nil && !errors.Is(err, capability.ErrConnClosed) {
		logger.Debug("Grain connection ended: %v", err)
	}
	return nil
}
