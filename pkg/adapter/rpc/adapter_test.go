package rpc

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/marmos91/grainweb/internal/protocol/grain"
	"github.com/marmos91/grainweb/internal/protocol/websession"
	"github.com/marmos91/grainweb/pkg/adapter"
	"github.com/marmos91/grainweb/pkg/store/afs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Helpers
// ============================================================================

func testStores(t *testing.T) adapter.Stores {
	t.Helper()

	staticFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(staticFs, "index.html", []byte("<h1>grain</h1>"), 0644))

	return adapter.Stores{
		Static: afs.New(staticFs, true),
		Data:   afs.NewMemory(),
	}
}

// startAdapter runs a on its own goroutine and waits until it has an address.
func startAdapter(t *testing.T, a *Adapter) <-chan error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errCh <- a.Serve(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return a.Addr() != "" }, 5*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("adapter did not stop")
		}
	})
	return errCh
}

type hostObserver struct {
	mu      sync.Mutex
	exports int
}

func (o *hostObserver) RecordCall(capability.Method, time.Duration, error) {}
func (o *hostObserver) RecordRejected(capability.Method)                   {}

func (o *hostObserver) SetExports(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exports = n
}

func (o *hostObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exports
}

// hostAPI stands in for the host's API capability.
type hostAPI struct{}

func (hostAPI) Dispatch(ctx context.Context, call capability.Call) (capability.Payload, error) {
	return capability.Payload{}, capability.MethodUnimplemented(call.Method)
}

type host struct {
	conn     *capability.Conn
	view     grain.UiViewClient
	observer *hostObserver
}

// connectHost plays the host side of nc: it exports an API capability and
// bootstraps the grain's view.
func connectHost(t *testing.T, nc net.Conn) *host {
	t.Helper()

	obs := &hostObserver{}
	conn := capability.NewConn(nc, capability.ConnOptions{
		Name:      "test-host",
		Bootstrap: capability.NewServerClient(hostAPI{}),
		Observer:  obs,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- conn.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = conn.Close()
		<-serveErr
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	root, err := conn.Bootstrap(ctx)
	require.NoError(t, err)
	t.Cleanup(root.Release)

	return &host{conn: conn, view: grain.UiViewClient{Client: root}, observer: obs}
}

func dialHost(t *testing.T, network, addr string) *host {
	t.Helper()

	nc, err := net.Dial(network, addr)
	require.NoError(t, err)
	return connectHost(t, nc)
}

func editorRequest() grain.NewSessionRequest {
	return grain.NewSessionRequest{
		UserInfo:    grain.UserInfo{DisplayName: grain.Text("Bob"), Permissions: []bool{true}},
		SessionType: websession.InterfaceID,
	}
}

// ============================================================================
// Config Tests
// ============================================================================

func TestConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		var c Config
		c.ApplyDefaults()

		assert.Equal(t, TransportFD, c.Transport)
		assert.Equal(t, DefaultFD, c.FD)
		assert.Equal(t, uint32(defaultMaxMessageSize), c.MaxMessageSize)
		assert.Equal(t, defaultShutdownTimeout, c.ShutdownTimeout)
		assert.NoError(t, c.Validate())
	})

	t.Run("ListenerNeedsAddress", func(t *testing.T) {
		for _, transport := range []string{TransportUnix, TransportTCP} {
			c := Config{Transport: transport}
			c.ApplyDefaults()
			assert.Error(t, c.Validate(), transport)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		tests := []struct {
			name   string
			config Config
		}{
			{"UnknownTransport", Config{Transport: "udp", Address: ":1"}},
			{"NegativeConnections", Config{Transport: TransportTCP, Address: ":1", MaxConnections: -1}},
			{"NegativeIdle", Config{Transport: TransportTCP, Address: ":1", IdleTimeout: -time.Second}},
			{"NegativeFD", Config{Transport: TransportFD, FD: -1}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := tt.config
				c.ApplyDefaults()
				assert.Error(t, c.Validate())
			})
		}
	})

	t.Run("NewPanicsOnInvalidConfig", func(t *testing.T) {
		assert.Panics(t, func() {
			New(Config{Transport: TransportTCP}, nil, nil)
		})
	})
}

// ============================================================================
// Adapter Tests
// ============================================================================

func TestAdapter_RequiresStores(t *testing.T) {
	a := New(Config{Transport: TransportTCP, Address: "127.0.0.1:0"}, nil, nil)
	err := a.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stores not configured")
}

func TestAdapter_TCP(t *testing.T) {
	a := New(Config{Transport: TransportTCP, Address: "127.0.0.1:0"}, nil, nil)
	a.SetStores(testStores(t))
	startAdapter(t, a)

	assert.Equal(t, "RPC", a.Protocol())

	h := dialHost(t, "tcp", a.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("ViewInfo", func(t *testing.T) {
		info, err := h.view.GetViewInfo(ctx)
		require.NoError(t, err)
		require.Len(t, info.Permissions, 1)
		assert.Equal(t, "write", info.Permissions[0].Name)
	})

	t.Run("SessionRoundTrip", func(t *testing.T) {
		sessionCap, err := h.view.NewSession(ctx, editorRequest())
		require.NoError(t, err)
		defer sessionCap.Release()
		session := websession.Client{Client: sessionCap}

		resp, err := session.Get(ctx, "")
		require.NoError(t, err)
		require.IsType(t, &websession.Content{}, resp)
		assert.Equal(t, []byte("<h1>grain</h1>"), resp.(*websession.Content).Body)

		resp, err = session.Put(ctx, "var/state.json", websession.PutContent{Content: []byte(`{"n":1}`)})
		require.NoError(t, err)
		assert.IsType(t, &websession.NoContent{}, resp)

		resp, err = session.Get(ctx, "var")
		require.NoError(t, err)
		require.IsType(t, &websession.Content{}, resp)
		assert.Equal(t, []byte("state.json"), resp.(*websession.Content).Body)
	})

	t.Run("ResolvesHostAPI", func(t *testing.T) {
		// The grain bootstraps the host's API, so the host exports it.
		require.Eventually(t, func() bool { return h.observer.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("ActiveConnections", func(t *testing.T) {
		assert.Equal(t, int32(1), a.ActiveConnections())

		_ = h.conn.Close()
		require.Eventually(t, func() bool { return a.ActiveConnections() == 0 }, 5*time.Second, 10*time.Millisecond)
	})
}

func TestAdapter_Unix(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "grain.sock")

	a := New(Config{Transport: TransportUnix, Address: sock}, nil, nil)
	a.SetStores(testStores(t))
	startAdapter(t, a)

	h := dialHost(t, "unix", sock)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.view.GetViewInfo(ctx)
	require.NoError(t, err)
}

func TestAdapter_ConnectionsShareStores(t *testing.T) {
	a := New(Config{Transport: TransportTCP, Address: "127.0.0.1:0"}, nil, nil)
	a.SetStores(testStores(t))
	startAdapter(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	writerHost := dialHost(t, "tcp", a.Addr())
	readerHost := dialHost(t, "tcp", a.Addr())

	writerCap, err := writerHost.view.NewSession(ctx, editorRequest())
	require.NoError(t, err)
	defer writerCap.Release()

	viewerReq := editorRequest()
	viewerReq.UserInfo.Permissions = nil
	readerCap, err := readerHost.view.NewSession(ctx, viewerReq)
	require.NoError(t, err)
	defer readerCap.Release()

	_, err = websession.Client{Client: writerCap}.Put(ctx, "var/shared", websession.PutContent{Content: []byte("hi")})
	require.NoError(t, err)

	resp, err := websession.Client{Client: readerCap}.Get(ctx, "var/shared")
	require.NoError(t, err)
	require.IsType(t, &websession.Content{}, resp)
	assert.Equal(t, []byte("hi"), resp.(*websession.Content).Body)
}

func TestAdapter_RateLimit(t *testing.T) {
	a := New(Config{
		Transport: TransportTCP,
		Address:   "127.0.0.1:0",
		RateLimit: RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
	}, nil, nil)
	a.SetStores(testStores(t))
	startAdapter(t, a)

	h := dialHost(t, "tcp", a.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.view.GetViewInfo(ctx)
	require.NoError(t, err)

	_, err = h.view.GetViewInfo(ctx)
	require.Error(t, err)
	assert.Equal(t, capability.Overloaded, capability.ToException(err).Type)

	// A second connection has its own bucket.
	other := dialHost(t, "tcp", a.Addr())
	_, err = other.view.GetViewInfo(ctx)
	assert.NoError(t, err)
}

func TestAdapter_MaxConnections(t *testing.T) {
	a := New(Config{Transport: TransportTCP, Address: "127.0.0.1:0", MaxConnections: 1}, nil, nil)
	a.SetStores(testStores(t))
	startAdapter(t, a)

	first := dialHost(t, "tcp", a.Addr())
	require.Equal(t, int32(1), a.ActiveConnections())

	// The second connection waits in the backlog until a slot frees.
	nc, err := net.Dial("tcp", a.Addr())
	require.NoError(t, err)

	connected := make(chan *host, 1)
	go func() {
		obs := &hostObserver{}
		conn := capability.NewConn(nc, capability.ConnOptions{Name: "second", Observer: obs})
		go func() { _ = conn.Serve(context.Background()) }()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		root, err := conn.Bootstrap(ctx)
		if err != nil {
			_ = conn.Close()
			close(connected)
			return
		}
		connected <- &host{conn: conn, view: grain.UiViewClient{Client: root}}
	}()

	select {
	case <-connected:
		t.Fatal("second connection served while at the limit")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, int32(1), a.ActiveConnections())

	_ = first.conn.Close()

	select {
	case second, ok := <-connected:
		require.True(t, ok, "second connection failed")
		second.view.Client.Release()
		_ = second.conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("second connection never served")
	}
}

func TestAdapter_IdleTimeout(t *testing.T) {
	a := New(Config{
		Transport:   TransportTCP,
		Address:     "127.0.0.1:0",
		IdleTimeout: 100 * time.Millisecond,
	}, nil, nil)
	a.SetStores(testStores(t))
	startAdapter(t, a)

	h := dialHost(t, "tcp", a.Addr())
	require.Equal(t, int32(1), a.ActiveConnections())

	select {
	case <-h.conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("idle connection was not closed")
	}
	require.Eventually(t, func() bool { return a.ActiveConnections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestAdapter_Stop(t *testing.T) {
	a := New(Config{Transport: TransportTCP, Address: "127.0.0.1:0"}, nil, nil)
	a.SetStores(testStores(t))
	errCh := startAdapter(t, a)

	h := dialHost(t, "tcp", a.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	// Stopping the adapter disconnects its peers.
	select {
	case <-h.conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("peer connection still open")
	}
	assert.Equal(t, int32(0), a.ActiveConnections())
}
