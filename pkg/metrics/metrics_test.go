package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var getMethod = capability.Method{InterfaceID: 1, MethodID: 0, InterfaceName: "WebSession", MethodName: "get"}

func TestRPCMetrics(t *testing.T) {
	m := newRPCMetrics(prometheus.NewRegistry())

	t.Run("CallStatus", func(t *testing.T) {
		obs := m.ForConnection()
		obs.RecordCall(getMethod, time.Millisecond, nil)
		obs.RecordCall(getMethod, time.Millisecond, capability.Errorf("boom"))
		obs.RecordCall(getMethod, time.Millisecond, &capability.Exception{Type: capability.Overloaded})
		obs.RecordCall(getMethod, time.Millisecond, errors.New("plain"))

		assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("WebSession", "get", "success")))
		// Plain errors travel as Failed exceptions.
		assert.Equal(t, 2.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("WebSession", "get", "failed")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("WebSession", "get", "overloaded")))
	})

	t.Run("UnnamedMethod", func(t *testing.T) {
		m.ForConnection().RecordRejected(capability.Method{InterfaceID: 9})
		assert.Equal(t, 1.0, testutil.ToFloat64(m.callsRejected.WithLabelValues("unknown", "unknown")))
	})

	t.Run("ExportsSummedAcrossConnections", func(t *testing.T) {
		a := m.ForConnection()
		b := m.ForConnection()

		a.SetExports(2)
		b.SetExports(3)
		assert.Equal(t, 5.0, testutil.ToFloat64(m.exports))

		a.SetExports(1)
		assert.Equal(t, 4.0, testutil.ToFloat64(m.exports))

		a.SetExports(0)
		b.SetExports(0)
		assert.Equal(t, 0.0, testutil.ToFloat64(m.exports))
	})

	t.Run("Connections", func(t *testing.T) {
		m.RecordConnectionAccepted()
		m.RecordConnectionAccepted()
		m.RecordConnectionClosed()
		m.SetActiveConnections(1)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
	})
}

func TestSessionMetrics(t *testing.T) {
	m := newSessionMetrics(prometheus.NewRegistry())

	m.RecordSessionCreated(true)
	m.RecordSessionCreated(false)
	m.RecordSessionCreated(false)
	m.RecordSessionReleased()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsCreated.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsCreated.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeSessions))

	m.RecordRequest("get", "content", time.Millisecond)
	m.RecordRequest("put", "client_error", time.Millisecond)
	m.RecordBytes("read", 10)
	m.RecordBytes("read", 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("get", "content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("put", "client_error")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("read")))
}

func TestGCMetrics(t *testing.T) {
	m := newGCMetrics(prometheus.NewRegistry())

	m.RecordSweep(3, 2, time.Second, nil)
	m.RecordSweep(1, 0, time.Second, errors.New("scan failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.orphansFound))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.orphansPurged))
	assert.Greater(t, testutil.ToFloat64(m.lastRun), 0.0)
}

func TestNoopMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		rpc := NewNoopRPCMetrics()
		obs := rpc.ForConnection()
		obs.RecordCall(getMethod, time.Second, nil)
		obs.RecordRejected(getMethod)
		obs.SetExports(3)
		rpc.RecordConnectionAccepted()
		rpc.RecordConnectionClosed()
		rpc.SetActiveConnections(2)

		s := NewNoopSessionMetrics()
		s.RecordSessionCreated(true)
		s.RecordSessionReleased()
		s.RecordRequest("get", "content", time.Second)
		s.RecordBytes("read", 1)

		NewNoopGCMetrics().RecordSweep(1, 1, time.Second, nil)
	})
}

func TestServer(t *testing.T) {
	srv := NewServer(ServerConfig{Address: "127.0.0.1:0", ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	base := fmt.Sprintf("http://%s", srv.Addr())

	t.Run("Healthz", func(t *testing.T) {
		resp, err := http.Get(base + "/healthz")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok\n", string(body))
	})

	t.Run("Metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		_ = resp.Body.Close()

		if IsEnabled() {
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		} else {
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		}
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
