package client

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/grainweb/internal/protocol/websession"
	"github.com/marmos91/grainweb/pkg/adapter"
	"github.com/marmos91/grainweb/pkg/adapter/rpc"
	"github.com/marmos91/grainweb/pkg/store/afs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startGrain serves a grain over TCP and returns its address.
func startGrain(t *testing.T) string {
	t.Helper()

	staticFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(staticFs, "index.html", []byte("<h1>grain</h1>"), 0644))

	a := rpc.New(rpc.Config{Transport: rpc.TransportTCP, Address: "127.0.0.1:0"}, nil, nil)
	a.SetStores(adapter.Stores{Static: afs.New(staticFs, true), Data: afs.NewMemory()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return a.Addr() != "" }, 5*time.Second, 5*time.Millisecond)
	return a.Addr()
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_ViewInfo(t *testing.T) {
	c := dial(t, startGrain(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := c.View().GetViewInfo(ctx)
	require.NoError(t, err)
	require.Len(t, info.Permissions, 1)
	assert.Equal(t, "write", info.Permissions[0].Name)
}

func TestClient_Session(t *testing.T) {
	c := dial(t, startGrain(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("Writer", func(t *testing.T) {
		s, err := c.NewSession(ctx, SessionOptions{DisplayName: "alice", CanWrite: true})
		require.NoError(t, err)
		defer s.Release()

		resp, err := s.Put(ctx, "var/notes.txt", websession.PutContent{MimeType: "text/plain", Content: []byte("hi")})
		require.NoError(t, err)
		assert.IsType(t, &websession.NoContent{}, resp)

		resp, err = s.Get(ctx, "var/notes.txt")
		require.NoError(t, err)
		content, ok := resp.(*websession.Content)
		require.True(t, ok, "expected content, got %T", resp)
		assert.Equal(t, "hi", string(content.Body))

		resp, err = s.Delete(ctx, "var/notes.txt")
		require.NoError(t, err)
		assert.IsType(t, &websession.NoContent{}, resp)
	})

	t.Run("Reader", func(t *testing.T) {
		s, err := c.NewSession(ctx, SessionOptions{DisplayName: "bob"})
		require.NoError(t, err)
		defer s.Release()

		resp, err := s.Get(ctx, ".can-write")
		require.NoError(t, err)
		content, ok := resp.(*websession.Content)
		require.True(t, ok, "expected content, got %T", resp)
		assert.Equal(t, "false", string(content.Body))

		resp, err = s.Put(ctx, "var/notes.txt", websession.PutContent{Content: []byte("nope")})
		require.NoError(t, err)
		clientErr, ok := resp.(*websession.ClientError)
		require.True(t, ok, "expected client error, got %T", resp)
		assert.Equal(t, websession.Forbidden, clientErr.StatusCode)
	})

	t.Run("StaticIndex", func(t *testing.T) {
		s, err := c.NewSession(ctx, SessionOptions{DisplayName: "carol"})
		require.NoError(t, err)
		defer s.Release()

		resp, err := s.Get(ctx, "")
		require.NoError(t, err)
		content, ok := resp.(*websession.Content)
		require.True(t, ok, "expected content, got %T", resp)
		assert.Equal(t, "<h1>grain</h1>", string(content.Body))
	})
}

func TestDial_Refused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, "unix", t.TempDir()+"/missing.sock")
	assert.Error(t, err)
}
