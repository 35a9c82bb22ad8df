package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/grainweb/internal/protocol/websession"
	"github.com/marmos91/grainweb/pkg/adapter/rpc"
	"github.com/marmos91/grainweb/pkg/client"
	"github.com/marmos91/grainweb/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintResponse(t *testing.T) {
	tests := []struct {
		name string
		resp websession.Response
		want string
	}{
		{
			name: "Content",
			resp: &websession.Content{StatusCode: websession.OK, MimeType: "text/plain", Body: []byte("hello")},
			want: "200 ok (text/plain, 5 bytes)\nhello\n",
		},
		{
			name: "NoContent",
			resp: &websession.NoContent{},
			want: "204 noContent\n",
		},
		{
			name: "ClientError",
			resp: &websession.ClientError{StatusCode: websession.Forbidden},
			want: "403 forbidden\n",
		},
		{
			name: "Redirect",
			resp: &websession.Redirect{IsPermanent: true, SwitchToGet: true, Location: "docs/"},
			want: "301 redirect -> docs/\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, printResponse(&out, tt.resp))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestPutBody(t *testing.T) {
	defer func() { putFile, putData = "", "" }()

	t.Run("Data", func(t *testing.T) {
		putFile, putData = "", "inline"
		body, err := putBody(strings.NewReader("ignored"))
		require.NoError(t, err)
		assert.Equal(t, "inline", string(body))
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "upload.txt")
		require.NoError(t, os.WriteFile(path, []byte("from file"), 0644))

		putFile, putData = path, ""
		body, err := putBody(strings.NewReader("ignored"))
		require.NoError(t, err)
		assert.Equal(t, "from file", string(body))
	})

	t.Run("Stdin", func(t *testing.T) {
		putFile, putData = "", ""
		body, err := putBody(strings.NewReader("piped"))
		require.NoError(t, err)
		assert.Equal(t, "piped", string(body))
	})

	t.Run("Both", func(t *testing.T) {
		putFile, putData = "x", "y"
		_, err := putBody(strings.NewReader(""))
		assert.Error(t, err)
	})
}

func TestServe_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	clientDir := filepath.Join(dir, "client")
	require.NoError(t, os.MkdirAll(clientDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(clientDir, "index.html"), []byte("<p>app</p>"), 0644))

	socket := filepath.Join(dir, "g.sock")

	cfg := config.GetDefaultConfig()
	cfg.App.ClientDir = clientDir
	cfg.Storage.Filesystem["path"] = filepath.Join(dir, "var")
	cfg.Adapters.RPC = rpc.Config{Transport: rpc.TransportUnix, Address: socket}
	config.ApplyDefaults(cfg)
	require.NoError(t, config.Validate(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg) }()

	var c *client.Client
	require.Eventually(t, func() bool {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), time.Second)
		defer dialCancel()
		var err error
		c, err = client.Dial(dialCtx, "unix", socket)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	s, err := c.NewSession(callCtx, client.SessionOptions{DisplayName: "alice", CanWrite: true})
	require.NoError(t, err)

	resp, err := s.Put(callCtx, "var/hello.txt", websession.PutContent{Content: []byte("world")})
	require.NoError(t, err)
	assert.IsType(t, &websession.NoContent{}, resp)

	data, err := os.ReadFile(filepath.Join(dir, "var", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	s.Release()
	require.NoError(t, c.Close())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}
}
