//go:build unix

package rpc

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketPair returns the grain's descriptor and a net.Conn for the host end.
func socketPair(t *testing.T) (int, net.Conn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	f := os.NewFile(uintptr(fds[1]), "host-end")
	hostConn, err := net.FileConn(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	return fds[0], hostConn
}

func TestOpenFD(t *testing.T) {
	t.Run("StreamSocket", func(t *testing.T) {
		fd, hostConn := socketPair(t)
		defer func() { _ = hostConn.Close() }()

		conn, err := openFD(fd)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		_, err = hostConn.Write([]byte("ping"))
		require.NoError(t, err)

		buf := make([]byte, 4)
		_, err = conn.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf))
	})

	t.Run("Pipe", func(t *testing.T) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer func() { _ = r.Close() }()
		defer func() { _ = w.Close() }()

		_, err = openFD(int(r.Fd()))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a socket")
	})

	t.Run("DatagramSocket", func(t *testing.T) {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
		require.NoError(t, err)
		defer func() { _ = unix.Close(fds[0]) }()
		defer func() { _ = unix.Close(fds[1]) }()

		_, err = openFD(fds[0])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a stream socket")
	})
}

func TestAdapter_FD(t *testing.T) {
	t.Run("ServesUntilHostCloses", func(t *testing.T) {
		fd, hostConn := socketPair(t)

		a := New(Config{Transport: TransportFD, FD: fd}, nil, nil)
		a.SetStores(testStores(t))

		errCh := make(chan error, 1)
		go func() { errCh <- a.Serve(context.Background()) }()

		h := connectHost(t, hostConn)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := h.view.GetViewInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fd:"+strconv.Itoa(fd), a.Addr())

		_ = h.conn.Close()

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return after the host closed the stream")
		}
	})

	t.Run("StopClosesStream", func(t *testing.T) {
		fd, hostConn := socketPair(t)

		a := New(Config{Transport: TransportFD, FD: fd}, nil, nil)
		a.SetStores(testStores(t))

		errCh := make(chan error, 1)
		go func() { errCh <- a.Serve(context.Background()) }()

		h := connectHost(t, hostConn)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(ctx))

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return after Stop")
		}

		select {
		case <-h.conn.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("host connection still open")
		}
	})

	t.Run("BadDescriptor", func(t *testing.T) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer func() { _ = r.Close() }()
		defer func() { _ = w.Close() }()

		a := New(Config{Transport: TransportFD, FD: int(r.Fd())}, nil, nil)
		a.SetStores(testStores(t))
		assert.Error(t, a.Serve(context.Background()))
	})
}
