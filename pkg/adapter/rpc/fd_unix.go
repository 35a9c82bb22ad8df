//go:build unix

package rpc

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// openFD adopts an inherited descriptor as a net.Conn. The descriptor must be
// a connected stream socket; anything else (a pipe, a closed slot, a datagram
// socket) is rejected before any framing is attempted.
func openFD(fd int) (net.Conn, error) {
	sotype, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return nil, fmt.Errorf("descriptor %d is not a socket: %w", fd, err)
	}
	if sotype != unix.SOCK_STREAM {
		return nil, fmt.Errorf("descriptor %d is not a stream socket (type %d)", fd, sotype)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("grain-rpc-fd%d", fd))
	if f == nil {
		return nil, fmt.Errorf("descriptor %d is invalid", fd)
	}
	// FileConn dups the descriptor.
	defer func() { _ = f.Close() }()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("adopt descriptor %d: %w", fd, err)
	}
	return conn, nil
}
