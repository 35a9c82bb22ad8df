//go:build !unix

package rpc

import (
	"fmt"
	"net"
)

func openFD(fd int) (net.Conn, error) {
	return nil, fmt.Errorf("fd transport is not supported on this platform (descriptor %d)", fd)
}
