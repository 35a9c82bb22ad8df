// Package capability implements reference-counted capability clients and a
// two-party RPC connection that carries them.
//
// A *Client is one counted reference to an object. The object may live in
// this process (a Server wrapped with NewServerClient), on the far side of a
// Conn, or behind a promise that is resolved later (NewPromisedClient).
// When the last reference is released the object is shut down: local
// servers get their Shutdown hook called and remote objects receive a
// Release message.
//
// Ownership rules:
//   - Client.Call borrows the capabilities in params. A callee that wants to
//     keep one must AddRef it.
//   - Capabilities in results are owned by the caller, who must release them.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrNullClient is returned when calling a nil client.
	ErrNullClient = errors.New("call on null capability")

	// ErrReleased is returned when calling through a reference that was
	// already released.
	ErrReleased = errors.New("call on released capability")
)

// Method identifies one method of one interface.
type Method struct {
	InterfaceID uint64
	MethodID    uint16

	// Names are informational and only set on the calling side.
	InterfaceName string
	MethodName    string
}

func (m Method) String() string {
	if m.InterfaceName != "" && m.MethodName != "" {
		return m.InterfaceName + "." + m.MethodName
	}
	return fmt.Sprintf("@%016x/%d", m.InterfaceID, m.MethodID)
}

// Payload is the argument or result of a call: encoded content plus the
// capabilities it refers to by index.
type Payload struct {
	Content []byte
	Caps    []*Client
}

// Cap returns the capability at index i, or nil for an out-of-range index.
func (p Payload) Cap(i uint32) *Client {
	if int64(i) >= int64(len(p.Caps)) {
		return nil
	}
	return p.Caps[i]
}

// Release drops every capability the payload holds.
func (p Payload) Release() {
	for _, c := range p.Caps {
		c.Release()
	}
}

// Hook is the implementation behind a client.
type Hook interface {
	// Call performs a method call. params are borrowed; result capabilities
	// are owned by the caller.
	Call(ctx context.Context, m Method, params Payload) (Payload, error)

	// Shutdown is called once, after the last reference is released.
	Shutdown()
}

type clientState struct {
	hook Hook

	mu   sync.Mutex
	refs int64
}

// Client is one counted reference to a capability. A nil *Client is the
// null capability.
type Client struct {
	state    *clientState
	released atomic.Bool
}

// NewClient wraps hook in a client holding the first reference.
func NewClient(hook Hook) *Client {
	return &Client{state: &clientState{hook: hook, refs: 1}}
}

// AddRef returns a new reference to the same object. The receiver stays
// valid and must still be released separately.
//
// Returns nil if c is nil or already released.
func (c *Client) AddRef() *Client {
	if c == nil || c.released.Load() {
		return nil
	}
	return c.state.tryAddRef()
}

func (s *clientState) tryAddRef() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs <= 0 {
		return nil
	}
	s.refs++
	return &Client{state: s}
}

// Release drops this reference. Releasing the same reference twice is a
// no-op.
func (c *Client) Release() {
	if c == nil || !c.released.CompareAndSwap(false, true) {
		return
	}

	s := c.state
	s.mu.Lock()
	s.refs--
	last := s.refs == 0
	s.mu.Unlock()

	if last {
		s.hook.Shutdown()
	}
}

// Call invokes a method on the capability.
func (c *Client) Call(ctx context.Context, m Method, params Payload) (Payload, error) {
	if c == nil {
		return Payload{}, ErrNullClient
	}
	if c.released.Load() {
		return Payload{}, ErrReleased
	}
	return c.state.hook.Call(ctx, m, params)
}

// IsSame reports whether c and other refer to the same object.
func (c *Client) IsSame(other *Client) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.state == other.state
}

func (c *Client) hook() Hook {
	return c.state.hook
}
