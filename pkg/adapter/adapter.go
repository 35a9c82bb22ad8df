package adapter

import (
	"context"

	"github.com/marmos91/grainweb/pkg/store"
)

// Stores are the backends shared by every adapter of a server.
type Stores struct {
	// Static is the read-only client/ tree.
	Static store.StaticTree

	// Data is the mutable var/ store.
	Data store.Store
}

// Adapter represents a front end that can be managed by the grain server.
//
// Lifecycle:
//  1. Creation: Adapter is created with its own configuration
//  2. Store injection: SetStores() provides shared backend access
//  3. Startup: Serve() starts the adapter and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetStores() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the adapter and blocks until the context is cancelled,
	// the adapter runs out of work, or an unrecoverable error occurs.
	//
	// A nil return before cancellation means the adapter finished on its own
	// (for example the host closed the inherited RPC stream). The server
	// treats that as a request to shut everything down.
	Serve(ctx context.Context) error

	// SetStores injects the shared stores. Called exactly once before Serve().
	SetStores(stores Stores)

	// Stop initiates graceful shutdown. It must be idempotent and safe to
	// call concurrently with Serve().
	Stop(ctx context.Context) error

	// Protocol returns the human-readable adapter name for logs.
	Protocol() string

	// Addr returns where the adapter is serving, or "" before Serve().
	Addr() string
}
