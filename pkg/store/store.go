// Package store defines the storage interfaces behind a session: a
// read-only static tree for application assets and a mutable store for
// user data.
//
// Names are slash-separated paths relative to the store root. They never
// start with "/" and contain no ".", ".." or empty segments; implementations
// reject other names with ErrInvalidName.
//
// Implementations:
//   - pkg/store/afs: afero filesystem (OS directory or in memory)
//   - pkg/store/s3: S3 or S3-compatible object storage
//   - pkg/store/badger: embedded BadgerDB
package store

import (
	"context"
	"io"
	"time"
)

// Object is an open stored file. Size is known before the body is read, so
// callers can size a response exactly.
type Object interface {
	io.ReadCloser
	Size() int64
}

// Reader opens stored files.
type Reader interface {
	// Open returns the named file. Returns an error wrapping ErrNotFound if
	// it does not exist.
	Open(ctx context.Context, name string) (Object, error)
}

// StaticTree is a read-only tree of application assets.
type StaticTree interface {
	Reader

	// IsDir reports whether name is a directory.
	IsDir(ctx context.Context, name string) (bool, error)
}

// Store is a mutable store of user files.
//
// Thread Safety:
// Implementations are safe for concurrent use. A reader of a name being
// replaced observes either the old or the new content, never a mixture.
type Store interface {
	Reader

	// List returns the names of the entries directly under the root, in
	// lexical order.
	List(ctx context.Context) ([]string, error)

	// Replace atomically sets the content of name.
	Replace(ctx context.Context, name string, data []byte) error

	// Remove deletes name. Removing a missing name returns an error
	// wrapping ErrNotFound, or nil for backends that cannot tell.
	Remove(ctx context.Context, name string) error

	// Close releases backend resources.
	Close() error
}

// Entry describes a partial upload left behind by an interrupted Replace.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Sweepable is implemented by stores whose Replace stages data under a
// temporary name that can be orphaned by a crash.
type Sweepable interface {
	// PartialUploads lists staged uploads.
	PartialUploads(ctx context.Context) ([]Entry, error)

	// RemovePartial deletes a staged upload returned by PartialUploads.
	RemovePartial(ctx context.Context, name string) error
}

// PartialSuffix is appended to a name while its new content is staged.
const PartialSuffix = ".uploading"
