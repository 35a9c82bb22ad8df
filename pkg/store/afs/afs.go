// Package afs implements the store interfaces on an afero filesystem.
//
// The same Tree type serves the read-only static asset tree (client/) and
// the mutable user store (var/), either on a local directory or entirely in
// memory.
package afs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/grainweb/pkg/store"
	"github.com/spf13/afero"
)

// Tree is a store rooted in an afero filesystem.
//
// Replace stages data under "<name>.uploading", syncs it and renames it over
// name, so readers never observe a partially written file.
type Tree struct {
	fs       afero.Fs
	readOnly bool
}

var (
	_ store.Store      = (*Tree)(nil)
	_ store.StaticTree = (*Tree)(nil)
	_ store.Sweepable  = (*Tree)(nil)
)

// NewOS returns a tree rooted at the local directory root.
//
// A writable tree creates root if missing. A read-only tree requires it to
// exist and rejects every mutation with store.ErrReadOnly.
func NewOS(root string, readOnly bool) (*Tree, error) {
	if readOnly {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("static root %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static root %s is not a directory", root)
		}
	} else if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	var base afero.Fs = afero.NewBasePathFs(afero.NewOsFs(), root)
	if readOnly {
		base = afero.NewReadOnlyFs(base)
	}
	return &Tree{fs: base, readOnly: readOnly}, nil
}

// NewMemory returns an empty writable tree held in memory.
func NewMemory() *Tree {
	return &Tree{fs: afero.NewMemMapFs()}
}

// New wraps an existing afero filesystem.
func New(fsys afero.Fs, readOnly bool) *Tree {
	if readOnly {
		fsys = afero.NewReadOnlyFs(fsys)
	}
	return &Tree{fs: fsys, readOnly: readOnly}
}

// Fs exposes the underlying filesystem.
func (t *Tree) Fs() afero.Fs {
	return t.fs
}

type object struct {
	afero.File
	size int64
}

func (o *object) Size() int64 {
	return o.size
}

// Open returns the named file with its size.
func (t *Tree) Open(ctx context.Context, name string) (store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	f, err := t.fs.Open(name)
	if err != nil {
		return nil, mapError("open", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	return &object{File: f, size: info.Size()}, nil
}

// IsDir reports whether name is a directory.
func (t *Tree) IsDir(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := store.ValidateName(name); err != nil {
		return false, err
	}

	info, err := t.fs.Stat(name)
	if err != nil {
		return false, mapError("stat", name, err)
	}
	return info.IsDir(), nil
}

// List returns the names directly under the root in lexical order.
func (t *Tree) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(t.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if n := info.Name(); n != "." && n != ".." {
			names = append(names, n)
		}
	}
	return names, nil
}

// Replace writes data to a staging file, syncs it and renames it over name.
func (t *Tree) Replace(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.readOnly {
		return store.ErrReadOnly
	}
	if err := store.ValidateName(name); err != nil {
		return err
	}

	staging := name + store.PartialSuffix

	f, err := t.fs.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return mapError("create", staging, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = t.fs.Remove(staging)
		return fmt.Errorf("write %s: %w", staging, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = t.fs.Remove(staging)
		return fmt.Errorf("sync %s: %w", staging, err)
	}

	if err := f.Close(); err != nil {
		_ = t.fs.Remove(staging)
		return fmt.Errorf("close %s: %w", staging, err)
	}

	if err := t.fs.Rename(staging, name); err != nil {
		return fmt.Errorf("rename %s: %w", staging, err)
	}
	return nil
}

// Remove deletes name.
func (t *Tree) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.readOnly {
		return store.ErrReadOnly
	}
	if err := store.ValidateName(name); err != nil {
		return err
	}

	if err := t.fs.Remove(name); err != nil {
		return mapError("remove", name, err)
	}
	return nil
}

// PartialUploads walks the tree for staging files.
func (t *Tree) PartialUploads(ctx context.Context) ([]store.Entry, error) {
	var entries []store.Entry

	err := afero.Walk(t.fs, ".", func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), store.PartialSuffix) {
			return nil
		}

		entries = append(entries, store.Entry{
			Name:    filepath.ToSlash(filepath.Clean(path)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan for partial uploads: %w", err)
	}
	return entries, nil
}

// RemovePartial deletes a staging file.
func (t *Tree) RemovePartial(ctx context.Context, name string) error {
	if !strings.HasSuffix(name, store.PartialSuffix) {
		return fmt.Errorf("%q is not a partial upload: %w", name, store.ErrInvalidName)
	}
	return t.Remove(ctx, name)
}

// Close is a no-op; afero filesystems hold no resources.
func (t *Tree) Close() error {
	return nil
}

func mapError(op, name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, name, store.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}
