package store

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ============================================================================
// Standard Store Errors
// ============================================================================

// Implementations wrap these with context:
//
//	return nil, fmt.Errorf("open %s: %w", name, store.ErrNotFound)
//
// and callers match them with errors.Is.
var (
	// ErrNotFound indicates the named file does not exist.
	//
	// It matches fs.ErrNotExist so OS and afero errors compare equal.
	ErrNotFound = fs.ErrNotExist

	// ErrInvalidName indicates a name that is absolute or contains ".",
	// ".." or empty segments.
	ErrInvalidName = errors.New("invalid name")

	// ErrReadOnly indicates a write to a read-only store.
	ErrReadOnly = errors.New("store is read-only")
)

// ValidateName checks that name is a relative path without ".", ".." or
// empty segments. The empty name is invalid.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidName)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%q: %w", name, ErrInvalidName)
		}
	}
	return nil
}
