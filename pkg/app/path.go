package app

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNonCanonicalPath is returned for request paths containing ".", ".." or
// empty segments.
var ErrNonCanonicalPath = errors.New("non-canonical path")

// ValidatePath rejects paths that could escape the served trees.
//
// A single trailing "/" is allowed, and so is a leading one: only the first
// segment may be empty. It never touches storage.
func ValidatePath(path string) error {
	if path == "" || path == "/" {
		return nil
	}

	for idx, seg := range strings.Split(strings.TrimSuffix(path, "/"), "/") {
		if seg == "." || seg == ".." || (seg == "" && idx > 0) {
			return fmt.Errorf("%w: %q", ErrNonCanonicalPath, path)
		}
	}
	return nil
}
