package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/grainweb/internal/protocol/websession"
	"github.com/marmos91/grainweb/pkg/store"
)

// respondFile reads name from r into a Content response.
//
// A missing file is a NotFound client error. Any other failure is returned
// as an error and no response is produced. The body is sized from the
// object before reading, and a short or long read is an error.
func respondFile(ctx context.Context, r store.Reader, name, mimeType string) (websession.Response, error) {
	obj, err := r.Open(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &websession.ClientError{StatusCode: websession.NotFound}, nil
		}
		return nil, err
	}
	defer func() { _ = obj.Close() }()

	size := obj.Size()
	if size < 0 {
		return nil, fmt.Errorf("read %s: negative size %d", name, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(obj, body); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	// The object must end where its size said it would.
	var probe [1]byte
	if n, _ := obj.Read(probe[:]); n > 0 {
		return nil, fmt.Errorf("read %s: file grew beyond %d bytes", name, size)
	}

	return &websession.Content{
		StatusCode: websession.OK,
		MimeType:   mimeType,
		Body:       body,
	}, nil
}
