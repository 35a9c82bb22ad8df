package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/marmos91/grainweb/internal/protocol/websession"
	"github.com/marmos91/grainweb/pkg/metrics"
	"github.com/marmos91/grainweb/pkg/store"
)

// Reserved request paths.
const (
	varDir       = "var"
	varPrefix    = "var/"
	canWritePath = ".can-write"
	indexFile    = "index.html"
)

var (
	errPutOutsideVar    = errors.New("put only supported under var/")
	errDeleteOutsideVar = errors.New("delete only supported under var/")

	// ErrReservedName is returned for uploads named like a staging file;
	// the sweeper would remove them.
	ErrReservedName = errors.New("name reserved for staged uploads")
)

// Session serves one caller's WebSession.
//
// Paths under "var/" address the mutable store; everything else is looked up
// in the static tree. Writes are allowed only if the caller held the write
// permission when the session was created.
//
// Thread Safety:
// A Session holds no mutable request state and may serve concurrent calls.
type Session struct {
	id       string
	canWrite bool
	user     string
	params   websession.Params

	static  store.StaticTree
	data    store.Store
	metrics metrics.SessionMetrics

	releaseOnce sync.Once
}

var (
	_ websession.WebSession = (*Session)(nil)
	_ capability.Shutdowner = (*Session)(nil)
)

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// CanWrite reports whether the session may modify the mutable store.
func (s *Session) CanWrite() bool {
	return s.canWrite
}

// Params returns the parameters the session was opened with.
func (s *Session) Params() websession.Params {
	return s.params
}

// Get serves a file, a listing of the mutable store, or the session's write
// permission at ".can-write".
func (s *Session) Get(ctx context.Context, path string) (websession.Response, error) {
	start := time.Now()
	resp, err := s.get(ctx, path)
	s.observe("get", path, start, resp, err)
	return resp, err
}

func (s *Session) get(ctx context.Context, path string) (websession.Response, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	switch {
	case path == varDir || path == varPrefix:
		names, err := s.data.List(ctx)
		if err != nil {
			return nil, err
		}
		return &websession.Content{
			StatusCode: websession.OK,
			MimeType:   MimeText,
			Body:       []byte(strings.Join(names, "\n")),
		}, nil

	case strings.HasPrefix(path, varPrefix):
		name := strings.TrimPrefix(path, varPrefix)
		if isDirName(name) {
			return &websession.ClientError{StatusCode: websession.NotFound}, nil
		}
		// User content is never served with a type a browser would render.
		return respondFile(ctx, s.data, name, MimeOctetStream)

	case path == canWritePath:
		return &websession.Content{
			StatusCode: websession.OK,
			MimeType:   MimeText,
			Body:       []byte(strconv.FormatBool(s.canWrite)),
		}, nil

	case path == "" || strings.HasSuffix(path, "/"):
		return respondFile(ctx, s.static, staticName(path)+indexFile, MimeHTML)

	default:
		name := staticName(path)

		// IsDir and Open are separate lookups; the static tree is read-only.
		if isDir, err := s.static.IsDir(ctx, name); err == nil && isDir {
			return &websession.Redirect{
				IsPermanent: true,
				SwitchToGet: true,
				Location:    path + "/",
			}, nil
		}
		return respondFile(ctx, s.static, name, ContentType(path))
	}
}

// Put atomically replaces a file under "var/".
func (s *Session) Put(ctx context.Context, path string, content websession.PutContent) (websession.Response, error) {
	start := time.Now()
	resp, err := s.put(ctx, path, content)
	s.observe("put", path, start, resp, err)
	return resp, err
}

func (s *Session) put(ctx context.Context, path string, content websession.PutContent) (websession.Response, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, varPrefix) {
		return nil, errPutOutsideVar
	}
	if strings.HasSuffix(path, store.PartialSuffix) {
		return nil, fmt.Errorf("%w: %q", ErrReservedName, path)
	}
	if !s.canWrite {
		return &websession.ClientError{StatusCode: websession.Forbidden}, nil
	}

	if err := s.data.Replace(ctx, strings.TrimPrefix(path, varPrefix), content.Content); err != nil {
		return nil, err
	}

	logger.Info("Session %s stored %s (%d bytes)", s.id, path, len(content.Content))
	s.metrics.RecordBytes("write", len(content.Content))
	return &websession.NoContent{}, nil
}

// Delete removes a file under "var/". Deleting a missing file succeeds.
func (s *Session) Delete(ctx context.Context, path string) (websession.Response, error) {
	start := time.Now()
	resp, err := s.delete(ctx, path)
	s.observe("delete", path, start, resp, err)
	return resp, err
}

func (s *Session) delete(ctx context.Context, path string) (websession.Response, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, varPrefix) {
		return nil, errDeleteOutsideVar
	}
	if !s.canWrite {
		return &websession.ClientError{StatusCode: websession.Forbidden}, nil
	}

	name := strings.TrimPrefix(path, varPrefix)
	if isDirName(name) {
		// The store holds only files, so there is nothing to remove.
		logger.Debug("Session %s: delete of missing %s", s.id, path)
		return &websession.NoContent{}, nil
	}

	if err := s.data.Remove(ctx, name); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		logger.Debug("Session %s: delete of missing %s", s.id, path)
	} else {
		logger.Info("Session %s deleted %s", s.id, path)
	}
	return &websession.NoContent{}, nil
}

// Shutdown is called when the last reference to the session capability is
// released.
func (s *Session) Shutdown() {
	s.releaseOnce.Do(func() {
		logger.Info("Session %s released (user=%q)", s.id, s.user)
		s.metrics.RecordSessionReleased()
	})
}

func (s *Session) observe(verb, path string, start time.Time, resp websession.Response, err error) {
	duration := time.Since(start)
	outcome := outcomeOf(resp, err)

	if err != nil {
		logger.Debug("Session %s: %s %q failed: %v", s.id, verb, path, err)
	} else {
		logger.Debug("Session %s: %s %q -> %s (%s)", s.id, verb, path, outcome, duration)
	}

	if c, ok := resp.(*websession.Content); ok {
		s.metrics.RecordBytes("read", len(c.Body))
	}
	s.metrics.RecordRequest(verb, outcome, duration)
}

func outcomeOf(resp websession.Response, err error) string {
	if err != nil {
		return "failed"
	}
	switch resp.(type) {
	case *websession.Content:
		return "content"
	case *websession.NoContent:
		return "no_content"
	case *websession.ClientError:
		return "client_error"
	case *websession.Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// isDirName reports whether a var/ name refers to a directory, which the
// mutable store never holds as a file.
func isDirName(name string) bool {
	return strings.HasSuffix(name, "/")
}

// staticName maps a request path to a static tree name. A leading "/" is
// accepted by ValidatePath and dropped here.
func staticName(path string) string {
	return strings.TrimPrefix(path, "/")
}
