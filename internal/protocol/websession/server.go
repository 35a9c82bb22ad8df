package websession

import (
	"context"

	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/marmos91/grainweb/internal/protocol/rpc"
)

// WebSession is implemented by session objects.
//
// Returning an error fails the call at the RPC level. Conditions the caller
// should see as HTTP errors are returned as *ClientError responses instead.
type WebSession interface {
	Get(ctx context.Context, path string) (Response, error)
	Put(ctx context.Context, path string, content PutContent) (Response, error)
	Delete(ctx context.Context, path string) (Response, error)
}

var (
	getMethod    = capability.Method{InterfaceID: InterfaceID, MethodID: MethodGet, InterfaceName: "WebSession", MethodName: "get"}
	putMethod    = capability.Method{InterfaceID: InterfaceID, MethodID: MethodPut, InterfaceName: "WebSession", MethodName: "put"}
	deleteMethod = capability.Method{InterfaceID: InterfaceID, MethodID: MethodDelete, InterfaceName: "WebSession", MethodName: "delete"}
)

type pathParams struct {
	Path string
}

type putParams struct {
	Path    string
	Content PutContent
}

// NewServer adapts impl to a capability server. If impl implements
// capability.Shutdowner it is told when the last reference is dropped.
func NewServer(impl WebSession) capability.Server {
	return &server{impl: impl}
}

// NewClient exposes impl as a capability.
func NewClient(impl WebSession) *capability.Client {
	return capability.NewServerClient(NewServer(impl))
}

type server struct {
	impl WebSession
}

func (s *server) Dispatch(ctx context.Context, call capability.Call) (capability.Payload, error) {
	if call.Method.InterfaceID != InterfaceID {
		return capability.Payload{}, capability.MethodUnimplemented(call.Method)
	}

	var (
		resp Response
		err  error
	)

	switch call.Method.MethodID {
	case MethodGet:
		var p pathParams
		if err := rpc.Unmarshal(call.Params.Content, &p); err != nil {
			return capability.Payload{}, capability.Errorf("decode get params: %v", err)
		}
		resp, err = s.impl.Get(ctx, p.Path)

	case MethodPut:
		var p putParams
		if err := rpc.Unmarshal(call.Params.Content, &p); err != nil {
			return capability.Payload{}, capability.Errorf("decode put params: %v", err)
		}
		resp, err = s.impl.Put(ctx, p.Path, p.Content)

	case MethodDelete:
		var p pathParams
		if err := rpc.Unmarshal(call.Params.Content, &p); err != nil {
			return capability.Payload{}, capability.Errorf("decode delete params: %v", err)
		}
		resp, err = s.impl.Delete(ctx, p.Path)

	default:
		return capability.Payload{}, capability.MethodUnimplemented(call.Method)
	}

	if err != nil {
		return capability.Payload{}, err
	}

	content, err := EncodeResponse(resp)
	if err != nil {
		return capability.Payload{}, err
	}
	return capability.Payload{Content: content}, nil
}

func (s *server) Shutdown() {
	if sd, ok := s.impl.(capability.Shutdowner); ok {
		sd.Shutdown()
	}
}

// Client calls a WebSession through a capability. It does not own the
// capability.
type Client struct {
	Client *capability.Client
}

func (c Client) Get(ctx context.Context, path string) (Response, error) {
	return c.call(ctx, getMethod, pathParams{Path: path})
}

func (c Client) Put(ctx context.Context, path string, content PutContent) (Response, error) {
	return c.call(ctx, putMethod, putParams{Path: path, Content: content})
}

func (c Client) Delete(ctx context.Context, path string) (Response, error) {
	return c.call(ctx, deleteMethod, pathParams{Path: path})
}

func (c Client) call(ctx context.Context, m capability.Method, params any) (Response, error) {
	content, err := rpc.Marshal(params)
	if err != nil {
		return nil, err
	}

	results, err := c.Client.Call(ctx, m, capability.Payload{Content: content})
	if err != nil {
		return nil, err
	}
	defer results.Release()

	return DecodeResponse(results.Content)
}
