package capability

import "context"

// Call is an incoming method invocation delivered to a Server.
type Call struct {
	Method Method
	Params Payload
}

// Server is an object implemented in this process.
//
// Dispatch must not retain Params.Caps beyond its return without calling
// AddRef on them.
type Server interface {
	Dispatch(ctx context.Context, call Call) (Payload, error)
}

// Shutdowner is implemented by servers that want to know when their last
// reference is gone.
type Shutdowner interface {
	Shutdown()
}

// NewServerClient exposes s as a capability.
func NewServerClient(s Server) *Client {
	return NewClient(&localHook{server: s})
}

type localHook struct {
	server Server
}

func (h *localHook) Call(ctx context.Context, m Method, params Payload) (Payload, error) {
	return h.server.Dispatch(ctx, Call{Method: m, Params: params})
}

func (h *localHook) Shutdown() {
	if s, ok := h.server.(Shutdowner); ok {
		s.Shutdown()
	}
}
