package capability

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyResolved is returned by a Resolver that has already fulfilled or
// rejected its promise.
var ErrAlreadyResolved = errors.New("promise already resolved")

// NewPromisedClient returns a client whose target is supplied later through
// the returned Resolver.
//
// Calls made before resolution are queued and forwarded to the target in the
// order they were made. Once a promise is rejected, every queued and future
// call fails with the rejection error.
func NewPromisedClient() (*Client, *Resolver) {
	h := &promiseHook{}
	return NewClient(h), &Resolver{hook: h}
}

// Resolver settles a promised client exactly once.
type Resolver struct {
	hook *promiseHook
}

// Fulfill resolves the promise to target. The promise takes ownership of
// target.
func (r *Resolver) Fulfill(target *Client) error {
	return r.hook.resolve(target, nil)
}

// Reject fails the promise with err.
func (r *Resolver) Reject(err error) error {
	if err == nil {
		err = errors.New("promise rejected")
	}
	return r.hook.resolve(nil, err)
}

type queuedCall struct {
	ctx    context.Context
	method Method
	params Payload
	done   chan promiseResult
}

type promiseResult struct {
	results Payload
	err     error
}

type promiseHook struct {
	mu       sync.Mutex
	resolved bool
	target   *Client
	err      error
	queue    []*queuedCall
	draining bool
	shutdown bool
}

func (h *promiseHook) resolve(target *Client, err error) error {
	h.mu.Lock()
	if h.resolved {
		h.mu.Unlock()
		return ErrAlreadyResolved
	}
	h.resolved = true

	if h.shutdown {
		h.mu.Unlock()
		target.Release()
		return nil
	}

	h.target = target
	h.err = err
	h.draining = len(h.queue) > 0
	h.mu.Unlock()

	if h.draining {
		go h.drain()
	}
	return nil
}

func (h *promiseHook) drain() {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 || h.shutdown {
			pending := h.queue
			h.queue = nil
			h.draining = false
			h.mu.Unlock()
			for _, q := range pending {
				q.done <- promiseResult{err: &Exception{Type: Disconnected, Reason: "promised capability released"}}
			}
			return
		}
		q := h.queue[0]
		h.queue = h.queue[1:]
		target, err := h.target, h.err
		h.mu.Unlock()

		q.done <- h.forward(q.ctx, target, err, q.method, q.params)
	}
}

func (h *promiseHook) forward(ctx context.Context, target *Client, err error, m Method, params Payload) promiseResult {
	if err != nil {
		return promiseResult{err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return promiseResult{err: ctxErr}
	}
	results, callErr := target.Call(ctx, m, params)
	return promiseResult{results: results, err: callErr}
}

func (h *promiseHook) Call(ctx context.Context, m Method, params Payload) (Payload, error) {
	h.mu.Lock()
	if h.resolved && !h.draining {
		target, err := h.target, h.err
		h.mu.Unlock()
		res := h.forward(ctx, target, err, m, params)
		return res.results, res.err
	}

	q := &queuedCall{ctx: ctx, method: m, params: params, done: make(chan promiseResult, 1)}
	h.queue = append(h.queue, q)
	h.mu.Unlock()

	// A call already taken by the drain still borrows params; wait for it.
	select {
	case res := <-q.done:
		return res.results, res.err
	case <-ctx.Done():
		if h.dequeue(q) {
			return Payload{}, ctx.Err()
		}
		res := <-q.done
		return res.results, res.err
	}
}

// dequeue removes q if it has not been picked up by the drain yet.
func (h *promiseHook) dequeue(q *queuedCall) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, pending := range h.queue {
		if pending == q {
			h.queue = append(h.queue[:i], h.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (h *promiseHook) Shutdown() {
	h.mu.Lock()
	h.shutdown = true
	target := h.target
	h.target = nil
	pending := h.queue
	if !h.draining {
		h.queue = nil
	} else {
		pending = nil
	}
	h.mu.Unlock()

	for _, q := range pending {
		q.done <- promiseResult{err: &Exception{Type: Disconnected, Reason: "promised capability released"}}
	}
	target.Release()
}
