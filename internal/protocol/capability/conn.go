package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/internal/protocol/rpc"
)

// ErrConnClosed is returned by calls on a connection that has shut down.
var ErrConnClosed = errors.New("connection closed")

// Limiter decides whether an incoming call may proceed.
type Limiter interface {
	Allow() bool
}

// Observer receives per-call measurements for incoming calls.
type Observer interface {
	RecordCall(m Method, duration time.Duration, err error)
	RecordRejected(m Method)
	SetExports(n int)
}

// ConnOptions configures a Conn.
type ConnOptions struct {
	// Bootstrap is handed to the peer when it asks for our root capability.
	// The connection takes ownership and releases it on shutdown.
	Bootstrap *Client

	// MaxMessageSize bounds a single message (0 selects the default).
	MaxMessageSize uint32

	// Limiter, when set, rejects calls with an Overloaded exception.
	Limiter Limiter

	// Observer, when set, is told about every incoming call.
	Observer Observer

	// Name identifies the connection in logs.
	Name string
}

type export struct {
	client *Client
	refs   uint32
}

type importEntry struct {
	id     uint32
	client *Client
	refs   uint32
}

type question struct {
	answer chan *rpc.ReturnMessage
}

// Conn is a two-party capability RPC connection over a byte stream.
//
// Both sides may export capabilities, bootstrap each other and make calls
// concurrently. Incoming calls are dispatched on their own goroutines; their
// Returns are written as they complete.
type Conn struct {
	rw     io.ReadWriteCloser
	framer *rpc.Framer
	opts   ConnOptions
	name   string

	mu           sync.Mutex
	exports      map[uint32]*export
	exportByObj  map[*clientState]uint32
	nextExport   uint32
	imports      map[uint32]*importEntry
	questions    map[uint32]*question
	nextQuestion uint32
	closed       bool
	closeErr     error

	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewConn wraps rw. Call Serve to start processing messages.
func NewConn(rw io.ReadWriteCloser, opts ConnOptions) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	name := opts.Name
	if name == "" {
		name = "conn"
	}
	return &Conn{
		rw:          rw,
		framer:      rpc.NewFramer(rw, rw, opts.MaxMessageSize),
		opts:        opts,
		name:        name,
		exports:     make(map[uint32]*export),
		exportByObj: make(map[*clientState]uint32),
		imports:     make(map[uint32]*importEntry),
		questions:   make(map[uint32]*question),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve reads and handles messages until the stream ends, a protocol error
// occurs, ctx is cancelled or Close is called. It waits for in-flight
// incoming calls before returning.
//
// A clean end of stream returns nil.
func (c *Conn) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.shutdown(ctx.Err())
	})
	defer stop()

	err := c.readLoop()
	c.shutdown(err)
	c.inflight.Wait()

	if errors.Is(err, io.EOF) || errors.Is(err, ErrConnClosed) {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close shuts the connection down. Pending outgoing calls fail with a
// Disconnected exception.
func (c *Conn) Close() error {
	c.shutdown(ErrConnClosed)
	return nil
}

func (c *Conn) readLoop() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in %s read loop: %v", c.name, r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	for {
		data, err := c.framer.ReadMessage()
		if err != nil {
			return c.readError(err)
		}

		msg, err := rpc.DecodeMessage(data)
		if err != nil {
			c.abort(fmt.Sprintf("malformed message: %v", err))
			return err
		}

		if err := c.handleMessage(msg); err != nil {
			c.abort(err.Error())
			return err
		}
	}
}

func (c *Conn) readError(err error) error {
	c.mu.Lock()
	closed := c.closed
	closeErr := c.closeErr
	c.mu.Unlock()

	if closed && closeErr != nil {
		return closeErr
	}
	return err
}

func (c *Conn) handleMessage(msg *rpc.Message) error {
	switch msg.Type {
	case rpc.MsgBootstrap:
		c.handleBootstrap(msg.Bootstrap)
	case rpc.MsgCall:
		c.handleCall(msg.Call)
	case rpc.MsgReturn:
		c.handleReturn(msg.Return)
	case rpc.MsgRelease:
		return c.handleRelease(msg.Release)
	case rpc.MsgAbort:
		logger.Warn("Peer aborted %s: %s", c.name, msg.Abort.Reason)
		return fmt.Errorf("peer aborted: %s", msg.Abort.Reason)
	}
	return nil
}

// ============================================================================
// Incoming messages
// ============================================================================

func (c *Conn) handleBootstrap(m *rpc.BootstrapMessage) {
	ret := &rpc.ReturnMessage{AnswerID: m.QuestionID}

	c.mu.Lock()
	bootstrap := c.opts.Bootstrap
	c.mu.Unlock()

	if bootstrap == nil {
		ret.Kind = rpc.ReturnException
		ret.Exception = Errorf("no bootstrap capability").toWire()
	} else {
		desc, err := c.exportCap(bootstrap)
		if err != nil {
			ret.Kind = rpc.ReturnException
			ret.Exception = ToException(err).toWire()
		} else {
			ret.Kind = rpc.ReturnResults
			ret.Results.CapTable = []rpc.CapDescriptor{desc}
		}
	}

	c.send(&rpc.Message{Type: rpc.MsgReturn, Return: ret})
}

func (c *Conn) handleCall(m *rpc.CallMessage) {
	method := Method{InterfaceID: m.InterfaceID, MethodID: uint16(m.MethodID)}

	c.mu.Lock()
	exp, ok := c.exports[m.Target]
	var target *Client
	if ok {
		target = exp.client.AddRef()
	}
	c.mu.Unlock()

	if target == nil {
		c.sendException(m.QuestionID, Errorf("unknown capability %d", m.Target))
		return
	}

	params, err := c.importPayload(m.Params)
	if err != nil {
		target.Release()
		c.sendException(m.QuestionID, ToException(err))
		return
	}

	if c.opts.Limiter != nil && !c.opts.Limiter.Allow() {
		target.Release()
		params.Release()
		if c.opts.Observer != nil {
			c.opts.Observer.RecordRejected(method)
		}
		c.sendException(m.QuestionID, &Exception{Type: Overloaded, Reason: "rate limit exceeded"})
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer target.Release()
		defer params.Release()

		start := time.Now()
		results, err := c.dispatch(target, method, params)
		if c.opts.Observer != nil {
			c.opts.Observer.RecordCall(method, time.Since(start), err)
		}

		if err != nil {
			c.sendException(m.QuestionID, ToException(err))
			return
		}

		wire, err := c.exportPayload(results)
		results.Release()
		if err != nil {
			c.sendException(m.QuestionID, ToException(err))
			return
		}

		c.send(&rpc.Message{Type: rpc.MsgReturn, Return: &rpc.ReturnMessage{
			AnswerID: m.QuestionID,
			Kind:     rpc.ReturnResults,
			Results:  wire,
		}})
	}()
}

func (c *Conn) dispatch(target *Client, m Method, params Payload) (results Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic dispatching %s on %s: %v", m, c.name, r)
			err = Errorf("internal error")
		}
	}()
	return target.Call(c.ctx, m, params)
}

func (c *Conn) handleReturn(m *rpc.ReturnMessage) {
	c.mu.Lock()
	q, ok := c.questions[m.AnswerID]
	delete(c.questions, m.AnswerID)
	c.mu.Unlock()

	if ok {
		q.answer <- m
		return
	}

	// Abandoned question: the caller is gone, so drop what it would own.
	if m.Kind == rpc.ReturnResults {
		if p, err := c.importPayload(m.Results); err == nil {
			p.Release()
		}
	}
}

func (c *Conn) handleRelease(m *rpc.ReleaseMessage) error {
	c.mu.Lock()
	exp, ok := c.exports[m.ID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("release of unknown export %d", m.ID)
	}
	if m.ReferenceCount > exp.refs {
		c.mu.Unlock()
		return fmt.Errorf("release of %d references to export %d holding %d",
			m.ReferenceCount, m.ID, exp.refs)
	}

	exp.refs -= m.ReferenceCount
	var drop *Client
	if exp.refs == 0 {
		delete(c.exports, m.ID)
		delete(c.exportByObj, exp.client.state)
		drop = exp.client
	}
	n := len(c.exports)
	c.mu.Unlock()

	if drop != nil {
		logger.Debug("Export %d released by peer on %s", m.ID, c.name)
		drop.Release()
		if c.opts.Observer != nil {
			c.opts.Observer.SetExports(n)
		}
	}
	return nil
}

// ============================================================================
// Outgoing messages
// ============================================================================

// Bootstrap asks the peer for its root capability.
func (c *Conn) Bootstrap(ctx context.Context) (*Client, error) {
	q, id, err := c.newQuestion()
	if err != nil {
		return nil, err
	}

	c.send(&rpc.Message{Type: rpc.MsgBootstrap, Bootstrap: &rpc.BootstrapMessage{QuestionID: id}})

	ret, err := c.await(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if ret.Kind == rpc.ReturnException {
		return nil, exceptionFromWire(ret.Exception)
	}

	p, err := c.importPayload(ret.Results)
	if err != nil {
		return nil, err
	}
	if len(p.Caps) != 1 {
		p.Release()
		return nil, Errorf("bootstrap returned %d capabilities", len(p.Caps))
	}
	return p.Caps[0], nil
}

func (c *Conn) call(ctx context.Context, target uint32, m Method, params Payload) (Payload, error) {
	wire, err := c.exportPayload(params)
	if err != nil {
		return Payload{}, err
	}

	q, id, err := c.newQuestion()
	if err != nil {
		return Payload{}, err
	}

	c.send(&rpc.Message{Type: rpc.MsgCall, Call: &rpc.CallMessage{
		QuestionID:  id,
		Target:      target,
		InterfaceID: m.InterfaceID,
		MethodID:    uint32(m.MethodID),
		Params:      wire,
	}})

	ret, err := c.await(ctx, q, id)
	if err != nil {
		return Payload{}, err
	}
	if ret.Kind == rpc.ReturnException {
		return Payload{}, exceptionFromWire(ret.Exception)
	}
	return c.importPayload(ret.Results)
}

func (c *Conn) newQuestion() (*question, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, 0, &Exception{Type: Disconnected, Reason: "connection closed"}
	}

	id := c.nextQuestion
	for {
		if _, busy := c.questions[id]; !busy {
			break
		}
		id++
	}
	c.nextQuestion = id + 1

	q := &question{answer: make(chan *rpc.ReturnMessage, 1)}
	c.questions[id] = q
	return q, id, nil
}

func (c *Conn) await(ctx context.Context, q *question, id uint32) (*rpc.ReturnMessage, error) {
	select {
	case ret := <-q.answer:
		return ret, nil
	case <-ctx.Done():
		c.mu.Lock()
		_, pending := c.questions[id]
		delete(c.questions, id)
		c.mu.Unlock()
		if !pending {
			// The answer raced with cancellation; release what it carries.
			select {
			case ret := <-q.answer:
				if ret.Kind == rpc.ReturnResults {
					if p, err := c.importPayload(ret.Results); err == nil {
						p.Release()
					}
				}
			case <-c.done:
			}
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, &Exception{Type: Disconnected, Reason: "connection closed"}
	}
}

func (c *Conn) sendException(answerID uint32, e *Exception) {
	c.send(&rpc.Message{Type: rpc.MsgReturn, Return: &rpc.ReturnMessage{
		AnswerID:  answerID,
		Kind:      rpc.ReturnException,
		Exception: e.toWire(),
	}})
}

func (c *Conn) send(msg *rpc.Message) {
	data, err := rpc.EncodeMessage(msg)
	if err != nil {
		logger.Error("Failed to encode message on %s: %v", c.name, err)
		return
	}

	if err := c.framer.WriteMessage(data); err != nil {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			logger.Debug("Write failed on %s: %v", c.name, err)
			c.shutdown(err)
		}
	}
}

func (c *Conn) abort(reason string) {
	logger.Warn("Aborting %s: %s", c.name, reason)
	c.send(&rpc.Message{Type: rpc.MsgAbort, Abort: &rpc.AbortMessage{Reason: reason}})
}

// ============================================================================
// Capability tables
// ============================================================================

// exportCap adds a reference to client on behalf of the peer and returns its
// descriptor.
func (c *Conn) exportCap(client *Client) (rpc.CapDescriptor, error) {
	if client == nil {
		return rpc.CapDescriptor{Kind: rpc.CapNone}, nil
	}

	if ih, ok := client.hook().(*importHook); ok && ih.conn == c {
		return rpc.CapDescriptor{Kind: rpc.CapReceiverHosted, ID: ih.entry.id}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return rpc.CapDescriptor{}, &Exception{Type: Disconnected, Reason: "connection closed"}
	}

	if id, ok := c.exportByObj[client.state]; ok {
		c.exports[id].refs++
		return rpc.CapDescriptor{Kind: rpc.CapSenderHosted, ID: id}, nil
	}

	ref := client.AddRef()
	if ref == nil {
		return rpc.CapDescriptor{}, ErrReleased
	}

	id := c.nextExport
	for {
		if _, busy := c.exports[id]; !busy {
			break
		}
		id++
	}
	c.nextExport = id + 1

	c.exports[id] = &export{client: ref, refs: 1}
	c.exportByObj[client.state] = id
	if c.opts.Observer != nil {
		c.opts.Observer.SetExports(len(c.exports))
	}
	return rpc.CapDescriptor{Kind: rpc.CapSenderHosted, ID: id}, nil
}

func (c *Conn) exportPayload(p Payload) (rpc.Payload, error) {
	wire := rpc.Payload{Content: p.Content}
	if len(p.Caps) == 0 {
		return wire, nil
	}

	wire.CapTable = make([]rpc.CapDescriptor, len(p.Caps))
	for i, client := range p.Caps {
		desc, err := c.exportCap(client)
		if err != nil {
			return rpc.Payload{}, err
		}
		wire.CapTable[i] = desc
	}
	return wire, nil
}

// importCap turns a descriptor received from the peer into a client owned by
// the caller.
func (c *Conn) importCap(desc rpc.CapDescriptor) (*Client, error) {
	switch desc.Kind {
	case rpc.CapNone:
		return nil, nil

	case rpc.CapReceiverHosted:
		c.mu.Lock()
		defer c.mu.Unlock()
		exp, ok := c.exports[desc.ID]
		if !ok {
			return nil, Errorf("unknown capability %d", desc.ID)
		}
		return exp.client.AddRef(), nil

	case rpc.CapSenderHosted:
		c.mu.Lock()
		defer c.mu.Unlock()

		if entry, ok := c.imports[desc.ID]; ok {
			if ref := entry.client.state.tryAddRef(); ref != nil {
				entry.refs++
				return ref, nil
			}
		}

		entry := &importEntry{id: desc.ID, refs: 1}
		entry.client = NewClient(&importHook{conn: c, entry: entry})
		c.imports[desc.ID] = entry
		return entry.client, nil

	default:
		return nil, Errorf("unknown capability descriptor kind %d", desc.Kind)
	}
}

func (c *Conn) importPayload(w rpc.Payload) (Payload, error) {
	p := Payload{Content: w.Content}
	if len(w.CapTable) == 0 {
		return p, nil
	}

	p.Caps = make([]*Client, 0, len(w.CapTable))
	for _, desc := range w.CapTable {
		client, err := c.importCap(desc)
		if err != nil {
			p.Release()
			return Payload{}, err
		}
		p.Caps = append(p.Caps, client)
	}
	return p, nil
}

// shutdown fails pending questions and drops every exported reference.
// The first error recorded wins.
func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err

	exports := c.exports
	c.exports = make(map[uint32]*export)
	c.exportByObj = make(map[*clientState]uint32)
	c.questions = make(map[uint32]*question)
	bootstrap := c.opts.Bootstrap
	c.opts.Bootstrap = nil
	c.mu.Unlock()

	close(c.done)
	c.cancel()
	_ = c.rw.Close()

	for _, exp := range exports {
		exp.client.Release()
	}
	bootstrap.Release()

	if c.opts.Observer != nil {
		c.opts.Observer.SetExports(0)
	}
	logger.Debug("Connection %s shut down: %v", c.name, err)
}

// importHook forwards calls to an object hosted by the peer.
type importHook struct {
	conn  *Conn
	entry *importEntry
}

func (h *importHook) Call(ctx context.Context, m Method, params Payload) (Payload, error) {
	return h.conn.call(ctx, h.entry.id, m, params)
}

func (h *importHook) Shutdown() {
	c := h.conn

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.imports[h.entry.id] == h.entry {
		delete(c.imports, h.entry.id)
	}
	refs := h.entry.refs
	c.mu.Unlock()

	c.send(&rpc.Message{Type: rpc.MsgRelease, Release: &rpc.ReleaseMessage{
		ID:             h.entry.id,
		ReferenceCount: refs,
	}})
}
