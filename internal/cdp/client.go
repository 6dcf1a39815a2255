package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grantcarthew/cdpmux/internal/log"
	"github.com/grantcarthew/cdpmux/internal/protocol"
	"github.com/grantcarthew/cdpmux/internal/transport"
)

// DefaultTimeout is the default timeout for CDP commands.
const DefaultTimeout = 30 * time.Second

var (
	// ErrClosed is wrapped by every error caused by the connection closing.
	ErrClosed = errors.New("connection closed")

	// ErrTimeout is returned when a command gets no reply before its deadline.
	ErrTimeout = errors.New("command timed out")

	// ErrProcessExited is the close cause when the browser process exits.
	ErrProcessExited = errors.New("browser process exited")
)

type (
	// Event is an unsolicited notification from the browser.
	Event = protocol.Event

	// Error is an error reported by the browser for one command.
	Error = protocol.Error
)

// State is the lifecycle state of a Client.
type State int32

// Client states, in the only order they are entered.
const (
	StateHandshaking State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type result struct {
	raw json.RawMessage
	err error
}

// pendingCall is one command awaiting its reply. ch has room for exactly
// one result and is written only by whoever removed the call from the table.
type pendingCall struct {
	id      int64
	method  string
	ch      chan result
	created time.Time
}

type options struct {
	timeout       time.Duration
	logger        *log.Logger
	exited        <-chan struct{}
	transportOpts []transport.Option
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the timeout applied to commands whose context has no
// deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithExitSignal closes the client with ErrProcessExited when ch is closed.
func WithExitSignal(ch <-chan struct{}) Option {
	return func(o *options) {
		o.exited = ch
	}
}

// WithTransportOptions passes options to the transport created by Dial.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) {
		o.transportOpts = append(o.transportOpts, opts...)
	}
}

// Client is a CDP connection shared by any number of sessions.
//
// All methods are safe for concurrent use. A single goroutine reads from the
// transport, completes pending commands by ID and hands events to the
// subscribers of their session.
type Client struct {
	transport Transport
	logger    *log.Logger
	timeout   time.Duration
	ids       IDAllocator

	writeMu sync.Mutex

	// mu guards state, pending and closeErr.
	mu       sync.Mutex
	state    State
	pending  map[int64]*pendingCall
	closeErr error

	subsMu sync.RWMutex
	subs   map[string][]*subscriber

	// closing is closed when shutdown starts, shutdownDone when it ends and
	// done once the read loop has exited.
	closing      chan struct{}
	shutdownDone chan struct{}
	done         chan struct{}

	cancelRead   context.CancelFunc
	closeCalled  atomic.Bool
	transportErr error
}

// NewClient creates a new CDP client over an open transport and starts
// reading from it.
func NewClient(t Transport, opts ...Option) *Client {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport:    t,
		logger:       o.logger,
		timeout:      o.timeout,
		state:        StateOpen,
		pending:      make(map[int64]*pendingCall),
		subs:         make(map[string][]*subscriber),
		closing:      make(chan struct{}),
		shutdownDone: make(chan struct{}),
		done:         make(chan struct{}),
		cancelRead:   cancel,
	}
	go c.readLoop(ctx)
	if o.exited != nil {
		go c.watchExit(o.exited)
	}
	return c
}

// Dial connects to a CDP WebSocket endpoint and returns a new client.
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	topts := append([]transport.Option{transport.WithLogger(o.logger)}, o.transportOpts...)

	ws, err := transport.DialWebSocket(ctx, wsURL, topts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CDP endpoint: %w", err)
	}
	return NewClient(ws, opts...), nil
}

// Send sends a browser-level CDP command and waits for the response.
// Uses the default timeout.
func (c *Client) Send(method string, params any) (json.RawMessage, error) {
	return c.send(context.Background(), "", method, params)
}

// SendContext sends a browser-level CDP command with a context for
// cancellation.
func (c *Client) SendContext(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.send(ctx, "", method, params)
}

// SendToSession sends a command to the target attached as sessionID. An
// empty sessionID sends it without a sessionId field.
func (c *Client) SendToSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	return c.send(ctx, sessionID, method, params)
}

func (c *Client) send(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := c.ids.Next()
	data, err := protocol.Encode(id, method, params, sessionID)
	if err != nil {
		return nil, err
	}

	call, err := c.register(id, method)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		c.forget(id)
		return nil, timeoutError(method, err)
	}

	c.writeMu.Lock()
	err = c.transport.WriteMessage(ctx, data)
	c.writeMu.Unlock()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			c.forget(id)
			return nil, timeoutError(method, ctxErr)
		}
		// A failed write may have left part of a frame on the wire.
		c.shutdown(fmt.Errorf("write: %w", err))
		r := <-call.ch
		return nil, r.err
	}
	c.logger.Debugf("cdp:send", "-> %s", data)

	select {
	case r := <-call.ch:
		return r.raw, r.err
	case <-ctx.Done():
		if !c.forget(id) {
			r := <-call.ch
			return r.raw, r.err
		}
		c.logger.Debugf("cdp", "%s (id %d) abandoned after %s", method, id, time.Since(call.created).Round(time.Millisecond))
		return nil, timeoutError(method, ctx.Err())
	}
}

func timeoutError(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", method, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func closedError(cause error) error {
	if cause == nil {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, cause)
}

func (c *Client) register(id int64, method string) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return nil, fmt.Errorf("%s: %w", method, closedError(c.closeErr))
	}
	call := &pendingCall{
		id:      id,
		method:  method,
		ch:      make(chan result, 1),
		created: time.Now(),
	}
	c.pending[id] = call
	return call, nil
}

// forget removes a call from the table and reports whether it was still
// there. When it was not, a result is already on its way to the caller.
func (c *Client) forget(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// complete hands a reply to the call waiting for id, if there is one.
func (c *Client) complete(id int64, r result) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debugf("cdp", "discarding reply for unknown id %d", id)
		return
	}
	call.ch <- r
}

// Subscribe registers a handler for the events of one session; the empty
// sessionID selects browser-level events. Handlers are called one at a time
// in receipt order on a goroutine owned by the subscription, so a slow
// handler delays only itself. The returned function cancels the
// subscription.
func (c *Client) Subscribe(sessionID string, handler func(Event)) func() {
	s := newSubscriber(handler)

	c.subsMu.Lock()
	select {
	case <-c.closing:
		c.subsMu.Unlock()
		s.stop()
		return func() {}
	default:
	}
	c.subs[sessionID] = append(c.subs[sessionID], s)
	c.subsMu.Unlock()

	return func() {
		c.unsubscribe(sessionID, s)
	}
}

func (c *Client) unsubscribe(sessionID string, s *subscriber) {
	c.subsMu.Lock()
	list := c.subs[sessionID]
	for i, other := range list {
		if other == s {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.subs, sessionID)
	} else {
		c.subs[sessionID] = list
	}
	c.subsMu.Unlock()

	s.stop()
}

// Session returns a handle that sends commands to the target attached as id.
func (c *Client) Session(id string) Session {
	return Session{id: id, client: c}
}

// Close closes the client connection and stops the read loop. Commands
// still waiting fail with ErrClosed. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closeCalled.Swap(true) {
		<-c.done
		return nil
	}
	c.shutdown(nil)
	<-c.done
	return c.transportErr
}

// Err returns any error that caused the client to close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Done returns a channel closed once the client is fully closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of commands waiting for a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// shutdown moves the client to Closing, fails every pending call, stops
// subscribers and closes the transport. Only the first call does anything.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.state >= StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.closeErr = cause
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	close(c.closing)
	if cause != nil {
		c.logger.Warnf("cdp", "closing connection: %v", cause)
	} else {
		c.logger.Debugf("cdp", "closing connection")
	}

	err := closedError(cause)
	for _, call := range pending {
		call.ch <- result{err: fmt.Errorf("%s: %w", call.method, err)}
	}

	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[string][]*subscriber)
	c.subsMu.Unlock()
	for _, list := range subs {
		for _, s := range list {
			s.stop()
		}
	}

	c.transportErr = c.transport.Close()
	c.cancelRead()
	close(c.shutdownDone)
}

// readLoop reads messages from the transport and dispatches them.
func (c *Client) readLoop(ctx context.Context) {
	var cause error
	defer func() {
		c.shutdown(cause)
		<-c.shutdownDone

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		data, err := c.transport.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				cause = fmt.Errorf("read: %w", err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		var re *protocol.ReplyError
		if errors.As(err, &re) {
			c.logger.Errorf("cdp", "failing call %d: %v", re.ID, err)
			c.complete(re.ID, result{err: err})
			return
		}
		c.logger.Errorf("cdp", "dropping message: %v", err)
		return
	}
	c.logger.Debugf("cdp:recv", "<- %s", data)

	switch m := msg.(type) {
	case *protocol.Response:
		c.complete(m.ID, result{raw: m.Result})
	case *protocol.ErrorResponse:
		cdpErr := m.Error
		c.complete(m.ID, result{err: &cdpErr})
	case *protocol.Event:
		c.dispatchEvent(m)
	}
}

// dispatchEvent queues an event for every subscriber of its session.
func (c *Client) dispatchEvent(evt *Event) {
	c.subsMu.RLock()
	list := c.subs[evt.SessionID]
	c.subsMu.RUnlock()

	if len(list) == 0 {
		c.logger.Tracef("cdp", "no subscriber for %s (session %q)", evt.Method, evt.SessionID)
		return
	}
	for _, s := range list {
		s.push(*evt)
	}
}

func (c *Client) watchExit(exited <-chan struct{}) {
	select {
	case <-exited:
		c.shutdown(ErrProcessExited)
	case <-c.closing:
	}
}
