package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// ErrTransportClosed is returned by pending requests when the transport is
// closed before their response arrives.
var ErrTransportClosed = errors.New("mcp: transport closed")

// Transport is an in-process duplex channel between a protocol client (the
// HTTP bridge, or test code) and a Server. Requests are dispatched to the
// server on their own goroutine; responses resolve the matching pending
// request by id, in any order. Server-originated notifications fan out to
// all subscribers.
type Transport struct {
	server *Server
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan outcome
	subs    map[int]func(*Message)
	nextSub int
	closed  bool
}

type outcome struct {
	msg *Message
	err error
}

// PendingRequest is a handle for one in-flight request.
type PendingRequest struct {
	ch chan outcome
}

// Await blocks until the response arrives, the transport closes, or ctx is
// cancelled.
func (p *PendingRequest) Await(ctx context.Context) (*Message, error) {
	select {
	case o := <-p.ch:
		return o.msg, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// TransportLogger sets a structured logger for transport events.
func TransportLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) { t.logger = l }
}

// NewTransport wires a transport to a server. The server's notifications
// are routed to this transport's subscribers.
func NewTransport(server *Server, opts ...TransportOption) *Transport {
	t := &Transport{
		server:  server,
		logger:  aikit.NopLogger(),
		pending: make(map[string]chan outcome),
		subs:    make(map[int]func(*Message)),
	}
	for _, opt := range opts {
		opt(t)
	}
	server.setNotifier(t.Notify)
	return t
}

// Start performs the MCP handshake: an initialize request followed by the
// notifications/initialized notification.
func (t *Transport) Start(ctx context.Context) error {
	req, err := NewRequest("initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      clientInfo{Name: "in-process", Version: "1.0"},
	})
	if err != nil {
		return err
	}
	pend, err := t.Send(ctx, req)
	if err != nil {
		return err
	}
	resp, err := pend.Await(ctx)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return errors.New("mcp: initialize failed: " + resp.Error.Message)
	}
	init, err := NewNotification("notifications/initialized", nil)
	if err != nil {
		return err
	}
	_, err = t.Send(ctx, init)
	return err
}

// Send dispatches a message to the server. For requests it returns a
// PendingRequest that resolves when the server responds; the pending slot is
// registered before dispatch so a response can never race past it. For
// notifications the returned handle is nil.
func (t *Transport) Send(ctx context.Context, msg *Message) (*PendingRequest, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}

	var pend *PendingRequest
	if msg.IsRequest() {
		ch := make(chan outcome, 1)
		t.pending[string(msg.ID)] = ch
		pend = &PendingRequest{ch: ch}
	}
	t.mu.Unlock()

	go func() {
		if resp := t.server.Handle(ctx, msg); resp != nil {
			t.Deliver(resp)
		}
	}()
	return pend, nil
}

// Deliver resolves the pending request matching the response's id. A
// response with no matching pending request is dropped; each pending request
// resolves at most once.
func (t *Transport) Deliver(resp *Message) {
	if !resp.HasID() {
		return
	}
	key := string(resp.ID)

	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("response dropped, no pending request", "id", key)
		return
	}
	ch <- outcome{msg: resp}
}

// Notify fans a notification out to all subscribers. A panicking subscriber
// is isolated and does not affect the rest.
func (t *Transport) Notify(n *Message) {
	t.mu.Lock()
	fns := make([]func(*Message), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Warn("notification subscriber panicked", "panic", r)
				}
			}()
			fn(n)
		}()
	}
}

// Subscribe registers a notification listener and returns its cancel
// function.
func (t *Transport) Subscribe(fn func(*Message)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Close rejects every pending request with ErrTransportClosed and drops all
// subscribers. Close is idempotent.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[string]chan outcome)
	t.subs = make(map[int]func(*Message))
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: ErrTransportClosed}
	}
}
