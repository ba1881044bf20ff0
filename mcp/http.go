package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// Bridge renders mounted transports over HTTP. Requests stream their
// response and any matching notifications as Server-Sent Events;
// notifications are fire-and-forget 202s.
type Bridge struct {
	logger *slog.Logger

	mu     sync.RWMutex
	mounts map[string]*mount
}

type mount struct {
	id          string
	description string
	transport   *Transport

	mu        sync.Mutex
	startedAt int64
	updatedAt int64
}

func (m *mount) touch() {
	m.mu.Lock()
	m.updatedAt = aikit.NowUnix()
	m.mu.Unlock()
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// BridgeLogger sets a structured logger for HTTP events.
func BridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge creates an empty bridge. Mount transports before serving.
func NewBridge(opts ...BridgeOption) *Bridge {
	b := &Bridge{
		logger: aikit.NopLogger(),
		mounts: make(map[string]*mount),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mount exposes a transport under /api/mcp/{id}.
func (b *Bridge) Mount(id, description string, t *Transport) {
	now := aikit.NowUnix()
	b.mu.Lock()
	b.mounts[id] = &mount{
		id:          id,
		description: description,
		transport:   t,
		startedAt:   now,
		updatedAt:   now,
	}
	b.mu.Unlock()
}

func (b *Bridge) lookup(id string) (*mount, bool) {
	b.mu.RLock()
	m, ok := b.mounts[id]
	b.mu.RUnlock()
	return m, ok
}

// Handler returns the bridge's HTTP routes.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/mcp", b.handleList)
	mux.HandleFunc("POST /api/mcp/{agent}", b.handleMessage)
	mux.HandleFunc("GET /api/mcp/{agent}/status", b.handleStatus)
	mux.HandleFunc("POST /api/mcp/{agent}/tools/call/{tool}", b.handleToolCall)
	return mux
}

func (b *Bridge) handleList(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	type entry struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	}
	entries := make([]entry, 0, len(b.mounts))
	for _, m := range b.mounts {
		entries = append(entries, entry{ID: m.id, Description: m.description})
	}
	b.mu.RUnlock()

	writeJSON(w, http.StatusOK, struct {
		Agents []entry `json:"agents"`
	}{Agents: entries})
}

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := b.lookup(r.PathValue("agent"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown agent"})
		return
	}
	m.mu.Lock()
	started, updated := m.startedAt, m.updatedAt
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"state":     "running",
		"pid":       os.Getpid(),
		"startedAt": started,
		"updatedAt": updated,
	})
}

// handleMessage accepts one raw protocol message. Notifications (and
// anything without both method and id) are dispatched fire-and-forget with
// a 202; requests open an SSE stream.
func (b *Bridge) handleMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := b.lookup(r.PathValue("agent"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown agent"})
		return
	}
	m.touch()

	msg, err := decodeMessage(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if msg.IsResponse() {
		m.transport.Deliver(msg)
		w.Header().Set("MCP-Protocol-Version", ProtocolVersion)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if !msg.IsRequest() {
		if _, err := m.transport.Send(r.Context(), msg); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		w.Header().Set("MCP-Protocol-Version", ProtocolVersion)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	b.streamRequest(w, r, m, msg)
}

// handleToolCall normalizes one of three inbound shapes into a canonical
// tools/call request: a raw protocol message, a {name, arguments} body, or
// a path-addressed tool name with the body as its arguments.
func (b *Bridge) handleToolCall(w http.ResponseWriter, r *http.Request) {
	m, ok := b.lookup(r.PathValue("agent"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown agent"})
		return
	}
	m.touch()
	tool := r.PathValue("tool")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "read body: " + err.Error()})
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !isJSONObject(body) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be a JSON object"})
		return
	}

	var probe struct {
		JSONRPC   string          `json:"jsonrpc"`
		Method    string          `json:"method"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	var req *Message
	name := tool
	switch {
	case probe.Method != "":
		// Raw protocol passthrough.
		req = &Message{}
		if err := json.Unmarshal(body, req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if !req.HasID() {
			req.ID = newMessageID()
		}
		var params toolCallParams
		if req.Method == "tools/call" && json.Unmarshal(req.Params, &params) == nil {
			name = params.Name
		}
	case probe.Name != "":
		name = probe.Name
		req, err = NewRequest("tools/call", toolCallParams{Name: probe.Name, Arguments: probe.Arguments})
	default:
		req, err = NewRequest("tools/call", toolCallParams{Name: tool, Arguments: body})
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if name == "agent.run" || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		b.streamRequest(w, r, m, req)
		return
	}

	pend, err := m.transport.Send(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	resp, err := pend.Await(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamRequest issues a request over the transport and renders its
// response, and any notifications matching the caller's token, as SSE
// frames. The subscription is installed before the request is sent so no
// notification emitted after subscription is lost.
func (b *Bridge) streamRequest(w http.ResponseWriter, r *http.Request, m *mount, req *Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("MCP-Protocol-Version", ProtocolVersion)
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: w, flusher: flusher}
	token := notificationToken(req)

	unsubscribe := m.transport.Subscribe(func(n *Message) {
		if token != "" && notificationTokenOf(n) != token {
			return
		}
		stream.send(n)
	})
	defer unsubscribe()

	pend, err := m.transport.Send(r.Context(), req)
	if err != nil {
		stream.send(NewErrorResponse(req.ID, errCodeInternal, err.Error()))
		return
	}
	resp, err := pend.Await(r.Context())
	if err != nil {
		stream.send(NewErrorResponse(req.ID, errCodeInternal, err.Error()))
		return
	}
	stream.send(resp)
	stream.close()
}

// sseStream serializes frame writes and guards against writing after the
// stream is closed, so a client disconnect cannot double-close or race a
// late notification.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

func (s *sseStream) send(msg *Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", raw)
	s.flusher.Flush()
}

func (s *sseStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// notificationToken extracts the caller's notification_token from a
// tools/call request's arguments.
func notificationToken(req *Message) string {
	if req.Method != "tools/call" {
		return ""
	}
	var params struct {
		Arguments struct {
			NotificationToken string `json:"notification_token"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return ""
	}
	return params.Arguments.NotificationToken
}

// notificationTokenOf extracts the token a notification was emitted with.
func notificationTokenOf(n *Message) string {
	var params struct {
		NotificationToken string `json:"notification_token"`
	}
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return ""
	}
	return params.NotificationToken
}

// decodeMessage reads one JSON object body as a protocol message.
func decodeMessage(r io.Reader) (*Message, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !isJSONObject(body) {
		return nil, fmt.Errorf("body must be a JSON object")
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	return &msg, nil
}

func isJSONObject(body []byte) bool {
	for _, c := range body {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c == '{'
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("MCP-Protocol-Version", ProtocolVersion)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
