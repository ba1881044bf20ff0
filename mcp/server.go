package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// Operation is a protocol-level operation exposed as an MCP tool
// (e.g. "agent.run", "conversations.list").
type Operation struct {
	// Def describes the operation to tools/list clients.
	Def aikit.ToolDefinition
	// Execute handles tools/call for this operation.
	Execute func(ctx context.Context, args json.RawMessage) CallResult
}

// Server is the protocol server object. It dispatches JSON-RPC messages to
// registered operations and emits notifications through the transport that
// owns it. Register operations before wiring a Transport.
type Server struct {
	name    string
	version string
	logger  *slog.Logger

	mu    sync.Mutex
	ops   map[string]Operation
	order []string

	// notifier is installed by the Transport; nil until then.
	notifier func(*Message)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLogger sets a structured logger for dispatch events.
func ServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a protocol server with the given identity.
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		name:    name,
		version: version,
		ops:     make(map[string]Operation),
		logger:  aikit.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an operation. Re-registering a name replaces the previous
// handler but keeps its position.
func (s *Server) Register(op Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ops[op.Def.Name]; !exists {
		s.order = append(s.order, op.Def.Name)
	}
	s.ops[op.Def.Name] = op
}

// Notify emits a protocol notification through the installed transport.
// A server without a transport drops notifications silently.
func (s *Server) Notify(method string, params any) {
	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()
	if notifier == nil {
		return
	}
	n, err := NewNotification(method, params)
	if err != nil {
		s.logger.Warn("notification dropped", "method", method, "error", err)
		return
	}
	notifier(n)
}

// setNotifier installs the transport's notification sink.
func (s *Server) setNotifier(fn func(*Message)) {
	s.mu.Lock()
	s.notifier = fn
	s.mu.Unlock()
}

// Handle dispatches one inbound message and returns the response, or nil
// for notifications.
func (s *Server) Handle(ctx context.Context, msg *Message) *Message {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		return NewResponse(msg.ID, struct{}{})
	case "tools/list":
		return s.handleToolsList(msg)
	case "tools/call":
		return s.handleToolsCall(ctx, msg)
	default:
		if msg.IsNotification() {
			return nil
		}
		return NewErrorResponse(msg.ID, errCodeMethodNotFound, "method not found: "+msg.Method)
	}
}

func (s *Server) handleInitialize(msg *Message) *Message {
	return NewResponse(msg.ID, initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    serverCapabilities{Tools: &capability{}},
		ServerInfo:      serverInfo{Name: s.name, Version: s.version},
	})
}

func (s *Server) handleToolsList(msg *Message) *Message {
	s.mu.Lock()
	defs := make([]toolDef, 0, len(s.order))
	for _, name := range s.order {
		op := s.ops[name]
		defs = append(defs, toolDef{
			Name:        op.Def.Name,
			Description: op.Def.Description,
			InputSchema: op.Def.Parameters,
		})
	}
	s.mu.Unlock()
	return NewResponse(msg.ID, toolsListResult{Tools: defs})
}

func (s *Server) handleToolsCall(ctx context.Context, msg *Message) *Message {
	var params toolCallParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return NewErrorResponse(msg.ID, errCodeInvalidParams, "invalid params: "+err.Error())
	}

	s.mu.Lock()
	op, ok := s.ops[params.Name]
	s.mu.Unlock()
	if !ok {
		return NewResponse(msg.ID, ErrorResult("unknown tool: "+params.Name))
	}

	s.logger.Debug("tool call", "tool", params.Name)
	return NewResponse(msg.ID, op.Execute(ctx, params.Arguments))
}
