// Package mcp exposes the agent engine over a Model Context Protocol (MCP)
// server. Messages are JSON-RPC 2.0; the in-process Transport correlates
// requests with responses and fans notifications out to subscribers, and the
// Bridge renders the whole thing over HTTP with Server-Sent-Events streams.
package mcp

import (
	"encoding/json"
	"strconv"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ProtocolVersion is the MCP protocol revision this server implements.
// Every HTTP response carries it in the MCP-Protocol-Version header.
const ProtocolVersion = "2025-06-18"

// --- JSON-RPC 2.0 types ---

// Message is a JSON-RPC 2.0 message: a request (method and id), a
// notification (method, no id), or a response (id, no method).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	errCodeParse          = -32700
	errCodeInvalidRequest = -32600
	errCodeMethodNotFound = -32601
	errCodeInvalidParams  = -32602
	errCodeInternal       = -32603
)

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

// IsRequest reports whether the message is a request (method and id).
func (m *Message) IsRequest() bool { return m.Method != "" && m.HasID() }

// IsNotification reports whether the message is a notification (method, no id).
func (m *Message) IsNotification() bool { return m.Method != "" && !m.HasID() }

// IsResponse reports whether the message is a response (id, no method).
func (m *Message) IsResponse() bool { return m.Method == "" && m.HasID() }

// newMessageID generates a short collision-resistant message id.
func newMessageID() json.RawMessage {
	return json.RawMessage(strconv.Quote(gonanoid.Must()))
}

// NewRequest builds a request with a fresh message id.
func NewRequest(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", ID: newMessageID(), Method: method, Params: raw}, nil
}

// NewNotification builds a notification (no id, no response expected).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", Method: method, Params: raw}, nil
}

// NewResponse builds a success response echoing id.
func NewResponse(id json.RawMessage, result any) *Message {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, errCodeInternal, "marshal result: "+err.Error())
	}
	return &Message{JSONRPC: "2.0", ID: id, Result: raw}
}

// NewErrorResponse builds an error response echoing id.
func NewErrorResponse(id json.RawMessage, code int, message string) *Message {
	return &Message{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// --- MCP protocol types ---

// initializeParams is the client's initialize request payload.
type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the server's response to an initialize request.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools *capability `json:"tools,omitempty"`
}

type capability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// toolsListResult is the response to tools/list.
type toolsListResult struct {
	Tools []toolDef `json:"tools"`
}

type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// toolCallParams is the request payload for tools/call.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallResult is the payload every protocol operation returns.
type CallResult struct {
	Content           []ContentBlock  `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// ContentBlock is a content item in a CallResult.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextResult creates a successful CallResult with one text block.
func TextResult(text string) CallResult {
	return CallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult creates an error-flagged CallResult with one text block.
func ErrorResult(text string) CallResult {
	return CallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

// JSONResult marshals v once and uses the bytes both as the text block and
// as structuredContent, so repeated calls with equal values produce
// byte-identical payloads.
func JSONResult(v any) CallResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return ErrorResult("marshal result: " + err.Error())
	}
	return RawJSONResult(raw, false)
}

// RawJSONResult builds a CallResult straight from pre-marshaled JSON.
// Used by idempotent replay to return stored payloads verbatim.
func RawJSONResult(raw json.RawMessage, isError bool) CallResult {
	return CallResult{
		Content:           []ContentBlock{{Type: "text", Text: string(raw)}},
		StructuredContent: raw,
		IsError:           isError,
	}
}
