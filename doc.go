// Package aikit is a toolkit for running conversational AI agents that call
// external tools and expose themselves over an MCP-style protocol server.
//
// The root package contains the turn-based execution engine: an Agent runs a
// loop that alternates between model calls and tool execution, emits its
// progress as a live StreamEvent sequence, and returns a terminal AgentResult.
// Model access is injected through the LLMClient capability and storage
// through the Store capability, so the engine carries no vendor or database
// code of its own.
//
// The mcp subpackage bridges the engine onto a JSON-RPC 2.0 wire protocol
// with an in-process correlation transport and an HTTP/Server-Sent-Events
// front door. The store subpackages provide file, SQLite, and PostgreSQL
// Store backends, and observer provides an OpenTelemetry-backed Tracer.
package aikit
