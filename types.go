package aikit

import "encoding/json"

// --- Chat protocol types ---

// ChatMessage is one message in a model conversation.
type ChatMessage struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"` // provider-specific passthrough
}

// ToolCall is a model-requested tool invocation. Result is attached in place
// once the executor returns and is set at most once.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
	Result *ToolResult     `json:"result,omitempty"`
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
}

// Usage tracks token counts and cost across model calls.
// All fields accumulate field-wise via Add.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CachedTokens int     `json:"cached_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	CacheCost    float64 `json:"cache_cost"`
	TotalCost    float64 `json:"total_cost"`
}

// Add accumulates u2 into u field-wise.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.CachedTokens += u2.CachedTokens
	u.TotalTokens += u2.TotalTokens
	u.InputCost += u2.InputCost
	u.OutputCost += u2.OutputCost
	u.CacheCost += u2.CacheCost
	u.TotalCost += u2.TotalCost
}

// --- Turn records ---

// TurnType classifies a completed model call.
type TurnType string

const (
	// TurnFinish means the model produced a terminal answer candidate.
	TurnFinish TurnType = "finish"
	// TurnNextAction means the model requested tool calls.
	TurnNextAction TurnType = "next_action"
)

// Turn is an immutable record appended to the context after every model call.
type Turn struct {
	Type   TurnType     `json:"type"`
	Result *ModelResult `json:"result"`
	Index  int          `json:"index"`
}

// --- Run result ---

// AgentResult is the externally visible terminal value of one run.
type AgentResult struct {
	// Content is the final response text.
	Content string `json:"content"`
	// ToolCalls lists every tool call executed during the run, with results attached.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// Usage is the field-wise sum of usage from every model call in the run.
	Usage Usage `json:"usage"`
	// ResponseID is the provider identifier of the final model response.
	ResponseID string `json:"response_id,omitempty"`
	// Model is the model that produced the final response.
	Model string `json:"model,omitempty"`
	// Raw carries the provider's final raw payload, when available.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
