package aikit

import (
	"context"
	"encoding/json"
)

// LLMClient abstracts the model-calling backend. Implementations translate a
// vendor's wire format into the normalized event sequence consumed by the
// engine; the engine itself never retries or re-shapes a model failure.
type LLMClient interface {
	// Invoke sends one request and returns the complete response.
	Invoke(ctx context.Context, in ModelInput) (ModelResult, error)
	// Stream sends one request and returns a channel of events. The channel
	// is closed when the call ends; a well-behaved client terminates the
	// sequence with either EventCompleted (carrying a ModelResult) or
	// EventError.
	Stream(ctx context.Context, in ModelInput) (<-chan StreamEvent, error)
	// EstimateTokens returns an approximate token count for text.
	EstimateTokens(text string) int
}

// ModelInput is one request to an LLMClient.
type ModelInput struct {
	// Instructions is the system-level prompt for this call.
	Instructions string `json:"instructions,omitempty"`
	// Messages is the conversation to send, oldest first.
	Messages []ChatMessage `json:"messages"`
	// Tools lists the tools the model may call.
	Tools []ToolDefinition `json:"tools,omitempty"`
	// ToolChoice, when set, forces the model to call one of the listed tools.
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`
	// Params carries optional provider-specific generation parameters.
	Params map[string]any `json:"params,omitempty"`
}

// ToolChoice constrains the model's tool selection.
type ToolChoice struct {
	// Mode is "required" (must call some tool) or "named" (must call Name).
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

// ModelResult is the terminal value of one model call.
type ModelResult struct {
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	Usage      Usage           `json:"usage"`
	ResponseID string          `json:"response_id,omitempty"`
	// Model is the provider's name for the model that served the call.
	Model string          `json:"model,omitempty"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}
