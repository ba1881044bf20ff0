package aikit

import "context"

// History is the conversation-history capability held by an AgentContext.
// The context does not own the history; the engine reads prior messages at
// run start and appends the exchanged pair at run end.
type History interface {
	// Messages returns the prior conversation, oldest first.
	Messages(ctx context.Context) ([]ChatMessage, error)
	// Append adds messages to the history.
	Append(ctx context.Context, msgs ...ChatMessage) error
}

// MemoryHistory is an in-process History. Safe for a single run's exclusive
// use; it carries no locking because a context is owned by one run.
type MemoryHistory struct {
	msgs []ChatMessage
}

// NewMemoryHistory creates a history seeded with msgs.
func NewMemoryHistory(msgs ...ChatMessage) *MemoryHistory {
	return &MemoryHistory{msgs: msgs}
}

func (h *MemoryHistory) Messages(context.Context) ([]ChatMessage, error) {
	out := make([]ChatMessage, len(h.msgs))
	copy(out, h.msgs)
	return out, nil
}

func (h *MemoryHistory) Append(_ context.Context, msgs ...ChatMessage) error {
	h.msgs = append(h.msgs, msgs...)
	return nil
}

// Progress tracks how far a run has advanced through its turn budget.
type Progress struct {
	// Turn is the 0-based index of the current turn.
	Turn int `json:"turn"`
	// MaxTurns is the configured budget.
	MaxTurns int `json:"max_turns"`
}

// AgentContext is the per-run mutable state. One context belongs to exactly
// one run; the engine and its collaborators mutate it during that run and
// nothing else touches it concurrently.
type AgentContext struct {
	// SessionID identifies the conversation this run belongs to.
	SessionID string
	// History is the conversation-history capability (not owned).
	History History
	// Progress tracks the current turn against the budget.
	Progress Progress
	// ToolCalls accumulates every executed tool call of the run, with
	// results attached, in execution order.
	ToolCalls []ToolCall
	// Turns accumulates one record per model call, indices strictly
	// increasing from 0.
	Turns []Turn
	// SelectedAgent is the name of the agent actually run. Set by routing;
	// equals the configured agent name for direct runs.
	SelectedAgent string
	// Metadata is an open-ended bag for collaborators.
	Metadata map[string]any
}

// NewAgentContext creates a context for one run. history may be nil, in
// which case an empty in-memory history is used.
func NewAgentContext(sessionID string, history History) *AgentContext {
	if history == nil {
		history = NewMemoryHistory()
	}
	return &AgentContext{
		SessionID: sessionID,
		History:   history,
		Metadata:  make(map[string]any),
	}
}
