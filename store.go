package aikit

import (
	"context"
	"encoding/json"
)

// RunStatus is a run's protocol-level lifecycle state. Status only moves
// forward: started is never re-entered once a terminal state is appended.
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunSuccess   RunStatus = "success"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunError || s == RunCancelled
}

// RunState is one record in a session's run-state stream. The latest record
// determines whether the session is in progress or idle.
type RunState struct {
	RunID            string    `json:"run_id"`
	TurnID           string    `json:"turn_id"`
	Status           RunStatus `json:"status"`
	StartedAt        int64     `json:"started_at"`
	UpdatedAt        int64     `json:"updated_at"`
	UserMessage      string    `json:"user_message,omitempty"`
	AssistantMessage string    `json:"assistant_message,omitempty"`
	AgentID          string    `json:"agent_id,omitempty"`
}

// ConversationTurn is the protocol-level record of one completed run,
// independent of the engine's per-model-call Turn.
type ConversationTurn struct {
	TurnID           string `json:"turn_id"`
	RunID            string `json:"run_id"`
	Timestamp        int64  `json:"timestamp"`
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message,omitempty"`
	AgentID          string `json:"agent_id,omitempty"`
}

// ConversationSummary describes one stored session.
type ConversationSummary struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title,omitempty"`
	Turns     int    `json:"turns"`
	UpdatedAt int64  `json:"updated_at"`
}

// IdempotencyRecord stores the finalized wire result of a keyed run. Once
// present for a key it is immutable and replayed verbatim.
type IdempotencyRecord struct {
	Key       string          `json:"idempotency_key"`
	SessionID string          `json:"session_id"`
	RunID     string          `json:"run_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result"`
	AgentID   string          `json:"agent_id,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// UsageRecord is one run's usage ledger entry.
type UsageRecord struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Usage     Usage  `json:"usage"`
	CreatedAt int64  `json:"created_at"`
}

// UsageSummary aggregates usage over one period bucket.
type UsageSummary struct {
	Period string `json:"period"`
	Runs   int    `json:"runs"`
	Usage  Usage  `json:"usage"`
}

// Store is the persistence capability consumed by the protocol layer.
// Implementations must tolerate concurrent append/read across sessions.
type Store interface {
	// --- Conversations ---
	ListConversations(ctx context.Context, limit int) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, sessionID string) ([]ConversationTurn, error)
	DeleteConversation(ctx context.Context, sessionID string) error
	AppendTurn(ctx context.Context, sessionID string, turn ConversationTurn) error
	SetTitle(ctx context.Context, sessionID, title string) error

	// --- Run states ---
	AppendRunState(ctx context.Context, sessionID string, state RunState) error
	LatestRunState(ctx context.Context, sessionID string) (RunState, bool, error)

	// --- Input-message history ---
	AppendInput(ctx context.Context, sessionID string, msg ChatMessage) error
	ListInputs(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)

	// --- Usage ledger ---
	AppendUsage(ctx context.Context, rec UsageRecord) error
	SummarizeUsage(ctx context.Context, period string) ([]UsageSummary, error)

	// --- Idempotency ---
	GetIdempotency(ctx context.Context, sessionID, agentID, key string) (IdempotencyRecord, bool, error)
	PutIdempotency(ctx context.Context, rec IdempotencyRecord) error

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close() error
}
