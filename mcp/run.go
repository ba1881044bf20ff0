package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// Notification methods emitted while a run is in flight. Every payload
// carries the caller's notification token so the bridge can filter streams
// per client.
const (
	notifyRunStarted  = "notifications/run/started"
	notifyRunDelta    = "notifications/run/delta"
	notifyRunReason   = "notifications/run/reasoning"
	notifyRunToolCall = "notifications/run/toolcall"
	notifyRunResult   = "notifications/run/result"
	notifyRunCost     = "notifications/run/cost"
	notifyRunFinished = "notifications/run/finished"
	notifyRunError    = "notifications/run/error"
)

// runParams is the agent.run argument payload.
type runParams struct {
	Message           string         `json:"message"`
	IdempotencyKey    string         `json:"idempotency_key,omitempty"`
	SessionID         string         `json:"session_id,omitempty"`
	Title             string         `json:"title,omitempty"`
	Params            map[string]any `json:"params,omitempty"`
	AgentID           string         `json:"agent_id,omitempty"`
	Stream            bool           `json:"stream,omitempty"`
	NotificationToken string         `json:"notification_token,omitempty"`
}

// runPayload is the wire result of one agent.run call.
type runPayload struct {
	Status    string       `json:"status"`
	SessionID string       `json:"session_id"`
	RunID     string       `json:"run_id"`
	TurnID    string       `json:"turn_id"`
	AgentID   string       `json:"agent_id,omitempty"`
	Content   string       `json:"content,omitempty"`
	Usage     *aikit.Usage `json:"usage,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// runNotification is the params payload of every run notification.
type runNotification struct {
	SessionID         string       `json:"session_id"`
	RunID             string       `json:"run_id"`
	AgentID           string       `json:"agent_id,omitempty"`
	NotificationToken string       `json:"notification_token,omitempty"`
	Delta             string       `json:"delta,omitempty"`
	Content           string       `json:"content,omitempty"`
	ToolName          string       `json:"tool_name,omitempty"`
	ToolResult        string       `json:"tool_result,omitempty"`
	Usage             *aikit.Usage `json:"usage,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// RunHandler implements the agent.run operation: session and run
// bookkeeping, idempotent replay, and the event-to-notification mapping for
// streamed runs. Run never returns an error past its CallResult; every
// failure becomes a status "error" payload.
type RunHandler struct {
	registry *Registry
	store    aikit.Store
	server   *Server
	logger   *slog.Logger
	costs    CostModel
}

// CostModel prices token usage for a model. observer.CostCalculator
// implements it.
type CostModel interface {
	Calculate(model string, inputTokens, outputTokens int) float64
}

// RunHandlerOption configures a RunHandler.
type RunHandlerOption func(*RunHandler)

// RunHandlerLogger sets a structured logger for run bookkeeping events.
func RunHandlerLogger(l *slog.Logger) RunHandlerOption {
	return func(h *RunHandler) { h.logger = l }
}

// RunHandlerCosts prices runs whose adapter reported token counts but no
// cost, so usage records and cost notifications carry a value.
func RunHandlerCosts(cm CostModel) RunHandlerOption {
	return func(h *RunHandler) { h.costs = cm }
}

// NewRunHandler creates a run handler and registers agent.run on the server.
func NewRunHandler(server *Server, registry *Registry, store aikit.Store, opts ...RunHandlerOption) *RunHandler {
	h := &RunHandler{
		registry: registry,
		store:    store,
		server:   server,
		logger:   aikit.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	server.Register(Operation{
		Def: aikit.ToolDefinition{
			Name:        "agent.run",
			Description: "Run an agent against a message and return its final answer.",
			Parameters: objectSchema(map[string]any{
				"message":            map[string]any{"type": "string", "description": "The user message to run."},
				"session_id":         map[string]any{"type": "string", "description": "Conversation to continue; omitted starts a new one."},
				"agent_id":           map[string]any{"type": "string", "description": "Agent to run; omitted uses the default."},
				"idempotency_key":    map[string]any{"type": "string", "description": "Replay key; a repeated key returns the stored result."},
				"title":              map[string]any{"type": "string"},
				"stream":             map[string]any{"type": "boolean", "description": "Emit progress notifications while running."},
				"notification_token": map[string]any{"type": "string", "description": "Opaque token echoed on every notification."},
				"params":             map[string]any{"type": "object"},
			}, []string{"message"}),
		},
		Execute: h.Run,
	})
	return h
}

// Run executes one agent.run call.
func (h *RunHandler) Run(ctx context.Context, args json.RawMessage) CallResult {
	var params runParams
	if err := json.Unmarshal(args, &params); err != nil {
		return ErrorResult("invalid arguments: " + err.Error())
	}
	if params.Message == "" {
		return ErrorResult("message is required")
	}

	agent, agentID, err := h.registry.Resolve(params.AgentID)
	if err != nil {
		return ErrorResult(err.Error())
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = aikit.NewID()
	}

	// Replay: a known idempotency key short-circuits before any state is
	// touched, so the agent runs exactly once per key.
	if params.IdempotencyKey != "" {
		rec, ok, err := h.store.GetIdempotency(ctx, sessionID, agentID, params.IdempotencyKey)
		if err != nil {
			h.logger.Warn("idempotency lookup failed", "session_id", sessionID, "error", err)
		} else if ok {
			return RawJSONResult(rec.Result, rec.Status == string(aikit.RunError))
		}
	}

	runID := aikit.NewID()
	turnID := aikit.NewID()
	now := aikit.NowUnix()

	h.appendRunState(ctx, sessionID, aikit.RunState{
		RunID:       runID,
		TurnID:      turnID,
		Status:      aikit.RunStarted,
		StartedAt:   now,
		UpdatedAt:   now,
		UserMessage: params.Message,
		AgentID:     agentID,
	})
	if params.Title != "" {
		if err := h.store.SetTitle(ctx, sessionID, params.Title); err != nil {
			h.logger.Warn("set title failed", "session_id", sessionID, "error", err)
		}
	}
	base := runNotification{SessionID: sessionID, RunID: runID, AgentID: agentID, NotificationToken: params.NotificationToken}
	if params.Stream {
		h.server.Notify(notifyRunStarted, base)
	}
	if err := h.store.AppendInput(ctx, sessionID, aikit.UserMessage(params.Message)); err != nil {
		h.logger.Warn("append input failed", "session_id", sessionID, "error", err)
	}

	c := aikit.NewAgentContext(sessionID, &storeHistory{store: h.store, sessionID: sessionID})
	req := aikit.RunRequest{Message: params.Message, Params: params.Params}

	var result aikit.AgentResult
	var runErr error
	if params.Stream {
		result, runErr = h.streamRun(ctx, agent, c, req, base)
	} else {
		result, runErr = agent.Invoke(ctx, c, req)
	}

	payload := runPayload{
		SessionID: sessionID,
		RunID:     runID,
		TurnID:    turnID,
		AgentID:   agentID,
	}
	var status aikit.RunStatus
	if runErr != nil {
		status = aikit.RunError
		payload.Status = string(aikit.RunError)
		payload.Error = runErr.Error()
		h.finishRun(ctx, sessionID, runID, turnID, agentID, params.Message, "", now, status, runErr.Error())
		if params.Stream {
			n := base
			n.Error = runErr.Error()
			h.server.Notify(notifyRunError, n)
		}
	} else {
		status = aikit.RunSuccess
		payload.Status = string(aikit.RunSuccess)
		payload.Content = result.Content
		h.fillCosts(&result)
		payload.Usage = &result.Usage
		h.finishRun(ctx, sessionID, runID, turnID, agentID, params.Message, result.Content, now, status, "")
		if result.Usage.TotalCost > 0 {
			h.recordUsage(ctx, sessionID, runID, agentID, result.Usage)
			if params.Stream {
				n := base
				n.Usage = &result.Usage
				h.server.Notify(notifyRunCost, n)
			}
		}
		if params.Stream {
			h.server.Notify(notifyRunFinished, base)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ErrorResult("marshal run result: " + err.Error())
	}
	if params.IdempotencyKey != "" {
		rec := aikit.IdempotencyRecord{
			Key:       params.IdempotencyKey,
			SessionID: sessionID,
			RunID:     runID,
			Status:    string(status),
			Result:    raw,
			AgentID:   agentID,
			CreatedAt: aikit.NowUnix(),
		}
		if err := h.store.PutIdempotency(ctx, rec); err != nil {
			h.logger.Warn("idempotency write failed", "session_id", sessionID, "error", err)
		}
	}
	return RawJSONResult(raw, runErr != nil)
}

// streamRun runs the agent in streaming mode, mapping engine events to
// protocol notifications. Event kinds outside the mapping are dropped at
// this boundary.
func (h *RunHandler) streamRun(ctx context.Context, agent *aikit.Agent, c *aikit.AgentContext, req aikit.RunRequest, base runNotification) (aikit.AgentResult, error) {
	st := agent.Run(ctx, c, req)
	for ev := range st.Events() {
		n := base
		switch ev.Type {
		case aikit.EventTextDelta:
			n.Delta = ev.Delta
			h.server.Notify(notifyRunDelta, n)
		case aikit.EventReasoningDelta:
			n.Delta = ev.Delta
			h.server.Notify(notifyRunReason, n)
		case aikit.EventToolResult:
			if ev.ToolCall != nil {
				n.ToolName = ev.ToolCall.Name
			}
			n.ToolResult = ev.Content
			h.server.Notify(notifyRunToolCall, n)
		case aikit.EventRunResult:
			if ev.Result != nil {
				n.Content = ev.Result.Content
			}
			h.server.Notify(notifyRunResult, n)
		}
	}
	return st.Result(ctx)
}

// fillCosts prices a result's token usage when the adapter reported counts
// but no cost. Costs reported by the adapter, or already filled by an
// agent-level hook, are left untouched.
func (h *RunHandler) fillCosts(result *aikit.AgentResult) {
	if h.costs == nil || result.Model == "" {
		return
	}
	u := &result.Usage
	if u.TotalCost != 0 || (u.InputTokens == 0 && u.OutputTokens == 0) {
		return
	}
	u.InputCost = h.costs.Calculate(result.Model, u.InputTokens, 0)
	u.OutputCost = h.costs.Calculate(result.Model, 0, u.OutputTokens)
	u.TotalCost = u.InputCost + u.OutputCost
}

func (h *RunHandler) appendRunState(ctx context.Context, sessionID string, state aikit.RunState) {
	if err := h.store.AppendRunState(ctx, sessionID, state); err != nil {
		h.logger.Warn("append run state failed", "session_id", sessionID, "error", err)
	}
}

// finishRun persists the terminal conversation turn and run state.
func (h *RunHandler) finishRun(ctx context.Context, sessionID, runID, turnID, agentID, userMsg, assistantMsg string, startedAt int64, status aikit.RunStatus, errMsg string) {
	now := aikit.NowUnix()
	turn := aikit.ConversationTurn{
		TurnID:           turnID,
		RunID:            runID,
		Timestamp:        now,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Status:           string(status),
		ErrorMessage:     errMsg,
		AgentID:          agentID,
	}
	if err := h.store.AppendTurn(ctx, sessionID, turn); err != nil {
		h.logger.Warn("append turn failed", "session_id", sessionID, "error", err)
	}
	h.appendRunState(ctx, sessionID, aikit.RunState{
		RunID:            runID,
		TurnID:           turnID,
		Status:           status,
		StartedAt:        startedAt,
		UpdatedAt:        now,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		AgentID:          agentID,
	})
}

func (h *RunHandler) recordUsage(ctx context.Context, sessionID, runID, agentID string, usage aikit.Usage) {
	rec := aikit.UsageRecord{
		SessionID: sessionID,
		RunID:     runID,
		AgentID:   agentID,
		Usage:     usage,
		CreatedAt: aikit.NowUnix(),
	}
	if err := h.store.AppendUsage(ctx, rec); err != nil {
		h.logger.Warn("append usage failed", "session_id", sessionID, "error", err)
	}
}

// storeHistory adapts the store's conversation records to the engine's
// History capability. Append is a no-op: the run handler's ConversationTurn
// append is the durable copy, so the engine's own persist step must not
// double-write.
type storeHistory struct {
	store     aikit.Store
	sessionID string
}

func (sh *storeHistory) Messages(ctx context.Context) ([]aikit.ChatMessage, error) {
	turns, err := sh.store.GetConversation(ctx, sh.sessionID)
	if err != nil {
		return nil, err
	}
	msgs := make([]aikit.ChatMessage, 0, len(turns)*2)
	for _, t := range turns {
		if t.Status != string(aikit.RunSuccess) {
			continue
		}
		msgs = append(msgs, aikit.UserMessage(t.UserMessage))
		if t.AssistantMessage != "" {
			msgs = append(msgs, aikit.AssistantMessage(t.AssistantMessage))
		}
	}
	return msgs, nil
}

func (sh *storeHistory) Append(ctx context.Context, msgs ...aikit.ChatMessage) error {
	return nil
}
