package aikit

import (
	"context"
	"log/slog"
)

const defaultMaxTurns = 10

// Agent is a configured conversational agent: a model-calling capability,
// a tool set, lifecycle hooks, and a turn budget. An Agent is immutable
// after construction and safe for concurrent runs; all per-run state lives
// in the AgentContext.
type Agent struct {
	name                string
	description         string
	instructions        string
	llm                 LLMClient
	tools               *ToolRegistry
	hooks               *HookChain
	maxTurns            int
	startTools          []string
	beforeCompleteTools []string
	tracer              Tracer
	logger              *slog.Logger
}

// AgentOption configures an Agent at construction.
type AgentOption func(*agentConfig)

type agentConfig struct {
	instructions        string
	tools               []Tool
	hooks               []any
	maxTurns            int
	startTools          []string
	beforeCompleteTools []string
	tracer              Tracer
	logger              *slog.Logger
}

// WithInstructions sets the agent's base system instructions.
func WithInstructions(s string) AgentOption {
	return func(c *agentConfig) { c.instructions = s }
}

// WithTools registers tools the model may call.
func WithTools(tools ...Tool) AgentOption {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithHooks registers lifecycle hooks. Each hook must implement at least one
// of the hook interfaces in this package.
func WithHooks(hooks ...any) AgentOption {
	return func(c *agentConfig) { c.hooks = append(c.hooks, hooks...) }
}

// WithMaxTurns sets the turn budget (default 10).
func WithMaxTurns(n int) AgentOption {
	return func(c *agentConfig) { c.maxTurns = n }
}

// WithStartTools names tools forcibly executed, in order, at the start of a
// run. Their outputs are injected into the conversation as synthetic user
// messages; failures are skipped best-effort.
func WithStartTools(names ...string) AgentOption {
	return func(c *agentConfig) { c.startTools = append(c.startTools, names...) }
}

// WithBeforeCompleteTools names tools forcibly executed once, just before the
// run would complete. Their injection forces one more model round-trip.
func WithBeforeCompleteTools(names ...string) AgentOption {
	return func(c *agentConfig) { c.beforeCompleteTools = append(c.beforeCompleteTools, names...) }
}

// WithTracer enables tracing for runs of this agent.
func WithTracer(t Tracer) AgentOption {
	return func(c *agentConfig) { c.tracer = t }
}

// WithLogger sets a structured logger for loop events.
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) { c.logger = l }
}

// NewAgent creates an Agent with the given identity, model client, and options.
func NewAgent(name, description string, llm LLMClient, opts ...AgentOption) *Agent {
	var cfg agentConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Agent{
		name:                name,
		description:         description,
		instructions:        cfg.instructions,
		llm:                 llm,
		tools:               NewToolRegistry(),
		hooks:               NewHookChain(),
		maxTurns:            defaultMaxTurns,
		startTools:          cfg.startTools,
		beforeCompleteTools: cfg.beforeCompleteTools,
		tracer:              cfg.tracer,
		logger:              cfg.logger,
	}
	if cfg.maxTurns > 0 {
		a.maxTurns = cfg.maxTurns
	}
	if a.logger == nil {
		a.logger = nopLogger
	}
	for _, t := range cfg.tools {
		a.tools.Add(t)
	}
	for _, h := range cfg.hooks {
		a.hooks.Add(h)
	}
	return a
}

// Name returns the agent's identifier.
func (a *Agent) Name() string { return a.name }

// Description returns a human-readable description of what the agent does.
func (a *Agent) Description() string { return a.description }

// RunRequest is the input to one run.
type RunRequest struct {
	// Message is the user's input.
	Message string
	// ExtraInstructions, when set, is appended to the agent's base
	// instructions with a blank line between them.
	ExtraInstructions string
	// Params carries optional provider-specific generation parameters.
	Params map[string]any
}

// Run starts a run and returns its stream. The returned AgentStream is both
// iterable (live events) and awaitable (terminal result); see AgentStream.
func (a *Agent) Run(ctx context.Context, c *AgentContext, req RunRequest) *AgentStream {
	return newAgentStream(func(ch chan<- StreamEvent) (AgentResult, error) {
		return a.run(ctx, c, req, ch)
	})
}

// Invoke runs the agent to completion, discarding intermediate events, and
// returns the terminal result.
func (a *Agent) Invoke(ctx context.Context, c *AgentContext, req RunRequest) (AgentResult, error) {
	return a.Run(ctx, c, req).Wait(ctx)
}

// joinInstructions combines base and extra instructions with a blank line
// when both are present.
func joinInstructions(base, extra string) string {
	switch {
	case base == "":
		return extra
	case extra == "":
		return base
	default:
		return base + "\n\n" + extra
	}
}
