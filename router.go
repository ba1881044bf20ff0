package aikit

import (
	"context"
	"log/slog"
	"strings"
)

const delegatePrefix = "delegate_to_"

// Router selects one agent out of a registered set for a given message.
// With a single candidate the selection is free; with multiple candidates
// the router issues one forced tool-choice model call exposing a
// zero-argument "delegate_to_<name>" tool per candidate. An absent or
// unknown selection falls back to the first-registered agent.
type Router struct {
	llm    LLMClient
	agents map[string]*Agent
	order  []string
	logger *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// RouterLogger sets a structured logger for selection decisions.
func RouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router over the given agents. Registration order is
// preserved and determines the fallback agent.
func NewRouter(llm LLMClient, agents []*Agent, opts ...RouterOption) *Router {
	r := &Router{
		llm:    llm,
		agents: make(map[string]*Agent, len(agents)),
		logger: nopLogger,
	}
	for _, a := range agents {
		if _, dup := r.agents[a.Name()]; dup {
			continue
		}
		r.agents[a.Name()] = a
		r.order = append(r.order, a.Name())
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Agents returns the registered agents in registration order.
func (r *Router) Agents() []*Agent {
	out := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

// Select picks the agent for message. The only failure mode is a model
// failure on the forced-choice call; single-candidate sets never call the
// model at all.
func (r *Router) Select(ctx context.Context, message string) (*Agent, error) {
	if len(r.order) == 0 {
		return nil, ErrNoAgents
	}
	if len(r.order) == 1 {
		return r.agents[r.order[0]], nil
	}

	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, ToolDefinition{
			Name:        delegatePrefix + name,
			Description: r.agents[name].Description(),
		})
	}

	result, err := r.llm.Invoke(ctx, ModelInput{
		Messages:   []ChatMessage{UserMessage(message)},
		Tools:      defs,
		ToolChoice: &ToolChoice{Mode: "required"},
	})
	if err != nil {
		return nil, err
	}

	fallback := r.agents[r.order[0]]
	if len(result.ToolCalls) == 0 {
		r.logger.Debug("router: no delegation call, using fallback", "agent", fallback.Name())
		return fallback, nil
	}
	name, ok := strings.CutPrefix(result.ToolCalls[0].Name, delegatePrefix)
	if !ok {
		r.logger.Debug("router: unrecognized selection, using fallback",
			"selected", result.ToolCalls[0].Name, "agent", fallback.Name())
		return fallback, nil
	}
	agent, ok := r.agents[name]
	if !ok {
		r.logger.Debug("router: unknown agent selected, using fallback",
			"selected", name, "agent", fallback.Name())
		return fallback, nil
	}
	r.logger.Debug("router: selected", "agent", name)
	return agent, nil
}

// Proxy composes Router selection with immediate delegation, re-exposing the
// selected agent's stream under the same dual iterable/awaitable contract.
type Proxy struct {
	router *Router
}

// NewProxy creates a Proxy over the given router.
func NewProxy(router *Router) *Proxy {
	return &Proxy{router: router}
}

// Run selects an agent for the request and delegates to its stream. The
// selected agent's name is recorded on the context before delegation.
func (p *Proxy) Run(ctx context.Context, c *AgentContext, req RunRequest) *AgentStream {
	agent, err := p.router.Select(ctx, req.Message)
	if err != nil {
		return failedStream(err)
	}
	c.SelectedAgent = agent.Name()
	return agent.Run(ctx, c, req)
}

// Invoke runs the proxied agent to completion, discarding events.
func (p *Proxy) Invoke(ctx context.Context, c *AgentContext, req RunRequest) (AgentResult, error) {
	return p.Run(ctx, c, req).Wait(ctx)
}
