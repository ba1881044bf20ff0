package aikit

import (
	"context"
	"fmt"
)

// RunDecision is the verdict of an AfterRunHook.
type RunDecision int

const (
	// DecisionDone accepts the result and finishes the run.
	DecisionDone RunDecision = iota
	// DecisionRerun discards the finish candidate and forces another model
	// round-trip with the accumulated conversation state.
	DecisionRerun
)

// BeforeTurnHook runs before each model call, with the about-to-be-sent input.
// Implementations may mutate the input. An error aborts the run.
// Must be safe for concurrent use across runs.
type BeforeTurnHook interface {
	BeforeTurn(ctx context.Context, c *AgentContext, in *ModelInput) error
}

// AfterTurnHook runs after each model call, once the Turn record is appended.
type AfterTurnHook interface {
	AfterTurn(ctx context.Context, c *AgentContext, turn Turn) error
}

// BeforeToolHook runs before each tool execution.
type BeforeToolHook interface {
	BeforeTool(ctx context.Context, c *AgentContext, call *ToolCall) error
}

// AfterToolHook runs after each tool execution, before the result is attached
// to the call. Implementations may mutate the result.
type AfterToolHook interface {
	AfterTool(ctx context.Context, c *AgentContext, call *ToolCall, result *ToolResult) error
}

// AfterRunHook runs once the engine holds a finish candidate. Returning
// DecisionRerun sends the loop around again; the first rerun verdict stops
// evaluation of later hooks.
type AfterRunHook interface {
	AfterRun(ctx context.Context, c *AgentContext, result *AgentResult) (RunDecision, error)
}

// HookChain holds an ordered list of lifecycle hooks and runs them at each
// point. Hooks are type-asserted per phase, so one value may participate in
// any subset of phases.
type HookChain struct {
	hooks []any
}

// NewHookChain creates an empty chain.
func NewHookChain() *HookChain {
	return &HookChain{}
}

// Add appends a hook. The hook must implement at least one of the five hook
// interfaces; Add panics otherwise.
func (c *HookChain) Add(h any) {
	_, bt := h.(BeforeTurnHook)
	_, at := h.(AfterTurnHook)
	_, btc := h.(BeforeToolHook)
	_, atc := h.(AfterToolHook)
	_, ar := h.(AfterRunHook)
	if !bt && !at && !btc && !atc && !ar {
		panic(fmt.Sprintf("aikit: hook %T implements no hook interface", h))
	}
	c.hooks = append(c.hooks, h)
}

// Len returns the number of registered hooks.
func (c *HookChain) Len() int { return len(c.hooks) }

// RunBeforeTurn runs all BeforeTurnHook hooks in registration order.
// Stops and returns the first non-nil error.
func (c *HookChain) RunBeforeTurn(ctx context.Context, ac *AgentContext, in *ModelInput) error {
	for _, h := range c.hooks {
		if bt, ok := h.(BeforeTurnHook); ok {
			if err := bt.BeforeTurn(ctx, ac, in); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunAfterTurn runs all AfterTurnHook hooks in registration order.
func (c *HookChain) RunAfterTurn(ctx context.Context, ac *AgentContext, turn Turn) error {
	for _, h := range c.hooks {
		if at, ok := h.(AfterTurnHook); ok {
			if err := at.AfterTurn(ctx, ac, turn); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunBeforeTool runs all BeforeToolHook hooks in registration order.
func (c *HookChain) RunBeforeTool(ctx context.Context, ac *AgentContext, call *ToolCall) error {
	for _, h := range c.hooks {
		if bt, ok := h.(BeforeToolHook); ok {
			if err := bt.BeforeTool(ctx, ac, call); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunAfterTool runs all AfterToolHook hooks in registration order.
func (c *HookChain) RunAfterTool(ctx context.Context, ac *AgentContext, call *ToolCall, result *ToolResult) error {
	for _, h := range c.hooks {
		if at, ok := h.(AfterToolHook); ok {
			if err := at.AfterTool(ctx, ac, call, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunAfterRun runs AfterRunHook hooks in registration order. The first hook
// returning DecisionRerun short-circuits the rest.
func (c *HookChain) RunAfterRun(ctx context.Context, ac *AgentContext, result *AgentResult) (RunDecision, error) {
	for _, h := range c.hooks {
		if ar, ok := h.(AfterRunHook); ok {
			d, err := ar.AfterRun(ctx, ac, result)
			if err != nil {
				return DecisionDone, err
			}
			if d == DecisionRerun {
				return DecisionRerun, nil
			}
		}
	}
	return DecisionDone, nil
}
