package aikit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// run is the turn loop. It alternates between model calls and tool execution
// until the model produces an accepted finish candidate or the turn budget
// runs out. Every model event is forwarded into ch unchanged; the loop adds
// tool-result events and a terminal run-result event of its own.
func (a *Agent) run(ctx context.Context, c *AgentContext, req RunRequest, ch chan<- StreamEvent) (AgentResult, error) {
	if c.SelectedAgent == "" {
		c.SelectedAgent = a.name
	}
	c.Progress = Progress{MaxTurns: a.maxTurns}

	history, err := c.History.Messages(ctx)
	if err != nil {
		return AgentResult{}, fmt.Errorf("read history: %w", err)
	}

	emit := func(ev StreamEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	// Scratch messages accumulate across turns and are deliberately not
	// reset on an after-run rerun: the rerun reuses the same conversational
	// state, including the original user message.
	scratch := []ChatMessage{UserMessage(req.Message)}

	// Enforced-tool queue, owned by this invocation. Seeded with the
	// run-start set; the before-complete set is enqueued at most once when
	// the model first produces a finish candidate.
	queue := append([]string(nil), a.startTools...)
	beforeCompleteInjected := false

	var totalUsage Usage
	currentTurn := 0

	for currentTurn < a.maxTurns {
		c.Progress.Turn = currentTurn

		turnCtx := ctx
		var turnSpan Span
		if a.tracer != nil {
			turnCtx, turnSpan = a.tracer.Start(ctx, "agent.turn",
				StringAttr("agent", a.name),
				IntAttr("turn", currentTurn))
		}
		endTurn := func() {
			if turnSpan != nil {
				turnSpan.End()
			}
		}

		// Drain the enforced-tool queue in order. Failures are skipped
		// best-effort; successes become synthetic user messages.
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			res, execErr := a.tools.Execute(turnCtx, name, json.RawMessage(`{}`))
			if execErr != nil || res.Error != "" {
				a.logger.Debug("enforced tool skipped", "agent", a.name, "tool", name,
					"error", firstError(execErr, res.Error))
				continue
			}
			scratch = append(scratch, UserMessage("["+name+"]: "+res.Content))
		}

		in := ModelInput{
			Instructions: joinInstructions(a.instructions, req.ExtraInstructions),
			Messages:     concatMessages(history, scratch),
			Tools:        a.tools.AllDefinitions(),
			Params:       req.Params,
		}

		if err := a.hooks.RunBeforeTurn(turnCtx, c, &in); err != nil {
			endTurn()
			return AgentResult{Usage: totalUsage}, err
		}

		result, err := a.callModel(turnCtx, in, emit)
		if err != nil {
			if turnSpan != nil {
				turnSpan.Error(err)
			}
			endTurn()
			return AgentResult{Usage: totalUsage}, err
		}
		totalUsage.Add(result.Usage)

		turnType := TurnFinish
		if len(result.ToolCalls) > 0 {
			turnType = TurnNextAction
		}
		turn := Turn{Type: turnType, Result: &result, Index: currentTurn}
		c.Turns = append(c.Turns, turn)
		if err := a.hooks.RunAfterTurn(turnCtx, c, turn); err != nil {
			endTurn()
			return AgentResult{Usage: totalUsage}, err
		}

		if turnType == TurnNextAction {
			if turnSpan != nil {
				turnSpan.SetAttr(IntAttr("tool_count", len(result.ToolCalls)))
			}
			followups, err := a.runToolCalls(turnCtx, c, result.ToolCalls, emit)
			if err != nil {
				if turnSpan != nil {
					turnSpan.Error(err)
				}
				endTurn()
				return AgentResult{Usage: totalUsage}, err
			}
			scratch = append(scratch, ChatMessage{
				Role:      "assistant",
				Content:   result.Content,
				ToolCalls: result.ToolCalls,
			})
			scratch = append(scratch, followups...)
			endTurn()
			currentTurn++
			continue
		}

		// Finish candidate. A configured before-complete tool set gets one
		// injection per run, forcing another model round-trip after the
		// enforced tools have spoken.
		if len(a.beforeCompleteTools) > 0 && !beforeCompleteInjected {
			queue = append(queue, a.beforeCompleteTools...)
			beforeCompleteInjected = true
			endTurn()
			currentTurn++
			continue
		}

		final := AgentResult{
			Content:    result.Content,
			ToolCalls:  c.ToolCalls,
			Usage:      totalUsage,
			ResponseID: result.ResponseID,
			Model:      result.Model,
			Raw:        result.Raw,
		}
		decision, err := a.hooks.RunAfterRun(turnCtx, c, &final)
		if err != nil {
			endTurn()
			return AgentResult{Usage: totalUsage}, err
		}
		if decision == DecisionRerun {
			a.logger.Debug("after-run hook requested rerun", "agent", a.name, "turn", currentTurn)
			endTurn()
			currentTurn++
			continue
		}

		persist := []ChatMessage{UserMessage(req.Message)}
		if final.Content != "" {
			persist = append(persist, AssistantMessage(final.Content))
		}
		if err := c.History.Append(turnCtx, persist...); err != nil {
			a.logger.Warn("history append failed", "agent", a.name, "session", c.SessionID, "error", err)
		}

		emit(StreamEvent{Type: EventRunResult, Result: &final})
		endTurn()
		a.logger.Info("run finished", "agent", a.name, "session", c.SessionID,
			"turns", len(c.Turns),
			"tokens.input", totalUsage.InputTokens,
			"tokens.output", totalUsage.OutputTokens)
		return final, nil
	}

	a.logger.Warn("turn budget exhausted", "agent", a.name, "max_turns", a.maxTurns)
	return AgentResult{Usage: totalUsage}, &ErrMaxTurns{Limit: a.maxTurns, Completed: currentTurn}
}

// callModel issues one streaming model call, forwarding every event upward
// and watching for the terminal event. A stream that ends without a
// completed or error event violates the client contract.
func (a *Agent) callModel(ctx context.Context, in ModelInput, emit func(StreamEvent)) (ModelResult, error) {
	events, err := a.llm.Stream(ctx, in)
	if err != nil {
		return ModelResult{}, err
	}

	var result *ModelResult
	var failure error
	for ev := range events {
		emit(ev)
		switch ev.Type {
		case EventCompleted:
			if result == nil && ev.Response != nil {
				r := *ev.Response
				result = &r
			}
		case EventError:
			if failure == nil {
				failure = ev.Err
				if failure == nil {
					failure = errors.New("model error event carried no error")
				}
			}
		}
	}
	if failure != nil {
		return ModelResult{}, failure
	}
	if result == nil {
		return ModelResult{}, ErrIncompleteStream
	}
	return *result, nil
}

// runToolCalls executes the model's requested calls strictly in order,
// running the tool hooks around each. A declared failure becomes an
// error-flagged result message; an unexpected failure aborts the run.
// Returns the follow-up tool-result messages for the scratch list.
func (a *Agent) runToolCalls(ctx context.Context, c *AgentContext, calls []ToolCall, emit func(StreamEvent)) ([]ChatMessage, error) {
	var followups []ChatMessage
	for i := range calls {
		call := calls[i]
		if err := a.hooks.RunBeforeTool(ctx, c, &call); err != nil {
			return nil, err
		}

		res, execErr := a.tools.Execute(ctx, call.Name, call.Args)
		if execErr != nil {
			return nil, execErr
		}

		if err := a.hooks.RunAfterTool(ctx, c, &call, &res); err != nil {
			return nil, err
		}

		// The result is attached exactly once.
		if call.Result == nil {
			attached := res
			call.Result = &attached
		}
		c.ToolCalls = append(c.ToolCalls, call)

		content := res.Content
		if res.Error != "" {
			content = "error: " + res.Error
		}
		emit(StreamEvent{Type: EventToolResult, ToolCall: &call, Content: content})
		followups = append(followups, ToolResultMessage(call.ID, content))
	}
	return followups, nil
}

func concatMessages(a, b []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func firstError(err error, declared string) string {
	if err != nil {
		return err.Error()
	}
	return declared
}
