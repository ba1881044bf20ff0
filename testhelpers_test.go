package aikit

import (
	"context"
	"encoding/json"
	"sync"
)

// mockLLM is a scripted LLMClient. Each call consumes the next ModelResult;
// Stream renders it as a created/text-delta/completed event sequence.
type mockLLM struct {
	mu        sync.Mutex
	responses []ModelResult
	err       error // returned instead of a response when set
	errAt     int   // 0-based call index at which err fires; -1 = first call
	calls     int
	inputs    []ModelInput
}

func (m *mockLLM) next(in ModelInput) (ModelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	m.inputs = append(m.inputs, in)
	if m.err != nil && (m.errAt < 0 || m.errAt == idx) {
		return ModelResult{}, m.err
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return ModelResult{Content: "out of scripted responses"}, nil
}

func (m *mockLLM) Invoke(_ context.Context, in ModelInput) (ModelResult, error) {
	return m.next(in)
}

func (m *mockLLM) Stream(_ context.Context, in ModelInput) (<-chan StreamEvent, error) {
	res, err := m.next(in)
	ch := make(chan StreamEvent, 8)
	go func() {
		defer close(ch)
		ch <- StreamEvent{Type: EventCreated}
		if err != nil {
			ch <- StreamEvent{Type: EventError, Err: err}
			return
		}
		if res.Content != "" {
			ch <- StreamEvent{Type: EventTextDelta, Delta: res.Content}
		}
		u := res.Usage
		ch <- StreamEvent{Type: EventUsage, Usage: &u}
		r := res
		ch <- StreamEvent{Type: EventCompleted, Response: &r}
	}()
	return ch, nil
}

func (m *mockLLM) EstimateTokens(text string) int { return len(text) / 4 }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockLLM) input(i int) ModelInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[i]
}

// rawStreamLLM emits a fixed event sequence per call, for exercising
// malformed terminal behavior.
type rawStreamLLM struct {
	sequences [][]StreamEvent
	calls     int
}

func (r *rawStreamLLM) Invoke(context.Context, ModelInput) (ModelResult, error) {
	return ModelResult{}, nil
}

func (r *rawStreamLLM) Stream(context.Context, ModelInput) (<-chan StreamEvent, error) {
	seq := r.sequences[r.calls]
	r.calls++
	ch := make(chan StreamEvent, len(seq))
	for _, ev := range seq {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (r *rawStreamLLM) EstimateTokens(string) int { return 0 }

// echoTool returns its configured content, or a declared/unexpected failure.
type echoTool struct {
	name    string
	content string
	declErr string
	failErr error
	panics  bool
	schema  json.RawMessage
	calls   int
}

func (t *echoTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: t.name, Description: "test tool", Parameters: t.schema}}
}

func (t *echoTool) Execute(context.Context, string, json.RawMessage) (ToolResult, error) {
	t.calls++
	if t.panics {
		panic("tool exploded")
	}
	if t.failErr != nil {
		return ToolResult{}, t.failErr
	}
	if t.declErr != "" {
		return ToolResult{Error: t.declErr}, nil
	}
	return ToolResult{Content: t.content}, nil
}

// afterRunHook returns scripted decisions, one per invocation.
type afterRunHook struct {
	decisions []RunDecision
	calls     int
}

func (h *afterRunHook) AfterRun(context.Context, *AgentContext, *AgentResult) (RunDecision, error) {
	d := DecisionDone
	if h.calls < len(h.decisions) {
		d = h.decisions[h.calls]
	}
	h.calls++
	return d, nil
}

func toolCallResult(id, name, args string) ModelResult {
	return ModelResult{
		ToolCalls: []ToolCall{{ID: id, Name: name, Args: json.RawMessage(args)}},
	}
}
