package aikit

import (
	"context"
	"encoding/json"
	"sync"
)

// StreamEventType identifies the kind of streaming event.
type StreamEventType string

// Model-level events. LLMClient implementations emit these and the engine
// forwards them upward unchanged.
const (
	// EventCreated signals the model has accepted the request.
	EventCreated StreamEventType = "response-created"
	// EventTextDelta carries an incremental text chunk.
	EventTextDelta StreamEventType = "text-delta"
	// EventTextDone carries the complete text of one model response.
	EventTextDone StreamEventType = "text-done"
	// EventToolArgsDelta carries an incremental tool-call argument chunk.
	EventToolArgsDelta StreamEventType = "tool-call-args-delta"
	// EventToolCallDone signals the model finished emitting one tool call.
	EventToolCallDone StreamEventType = "tool-call-done"
	// EventReasoningDelta carries an incremental reasoning chunk.
	EventReasoningDelta StreamEventType = "reasoning-delta"
	// EventReasoningDone carries the complete reasoning of one response.
	EventReasoningDone StreamEventType = "reasoning-done"
	// EventUsage carries usage figures for one model call.
	EventUsage StreamEventType = "usage"
	// EventCompleted terminates a model call with its ModelResult.
	EventCompleted StreamEventType = "response-completed"
	// EventError terminates a model call with a failure.
	EventError StreamEventType = "error"
)

// Engine-level events, emitted by the run loop in addition to the forwarded
// model events.
const (
	// EventToolResult carries the result of an executed tool call.
	EventToolResult StreamEventType = "tool-result"
	// EventRunResult is the terminal event of a run, carrying the AgentResult.
	EventRunResult StreamEventType = "run-result"
)

// StreamEvent is a typed event produced during a run. Exactly one payload
// field is populated per event, determined by Type.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	// Delta carries incremental text, reasoning, or argument chunks.
	Delta string `json:"delta,omitempty"`
	// Content carries complete text (text-done, reasoning-done, tool-result).
	Content string `json:"content,omitempty"`
	// ToolCall is set for tool-call-done and tool-result events.
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	// Usage is set for usage events.
	Usage *Usage `json:"usage,omitempty"`
	// Response is set for response-completed events.
	Response *ModelResult `json:"response,omitempty"`
	// Result is set for the terminal run-result event.
	Result *AgentResult `json:"result,omitempty"`
	// Err is set for error events.
	Err error `json:"-"`
	// Raw carries the provider's raw event payload, when available.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// AgentStream exposes a running agent as both a live event sequence and a
// detached future for the terminal result. The two views are independent:
// the producer never blocks on a consumer, so Result can be awaited without
// draining Events, and the run's error surfaces exactly once either way.
type AgentStream struct {
	out    chan StreamEvent
	done   chan struct{}
	closed chan struct{}

	closeOnce sync.Once

	// result/err are written once before done is closed; the close is the
	// happens-before barrier for readers.
	result AgentResult
	err    error
}

// newAgentStream starts producer in a goroutine and returns the wrapper.
// producer receives the channel to emit events into; the channel is drained
// into an unbounded buffer so emission never blocks.
func newAgentStream(producer func(ch chan<- StreamEvent) (AgentResult, error)) *AgentStream {
	in := make(chan StreamEvent)
	s := &AgentStream{
		out:    make(chan StreamEvent),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go pumpEvents(in, s.out, s.closed)
	go func() {
		result, err := producer(in)
		close(in)
		s.result = result
		s.err = err
		close(s.done)
	}()
	return s
}

// failedStream returns an AgentStream that is already terminal with err.
func failedStream(err error) *AgentStream {
	return newAgentStream(func(chan<- StreamEvent) (AgentResult, error) {
		return AgentResult{}, err
	})
}

// pumpEvents shuttles events from in to out through an unbounded buffer so
// the producer never blocks on a slow or absent consumer. Closes out after
// in is closed and the buffer is drained, or immediately once closed fires,
// after which remaining events are discarded.
func pumpEvents(in <-chan StreamEvent, out chan<- StreamEvent, closed <-chan struct{}) {
	var buf []StreamEvent
	for in != nil || len(buf) > 0 {
		var send chan<- StreamEvent
		var next StreamEvent
		if len(buf) > 0 {
			send = out
			next = buf[0]
		}
		select {
		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, ev)
		case send <- next:
			buf = buf[1:]
		case <-closed:
			buf = nil
			for in != nil {
				if _, ok := <-in; !ok {
					in = nil
				}
			}
		}
	}
	close(out)
}

// Events returns the live event sequence. The channel is closed when the run
// completes (successfully or not). Events not consumed before the run ends
// remain readable until the channel drains.
func (s *AgentStream) Events() <-chan StreamEvent { return s.out }

// Done returns a channel closed when the run reaches a terminal state.
func (s *AgentStream) Done() <-chan struct{} { return s.done }

// Close abandons the event stream: buffered and future events are discarded
// and Events closes without being drained. Result stays available. Callers
// that await only Result should Close so undelivered events are released.
// Idempotent.
func (s *AgentStream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Result blocks until the run completes or ctx is cancelled, then returns
// the terminal result and error. Safe to call any number of times and
// concurrently with Events consumption.
func (s *AgentStream) Result(ctx context.Context) (AgentResult, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return AgentResult{}, ctx.Err()
	}
}

// Wait drains and discards all remaining events, then returns the terminal
// result. Draining first keeps event production and completion ordered for
// callers that never touch Events.
func (s *AgentStream) Wait(ctx context.Context) (AgentResult, error) {
	for {
		select {
		case _, ok := <-s.out:
			if !ok {
				return s.Result(ctx)
			}
		case <-ctx.Done():
			return AgentResult{}, ctx.Err()
		}
	}
}
