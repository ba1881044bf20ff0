package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	aikit "github.com/takatoshi-maeda/ai-kit"
	filestore "github.com/takatoshi-maeda/ai-kit/store/file"
)

// scriptedLLM plays back fixed responses, one per model call.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []aikit.ModelResult
	calls     int
}

func (m *scriptedLLM) next() aikit.ModelResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.responses) {
		return aikit.ModelResult{Content: "out of script"}
	}
	return m.responses[i]
}

func (m *scriptedLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptedLLM) Invoke(ctx context.Context, in aikit.ModelInput) (aikit.ModelResult, error) {
	return m.next(), nil
}

func (m *scriptedLLM) Stream(ctx context.Context, in aikit.ModelInput) (<-chan aikit.StreamEvent, error) {
	res := m.next()
	ch := make(chan aikit.StreamEvent, 8)
	go func() {
		defer close(ch)
		ch <- aikit.StreamEvent{Type: aikit.EventCreated}
		if res.Content != "" {
			ch <- aikit.StreamEvent{Type: aikit.EventTextDelta, Delta: res.Content}
		}
		ch <- aikit.StreamEvent{Type: aikit.EventUsage, Usage: &res.Usage}
		ch <- aikit.StreamEvent{Type: aikit.EventCompleted, Response: &res}
	}()
	return ch, nil
}

func (m *scriptedLLM) EstimateTokens(text string) int { return len(text) / 4 }

var _ aikit.LLMClient = (*scriptedLLM)(nil)

// newTestApp wires a server, transport, and file store around one scripted
// agent registered as "assistant".
func newTestApp(t *testing.T, llm aikit.LLMClient) (*Server, *Transport, aikit.Store, *Registry) {
	t.Helper()

	st, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := NewRegistry()
	registry.Register("assistant", func() *aikit.Agent {
		return aikit.NewAgent("assistant", "answers questions", llm)
	})

	server := NewServer("test", "0.0.0")
	RegisterStandardOps(server, registry, st)
	NewRunHandler(server, registry, st)
	transport := NewTransport(server)
	t.Cleanup(transport.Close)

	return server, transport, st, registry
}

// awaitCall sends a tools/call request over the transport and returns the
// decoded CallResult.
func awaitCall(t *testing.T, tr *Transport, tool string, args any) CallResult {
	t.Helper()

	req, err := NewRequest("tools/call", toolCallParams{Name: tool, Arguments: mustMarshal(t, args)})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	pend, err := tr.Send(t.Context(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp, err := pend.Await(t.Context())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("rpc error: %v", resp.Error)
	}
	var res CallResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return res
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
