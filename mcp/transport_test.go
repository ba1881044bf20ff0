package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// gatedServer registers ops that block until released, for exercising
// response ordering.
func gatedServer(t *testing.T) (*Server, map[string]chan struct{}) {
	t.Helper()
	s := NewServer("test", "0.0.0")
	gates := map[string]chan struct{}{
		"slow": make(chan struct{}),
		"fast": make(chan struct{}),
	}
	for name, gate := range gates {
		s.Register(Operation{
			Def: aikit.ToolDefinition{Name: name},
			Execute: func(ctx context.Context, args json.RawMessage) CallResult {
				<-gate
				return TextResult(name)
			},
		})
	}
	return s, gates
}

func sendTool(t *testing.T, tr *Transport, tool string) *PendingRequest {
	t.Helper()
	req, err := NewRequest("tools/call", toolCallParams{Name: tool})
	if err != nil {
		t.Fatal(err)
	}
	pend, err := tr.Send(t.Context(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	return pend
}

func TestReversedResponsesResolveCorrectRequests(t *testing.T) {
	s, gates := gatedServer(t)
	tr := NewTransport(s)
	defer tr.Close()

	slowPend := sendTool(t, tr, "slow")
	fastPend := sendTool(t, tr, "fast")

	// Release in reverse issue order: the second request resolves first.
	close(gates["fast"])
	fastResp, err := fastPend.Await(t.Context())
	if err != nil {
		t.Fatalf("fast Await: %v", err)
	}
	close(gates["slow"])
	slowResp, err := slowPend.Await(t.Context())
	if err != nil {
		t.Fatalf("slow Await: %v", err)
	}

	var fastRes, slowRes CallResult
	if err := json.Unmarshal(fastResp.Result, &fastRes); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(slowResp.Result, &slowRes); err != nil {
		t.Fatal(err)
	}
	if fastRes.Content[0].Text != "fast" {
		t.Errorf("fast request got %q", fastRes.Content[0].Text)
	}
	if slowRes.Content[0].Text != "slow" {
		t.Errorf("slow request got %q", slowRes.Content[0].Text)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	s, _ := gatedServer(t)
	tr := NewTransport(s)

	pend := sendTool(t, tr, "slow")
	tr.Close()

	_, err := pend.Await(t.Context())
	if !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Await after Close = %v, want ErrTransportClosed", err)
	}

	// Sends after Close are rejected outright.
	req, err := NewRequest("ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Send(t.Context(), req); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send after Close = %v, want ErrTransportClosed", err)
	}
}

func TestUnmatchedResponseDropped(t *testing.T) {
	s := NewServer("test", "0.0.0")
	tr := NewTransport(s)
	defer tr.Close()

	// Delivering a response nobody asked for must not panic or block.
	tr.Deliver(&Message{JSONRPC: "2.0", ID: json.RawMessage(`"ghost"`), Result: json.RawMessage(`{}`)})
}

func TestNotifyFanOutAndPanicIsolation(t *testing.T) {
	s := NewServer("test", "0.0.0")
	tr := NewTransport(s)
	defer tr.Close()

	var mu sync.Mutex
	var got []string
	tr.Subscribe(func(n *Message) {
		panic("bad subscriber")
	})
	cancel := tr.Subscribe(func(n *Message) {
		mu.Lock()
		got = append(got, n.Method)
		mu.Unlock()
	})

	s.Notify("notifications/test", map[string]string{"k": "v"})
	mu.Lock()
	if len(got) != 1 || got[0] != "notifications/test" {
		t.Errorf("delivered = %v, want one notifications/test", got)
	}
	mu.Unlock()

	// After cancel, no further delivery.
	cancel()
	s.Notify("notifications/test", nil)
	mu.Lock()
	if len(got) != 1 {
		t.Errorf("notification delivered after cancel: %v", got)
	}
	mu.Unlock()
}

func TestHandshake(t *testing.T) {
	s := NewServer("test", "1.2.3")
	tr := NewTransport(s)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestHandshakeClosedTransport(t *testing.T) {
	s := NewServer("test", "0.0.0")
	tr := NewTransport(s)
	tr.Close()

	if err := tr.Start(t.Context()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Start on closed transport = %v, want ErrTransportClosed", err)
	}
}
