package mcp

import (
	"context"
	"encoding/json"
	"testing"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

func TestInitializeResponse(t *testing.T) {
	s := NewServer("srv", "1.0.0")

	req, err := NewRequest("initialize", initializeParams{ProtocolVersion: ProtocolVersion})
	if err != nil {
		t.Fatal(err)
	}
	resp := s.Handle(context.Background(), req)
	if resp == nil || resp.Error != nil {
		t.Fatalf("initialize response = %+v", resp)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("ProtocolVersion = %q, want %q", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != "srv" || result.ServerInfo.Version != "1.0.0" {
		t.Errorf("ServerInfo = %+v", result.ServerInfo)
	}
	if result.Capabilities.Tools == nil {
		t.Error("tools capability not advertised")
	}
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	s := NewServer("srv", "1.0.0")

	for _, method := range []string{"notifications/initialized", "notifications/cancelled", "notifications/unknown"} {
		n, err := NewNotification(method, nil)
		if err != nil {
			t.Fatal(err)
		}
		if resp := s.Handle(context.Background(), n); resp != nil {
			t.Errorf("Handle(%s) = %+v, want nil", method, resp)
		}
	}
}

func TestUnknownMethod(t *testing.T) {
	s := NewServer("srv", "1.0.0")

	req, err := NewRequest("no/such/method", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := s.Handle(context.Background(), req)
	if resp == nil || resp.Error == nil {
		t.Fatalf("response = %+v, want error", resp)
	}
	if resp.Error.Code != errCodeMethodNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, errCodeMethodNotFound)
	}
}

func TestToolsListOrderAndCall(t *testing.T) {
	s := NewServer("srv", "1.0.0")
	for _, name := range []string{"zeta", "alpha"} {
		name := name
		s.Register(Operation{
			Def: aikit.ToolDefinition{Name: name, Description: name + " op"},
			Execute: func(ctx context.Context, args json.RawMessage) CallResult {
				return TextResult(name)
			},
		})
	}

	listReq, err := NewRequest("tools/list", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := s.Handle(context.Background(), listReq)
	var list toolsListResult
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(list.Tools))
	}
	// Registration order, not alphabetical.
	if list.Tools[0].Name != "zeta" || list.Tools[1].Name != "alpha" {
		t.Errorf("order = %q, %q", list.Tools[0].Name, list.Tools[1].Name)
	}

	callReq, err := NewRequest("tools/call", toolCallParams{Name: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	resp = s.Handle(context.Background(), callReq)
	var res CallResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.IsError || res.Content[0].Text != "alpha" {
		t.Errorf("call result = %+v", res)
	}
}

func TestUnknownToolIsDeclaredError(t *testing.T) {
	s := NewServer("srv", "1.0.0")

	req, err := NewRequest("tools/call", toolCallParams{Name: "missing"})
	if err != nil {
		t.Fatal(err)
	}
	resp := s.Handle(context.Background(), req)
	if resp.Error != nil {
		t.Fatalf("rpc error = %v, unknown tool should be a tool-level error", resp.Error)
	}
	var res CallResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("IsError = false, want true")
	}
}

func TestPing(t *testing.T) {
	s := NewServer("srv", "1.0.0")
	req, err := NewRequest("ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := s.Handle(context.Background(), req)
	if resp == nil || resp.Error != nil {
		t.Errorf("ping response = %+v", resp)
	}
}
