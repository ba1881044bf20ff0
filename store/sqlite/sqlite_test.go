package sqlite

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	turns := []aikit.ConversationTurn{
		{TurnID: "t1", RunID: "r1", Timestamp: 100, UserMessage: "hi", AssistantMessage: "hello", Status: "success", AgentID: "a"},
		{TurnID: "t2", RunID: "r2", Timestamp: 200, UserMessage: "again", AssistantMessage: "yes", Status: "success", AgentID: "a"},
	}
	for _, turn := range turns {
		if err := s.AppendTurn(ctx, "sess", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := s.GetConversation(ctx, "sess")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[0].TurnID != "t1" || got[1].TurnID != "t2" {
		t.Errorf("order = %q, %q", got[0].TurnID, got[1].TurnID)
	}
	if got[0].AgentID != "a" {
		t.Errorf("AgentID = %q, want a", got[0].AgentID)
	}

	summaries, err := s.ListConversations(ctx, 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Turns != 2 || summaries[0].UpdatedAt != 200 {
		t.Errorf("summary = %+v, want 2 turns at 200", summaries)
	}
}

func TestSetTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetTitle(ctx, "sess", "my chat"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	summaries, err := s.ListConversations(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].Title != "my chat" {
		t.Errorf("summaries = %+v, want title my chat", summaries)
	}
}

func TestDeleteConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "sess", aikit.ConversationTurn{TurnID: "t1", RunID: "r1", Status: "success"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendInput(ctx, "sess", aikit.UserMessage("hi")); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteConversation(ctx, "sess"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	turns, err := s.GetConversation(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("turns remain after delete: %d", len(turns))
	}
	inputs, err := s.ListInputs(ctx, "sess", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 0 {
		t.Errorf("inputs remain after delete: %d", len(inputs))
	}
}

func TestRunStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestRunState(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("state found on empty session")
	}

	for _, st := range []aikit.RunState{
		{RunID: "r1", TurnID: "t1", Status: aikit.RunStarted, StartedAt: 10, UpdatedAt: 10},
		{RunID: "r1", TurnID: "t1", Status: aikit.RunSuccess, StartedAt: 10, UpdatedAt: 20, AssistantMessage: "done"},
	} {
		if err := s.AppendRunState(ctx, "sess", st); err != nil {
			t.Fatal(err)
		}
	}

	latest, ok, err := s.LatestRunState(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || latest.Status != aikit.RunSuccess || latest.AssistantMessage != "done" {
		t.Errorf("latest = %+v, want success/done", latest)
	}
}

func TestInputsLimitKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if err := s.AppendInput(ctx, "sess", aikit.UserMessage(text)); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.ListInputs(ctx, "sess", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Errorf("msgs = %+v, want newest two oldest-first", msgs)
	}
}

func TestUsageSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 2024-03-10 and 2024-03-11 UTC.
	for _, rec := range []aikit.UsageRecord{
		{SessionID: "a", RunID: "r1", CreatedAt: 1710060000, Usage: aikit.Usage{InputTokens: 7, TotalTokens: 10, TotalCost: 0.5}},
		{SessionID: "a", RunID: "r2", CreatedAt: 1710061000, Usage: aikit.Usage{InputTokens: 13, TotalTokens: 20, TotalCost: 1.0}},
		{SessionID: "b", RunID: "r3", CreatedAt: 1710146400, Usage: aikit.Usage{TotalTokens: 5, TotalCost: 0.25}},
	} {
		if err := s.AppendUsage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	days, err := s.SummarizeUsage(ctx, "day")
	if err != nil {
		t.Fatalf("SummarizeUsage: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("got %d day buckets, want 2", len(days))
	}
	if days[0].Period != "2024-03-10" || days[0].Runs != 2 || days[0].Usage.TotalTokens != 30 || days[0].Usage.InputTokens != 20 {
		t.Errorf("first day = %+v", days[0])
	}

	months, err := s.SummarizeUsage(ctx, "month")
	if err != nil {
		t.Fatal(err)
	}
	if len(months) != 1 || months[0].Period != "2024-03" || months[0].Runs != 3 {
		t.Errorf("months = %+v", months)
	}
}

func TestIdempotencyImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := aikit.IdempotencyRecord{
		Key: "k", SessionID: "sess", AgentID: "agent",
		RunID: "r1", Status: "success", Result: []byte(`{"status":"success"}`), CreatedAt: 1,
	}
	if err := s.PutIdempotency(ctx, first); err != nil {
		t.Fatalf("PutIdempotency: %v", err)
	}

	second := first
	second.RunID = "r2"
	second.Result = []byte(`{"status":"error"}`)
	if err := s.PutIdempotency(ctx, second); err != nil {
		t.Fatalf("PutIdempotency (repeat): %v", err)
	}

	got, ok, err := s.GetIdempotency(ctx, "sess", "agent", "k")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("record missing")
	}
	if got.RunID != "r1" || !bytes.Equal(got.Result, first.Result) {
		t.Errorf("record overwritten: %+v", got)
	}

	// Distinct agent scope holds its own record.
	_, ok, err = s.GetIdempotency(ctx, "sess", "other", "k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("key leaked across agent scope")
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v", err)
	}
}
