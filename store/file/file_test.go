package file

import (
	"bytes"
	"context"
	"testing"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAppendAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	turns := []aikit.ConversationTurn{
		{TurnID: "t1", RunID: "r1", Timestamp: 100, UserMessage: "hi", AssistantMessage: "hello", Status: "success"},
		{TurnID: "t2", RunID: "r2", Timestamp: 200, UserMessage: "more", AssistantMessage: "sure", Status: "success"},
	}
	for _, turn := range turns {
		if err := s.AppendTurn(ctx, "sess-1", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := s.GetConversation(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[0].TurnID != "t1" || got[1].TurnID != "t2" {
		t.Errorf("turn order = %q, %q", got[0].TurnID, got[1].TurnID)
	}
	if got[1].AssistantMessage != "sure" {
		t.Errorf("AssistantMessage = %q, want sure", got[1].AssistantMessage)
	}
}

func TestListConversationsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "old", aikit.ConversationTurn{TurnID: "t1", Timestamp: 100, Status: "success"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTurn(ctx, "new", aikit.ConversationTurn{TurnID: "t2", Timestamp: 900, Status: "success"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTitle(ctx, "new", "fresh"); err != nil {
		t.Fatal(err)
	}

	summaries, err := s.ListConversations(ctx, 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}
	if summaries[0].SessionID != "new" {
		t.Errorf("first summary = %q, want new (most recent)", summaries[0].SessionID)
	}
	if summaries[0].Title != "fresh" {
		t.Errorf("Title = %q, want fresh", summaries[0].Title)
	}
	if summaries[1].Turns != 1 {
		t.Errorf("Turns = %d, want 1", summaries[1].Turns)
	}

	limited, err := s.ListConversations(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].SessionID != "new" {
		t.Errorf("limited list = %+v, want only new", limited)
	}
}

func TestDeleteConversationRemovesInputs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "keep", aikit.ConversationTurn{TurnID: "t1", Status: "success"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTurn(ctx, "drop", aikit.ConversationTurn{TurnID: "t2", Status: "success"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendInput(ctx, "keep", aikit.UserMessage("stay")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendInput(ctx, "drop", aikit.UserMessage("go")); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteConversation(ctx, "drop"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	turns, err := s.GetConversation(ctx, "drop")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("deleted session still has %d turns", len(turns))
	}
	gone, err := s.ListInputs(ctx, "drop", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(gone) != 0 {
		t.Errorf("deleted session still has %d inputs", len(gone))
	}
	kept, err := s.ListInputs(ctx, "keep", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 || kept[0].Content != "stay" {
		t.Errorf("kept inputs = %+v", kept)
	}

	// Deleting an absent session is not an error.
	if err := s.DeleteConversation(ctx, "never-existed"); err != nil {
		t.Errorf("DeleteConversation(absent) = %v", err)
	}
}

func TestRunStateLatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestRunState(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("LatestRunState on empty session reported a state")
	}

	states := []aikit.RunState{
		{RunID: "r1", Status: aikit.RunStarted, UpdatedAt: 100},
		{RunID: "r1", Status: aikit.RunSuccess, UpdatedAt: 200},
	}
	for _, st := range states {
		if err := s.AppendRunState(ctx, "sess", st); err != nil {
			t.Fatal(err)
		}
	}

	latest, ok, err := s.LatestRunState(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("LatestRunState found nothing")
	}
	if latest.Status != aikit.RunSuccess {
		t.Errorf("Status = %q, want success", latest.Status)
	}
}

func TestInputHistoryLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if err := s.AppendInput(ctx, "sess", aikit.UserMessage(text)); err != nil {
			t.Fatal(err)
		}
	}

	last, err := s.ListInputs(ctx, "sess", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 {
		t.Fatalf("got %d inputs, want 2", len(last))
	}
	if last[0].Content != "two" || last[1].Content != "three" {
		t.Errorf("limit keeps oldest instead of newest: %+v", last)
	}
}

func TestUsageSummaryBuckets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 2024-03-10 and 2024-03-11 UTC.
	records := []aikit.UsageRecord{
		{SessionID: "a", RunID: "r1", CreatedAt: 1710060000, Usage: aikit.Usage{TotalTokens: 10, TotalCost: 0.5}},
		{SessionID: "a", RunID: "r2", CreatedAt: 1710061000, Usage: aikit.Usage{TotalTokens: 20, TotalCost: 1.0}},
		{SessionID: "b", RunID: "r3", CreatedAt: 1710146400, Usage: aikit.Usage{TotalTokens: 5, TotalCost: 0.25}},
	}
	for _, rec := range records {
		if err := s.AppendUsage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	days, err := s.SummarizeUsage(ctx, "day")
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 {
		t.Fatalf("got %d day buckets, want 2", len(days))
	}
	if days[0].Runs != 2 || days[0].Usage.TotalTokens != 30 {
		t.Errorf("first day = %+v, want 2 runs / 30 tokens", days[0])
	}

	months, err := s.SummarizeUsage(ctx, "month")
	if err != nil {
		t.Fatal(err)
	}
	if len(months) != 1 {
		t.Fatalf("got %d month buckets, want 1", len(months))
	}
	if months[0].Runs != 3 || months[0].Usage.TotalCost != 1.75 {
		t.Errorf("month = %+v, want 3 runs / 1.75 cost", months[0])
	}
}

func TestIdempotencyFirstWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetIdempotency(ctx, "sess", "agent", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("found record before any write")
	}

	first := aikit.IdempotencyRecord{
		Key: "key-1", SessionID: "sess", AgentID: "agent",
		RunID: "r1", Status: "success", Result: []byte(`{"status":"success"}`),
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

	got, ok, err := s.GetIdempotency(ctx, "sess", "agent", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("record not found")
	}
	if got.RunID != "r1" {
		t.Errorf("RunID = %q, second write overwrote the record", got.RunID)
	}
	if !bytes.Equal(got.Result, first.Result) {
		t.Errorf("Result = %s, want %s", got.Result, first.Result)
	}

	// Same key under another agent is a distinct record.
	_, ok, err = s.GetIdempotency(ctx, "sess", "other-agent", "key-1")
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
