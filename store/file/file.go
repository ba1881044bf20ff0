// Package file implements aikit.Store on plain files: one append-only
// record file per session under a conversations directory, one usage
// ledger, one input-history ledger, and one file per idempotency key.
// It is the reference backend; no database required.
package file

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// StoreOption configures a file Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements aikit.Store backed by a data directory. A single coarse
// lock serializes writers; records are JSON lines.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ aikit.Store = (*Store)(nil)

// record is one line in a session's record file.
type record struct {
	Kind  string                  `json:"kind"` // turn, state or title
	Turn  *aikit.ConversationTurn `json:"turn,omitempty"`
	State *aikit.RunState         `json:"state,omitempty"`
	Title string                  `json:"title,omitempty"`
}

// inputRecord is one line in the input-history ledger.
type inputRecord struct {
	SessionID string            `json:"session_id"`
	Message   aikit.ChatMessage `json:"message"`
	CreatedAt int64             `json:"created_at"`
}

// New creates a Store rooted at dir, creating the layout if needed.
func New(dir string, opts ...StoreOption) (*Store, error) {
	s := &Store{dir: dir, logger: aikit.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	for _, sub := range []string{"conversations", "idempotency"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("file: create %s dir: %w", sub, err)
		}
	}
	s.logger.Debug("file: store opened", "dir", dir)
	return s, nil
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, "conversations", sanitize(sessionID)+".jsonl")
}

func (s *Store) usagePath() string { return filepath.Join(s.dir, "usage.jsonl") }

func (s *Store) inputsPath() string { return filepath.Join(s.dir, "inputs.jsonl") }

func (s *Store) idempotencyPath(sessionID, agentID, key string) string {
	sum := sha256.Sum256([]byte(sessionID + "\x00" + agentID + "\x00" + key))
	return filepath.Join(s.dir, "idempotency", hex.EncodeToString(sum[:])+".json")
}

// sanitize keeps session ids safe as file names.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func appendLine(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("file: marshal record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("file: append %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("file: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			// A torn trailing line from a crashed writer is skipped.
			continue
		}
		out = append(out, v)
	}
	return out, sc.Err()
}

func (s *Store) ListConversations(ctx context.Context, limit int) ([]aikit.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "conversations"))
	if err != nil {
		return nil, fmt.Errorf("file: read conversations dir: %w", err)
	}

	var summaries []aikit.ConversationSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(s.dir, "conversations", e.Name())
		records, err := readLines[record](path)
		if err != nil {
			return nil, err
		}
		sum := aikit.ConversationSummary{SessionID: strings.TrimSuffix(e.Name(), ".jsonl")}
		for _, rec := range records {
			switch rec.Kind {
			case "turn":
				sum.Turns++
				if rec.Turn != nil && rec.Turn.Timestamp > sum.UpdatedAt {
					sum.UpdatedAt = rec.Turn.Timestamp
				}
			case "state":
				if rec.State != nil && rec.State.UpdatedAt > sum.UpdatedAt {
					sum.UpdatedAt = rec.State.UpdatedAt
				}
			case "title":
				sum.Title = rec.Title
			}
		}
		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt > summaries[j].UpdatedAt
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *Store) GetConversation(ctx context.Context, sessionID string) ([]aikit.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readLines[record](s.sessionPath(sessionID))
	if err != nil {
		return nil, err
	}
	var turns []aikit.ConversationTurn
	for _, rec := range records {
		if rec.Kind == "turn" && rec.Turn != nil {
			turns = append(turns, *rec.Turn)
		}
	}
	return turns, nil
}

func (s *Store) DeleteConversation(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sessionPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file: delete session: %w", err)
	}

	// Rewrite the shared input ledger without the session's rows.
	inputs, err := readLines[inputRecord](s.inputsPath())
	if err != nil {
		return err
	}
	kept := inputs[:0]
	for _, in := range inputs {
		if in.SessionID != sessionID {
			kept = append(kept, in)
		}
	}
	if len(kept) != len(inputs) {
		if err := rewriteLines(s.inputsPath(), kept); err != nil {
			return err
		}
	}
	s.logger.Debug("file: conversation deleted", "session_id", sessionID)
	return nil
}

func rewriteLines[T any](path string, rows []T) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("file: open temp: %w", err)
	}
	for _, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			f.Close()
			return fmt.Errorf("file: marshal row: %w", err)
		}
		if _, err := f.Write(append(raw, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("file: write temp: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn aikit.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.sessionPath(sessionID), record{Kind: "turn", Turn: &turn})
}

func (s *Store) SetTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.sessionPath(sessionID), record{Kind: "title", Title: title})
}

func (s *Store) AppendRunState(ctx context.Context, sessionID string, state aikit.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.sessionPath(sessionID), record{Kind: "state", State: &state})
}

func (s *Store) LatestRunState(ctx context.Context, sessionID string) (aikit.RunState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readLines[record](s.sessionPath(sessionID))
	if err != nil {
		return aikit.RunState{}, false, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Kind == "state" && records[i].State != nil {
			return *records[i].State, true, nil
		}
	}
	return aikit.RunState{}, false, nil
}

func (s *Store) AppendInput(ctx context.Context, sessionID string, msg aikit.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.inputsPath(), inputRecord{
		SessionID: sessionID,
		Message:   msg,
		CreatedAt: aikit.NowUnix(),
	})
}

func (s *Store) ListInputs(ctx context.Context, sessionID string, limit int) ([]aikit.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readLines[inputRecord](s.inputsPath())
	if err != nil {
		return nil, err
	}
	var msgs []aikit.ChatMessage
	for _, row := range rows {
		if row.SessionID == sessionID {
			msgs = append(msgs, row.Message)
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Store) AppendUsage(ctx context.Context, rec aikit.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.usagePath(), rec)
}

func (s *Store) SummarizeUsage(ctx context.Context, period string) ([]aikit.UsageSummary, error) {
	layout := "2006-01-02"
	if period == "month" {
		layout = "2006-01"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readLines[aikit.UsageRecord](s.usagePath())
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*aikit.UsageSummary)
	for _, row := range rows {
		key := time.Unix(row.CreatedAt, 0).UTC().Format(layout)
		sum, ok := buckets[key]
		if !ok {
			sum = &aikit.UsageSummary{Period: key}
			buckets[key] = sum
		}
		sum.Runs++
		sum.Usage.Add(row.Usage)
	}

	summaries := make([]aikit.UsageSummary, 0, len(buckets))
	for _, sum := range buckets {
		summaries = append(summaries, *sum)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Period < summaries[j].Period
	})
	return summaries, nil
}

func (s *Store) GetIdempotency(ctx context.Context, sessionID, agentID, key string) (aikit.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.idempotencyPath(sessionID, agentID, key))
	if err != nil {
		if os.IsNotExist(err) {
			return aikit.IdempotencyRecord{}, false, nil
		}
		return aikit.IdempotencyRecord{}, false, fmt.Errorf("file: read idempotency: %w", err)
	}
	var rec aikit.IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return aikit.IdempotencyRecord{}, false, fmt.Errorf("file: decode idempotency: %w", err)
	}
	return rec, true, nil
}

func (s *Store) PutIdempotency(ctx context.Context, rec aikit.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.idempotencyPath(rec.SessionID, rec.AgentID, rec.Key)
	// O_EXCL keeps an existing record immutable: first write wins.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("file: create idempotency: %w", err)
	}
	defer f.Close()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("file: marshal idempotency: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("file: write idempotency: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("file: data dir unavailable: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
