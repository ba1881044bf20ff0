// Package sqlite implements aikit.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	aikit "github.com/takatoshi-maeda/ai-kit"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for operations; if not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements aikit.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ aikit.Store = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: aikit.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			title TEXT,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			user_message TEXT NOT NULL,
			assistant_message TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			agent_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS run_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			user_message TEXT,
			assistant_message TEXT,
			agent_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS inputs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			agent_id TEXT,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cached_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			input_cost REAL NOT NULL,
			output_cost REAL NOT NULL,
			cache_cost REAL NOT NULL,
			total_cost REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency (
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, agent_id, idempotency_key)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Debug("sqlite: init done", "elapsed", time.Since(start))
	return nil
}

// touch bumps a session's updated_at, inserting the row if missing.
func (s *Store) touch(ctx context.Context, sessionID string, at int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (session_id, updated_at) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, at)
	return err
}

func (s *Store) ListConversations(ctx context.Context, limit int) ([]aikit.ConversationSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.session_id, COALESCE(c.title, ''), c.updated_at,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = c.session_id)
		FROM conversations c
		ORDER BY c.updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []aikit.ConversationSummary
	for rows.Next() {
		var sum aikit.ConversationSummary
		if err := rows.Scan(&sum.SessionID, &sum.Title, &sum.UpdatedAt, &sum.Turns); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *Store) GetConversation(ctx context.Context, sessionID string) ([]aikit.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, run_id, timestamp, user_message, assistant_message,
			status, COALESCE(error_message, ''), COALESCE(agent_id, '')
		FROM turns WHERE session_id = ? ORDER BY timestamp ASC, turn_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	defer rows.Close()

	var turns []aikit.ConversationTurn
	for rows.Next() {
		var t aikit.ConversationTurn
		if err := rows.Scan(&t.TurnID, &t.RunID, &t.Timestamp, &t.UserMessage,
			&t.AssistantMessage, &t.Status, &t.ErrorMessage, &t.AgentID); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, sessionID string) error {
	for _, q := range []string{
		`DELETE FROM turns WHERE session_id = ?`,
		`DELETE FROM run_states WHERE session_id = ?`,
		`DELETE FROM inputs WHERE session_id = ?`,
		`DELETE FROM conversations WHERE session_id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
	}
	s.logger.Debug("sqlite: conversation deleted", "session_id", sessionID)
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn aikit.ConversationTurn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (turn_id, session_id, run_id, timestamp, user_message,
			assistant_message, status, error_message, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.TurnID, sessionID, turn.RunID, turn.Timestamp, turn.UserMessage,
		turn.AssistantMessage, turn.Status, turn.ErrorMessage, turn.AgentID)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return s.touch(ctx, sessionID, turn.Timestamp)
}

func (s *Store) SetTitle(ctx context.Context, sessionID, title string) error {
	if err := s.touch(ctx, sessionID, aikit.NowUnix()); err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE session_id = ?`, title, sessionID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

func (s *Store) AppendRunState(ctx context.Context, sessionID string, state aikit.RunState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_states (session_id, run_id, turn_id, status, started_at,
			updated_at, user_message, assistant_message, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, state.RunID, state.TurnID, string(state.Status), state.StartedAt,
		state.UpdatedAt, state.UserMessage, state.AssistantMessage, state.AgentID)
	if err != nil {
		return fmt.Errorf("append run state: %w", err)
	}
	return s.touch(ctx, sessionID, state.UpdatedAt)
}

func (s *Store) LatestRunState(ctx context.Context, sessionID string) (aikit.RunState, bool, error) {
	var st aikit.RunState
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, turn_id, status, started_at, updated_at,
			COALESCE(user_message, ''), COALESCE(assistant_message, ''), COALESCE(agent_id, '')
		FROM run_states WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID).
		Scan(&st.RunID, &st.TurnID, &status, &st.StartedAt, &st.UpdatedAt,
			&st.UserMessage, &st.AssistantMessage, &st.AgentID)
	if err == sql.ErrNoRows {
		return aikit.RunState{}, false, nil
	}
	if err != nil {
		return aikit.RunState{}, false, fmt.Errorf("latest run state: %w", err)
	}
	st.Status = aikit.RunStatus(status)
	return st, true, nil
}

func (s *Store) AppendInput(ctx context.Context, sessionID string, msg aikit.ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inputs (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, aikit.NowUnix())
	if err != nil {
		return fmt.Errorf("append input: %w", err)
	}
	return nil
}

func (s *Store) ListInputs(ctx context.Context, sessionID string, limit int) ([]aikit.ChatMessage, error) {
	if limit <= 0 {
		limit = 1000
	}
	// Newest N rows, returned oldest first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT id, role, content FROM inputs
			WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	defer rows.Close()

	var msgs []aikit.ChatMessage
	for rows.Next() {
		var m aikit.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) AppendUsage(ctx context.Context, rec aikit.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (session_id, run_id, agent_id, input_tokens,
			output_tokens, cached_tokens, total_tokens, input_cost, output_cost,
			cache_cost, total_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.RunID, rec.AgentID,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.CachedTokens,
		rec.Usage.TotalTokens, rec.Usage.InputCost, rec.Usage.OutputCost,
		rec.Usage.CacheCost, rec.Usage.TotalCost, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

func (s *Store) SummarizeUsage(ctx context.Context, period string) ([]aikit.UsageSummary, error) {
	format := "%Y-%m-%d"
	if period == "month" {
		format = "%Y-%m"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime(?, created_at, 'unixepoch') AS bucket, COUNT(*),
			SUM(input_tokens), SUM(output_tokens), SUM(cached_tokens), SUM(total_tokens),
			SUM(input_cost), SUM(output_cost), SUM(cache_cost), SUM(total_cost)
		FROM usage_records GROUP BY bucket ORDER BY bucket ASC`, format)
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	defer rows.Close()

	var summaries []aikit.UsageSummary
	for rows.Next() {
		var sum aikit.UsageSummary
		if err := rows.Scan(&sum.Period, &sum.Runs,
			&sum.Usage.InputTokens, &sum.Usage.OutputTokens, &sum.Usage.CachedTokens,
			&sum.Usage.TotalTokens, &sum.Usage.InputCost, &sum.Usage.OutputCost,
			&sum.Usage.CacheCost, &sum.Usage.TotalCost); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *Store) GetIdempotency(ctx context.Context, sessionID, agentID, key string) (aikit.IdempotencyRecord, bool, error) {
	rec := aikit.IdempotencyRecord{Key: key, SessionID: sessionID, AgentID: agentID}
	var result string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, result, created_at FROM idempotency
		WHERE session_id = ? AND agent_id = ? AND idempotency_key = ?`,
		sessionID, agentID, key).
		Scan(&rec.RunID, &rec.Status, &result, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return aikit.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return aikit.IdempotencyRecord{}, false, fmt.Errorf("get idempotency: %w", err)
	}
	rec.Result = []byte(result)
	return rec, true, nil
}

func (s *Store) PutIdempotency(ctx context.Context, rec aikit.IdempotencyRecord) error {
	// ON CONFLICT DO NOTHING keeps an existing record immutable.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency (session_id, agent_id, idempotency_key, run_id,
			status, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, agent_id, idempotency_key) DO NOTHING`,
		rec.SessionID, rec.AgentID, rec.Key, rec.RunID, rec.Status,
		string(rec.Result), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("put idempotency: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
