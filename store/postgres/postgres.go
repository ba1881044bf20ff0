// Package postgres implements aikit.Store using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// Store implements aikit.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ aikit.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			title TEXT,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			user_message TEXT NOT NULL,
			assistant_message TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			agent_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS run_states (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			user_message TEXT,
			assistant_message TEXT,
			agent_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS inputs (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			agent_id TEXT,
			input_tokens BIGINT NOT NULL,
			output_tokens BIGINT NOT NULL,
			cached_tokens BIGINT NOT NULL,
			total_tokens BIGINT NOT NULL,
			input_cost DOUBLE PRECISION NOT NULL,
			output_cost DOUBLE PRECISION NOT NULL,
			cache_cost DOUBLE PRECISION NOT NULL,
			total_cost DOUBLE PRECISION NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency (
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (session_id, agent_id, idempotency_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_run_states_session ON run_states (session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_inputs_session ON inputs (session_id, id)`,
	}
	for _, ddl := range tables {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (s *Store) touch(ctx context.Context, sessionID string, at int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (session_id, updated_at) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		sessionID, at)
	return err
}

func (s *Store) ListConversations(ctx context.Context, limit int) ([]aikit.ConversationSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.session_id, COALESCE(c.title, ''), c.updated_at,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = c.session_id)
		FROM conversations c
		ORDER BY c.updated_at DESC
		LIMIT $1`, limit)
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
	rows, err := s.pool.Query(ctx, `
		SELECT turn_id, run_id, ts, user_message, assistant_message,
			status, COALESCE(error_message, ''), COALESCE(agent_id, '')
		FROM turns WHERE session_id = $1 ORDER BY ts ASC, turn_id ASC`, sessionID)
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
		`DELETE FROM turns WHERE session_id = $1`,
		`DELETE FROM run_states WHERE session_id = $1`,
		`DELETE FROM inputs WHERE session_id = $1`,
		`DELETE FROM conversations WHERE session_id = $1`,
	} {
		if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn aikit.ConversationTurn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO turns (turn_id, session_id, run_id, ts, user_message,
			assistant_message, status, error_message, agent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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
	if _, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $1 WHERE session_id = $2`, title, sessionID); err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

func (s *Store) AppendRunState(ctx context.Context, sessionID string, state aikit.RunState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_states (session_id, run_id, turn_id, status, started_at,
			updated_at, user_message, assistant_message, agent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, turn_id, status, started_at, updated_at,
			COALESCE(user_message, ''), COALESCE(assistant_message, ''), COALESCE(agent_id, '')
		FROM run_states WHERE session_id = $1 ORDER BY id DESC LIMIT 1`, sessionID).
		Scan(&st.RunID, &st.TurnID, &status, &st.StartedAt, &st.UpdatedAt,
			&st.UserMessage, &st.AssistantMessage, &st.AgentID)
	if err == pgx.ErrNoRows {
		return aikit.RunState{}, false, nil
	}
	if err != nil {
		return aikit.RunState{}, false, fmt.Errorf("latest run state: %w", err)
	}
	st.Status = aikit.RunStatus(status)
	return st, true, nil
}

func (s *Store) AppendInput(ctx context.Context, sessionID string, msg aikit.ChatMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inputs (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
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
	rows, err := s.pool.Query(ctx, `
		SELECT role, content FROM (
			SELECT id, role, content FROM inputs
			WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		) newest ORDER BY id ASC`, sessionID, limit)
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (session_id, run_id, agent_id, input_tokens,
			output_tokens, cached_tokens, total_tokens, input_cost, output_cost,
			cache_cost, total_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
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
	format := "YYYY-MM-DD"
	if period == "month" {
		format = "YYYY-MM"
	}
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(to_timestamp(created_at) AT TIME ZONE 'UTC', $1) AS bucket, COUNT(*),
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
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, status, result, created_at FROM idempotency
		WHERE session_id = $1 AND agent_id = $2 AND idempotency_key = $3`,
		sessionID, agentID, key).
		Scan(&rec.RunID, &rec.Status, &result, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency (session_id, agent_id, idempotency_key, run_id,
			status, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, agent_id, idempotency_key) DO NOTHING`,
		rec.SessionID, rec.AgentID, rec.Key, rec.RunID, rec.Status,
		string(rec.Result), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("put idempotency: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }
