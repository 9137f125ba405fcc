package delegate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/blockwright/internal/llm"
)

// DelegationRecord is a persisted sub-agent run, kept for review of
// what a delegate did and what it cost.
type DelegationRecord struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Task           string         `json:"task"`
	Context        string         `json:"context,omitempty"`
	Role           string         `json:"role"`
	Model          string         `json:"model"`
	Iterations     int            `json:"iterations"`
	MaxIterations  int            `json:"max_iterations"`
	InputTokens    int            `json:"input_tokens"`
	OutputTokens   int            `json:"output_tokens"`
	Success        bool           `json:"success"`
	Exhausted      bool           `json:"exhausted"`
	ToolsCalled    map[string]int `json:"tools_called,omitempty"`
	Messages       []llm.Message  `json:"messages,omitempty"`
	ResultContent  string         `json:"result_content"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	DurationMs     int64          `json:"duration_ms"`
	Error          string         `json:"error,omitempty"`
}

// DelegationStore persists delegation records in SQLite.
type DelegationStore struct {
	db    *sql.DB
	owned bool
}

// NewDelegationStore creates a delegation store on an existing
// connection and creates its table if needed. Close does not close db.
func NewDelegationStore(db *sql.DB) (*DelegationStore, error) {
	s := &DelegationStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("delegation store migrate: %w", err)
	}
	return s, nil
}

// OpenStore opens (or creates) a delegation database at path.
func OpenStore(path string) (*DelegationStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open delegation database: %w", err)
	}
	s, err := NewDelegationStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close closes the database if the store opened it.
func (s *DelegationStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *DelegationStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS delegations (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			task            TEXT NOT NULL,
			context         TEXT,
			role            TEXT NOT NULL,
			model           TEXT NOT NULL,
			iterations      INTEGER NOT NULL,
			max_iterations  INTEGER NOT NULL,
			input_tokens    INTEGER NOT NULL,
			output_tokens   INTEGER NOT NULL,
			success         BOOLEAN NOT NULL DEFAULT 0,
			exhausted       BOOLEAN NOT NULL DEFAULT 0,
			tools_called    TEXT,
			messages        TEXT,
			result_content  TEXT,
			started_at      TEXT NOT NULL,
			completed_at    TEXT NOT NULL,
			duration_ms     INTEGER NOT NULL,
			error           TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_delegations_conversation
			ON delegations(conversation_id, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_delegations_role
			ON delegations(role);
		CREATE INDEX IF NOT EXISTS idx_delegations_started
			ON delegations(started_at DESC);
	`)
	return err
}

const selectColumns = `
	SELECT id, conversation_id, task, context, role, model,
		iterations, max_iterations, input_tokens, output_tokens,
		success, exhausted, tools_called, messages, result_content,
		started_at, completed_at, duration_ms, error
	FROM delegations`

// Record inserts a delegation record.
func (s *DelegationStore) Record(ctx context.Context, rec *DelegationRecord) error {
	toolsJSON, err := json.Marshal(rec.ToolsCalled)
	if err != nil {
		return fmt.Errorf("marshal tools_called: %w", err)
	}
	msgsJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delegations (
			id, conversation_id, task, context, role, model,
			iterations, max_iterations, input_tokens, output_tokens,
			success, exhausted, tools_called, messages, result_content,
			started_at, completed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.Task, rec.Context,
		rec.Role, rec.Model,
		rec.Iterations, rec.MaxIterations,
		rec.InputTokens, rec.OutputTokens,
		rec.Success, rec.Exhausted, string(toolsJSON), string(msgsJSON),
		rec.ResultContent,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		rec.DurationMs, rec.Error,
	)
	return err
}

// Get returns a record by ID, or sql.ErrNoRows.
func (s *DelegationStore) Get(ctx context.Context, id string) (*DelegationRecord, error) {
	return scanInto(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
}

// List returns records newest first, optionally limited to one
// conversation. A limit of 0 returns everything.
func (s *DelegationStore) List(ctx context.Context, conversationID string, limit int) ([]*DelegationRecord, error) {
	query := selectColumns
	var args []any
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*DelegationRecord
	for rows.Next() {
		rec, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(s scanner) (*DelegationRecord, error) {
	var rec DelegationRecord
	var taskCtx, toolsJSON, msgsJSON, resultContent, errStr sql.NullString
	var startedAt, completedAt string

	err := s.Scan(
		&rec.ID, &rec.ConversationID, &rec.Task, &taskCtx,
		&rec.Role, &rec.Model,
		&rec.Iterations, &rec.MaxIterations,
		&rec.InputTokens, &rec.OutputTokens,
		&rec.Success, &rec.Exhausted, &toolsJSON, &msgsJSON, &resultContent,
		&startedAt, &completedAt,
		&rec.DurationMs, &errStr,
	)
	if err != nil {
		return nil, err
	}

	rec.Context = taskCtx.String
	rec.ResultContent = resultContent.String
	rec.Error = errStr.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)

	if toolsJSON.Valid && toolsJSON.String != "" {
		_ = json.Unmarshal([]byte(toolsJSON.String), &rec.ToolsCalled)
	}
	if msgsJSON.Valid && msgsJSON.String != "" {
		_ = json.Unmarshal([]byte(msgsJSON.String), &rec.Messages)
	}
	return &rec, nil
}

// ExtractToolsCalled counts tool_use blocks by tool name.
func ExtractToolsCalled(messages []llm.Message) map[string]int {
	counts := make(map[string]int)
	for _, msg := range messages {
		for _, b := range msg.Blocks {
			if b.Type == llm.BlockToolUse && b.Name != "" {
				counts[b.Name]++
			}
		}
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}
