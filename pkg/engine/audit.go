package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taxis-ai/taxis/pkg/core"
)

// AuditStore persists run records and their event logs in SQLite so
// runs can be inspected after the process exits. It implements
// core.EventSink; append failures are logged, never propagated, since
// auditing must not affect execution.
type AuditStore struct {
	db *sql.DB
}

// OpenAuditStore opens (or creates) the audit database at path.
func OpenAuditStore(path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store, err := NewAuditStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewAuditStore wraps an existing database handle and ensures schema.
func NewAuditStore(db *sql.DB) (*AuditStore, error) {
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &AuditStore{db: db}, nil
}

// Close closes the underlying database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// RecordRun upserts the run summary row.
func (s *AuditStore) RecordRun(ctx context.Context, result *Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, flow_type, status, query, final_output, error_text, elapsed_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			final_output = excluded.final_output,
			error_text = excluded.error_text,
			elapsed_ms = excluded.elapsed_ms,
			finished_at = excluded.finished_at
	`,
		result.RunID,
		result.FlowType,
		string(result.Status),
		result.Query,
		result.FinalOutput,
		result.ErrorText,
		result.Elapsed.Milliseconds(),
		time.Now().UTC(),
	)
	return err
}

// Append implements core.EventSink.
func (s *AuditStore) Append(ctx context.Context, event core.Event) {
	payload := ""
	if event.Payload != nil {
		if encoded, err := json.Marshal(event.Payload); err == nil {
			payload = string(encoded)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, kind, agent_id, payload_json, ts)
		VALUES (?, ?, ?, ?, ?)
	`, event.RunID, string(event.Kind), event.AgentID, payload, event.Timestamp)
	if err != nil {
		slog.Warn("audit event append failed",
			slog.String("run_id", event.RunID),
			slog.String("kind", string(event.Kind)),
			slog.String("error", err.Error()))
	}
}

// RunSummary is one persisted run row.
type RunSummary struct {
	RunID       string
	FlowType    string
	Status      string
	Query       string
	FinalOutput string
	ErrorText   string
	ElapsedMS   int64
	FinishedAt  time.Time
}

// GetRun returns the persisted summary for one run.
func (s *AuditStore) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, flow_type, status, query, final_output, error_text, elapsed_ms, finished_at
		FROM runs WHERE run_id = ?
	`, runID)

	var summary RunSummary
	var finished sql.NullTime
	if err := row.Scan(
		&summary.RunID,
		&summary.FlowType,
		&summary.Status,
		&summary.Query,
		&summary.FinalOutput,
		&summary.ErrorText,
		&summary.ElapsedMS,
		&finished,
	); err != nil {
		return nil, err
	}
	if finished.Valid {
		summary.FinishedAt = finished.Time
	}
	return &summary, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *AuditStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, flow_type, status, query, final_output, error_text, elapsed_ms, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var summary RunSummary
		var finished sql.NullTime
		if err := rows.Scan(
			&summary.RunID,
			&summary.FlowType,
			&summary.Status,
			&summary.Query,
			&summary.FinalOutput,
			&summary.ErrorText,
			&summary.ElapsedMS,
			&finished,
		); err != nil {
			return nil, err
		}
		if finished.Valid {
			summary.FinishedAt = finished.Time
		}
		runs = append(runs, summary)
	}
	return runs, rows.Err()
}

// ListEvents returns a run's events in append order.
func (s *AuditStore) ListEvents(ctx context.Context, runID string) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, agent_id, payload_json, ts
		FROM run_events WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var (
			kind    string
			agentID string
			payload string
			ts      time.Time
		)
		if err := rows.Scan(&kind, &agentID, &payload, &ts); err != nil {
			return nil, err
		}
		event := core.Event{
			Kind:      core.EventKind(kind),
			RunID:     runID,
			AgentID:   agentID,
			Timestamp: ts,
		}
		if payload != "" {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
				event.Payload = decoded
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			flow_type TEXT NOT NULL,
			status TEXT NOT NULL,
			query TEXT,
			final_output TEXT,
			error_text TEXT,
			elapsed_ms INTEGER,
			finished_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			agent_id TEXT,
			payload_json TEXT,
			ts TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`)
	return err
}

var _ core.EventSink = (*AuditStore)(nil)
