package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CheckRun represents a row in the check_runs table.
type CheckRun struct {
	ID         int    `json:"id"`
	RunID      string `json:"run_id"`
	Root       string `json:"root"`
	ToolName   string `json:"tool_name,omitempty"`
	CheckName  string `json:"check_name"`
	Passed     bool   `json:"passed"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	Signature  string `json:"signature,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int    `json:"id"`
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// LogCheckRun inserts a check run record.
func (d *DB) LogCheckRun(ctx context.Context, r CheckRun) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO check_runs (run_id, root, tool_name, check_name, passed, exit_code, duration_ms, signature, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Root, r.ToolName, r.CheckName, r.Passed, r.ExitCode, r.DurationMs, r.Signature, r.Summary,
	)
	if err != nil {
		return fmt.Errorf("log check run: %w", err)
	}
	return nil
}

// LogEvent inserts a pipeline event with its payload encoded as JSON.
func (d *DB) LogEvent(ctx context.Context, event string, payload map[string]any) error {
	detail := ""
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode event detail: %w", err)
		}
		detail = string(b)
	}
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO pipeline_events (event, detail) VALUES (?, ?)`,
		event, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// RecentCheckRuns returns up to limit check runs, newest first, optionally
// filtered by check name.
func (d *DB) RecentCheckRuns(ctx context.Context, checkName string, limit int) ([]CheckRun, error) {
	query := `SELECT id, run_id, root, tool_name, check_name, passed, exit_code, duration_ms, signature, summary, timestamp
		 FROM check_runs`
	args := []any{}
	if checkName != "" {
		query += ` WHERE check_name = ?`
		args = append(args, checkName)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get check runs: %w", err)
	}
	defer rows.Close()

	var runs []CheckRun
	for rows.Next() {
		var r CheckRun
		var toolName, signature, summary sql.NullString
		var exitCode, durationMs sql.NullInt64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Root, &toolName, &r.CheckName, &r.Passed, &exitCode, &durationMs, &signature, &summary, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		r.ToolName = toolName.String
		r.Signature = signature.String
		r.Summary = summary.String
		if exitCode.Valid {
			r.ExitCode = int(exitCode.Int64)
		}
		if durationMs.Valid {
			r.DurationMs = int(durationMs.Int64)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecentEvents returns up to limit pipeline events, newest first,
// optionally filtered by event name.
func (d *DB) RecentEvents(ctx context.Context, event string, limit int) ([]PipelineEvent, error) {
	query := `SELECT id, event, detail, timestamp FROM pipeline_events`
	args := []any{}
	if event != "" {
		query += ` WHERE event = ?`
		args = append(args, event)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get pipeline events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Event, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// RunCount returns the number of distinct gate runs in the ledger.
func (d *DB) RunCount(ctx context.Context) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(DISTINCT run_id) FROM check_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}
