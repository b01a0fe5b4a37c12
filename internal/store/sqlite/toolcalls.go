// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/valet-dev/valet/internal/store"
)

// Compile-time interface check.
var _ store.ToolCallLog = (*ToolCallLog)(nil)

// ToolCallLog implements store.ToolCallLog backed by SQLite. Rows are keyed
// by (run_id, call_id) and transition pending → success|error exactly once.
type ToolCallLog struct {
	db *sql.DB
}

// NewToolCallLog opens (or creates) a SQLite database at dbPath and
// initialises the tool_calls table.
func NewToolCallLog(dbPath string) (*ToolCallLog, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateToolCalls(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating tool call tables: %w", err)
	}

	return &ToolCallLog{db: db}, nil
}

// NewToolCallLogWithDB wraps an existing connection, migrating as needed.
func NewToolCallLogWithDB(db *sql.DB) (*ToolCallLog, error) {
	if err := migrateToolCalls(db); err != nil {
		return nil, fmt.Errorf("migrating tool call tables: %w", err)
	}
	return &ToolCallLog{db: db}, nil
}

func migrateToolCalls(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tool_calls (
	run_id      TEXT NOT NULL,
	call_id     TEXT NOT NULL,
	tool_name   TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	arguments   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (run_id, call_id)
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (l *ToolCallLog) Close() error {
	return l.db.Close()
}

// Open records an invocation attempt in pending state.
func (l *ToolCallLog) Open(ctx context.Context, rec *store.ToolCallRecord) error {
	if rec.RunID == "" || rec.CallID == "" {
		return fmt.Errorf("opening tool call record: %w: run id and call id are required", store.ErrInvalidInput)
	}

	now := time.Now().UTC()
	const q = `INSERT INTO tool_calls (run_id, call_id, tool_name, title, description, arguments, status, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`

	_, err := l.db.ExecContext(ctx, q,
		rec.RunID, rec.CallID, rec.ToolName, rec.Title, rec.Description,
		rec.Arguments, string(store.ToolCallStatusPending),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("opening tool call %s/%s: %w", rec.RunID, rec.CallID, err)
	}
	return nil
}

// CloseCall transitions a pending record to success or error. Closing a
// record that is not pending is a conflict; records never move backward.
func (l *ToolCallLog) CloseCall(ctx context.Context, runID, callID string, status store.ToolCallStatus, errText string) error {
	if status != store.ToolCallStatusSuccess && status != store.ToolCallStatusError {
		return fmt.Errorf("closing tool call %s/%s: %w: status must be terminal, got %q", runID, callID, store.ErrInvalidInput, status)
	}

	const q = `UPDATE tool_calls SET status = ?, error = ?, updated_at = ?
WHERE run_id = ? AND call_id = ? AND status = 'pending'`

	res, err := l.db.ExecContext(ctx, q,
		string(status), errText, formatTime(time.Now().UTC()), runID, callID,
	)
	if err != nil {
		return fmt.Errorf("closing tool call %s/%s: %w", runID, callID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing tool call %s/%s: %w", runID, callID, err)
	}
	if n == 0 {
		// Either the record does not exist or it already reached a terminal
		// status. Distinguish for the caller.
		var status string
		err := l.db.QueryRowContext(ctx,
			`SELECT status FROM tool_calls WHERE run_id = ? AND call_id = ?`, runID, callID,
		).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("closing tool call %s/%s: %w", runID, callID, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("closing tool call %s/%s: %w", runID, callID, err)
		}
		return fmt.Errorf("closing tool call %s/%s: already %s: %w", runID, callID, status, store.ErrConflict)
	}
	return nil
}

// ListByRun returns all records for a run in creation order.
func (l *ToolCallLog) ListByRun(ctx context.Context, runID string) ([]*store.ToolCallRecord, error) {
	const q = `SELECT run_id, call_id, tool_name, title, description, arguments, status, error, created_at, updated_at
FROM tool_calls WHERE run_id = ? ORDER BY created_at ASC, call_id ASC`

	rows, err := l.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("listing tool calls for run %s: %w", runID, err)
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var recs []*store.ToolCallRecord
	for rows.Next() {
		var r store.ToolCallRecord
		var status, createdAt, updatedAt string
		if err := rows.Scan(
			&r.RunID, &r.CallID, &r.ToolName, &r.Title, &r.Description,
			&r.Arguments, &status, &r.Error, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning tool call row: %w", err)
		}
		r.Status = store.ToolCallStatus(status)
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		recs = append(recs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool calls: %w", err)
	}
	return recs, nil
}
