// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/valet-dev/valet/internal/store"
)

// Compile-time interface check.
var _ store.TranscriptStore = (*TranscriptStore)(nil)

// TranscriptStore implements store.TranscriptStore backed by SQLite.
type TranscriptStore struct {
	db *sql.DB
}

// NewTranscriptStore opens (or creates) a SQLite database at dbPath and
// initialises the messages table.
func NewTranscriptStore(dbPath string) (*TranscriptStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateTranscript(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating transcript tables: %w", err)
	}

	return &TranscriptStore{db: db}, nil
}

// NewTranscriptStoreWithDB wraps an existing connection, migrating as needed.
func NewTranscriptStoreWithDB(db *sql.DB) (*TranscriptStore, error) {
	if err := migrateTranscript(db); err != nil {
		return nil, fmt.Errorf("migrating transcript tables: %w", err)
	}
	return &TranscriptStore{db: db}, nil
}

func migrateTranscript(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS messages (
	rowid        INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT UNIQUE NOT NULL,
	user_id      TEXT NOT NULL,
	role         TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT 'text',
	content      TEXT NOT NULL DEFAULT '',
	streaming    INTEGER NOT NULL DEFAULT 0,
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_name    TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(user_id, created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *TranscriptStore) Close() error {
	return s.db.Close()
}

// Insert appends a message and returns its id, generating one if absent.
func (s *TranscriptStore) Insert(ctx context.Context, msg *store.Message) (string, error) {
	if msg.UserID == "" {
		return "", fmt.Errorf("inserting message: %w: user id is required", store.ErrInvalidInput)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Type == "" {
		msg.Type = store.MessageTypeText
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshalling message metadata: %w", err)
	}

	const q = `INSERT INTO messages (id, user_id, role, type, content, streaming, tool_call_id, tool_name, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		msg.ID,
		msg.UserID,
		string(msg.Role),
		string(msg.Type),
		msg.Content,
		boolToInt(msg.Streaming),
		msg.ToolCallID,
		msg.ToolName,
		string(metadata),
		formatTime(msg.CreatedAt),
		formatTime(msg.UpdatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	return msg.ID, nil
}

// Update applies a partial update to a single message by id.
func (s *TranscriptStore) Update(ctx context.Context, id string, upd store.MessageUpdate) error {
	var sets []string
	var args []any

	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Streaming != nil {
		sets = append(sets, "streaming = ?")
		args = append(args, boolToInt(*upd.Streaming))
	}
	if upd.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, string(*upd.Type))
	}
	if upd.Metadata != nil {
		metadata, err := json.Marshal(upd.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling message metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(metadata))
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now().UTC()))
	args = append(args, id)

	q := "UPDATE messages SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("updating message %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// ListRecent returns the last limit messages for a user, oldest first.
func (s *TranscriptStore) ListRecent(ctx context.Context, userID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Select the newest rows, then flip them back into creation order.
	const q = `SELECT id, user_id, role, type, content, streaming, tool_call_id, tool_name, metadata, created_at, updated_at
FROM messages WHERE user_id = ? ORDER BY rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages for user %s: %w", userID, err)
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var msgs []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Reset deletes a user's entire transcript.
func (s *TranscriptStore) Reset(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("resetting transcript for user %s: %w", userID, err)
	}
	return nil
}

func scanMessage(rows *sql.Rows) (*store.Message, error) {
	var m store.Message
	var role, typ, metadataJSON, createdAt, updatedAt string
	var streaming int

	if err := rows.Scan(
		&m.ID, &m.UserID, &role, &typ, &m.Content, &streaming,
		&m.ToolCallID, &m.ToolName, &metadataJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	m.Role = store.MessageRole(role)
	m.Type = store.MessageType(typ)
	m.Streaming = streaming != 0
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)

	if metadataJSON != "" && metadataJSON != "{}" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling message metadata: %w", err)
		}
	}
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
