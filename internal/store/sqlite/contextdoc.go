// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/valet-dev/valet/internal/store"
)

// Compile-time interface check.
var _ store.ContextStore = (*ContextStore)(nil)

// ContextStore implements store.ContextStore backed by SQLite, one document
// row per user with upsert semantics on write.
type ContextStore struct {
	db *sql.DB
}

// NewContextStore opens (or creates) a SQLite database at dbPath and
// initialises the user_context table.
func NewContextStore(dbPath string) (*ContextStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateContext(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating context tables: %w", err)
	}

	return &ContextStore{db: db}, nil
}

// NewContextStoreWithDB wraps an existing connection, migrating as needed.
func NewContextStoreWithDB(db *sql.DB) (*ContextStore, error) {
	if err := migrateContext(db); err != nil {
		return nil, fmt.Errorf("migrating context tables: %w", err)
	}
	return &ContextStore{db: db}, nil
}

func migrateContext(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS user_context (
	user_id    TEXT PRIMARY KEY,
	content    TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *ContextStore) Close() error {
	return s.db.Close()
}

// Read returns a user's context document. Missing documents map to
// store.ErrNotFound.
func (s *ContextStore) Read(ctx context.Context, userID string) (*store.ContextDocument, error) {
	const q = `SELECT user_id, content, updated_at FROM user_context WHERE user_id = ?`

	var doc store.ContextDocument
	var updatedAt string
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&doc.UserID, &doc.Content, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading context for user %s: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading context for user %s: %w", userID, err)
	}

	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

// Write upserts a user's context document.
func (s *ContextStore) Write(ctx context.Context, userID, content string) error {
	const q = `INSERT INTO user_context (user_id, content, updated_at) VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, userID, content, formatTime(time.Now().UTC())); err != nil {
		return fmt.Errorf("writing context for user %s: %w", userID, err)
	}
	return nil
}
