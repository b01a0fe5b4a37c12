// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package store

import "context"

// TranscriptStore manages per-user conversation transcripts. Every write
// targets a single message by id; there are no cross-user operations.
type TranscriptStore interface {
	// Insert appends a message and returns its id.
	Insert(ctx context.Context, msg *Message) (string, error)

	// Update applies a partial update to one message.
	Update(ctx context.Context, id string, upd MessageUpdate) error

	// ListRecent returns the last limit messages for a user in creation order
	// (oldest first).
	ListRecent(ctx context.Context, userID string, limit int) ([]*Message, error)

	// Reset deletes a user's entire transcript. This is the only deletion
	// path; the runtime itself never removes individual messages.
	Reset(ctx context.Context, userID string) error

	Close() error
}

// ContextStore provides read access to the personal context document. The
// loop treats it as read-only input; writes happen via tool side effects.
type ContextStore interface {
	Read(ctx context.Context, userID string) (*ContextDocument, error)
	Write(ctx context.Context, userID, content string) error
	Close() error
}

// ToolCallLog is the durable audit trail of tool invocations, keyed by
// (runID, callID). Writes are best-effort from the caller's perspective.
type ToolCallLog interface {
	// Open records an invocation attempt in pending state.
	Open(ctx context.Context, rec *ToolCallRecord) error

	// CloseCall transitions a pending record to its terminal status.
	CloseCall(ctx context.Context, runID, callID string, status ToolCallStatus, errText string) error

	// ListByRun returns all records for a run in creation order.
	ListByRun(ctx context.Context, runID string) ([]*ToolCallRecord, error)

	Close() error
}
