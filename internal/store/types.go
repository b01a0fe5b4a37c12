// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package store

import "time"

// --- Message types ---

// MessageRole identifies the sender of a message in a transcript.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// MessageType distinguishes plain conversation text from structural records
// in the transcript.
type MessageType string

const (
	// MessageTypeText is ordinary natural-language content.
	MessageTypeText MessageType = "text"
	// MessageTypeToolResult carries the output of a single tool call and
	// references the originating call via ToolCallID.
	MessageTypeToolResult MessageType = "tool_result"
	// MessageTypeState is a non-text assistant turn carrying the structured
	// tool-call list for transcript replay.
	MessageTypeState MessageType = "state"
	// MessageTypeAudio marks voice-note turns. The runtime stores but never
	// interprets them.
	MessageTypeAudio MessageType = "audio"
)

// Message is one turn in a user's transcript. Messages are totally ordered by
// creation time within a user's transcript. An assistant message is mutated
// in place while streaming (Content grows, Streaming stays true) and is
// finalized exactly once.
type Message struct {
	ID         string
	UserID     string
	Role       MessageRole
	Type       MessageType
	Content    string
	Streaming  bool
	ToolCallID string
	ToolName   string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MessageUpdate describes a partial in-place update of a single message.
// Nil fields are left untouched.
type MessageUpdate struct {
	Content   *string
	Streaming *bool
	Type      *MessageType
	Metadata  map[string]any
}

// --- Tool call log types ---

// ToolCallStatus is the lifecycle state of one tool invocation attempt.
// A record is created pending and transitions exactly once to success or
// error; it never transitions backward.
type ToolCallStatus string

const (
	ToolCallStatusPending ToolCallStatus = "pending"
	ToolCallStatusSuccess ToolCallStatus = "success"
	ToolCallStatusError   ToolCallStatus = "error"
)

// ToolCallRecord is one row per tool invocation attempt, keyed by
// (RunID, CallID).
type ToolCallRecord struct {
	RunID       string
	CallID      string
	ToolName    string
	Title       string
	Description string
	Arguments   string
	Status      ToolCallStatus
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// --- Context document ---

// ContextDocument is the personal context document read into every
// generation pass. Mutation happens only through tools.
type ContextDocument struct {
	UserID    string
	Content   string
	UpdatedAt time.Time
}
