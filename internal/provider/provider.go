// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package provider

import (
	"context"
)

// Provider is the core interface for LLM providers.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
	Status(ctx context.Context) (ProviderStatus, error)
	Close() error
}

// Router routes chat requests to the appropriate provider based on model name.
type Router interface {
	Route(ctx context.Context, modelName string) (Provider, string, error)
	RegisterProvider(name string, provider Provider) error
	Close() error
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	Model        string
	Messages     []Message
	Tools        []ToolDefinition
	SystemPrompt string
	Options      ChatOptions
}

// ChatOptions contains model configuration.
type ChatOptions struct {
	Temperature   float32
	MaxTokens     int
	StopSequences []string
}

// Message represents a conversation message.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCallID string
	ToolName   string
	ToolCalls  []ToolCall // assistant turn that requested tools
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// ToolDefinition describes a tool available to the agent.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatEvent is a streaming response event. Providers emit raw deltas;
// accumulation into complete tool calls happens downstream.
type ChatEvent struct {
	Type          EventType
	Text          string
	ToolCallDelta *ToolCallDelta
	Usage         *Usage
	FinishReason  FinishReason // set on EventTypeDone
	Error         string
}

// EventType defines the type of chat event.
type EventType string

const (
	EventTypeTextDelta     EventType = "text_delta"
	EventTypeToolCallDelta EventType = "tool_call_delta"
	EventTypeUsage         EventType = "usage"
	EventTypeDone          EventType = "done"
	EventTypeError         EventType = "error"
)

// FinishReason is the model's normalized reason for ending a turn.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonLength    FinishReason = "length"
	FinishReasonOther     FinishReason = "other"
)

// ToolCallDelta is a fragment of a tool invocation. Index identifies the
// call within the turn; ID and Name arrive at most once per call, while
// ArgsFragment accumulates across deltas.
type ToolCallDelta struct {
	Index        int
	ID           string
	Name         string
	ArgsFragment string
}

// ToolCall represents a complete tool invocation by the LLM.
type ToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string // JSON
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// ModelInfo describes a model's capabilities.
type ModelInfo struct {
	ID           string
	Name         string
	Provider     string
	Capabilities ModelCapabilities
}

// ModelCapabilities declares what a model supports.
type ModelCapabilities struct {
	SupportsTools     bool
	SupportsVision    bool
	SupportsStreaming bool
	SupportsThinking  bool
	MaxContextTokens  int
	MaxOutputTokens   int
}

// ProviderStatus indicates provider health.
type ProviderStatus struct {
	Available bool
	Provider  string
	Message   string
}
