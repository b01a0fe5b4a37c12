// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

// Package agent contains the tool-call orchestration runtime: the streaming
// aggregator, the tool dispatcher, and the loop controller that drives
// repeated generation passes until a final answer or the iteration bound.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/provider"
	"github.com/valet-dev/valet/internal/store"
	"github.com/valet-dev/valet/internal/tools"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// DefaultMaxIterations bounds generation passes per inbound message.
// Exceeding it is a defined terminal state, not an exception.
const DefaultMaxIterations = 4

// DefaultHistoryLimit is how many recent transcript messages feed each
// generation pass.
const DefaultHistoryLimit = 50

// limitReachedMessage finalizes the placeholder when the iteration bound is
// hit, so the transcript never ends on a streaming placeholder.
const limitReachedMessage = "Tool loop limit reached. The conversation so far has been kept; please continue with a new message."

// defaultSystemPrompt is used when no prompt is configured.
const defaultSystemPrompt = "You are a helpful personal assistant. Use the available tools when they help answer the user."

// Notifier delivers a fire-and-forget completion signal. Implementations
// must not block.
type Notifier interface {
	Done(userID, text string)
}

// InboundMessage is the input to the loop controller.
type InboundMessage struct {
	UserID  string
	Content string
	Model   string // optional "provider/model" override
}

// OutboundMessage is the final outcome of one inbound message.
type OutboundMessage struct {
	MessageID string
	Content   string
	Usage     *provider.Usage
}

// LoopConfig holds dependencies for the Loop.
type LoopConfig struct {
	Router        provider.Router
	Transcript    store.TranscriptStore
	Context       store.ContextStore
	Registry      *tools.Registry
	Dispatcher    *ToolDispatcher
	Notifier      Notifier // optional
	SystemPrompt  string
	MaxIterations int
	HistoryLimit  int
	FlushInterval time.Duration
	Temperature   float32
}

// Loop drives the generate → maybe-execute-tools → regenerate cycle for one
// inbound message at a time. Instances are safe for concurrent use across
// users; all mutable state is per-call.
type Loop struct {
	router        provider.Router
	transcript    store.TranscriptStore
	contextStore  store.ContextStore
	registry      *tools.Registry
	dispatcher    *ToolDispatcher
	notifier      Notifier
	systemPrompt  string
	maxIterations int
	historyLimit  int
	flushInterval time.Duration
	temperature   float32
}

// NewLoop creates a Loop with the given dependencies.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Router == nil {
		return nil, valeterr.New(valeterr.CodeAgentLoopInvalidInput, "Router is required")
	}
	if cfg.Transcript == nil {
		return nil, valeterr.New(valeterr.CodeAgentLoopInvalidInput, "Transcript store is required")
	}
	if cfg.Registry == nil {
		return nil, valeterr.New(valeterr.CodeAgentLoopInvalidInput, "Registry is required")
	}
	if cfg.Dispatcher == nil {
		return nil, valeterr.New(valeterr.CodeAgentLoopInvalidInput, "Dispatcher is required")
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	histLimit := cfg.HistoryLimit
	if histLimit <= 0 {
		histLimit = DefaultHistoryLimit
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	return &Loop{
		router:        cfg.Router,
		transcript:    cfg.Transcript,
		contextStore:  cfg.Context,
		registry:      cfg.Registry,
		dispatcher:    cfg.Dispatcher,
		notifier:      cfg.Notifier,
		systemPrompt:  prompt,
		maxIterations: maxIter,
		historyLimit:  histLimit,
		flushInterval: cfg.FlushInterval,
		temperature:   cfg.Temperature,
	}, nil
}

// ProcessMessage runs the full state machine for one inbound message. The
// user message is persisted before generation starts; whatever happens
// afterwards, the open placeholder is finalized on every error path except
// caller cancellation, which deliberately leaves it streaming for a later
// read to recover.
func (l *Loop) ProcessMessage(ctx context.Context, msg InboundMessage, p *auth.Principal) (*OutboundMessage, error) {
	if err := validateInput(msg, p); err != nil {
		return nil, err
	}

	runID := p.Extra.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	// Persist the user turn first: it must survive any downstream failure.
	userMsg := &store.Message{
		UserID:  msg.UserID,
		Role:    store.MessageRoleUser,
		Type:    store.MessageTypeText,
		Content: msg.Content,
	}
	if _, err := l.transcript.Insert(ctx, userMsg); err != nil {
		return nil, valeterr.Wrapf(err, valeterr.CodeAgentLoopFailure, "persisting user message for %s", msg.UserID)
	}

	history, systemPrompt, err := l.loadHistory(ctx, msg.UserID)
	if err != nil {
		return nil, err
	}

	placeholderID, err := l.newPlaceholder(ctx, msg.UserID)
	if err != nil {
		return nil, err
	}

	out, lastPlaceholder, err := l.run(ctx, msg, p, runID, systemPrompt, history, placeholderID)
	if err != nil {
		// The iteration-limit path is a defined terminal state: run has
		// already finalized its placeholder with the limit message, and
		// overwriting it here would erase that state.
		if valeterr.CodeOf(err) != valeterr.CodeAgentLoopLimitExceeded {
			l.finalizeOnError(ctx, lastPlaceholder, err)
		}
		return nil, err
	}
	return out, nil
}

// run executes up to maxIterations generation passes. It always returns the
// id of the most recently opened placeholder so the caller can finalize it
// on error.
func (l *Loop) run(ctx context.Context, msg InboundMessage, p *auth.Principal, runID, systemPrompt string, messages []provider.Message, placeholderID string) (*OutboundMessage, string, error) {
	var usage *provider.Usage

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		result, err := l.generate(ctx, msg.Model, systemPrompt, messages, placeholderID)
		if err != nil {
			return nil, placeholderID, err
		}
		if result.Usage != nil {
			usage = addUsage(usage, result.Usage)
		}

		if result.Kind == TurnFinal {
			if err := l.finalize(ctx, placeholderID, result.Text, usage); err != nil {
				return nil, placeholderID, err
			}
			if l.notifier != nil {
				l.notifier.Done(msg.UserID, result.Text)
			}
			return &OutboundMessage{
				MessageID: placeholderID,
				Content:   result.Text,
				Usage:     usage,
			}, placeholderID, nil
		}

		// Tool-call turn: convert the placeholder into a state-marker record
		// carrying the structured call list, for transcript replay.
		if err := l.markToolCalls(ctx, placeholderID, result); err != nil {
			return nil, placeholderID, err
		}

		messages = append(messages, provider.Message{
			Role:      provider.MessageRoleAssistant,
			Content:   result.Text,
			ToolCalls: result.Calls,
		})

		// Execute calls strictly sequentially so side effects stay
		// individually auditable.
		for _, call := range result.Calls {
			content := l.dispatcher.Dispatch(ctx, runID, call.ID, call.Name, call.Arguments, p)

			toolMsg := &store.Message{
				UserID:     msg.UserID,
				Role:       store.MessageRoleTool,
				Type:       store.MessageTypeToolResult,
				Content:    content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			}
			if _, err := l.transcript.Insert(ctx, toolMsg); err != nil {
				return nil, placeholderID, valeterr.Wrapf(err, valeterr.CodeAgentLoopFailure, "persisting tool result for call %s", call.ID)
			}

			messages = append(messages, provider.Message{
				Role:       provider.MessageRoleTool,
				Content:    content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}

		// New placeholder for the next pass.
		placeholderID, err = l.newPlaceholder(ctx, msg.UserID)
		if err != nil {
			return nil, placeholderID, err
		}
	}

	// Iteration bound reached: a defined terminal state. Finalize the open
	// placeholder with the limit message and report failure.
	if err := l.finalizeWithMetadata(ctx, placeholderID, limitReachedMessage, map[string]any{"error": true}); err != nil {
		slog.Error("finalizing limit-reached placeholder failed", "error", err, "message_id", placeholderID)
	}
	return nil, placeholderID, valeterr.New(
		valeterr.CodeAgentLoopLimitExceeded,
		"tool loop limit reached after "+strconv.Itoa(l.maxIterations)+" iterations",
		valeterr.FieldUserID(msg.UserID),
		valeterr.FieldRunID(runID),
	)
}

// generate runs one streaming pass, flushing partial text into the
// placeholder at a throttled rate.
func (l *Loop) generate(ctx context.Context, model, systemPrompt string, messages []provider.Message, placeholderID string) (*TurnResult, error) {
	prov, resolvedModel, err := l.router.Route(ctx, model)
	if err != nil {
		return nil, valeterr.Wrap(err, valeterr.CodeAgentLoopFailure, "routing provider")
	}

	req := provider.ChatRequest{
		Model:        resolvedModel,
		Messages:     messages,
		Tools:        l.registry.Definitions(),
		SystemPrompt: systemPrompt,
		Options: provider.ChatOptions{
			Temperature: l.temperature,
		},
	}

	events, err := prov.Chat(ctx, req)
	if err != nil {
		return nil, valeterr.Wrapf(err, valeterr.CodeProviderUpstreamFailure, "chat call to %s", prov.Name())
	}

	agg := NewAggregator(l.flushInterval, func(fctx context.Context, text string) error {
		return l.transcript.Update(fctx, placeholderID, store.MessageUpdate{Content: &text})
	})
	return agg.Consume(ctx, events)
}

// loadHistory builds the provider message array from recent transcript
// turns, and folds the current context document into the system prompt so
// it reaches every provider regardless of how they treat system messages.
func (l *Loop) loadHistory(ctx context.Context, userID string) ([]provider.Message, string, error) {
	recent, err := l.transcript.ListRecent(ctx, userID, l.historyLimit)
	if err != nil {
		return nil, "", valeterr.Wrapf(err, valeterr.CodeAgentLoopFailure, "loading transcript for %s", userID)
	}

	systemPrompt := l.systemPrompt
	if l.contextStore != nil {
		doc, err := l.contextStore.Read(ctx, userID)
		switch {
		case err == nil && doc.Content != "":
			systemPrompt += "\n\nThe user's context document:\n" + doc.Content
		case err != nil && !errors.Is(err, store.ErrNotFound):
			// Context is an input, not a dependency; log and continue.
			slog.Warn("reading context document failed", "error", err, "user_id", userID)
		}
	}

	var messages []provider.Message
	var openCalls map[string]bool
	for _, m := range recent {
		pm, ok := toProviderMessage(m)
		if !ok {
			continue
		}
		switch pm.Role {
		case provider.MessageRoleTool:
			// Providers reject tool results that do not answer a preceding
			// assistant tool-call message; the history window or a dropped
			// state marker can orphan one.
			if !openCalls[pm.ToolCallID] {
				continue
			}
		case provider.MessageRoleAssistant:
			openCalls = nil
			if len(pm.ToolCalls) > 0 {
				openCalls = make(map[string]bool, len(pm.ToolCalls))
				for _, c := range pm.ToolCalls {
					openCalls[c.ID] = true
				}
			}
		default:
			openCalls = nil
		}
		messages = append(messages, pm)
	}
	return messages, systemPrompt, nil
}

// toProviderMessage converts a stored message for the LLM. Streaming
// placeholders are skipped as unfinished; state markers are replayed as the
// assistant tool-call turn they record, so the tool results that follow
// them stay paired with their calls.
func toProviderMessage(m *store.Message) (provider.Message, bool) {
	if m.Streaming {
		return provider.Message{}, false
	}
	if m.Type == store.MessageTypeState {
		return stateToProviderMessage(m)
	}
	switch m.Role {
	case store.MessageRoleUser:
		return provider.Message{Role: provider.MessageRoleUser, Content: m.Content}, true
	case store.MessageRoleAssistant:
		return provider.Message{Role: provider.MessageRoleAssistant, Content: m.Content}, true
	case store.MessageRoleTool:
		return provider.Message{
			Role:       provider.MessageRoleTool,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}, true
	default:
		return provider.Message{}, false
	}
}

// stateToProviderMessage rebuilds the assistant tool-call message from a
// state marker's recorded call list. The metadata round-trips through JSON
// because sqlite-loaded rows and freshly written ones decode to different
// concrete types. Markers without a usable call list are dropped; the
// orphan guard in loadHistory then drops their tool results too.
func stateToProviderMessage(m *store.Message) (provider.Message, bool) {
	raw, ok := m.Metadata["toolCalls"]
	if !ok {
		return provider.Message{}, false
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return provider.Message{}, false
	}

	var recorded []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
	if err := json.Unmarshal(buf, &recorded); err != nil || len(recorded) == 0 {
		return provider.Message{}, false
	}

	calls := make([]provider.ToolCall, 0, len(recorded))
	for i, c := range recorded {
		if c.ID == "" || c.Name == "" {
			return provider.Message{}, false
		}
		calls = append(calls, provider.ToolCall{
			Index:     i,
			ID:        c.ID,
			Name:      c.Name,
			Arguments: c.Arguments,
		})
	}

	return provider.Message{
		Role:      provider.MessageRoleAssistant,
		Content:   m.Content,
		ToolCalls: calls,
	}, true
}

// newPlaceholder inserts an empty streaming assistant message.
func (l *Loop) newPlaceholder(ctx context.Context, userID string) (string, error) {
	m := &store.Message{
		UserID:    userID,
		Role:      store.MessageRoleAssistant,
		Type:      store.MessageTypeText,
		Streaming: true,
	}
	id, err := l.transcript.Insert(ctx, m)
	if err != nil {
		return "", valeterr.Wrapf(err, valeterr.CodeAgentLoopFailure, "creating placeholder for %s", userID)
	}
	return id, nil
}

// finalize writes the full text and clears the streaming flag.
func (l *Loop) finalize(ctx context.Context, id, text string, usage *provider.Usage) error {
	var meta map[string]any
	if usage != nil {
		meta = map[string]any{
			"usage": map[string]any{
				"inputTokens":  usage.InputTokens,
				"outputTokens": usage.OutputTokens,
			},
		}
	}
	if err := l.finalizeWithMetadata(ctx, id, text, meta); err != nil {
		return valeterr.Wrapf(err, valeterr.CodeAgentLoopFailure, "finalizing message %s", id)
	}
	return nil
}

func (l *Loop) finalizeWithMetadata(ctx context.Context, id, text string, meta map[string]any) error {
	streaming := false
	return l.transcript.Update(ctx, id, store.MessageUpdate{
		Content:   &text,
		Streaming: &streaming,
		Metadata:  meta,
	})
}

// markToolCalls converts the placeholder into a state-marker record with
// the structured call list.
func (l *Loop) markToolCalls(ctx context.Context, id string, result *TurnResult) error {
	calls := make([]map[string]any, 0, len(result.Calls))
	for _, c := range result.Calls {
		calls = append(calls, map[string]any{
			"id":        c.ID,
			"name":      c.Name,
			"arguments": c.Arguments,
		})
	}

	streaming := false
	stateType := store.MessageTypeState
	err := l.transcript.Update(ctx, id, store.MessageUpdate{
		Content:   &result.Text,
		Streaming: &streaming,
		Type:      &stateType,
		Metadata:  map[string]any{"toolCalls": calls},
	})
	if err != nil {
		return valeterr.Wrapf(err, valeterr.CodeAgentLoopFailure, "recording tool-call turn %s", id)
	}
	return nil
}

// finalizeOnError closes the open placeholder with the error text so the
// user is never left with a perpetually streaming message. Caller
// cancellation is the one exception: the placeholder stays streaming, in
// its last-flushed state, recoverable by a later read.
func (l *Loop) finalizeOnError(ctx context.Context, placeholderID string, cause error) {
	if placeholderID == "" || errors.Is(cause, context.Canceled) || ctx.Err() != nil {
		return
	}

	// The request context may be about to expire; give the write its own
	// short deadline.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	text := "The assistant run failed: " + cause.Error()
	if err := l.finalizeWithMetadata(fctx, placeholderID, text, map[string]any{"error": true}); err != nil {
		slog.Error("finalizing errored placeholder failed", "error", err, "message_id", placeholderID)
	}
}

func validateInput(msg InboundMessage, p *auth.Principal) error {
	var missing []string
	if msg.UserID == "" {
		missing = append(missing, "UserID")
	}
	if msg.Content == "" {
		missing = append(missing, "Content")
	}
	if p == nil {
		missing = append(missing, "Principal")
	}
	if len(missing) > 0 {
		return valeterr.New(
			valeterr.CodeAgentLoopInvalidInput,
			"missing required fields: "+strings.Join(missing, ", "),
		)
	}
	return nil
}

// addUsage accumulates token usage across generation passes.
func addUsage(total, delta *provider.Usage) *provider.Usage {
	if total == nil {
		t := *delta
		return &t
	}
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	total.CacheReadTokens += delta.CacheReadTokens
	total.CacheWriteTokens += delta.CacheWriteTokens
	return total
}
