// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package agent_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/agent"
	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/provider"
	"github.com/valet-dev/valet/internal/security"
	"github.com/valet-dev/valet/internal/store"
	"github.com/valet-dev/valet/internal/tools"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// scriptedProvider replays one event sequence per Chat call.
type scriptedProvider struct {
	turns   [][]provider.ChatEvent
	call    int
	lastReq provider.ChatRequest
	chatErr error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Available(_ context.Context) bool { return true }

func (p *scriptedProvider) Close() error { return nil }

func (p *scriptedProvider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *scriptedProvider) Status(_ context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: "scripted"}, nil
}

func (p *scriptedProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.lastReq = req
	if p.chatErr != nil {
		return nil, p.chatErr
	}
	if p.call >= len(p.turns) {
		return nil, errors.New("no scripted turn left")
	}
	evs := p.turns[p.call]
	p.call++
	return eventChan(evs...), nil
}

// fakeRouter routes every request to a single provider.
type fakeRouter struct {
	prov provider.Provider
}

func (r *fakeRouter) Route(_ context.Context, _ string) (provider.Provider, string, error) {
	return r.prov, "scripted-model", nil
}

func (r *fakeRouter) RegisterProvider(_ string, _ provider.Provider) error { return nil }

func (r *fakeRouter) Close() error { return nil }

// memTranscript is an in-memory TranscriptStore.
type memTranscript struct {
	order    []string
	messages map[string]*store.Message
	nextID   int
}

func newMemTranscript() *memTranscript {
	return &memTranscript{messages: make(map[string]*store.Message)}
}

func (m *memTranscript) Insert(_ context.Context, msg *store.Message) (string, error) {
	m.nextID++
	id := fmt.Sprintf("m%d", m.nextID)
	cp := *msg
	cp.ID = id
	m.messages[id] = &cp
	m.order = append(m.order, id)
	return id, nil
}

func (m *memTranscript) Update(_ context.Context, id string, upd store.MessageUpdate) error {
	msg, ok := m.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Content != nil {
		msg.Content = *upd.Content
	}
	if upd.Streaming != nil {
		msg.Streaming = *upd.Streaming
	}
	if upd.Type != nil {
		msg.Type = *upd.Type
	}
	if upd.Metadata != nil {
		msg.Metadata = upd.Metadata
	}
	return nil
}

func (m *memTranscript) ListRecent(_ context.Context, userID string, limit int) ([]*store.Message, error) {
	var out []*store.Message
	for _, id := range m.order {
		if m.messages[id].UserID == userID {
			out = append(out, m.messages[id])
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memTranscript) Reset(_ context.Context, userID string) error {
	keep := m.order[:0]
	for _, id := range m.order {
		if m.messages[id].UserID == userID {
			delete(m.messages, id)
			continue
		}
		keep = append(keep, id)
	}
	m.order = keep
	return nil
}

func (m *memTranscript) Close() error { return nil }

func (m *memTranscript) byID(id string) *store.Message { return m.messages[id] }

// memContext is an in-memory ContextStore.
type memContext struct {
	docs map[string]string
}

func (m *memContext) Read(_ context.Context, userID string) (*store.ContextDocument, error) {
	content, ok := m.docs[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.ContextDocument{UserID: userID, Content: content}, nil
}

func (m *memContext) Write(_ context.Context, userID, content string) error {
	m.docs[userID] = content
	return nil
}

func (m *memContext) Close() error { return nil }

func newLoopRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(
		&tools.Tool{
			Name:   "get_weather",
			Params: tools.Params{},
			Run: func(_ context.Context, _ map[string]any, _ *auth.Principal) (string, error) {
				return "Sunny, 22C", nil
			},
		},
		&tools.Tool{
			Name:   "list_calendar_events",
			Params: tools.Params{},
			Run: func(_ context.Context, _ map[string]any, _ *auth.Principal) (string, error) {
				return "no events", nil
			},
		},
	)
	return reg
}

func newTestLoop(t *testing.T, prov *scriptedProvider, transcript *memTranscript, ctxStore store.ContextStore, maxIterations int) *agent.Loop {
	t.Helper()

	reg := newLoopRegistry()
	dispatcher, err := agent.NewToolDispatcher(security.NewAuthority(security.DefaultRequirements()), reg, nil)
	require.NoError(t, err)

	loop, err := agent.NewLoop(agent.LoopConfig{
		Router:        &fakeRouter{prov: prov},
		Transcript:    transcript,
		Context:       ctxStore,
		Registry:      reg,
		Dispatcher:    dispatcher,
		MaxIterations: maxIterations,
	})
	require.NoError(t, err)
	return loop
}

func finalTurn(text string, usage *provider.Usage) []provider.ChatEvent {
	return []provider.ChatEvent{
		{Type: provider.EventTypeTextDelta, Text: text},
		{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop, Usage: usage},
	}
}

func toolCallTurn(callID, name, args string) []provider.ChatEvent {
	return []provider.ChatEvent{
		{Type: provider.EventTypeToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, ID: callID, Name: name, ArgsFragment: args}},
		{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
	}
}

func allScopesPrincipal() *auth.Principal {
	return &auth.Principal{ClientID: "u1", Scopes: security.NewScopeSet(security.AllScopes()...)}
}

func TestLoop_FinalAnswer(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{turns: [][]provider.ChatEvent{
		finalTurn("Hi there!", &provider.Usage{InputTokens: 12, OutputTokens: 4}),
	}}
	loop := newTestLoop(t, prov, transcript, nil, 0)

	out, err := loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "hello"}, allScopesPrincipal())
	require.NoError(t, err)

	assert.Equal(t, "Hi there!", out.Content)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 12, out.Usage.InputTokens)
	assert.Equal(t, 4, out.Usage.OutputTokens)

	// Transcript: user message, then the finalized assistant message.
	msgs, err := transcript.ListRecent(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, store.MessageRoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there!", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)
}

func TestLoop_ToolCallThenFinal(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{turns: [][]provider.ChatEvent{
		toolCallTurn("call-1", "get_weather", "{}"),
		finalTurn("It is sunny.", &provider.Usage{InputTokens: 8, OutputTokens: 3}),
	}}
	loop := newTestLoop(t, prov, transcript, nil, 0)

	out, err := loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "weather?"}, allScopesPrincipal())
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", out.Content)

	msgs, err := transcript.ListRecent(context.Background(), "u1", 10)
	require.NoError(t, err)
	// user, state marker, tool result, final assistant.
	require.Len(t, msgs, 4)

	assert.Equal(t, store.MessageTypeState, msgs[1].Type)
	assert.False(t, msgs[1].Streaming)
	require.Contains(t, msgs[1].Metadata, "toolCalls")

	assert.Equal(t, store.MessageRoleTool, msgs[2].Role)
	assert.Equal(t, "Sunny, 22C", msgs[2].Content)
	assert.Equal(t, "call-1", msgs[2].ToolCallID)

	assert.Equal(t, "It is sunny.", msgs[3].Content)
	assert.False(t, msgs[3].Streaming)
}

func TestLoop_HistoryReplaysToolCallTurns(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{turns: [][]provider.ChatEvent{
		toolCallTurn("call-1", "get_weather", "{}"),
		finalTurn("It is sunny.", nil),
		finalTurn("You're welcome.", nil),
	}}
	loop := newTestLoop(t, prov, transcript, nil, 0)

	_, err := loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "weather?"}, allScopesPrincipal())
	require.NoError(t, err)

	_, err = loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "thanks"}, allScopesPrincipal())
	require.NoError(t, err)

	// The second request replays the first exchange: the state marker
	// becomes an assistant message carrying the tool calls, so the tool
	// result that follows it stays paired.
	msgs := prov.lastReq.Messages
	require.Len(t, msgs, 5)

	assert.Equal(t, provider.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, "weather?", msgs[0].Content)

	assert.Equal(t, provider.MessageRoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call-1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "get_weather", msgs[1].ToolCalls[0].Name)

	assert.Equal(t, provider.MessageRoleTool, msgs[2].Role)
	assert.Equal(t, "call-1", msgs[2].ToolCallID)
	assert.Equal(t, "Sunny, 22C", msgs[2].Content)

	assert.Equal(t, provider.MessageRoleAssistant, msgs[3].Role)
	assert.Equal(t, "It is sunny.", msgs[3].Content)

	assert.Equal(t, provider.MessageRoleUser, msgs[4].Role)
	assert.Equal(t, "thanks", msgs[4].Content)
}

func TestLoop_HistoryDropsOrphanToolResults(t *testing.T) {
	transcript := newMemTranscript()

	// A tool result whose assistant tool-call message fell out of the
	// history window must not reach the provider unpaired.
	_, err := transcript.Insert(context.Background(), &store.Message{
		UserID:     "u1",
		Role:       store.MessageRoleTool,
		Content:    "Sunny, 22C",
		ToolCallID: "call-gone",
	})
	require.NoError(t, err)

	prov := &scriptedProvider{turns: [][]provider.ChatEvent{
		finalTurn("Hello.", nil),
	}}
	loop := newTestLoop(t, prov, transcript, nil, 0)

	_, err = loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "hi"}, allScopesPrincipal())
	require.NoError(t, err)

	for _, m := range prov.lastReq.Messages {
		assert.NotEqual(t, provider.MessageRoleTool, m.Role)
	}
}

func TestLoop_DenialSurfacesAsToolResult(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{turns: [][]provider.ChatEvent{
		toolCallTurn("call-1", "list_calendar_events", "{}"),
		finalTurn("I cannot see your calendar.", nil),
	}}
	loop := newTestLoop(t, prov, transcript, nil, 0)

	// Principal without any calendar scope.
	p := &auth.Principal{ClientID: "u1", Scopes: security.NewScopeSet(security.ScopeReadContext)}

	_, err := loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "my events?"}, p)
	require.NoError(t, err)

	msgs, err := transcript.ListRecent(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, store.MessageRoleTool, msgs[2].Role)
	assert.Equal(t, "Access denied: Missing required scope 'read:calendar'", msgs[2].Content)
}

func TestLoop_IterationLimit(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{turns: [][]provider.ChatEvent{
		toolCallTurn("call-1", "get_weather", "{}"),
		toolCallTurn("call-2", "get_weather", "{}"),
	}}
	loop := newTestLoop(t, prov, transcript, nil, 2)

	out, err := loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "loop"}, allScopesPrincipal())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, valeterr.CodeAgentLoopLimitExceeded, valeterr.CodeOf(err))

	// The open placeholder was finalized with the limit message.
	msgs, listErr := transcript.ListRecent(context.Background(), "u1", 20)
	require.NoError(t, listErr)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "Tool loop limit reached. The conversation so far has been kept; please continue with a new message.", last.Content)
	assert.False(t, last.Streaming)
	assert.Equal(t, true, last.Metadata["error"])
}

func TestLoop_ProviderFailureFinalizesPlaceholder(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{chatErr: errors.New("connection refused")}
	loop := newTestLoop(t, prov, transcript, nil, 0)

	_, err := loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "hi"}, allScopesPrincipal())
	require.Error(t, err)

	msgs, listErr := transcript.ListRecent(context.Background(), "u1", 10)
	require.NoError(t, listErr)
	require.Len(t, msgs, 2)
	last := msgs[1]
	assert.True(t, strings.HasPrefix(last.Content, "The assistant run failed: "), "got %q", last.Content)
	assert.False(t, last.Streaming)
}

func TestLoop_CancellationLeavesPlaceholderStreaming(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{chatErr: context.Canceled}
	loop := newTestLoop(t, prov, transcript, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.ProcessMessage(ctx, agent.InboundMessage{UserID: "u1", Content: "hi"}, allScopesPrincipal())
	require.Error(t, err)

	msgs, listErr := transcript.ListRecent(context.Background(), "u1", 10)
	require.NoError(t, listErr)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Streaming)
	assert.Empty(t, msgs[1].Content)
}

func TestLoop_ContextDocumentInSystemPrompt(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{turns: [][]provider.ChatEvent{
		finalTurn("Noted.", nil),
	}}
	ctxStore := &memContext{docs: map[string]string{"u1": "Prefers green tea over coffee."}}
	loop := newTestLoop(t, prov, transcript, ctxStore, 0)

	_, err := loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "hi"}, allScopesPrincipal())
	require.NoError(t, err)
	assert.Contains(t, prov.lastReq.SystemPrompt, "Prefers green tea over coffee.")
}

func TestLoop_MissingContextDocumentTolerated(t *testing.T) {
	transcript := newMemTranscript()
	prov := &scriptedProvider{turns: [][]provider.ChatEvent{
		finalTurn("Hello.", nil),
	}}
	ctxStore := &memContext{docs: map[string]string{}}
	loop := newTestLoop(t, prov, transcript, ctxStore, 0)

	out, err := loop.ProcessMessage(context.Background(), agent.InboundMessage{UserID: "u1", Content: "hi"}, allScopesPrincipal())
	require.NoError(t, err)
	assert.Equal(t, "Hello.", out.Content)
}

func TestLoop_ValidatesInput(t *testing.T) {
	transcript := newMemTranscript()
	loop := newTestLoop(t, &scriptedProvider{}, transcript, nil, 0)

	cases := []struct {
		name string
		msg  agent.InboundMessage
		p    *auth.Principal
	}{
		{"missing content", agent.InboundMessage{UserID: "u1"}, allScopesPrincipal()},
		{"missing user id", agent.InboundMessage{Content: "hi"}, allScopesPrincipal()},
		{"missing principal", agent.InboundMessage{UserID: "u1", Content: "hi"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loop.ProcessMessage(context.Background(), tc.msg, tc.p)
			require.Error(t, err)
			assert.Equal(t, valeterr.CodeAgentLoopInvalidInput, valeterr.CodeOf(err))
		})
	}
}
