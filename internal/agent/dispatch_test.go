// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package agent_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/agent"
	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/security"
	"github.com/valet-dev/valet/internal/store"
	"github.com/valet-dev/valet/internal/tools"
)

// fakeToolCallLog records calls in memory.
type fakeToolCallLog struct {
	opened []*store.ToolCallRecord
	closed []closedCall
	fail   error
}

type closedCall struct {
	runID, callID string
	status        store.ToolCallStatus
	errText       string
}

func (f *fakeToolCallLog) Open(_ context.Context, rec *store.ToolCallRecord) error {
	if f.fail != nil {
		return f.fail
	}
	f.opened = append(f.opened, rec)
	return nil
}

func (f *fakeToolCallLog) CloseCall(_ context.Context, runID, callID string, status store.ToolCallStatus, errText string) error {
	if f.fail != nil {
		return f.fail
	}
	f.closed = append(f.closed, closedCall{runID, callID, status, errText})
	return nil
}

func (f *fakeToolCallLog) ListByRun(_ context.Context, _ string) ([]*store.ToolCallRecord, error) {
	return nil, nil
}

func (f *fakeToolCallLog) Close() error { return nil }

func newTestDispatcher(t *testing.T, log store.ToolCallLog) (*agent.ToolDispatcher, *tools.Registry) {
	t.Helper()

	reg := tools.NewRegistry()
	reg.Register(
		&tools.Tool{
			Name:        "get_user_context",
			Title:       "Get Context",
			Description: "Reads the context document",
			Params:      tools.Params{},
			Run: func(_ context.Context, _ map[string]any, _ *auth.Principal) (string, error) {
				return "context contents", nil
			},
		},
		&tools.Tool{
			Name:   "get_weather",
			Params: tools.Params{},
			Run: func(_ context.Context, _ map[string]any, _ *auth.Principal) (string, error) {
				return "", assert.AnError
			},
		},
	)

	d, err := agent.NewToolDispatcher(security.NewAuthority(security.DefaultRequirements()), reg, log)
	require.NoError(t, err)
	return d, reg
}

func TestToolDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("authorized call succeeds and is logged", func(t *testing.T) {
		log := &fakeToolCallLog{}
		d, _ := newTestDispatcher(t, log)
		p := &auth.Principal{ClientID: "u1", Scopes: security.NewScopeSet(security.ScopeReadContext)}

		result := d.Dispatch(ctx, "run-1", "call-1", "get_user_context", "", p)
		assert.Equal(t, "context contents", result)

		require.Len(t, log.opened, 1)
		assert.Equal(t, "run-1", log.opened[0].RunID)
		assert.Equal(t, "Get Context", log.opened[0].Title)
		assert.Equal(t, store.ToolCallStatusPending, log.opened[0].Status)

		require.Len(t, log.closed, 1)
		assert.Equal(t, store.ToolCallStatusSuccess, log.closed[0].status)
		assert.Empty(t, log.closed[0].errText)
	})

	t.Run("denial surfaces the exact denial message", func(t *testing.T) {
		log := &fakeToolCallLog{}
		d, _ := newTestDispatcher(t, log)
		p := &auth.Principal{ClientID: "u1", Scopes: security.NewScopeSet(security.ScopeReadCalendar)}

		result := d.Dispatch(ctx, "run-1", "call-2", "get_user_context", "", p)
		assert.Equal(t, "Access denied: Missing required scope 'read:user-context'", result)

		require.Len(t, log.closed, 1)
		assert.Equal(t, store.ToolCallStatusError, log.closed[0].status)
		assert.Equal(t, result, log.closed[0].errText)
	})

	t.Run("executor failure becomes a tool result", func(t *testing.T) {
		log := &fakeToolCallLog{}
		d, _ := newTestDispatcher(t, log)
		p := &auth.Principal{ClientID: "u1", Scopes: security.NewScopeSet()}

		result := d.Dispatch(ctx, "run-1", "call-3", "get_weather", "", p)
		assert.True(t, strings.HasPrefix(result, "tool failed: "), "got %q", result)

		require.Len(t, log.closed, 1)
		assert.Equal(t, store.ToolCallStatusError, log.closed[0].status)
	})

	t.Run("nil log is tolerated", func(t *testing.T) {
		d, _ := newTestDispatcher(t, nil)
		p := &auth.Principal{ClientID: "u1", Scopes: security.NewScopeSet(security.ScopeReadContext)}

		result := d.Dispatch(ctx, "run-1", "call-4", "get_user_context", "", p)
		assert.Equal(t, "context contents", result)
	})

	t.Run("log failure never blocks dispatch", func(t *testing.T) {
		log := &fakeToolCallLog{fail: assert.AnError}
		d, _ := newTestDispatcher(t, log)
		p := &auth.Principal{ClientID: "u1", Scopes: security.NewScopeSet(security.ScopeReadContext)}

		result := d.Dispatch(ctx, "run-1", "call-5", "get_user_context", "", p)
		assert.Equal(t, "context contents", result)
	})

	t.Run("logged arguments are truncated", func(t *testing.T) {
		log := &fakeToolCallLog{}
		d, _ := newTestDispatcher(t, log)
		p := &auth.Principal{ClientID: "u1", Scopes: security.NewScopeSet(security.ScopeReadContext)}

		long := `{"pad":"` + strings.Repeat("x", 4096) + `"}`
		d.Dispatch(ctx, "run-1", "call-6", "get_user_context", long, p)

		require.Len(t, log.opened, 1)
		assert.LessOrEqual(t, len(log.opened[0].Arguments), 1024)
	})
}

func TestNewToolDispatcher_Validation(t *testing.T) {
	reg := tools.NewRegistry()
	authority := security.NewAuthority(nil)

	_, err := agent.NewToolDispatcher(nil, reg, nil)
	assert.Error(t, err)

	_, err = agent.NewToolDispatcher(authority, nil, nil)
	assert.Error(t, err)

	_, err = agent.NewToolDispatcher(authority, reg, nil)
	assert.NoError(t, err)
}
