// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/store"
	"github.com/valet-dev/valet/internal/store/sqlite"
)

func newToolCallLog(t *testing.T) *sqlite.ToolCallLog {
	t.Helper()
	tl, err := sqlite.NewToolCallLog(testDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tl.Close() })
	return tl
}

func TestToolCallLog_OpenClose(t *testing.T) {
	ctx := context.Background()
	tl := newToolCallLog(t)

	rec := &store.ToolCallRecord{
		RunID:     "run-1",
		CallID:    "call-1",
		ToolName:  "get_weather",
		Title:     "Get Weather",
		Arguments: `{"location":"Berlin"}`,
	}
	require.NoError(t, tl.Open(ctx, rec))

	t.Run("open requires keys", func(t *testing.T) {
		err := tl.Open(ctx, &store.ToolCallRecord{RunID: "run-1"})
		assert.ErrorIs(t, err, store.ErrInvalidInput)
	})

	t.Run("pending after open", func(t *testing.T) {
		recs, err := tl.ListByRun(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, store.ToolCallStatusPending, recs[0].Status)
		assert.Equal(t, "Get Weather", recs[0].Title)
	})

	t.Run("close to success", func(t *testing.T) {
		require.NoError(t, tl.CloseCall(ctx, "run-1", "call-1", store.ToolCallStatusSuccess, ""))

		recs, err := tl.ListByRun(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, store.ToolCallStatusSuccess, recs[0].Status)
		assert.Empty(t, recs[0].Error)
	})

	t.Run("no backward transition", func(t *testing.T) {
		err := tl.CloseCall(ctx, "run-1", "call-1", store.ToolCallStatusError, "late failure")
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("close unknown record", func(t *testing.T) {
		err := tl.CloseCall(ctx, "run-1", "missing", store.ToolCallStatusSuccess, "")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("close requires terminal status", func(t *testing.T) {
		err := tl.CloseCall(ctx, "run-1", "call-1", store.ToolCallStatusPending, "")
		assert.ErrorIs(t, err, store.ErrInvalidInput)
	})
}

func TestToolCallLog_CloseWithError(t *testing.T) {
	ctx := context.Background()
	tl := newToolCallLog(t)

	require.NoError(t, tl.Open(ctx, &store.ToolCallRecord{
		RunID: "run-1", CallID: "call-1", ToolName: "list_tasks",
	}))
	require.NoError(t, tl.CloseCall(ctx, "run-1", "call-1", store.ToolCallStatusError,
		"Access denied: Missing required scope 'read:calendar'"))

	recs, err := tl.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.ToolCallStatusError, recs[0].Status)
	assert.Equal(t, "Access denied: Missing required scope 'read:calendar'", recs[0].Error)
}

func TestToolCallLog_ListByRun(t *testing.T) {
	ctx := context.Background()
	tl := newToolCallLog(t)

	for _, callID := range []string{"call-a", "call-b", "call-c"} {
		require.NoError(t, tl.Open(ctx, &store.ToolCallRecord{
			RunID: "run-1", CallID: callID, ToolName: "get_weather",
		}))
	}
	require.NoError(t, tl.Open(ctx, &store.ToolCallRecord{
		RunID: "run-2", CallID: "call-a", ToolName: "get_weather",
	}))

	recs, err := tl.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "call-a", recs[0].CallID)
	assert.Equal(t, "call-b", recs[1].CallID)
	assert.Equal(t, "call-c", recs[2].CallID)

	t.Run("unknown run is empty", func(t *testing.T) {
		recs, err := tl.ListByRun(ctx, "run-x")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}
