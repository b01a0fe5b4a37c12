// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/agent"
	"github.com/valet-dev/valet/internal/provider"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

func eventChan(events ...provider.ChatEvent) <-chan provider.ChatEvent {
	ch := make(chan provider.ChatEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestAggregator_FinalAnswer(t *testing.T) {
	agg := agent.NewAggregator(0, nil)

	result, err := agg.Consume(context.Background(), eventChan(
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "Hello"},
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: ", "},
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "world"},
		provider.ChatEvent{
			Type:         provider.EventTypeDone,
			FinishReason: provider.FinishReasonStop,
			Usage:        &provider.Usage{InputTokens: 10, OutputTokens: 3},
		},
	))
	require.NoError(t, err)

	assert.Equal(t, agent.TurnFinal, result.Kind)
	assert.Equal(t, "Hello, world", result.Text)
	assert.Empty(t, result.Calls)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 10, result.Usage.InputTokens)
	assert.Equal(t, 3, result.Usage.OutputTokens)
}

func TestAggregator_ToolCalls(t *testing.T) {
	agg := agent.NewAggregator(0, nil)

	// Deltas for the second call arrive interleaved with the first, and the
	// id for call 0 only arrives on a later fragment.
	result, err := agg.Consume(context.Background(), eventChan(
		provider.ChatEvent{Type: provider.EventTypeToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, Name: "get_weather"}},
		provider.ChatEvent{Type: provider.EventTypeToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 1, ID: "call_2", Name: "list_tasks"}},
		provider.ChatEvent{Type: provider.EventTypeToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, ID: "call_1", ArgsFragment: `{"location":`}},
		provider.ChatEvent{Type: provider.EventTypeToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, ArgsFragment: `"Berlin"}`}},
		provider.ChatEvent{Type: provider.EventTypeToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 1, ArgsFragment: `{}`}},
		provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
	))
	require.NoError(t, err)

	assert.Equal(t, agent.TurnToolCalls, result.Kind)
	require.Len(t, result.Calls, 2)
	assert.Equal(t, "call_1", result.Calls[0].ID)
	assert.Equal(t, "get_weather", result.Calls[0].Name)
	assert.Equal(t, `{"location":"Berlin"}`, result.Calls[0].Arguments)
	assert.Equal(t, "call_2", result.Calls[1].ID)
	assert.Equal(t, "list_tasks", result.Calls[1].Name)
}

func TestAggregator_IncompleteToolCall(t *testing.T) {
	agg := agent.NewAggregator(0, nil)

	_, err := agg.Consume(context.Background(), eventChan(
		provider.ChatEvent{Type: provider.EventTypeToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, ArgsFragment: `{}`}},
		provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
	))
	require.Error(t, err)
	assert.Equal(t, valeterr.CodeAgentProtocolViolation, valeterr.CodeOf(err))
}

func TestAggregator_EmptyToolCallFinish(t *testing.T) {
	agg := agent.NewAggregator(0, nil)

	// A tool_calls finish without a single tool-call delta is a malformed
	// provider turn, not an empty final answer.
	_, err := agg.Consume(context.Background(), eventChan(
		provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
	))
	require.Error(t, err)
	assert.Equal(t, valeterr.CodeAgentProtocolViolation, valeterr.CodeOf(err))
}

func TestAggregator_ProviderError(t *testing.T) {
	agg := agent.NewAggregator(0, nil)

	_, err := agg.Consume(context.Background(), eventChan(
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "partial"},
		provider.ChatEvent{Type: provider.EventTypeError, Error: "upstream returned 529"},
	))
	require.Error(t, err)
	assert.Equal(t, valeterr.CodeProviderUpstreamFailure, valeterr.CodeOf(err))
	assert.Contains(t, err.Error(), "upstream returned 529")
}

func TestAggregator_ThrottledFlush(t *testing.T) {
	var flushed []string
	agg := agent.NewAggregator(time.Second, func(_ context.Context, text string) error {
		flushed = append(flushed, text)
		return nil
	})

	// Scripted time: one reading for the initial lastFlush, one per text
	// delta for the throttle check, one after the triggered flush. Only the
	// third delta lands past the interval.
	base := time.Unix(1000, 0)
	script := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 5 * time.Second, 5 * time.Second}
	var calls int
	agg.SetNowFunc(func() time.Time {
		i := calls
		if i >= len(script) {
			i = len(script) - 1
		}
		calls++
		return base.Add(script[i])
	})

	result, err := agg.Consume(context.Background(), eventChan(
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "a"},
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "b"},
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "c"},
		provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop},
	))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "abc", result.Text)
	// One throttled flush plus the unconditional final flush.
	require.Len(t, flushed, 2)
	assert.Equal(t, "abc", flushed[0])
	assert.Equal(t, "abc", flushed[1])
}

func TestAggregator_FlushFailureSwallowed(t *testing.T) {
	agg := agent.NewAggregator(time.Second, func(_ context.Context, _ string) error {
		return assert.AnError
	})

	result, err := agg.Consume(context.Background(), eventChan(
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "text"},
		provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop},
	))
	require.NoError(t, err)
	assert.Equal(t, "text", result.Text)
}
