// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package agent

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/valet-dev/valet/internal/provider"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// DefaultFlushInterval bounds how often streamed text is persisted. Readers
// may observe text stale by up to one interval, never corrupted or
// out of order.
const DefaultFlushInterval = time.Second

// TurnKind classifies the terminal shape of one generation pass.
type TurnKind string

const (
	// TurnFinal is a finished natural-language answer.
	TurnFinal TurnKind = "final"
	// TurnToolCalls is an assistant turn requesting one or more tool calls.
	TurnToolCalls TurnKind = "tool_calls"
)

// TurnResult is the reduced outcome of one generation pass.
type TurnResult struct {
	Kind         TurnKind
	Text         string
	Calls        []provider.ToolCall // index order, only for TurnToolCalls
	Usage        *provider.Usage
	FinishReason provider.FinishReason
}

// FlushFunc persists the text accumulated so far. Failures are logged and
// swallowed; a persistence problem never interrupts the stream.
type FlushFunc func(ctx context.Context, text string) error

// Aggregator reduces a provider delta stream into a TurnResult. Tool calls
// are accumulated by positional index, not call id, because the id may
// arrive after the first fragment of a call.
type Aggregator struct {
	interval time.Duration
	flush    FlushFunc
	nowFunc  func() time.Time // for testing
}

// callAccum is one partially-accumulated tool call.
type callAccum struct {
	id   string
	name strings.Builder
	args strings.Builder
}

// NewAggregator creates an Aggregator. flush may be nil when the caller has
// no use for partial text; interval <= 0 falls back to DefaultFlushInterval.
func NewAggregator(interval time.Duration, flush FlushFunc) *Aggregator {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Aggregator{
		interval: interval,
		flush:    flush,
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (a *Aggregator) SetNowFunc(fn func() time.Time) { a.nowFunc = fn }

// Consume drains the event channel and reduces it to a TurnResult.
// Provider errors and protocol violations abort with no result; everything
// else yields exactly one TurnFinal or TurnToolCalls.
func (a *Aggregator) Consume(ctx context.Context, events <-chan provider.ChatEvent) (*TurnResult, error) {
	var (
		text      strings.Builder
		calls     = make(map[int]*callAccum)
		usage     *provider.Usage
		finish    = provider.FinishReasonStop
		lastFlush = a.nowFunc()
	)

	for ev := range events {
		switch ev.Type {
		case provider.EventTypeTextDelta:
			text.WriteString(ev.Text)
			// Throttled flush: at most one write per interval while text grows.
			if a.flush != nil && a.nowFunc().Sub(lastFlush) >= a.interval {
				a.doFlush(ctx, text.String())
				lastFlush = a.nowFunc()
			}

		case provider.EventTypeToolCallDelta:
			d := ev.ToolCallDelta
			if d == nil {
				continue
			}
			acc, ok := calls[d.Index]
			if !ok {
				acc = &callAccum{}
				calls[d.Index] = acc
			}
			if d.ID != "" {
				acc.id = d.ID
			}
			acc.name.WriteString(d.Name)
			acc.args.WriteString(d.ArgsFragment)

		case provider.EventTypeUsage:
			usage = ev.Usage

		case provider.EventTypeDone:
			if ev.Usage != nil {
				usage = ev.Usage
			}
			finish = ev.FinishReason

		case provider.EventTypeError:
			return nil, valeterr.New(valeterr.CodeProviderUpstreamFailure, ev.Error)
		}
	}

	// One unconditional final flush so a throttling deadline never loses
	// data at the turn boundary.
	if a.flush != nil && text.Len() > 0 {
		a.doFlush(ctx, text.String())
	}

	if finish != provider.FinishReasonToolCalls {
		// Any terminal reason other than tool_calls is a final answer.
		return &TurnResult{
			Kind:         TurnFinal,
			Text:         text.String(),
			Usage:        usage,
			FinishReason: finish,
		}, nil
	}

	ordered, err := finalizeCalls(calls)
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		Kind:         TurnToolCalls,
		Text:         text.String(),
		Calls:        ordered,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

// doFlush invokes the persistence callback, logging failures instead of
// propagating them.
func (a *Aggregator) doFlush(ctx context.Context, text string) {
	if err := a.flush(ctx, text); err != nil {
		slog.Warn("streaming flush failed", "error", err)
	}
}

// finalizeCalls validates and orders the accumulated calls. A call missing
// its id or name at a tool_calls finish means the provider violated its
// contract; dropping it silently would desynchronize the model's view of
// having called a tool, so the whole turn fails.
func finalizeCalls(calls map[int]*callAccum) ([]provider.ToolCall, error) {
	if len(calls) == 0 {
		return nil, valeterr.New(
			valeterr.CodeAgentProtocolViolation,
			"provider signaled tool_calls but delivered no tool calls",
		)
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	ordered := make([]provider.ToolCall, 0, len(calls))
	for _, idx := range indexes {
		acc := calls[idx]
		if acc.id == "" || acc.name.Len() == 0 {
			return nil, valeterr.Errorf(
				valeterr.CodeAgentProtocolViolation,
				"provider signaled tool_calls but call at index %d is missing id or name", idx,
			)
		}
		ordered = append(ordered, provider.ToolCall{
			Index:     idx,
			ID:        acc.id,
			Name:      acc.name.String(),
			Arguments: acc.args.String(),
		})
	}
	return ordered, nil
}
