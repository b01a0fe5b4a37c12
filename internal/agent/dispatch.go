// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/security"
	"github.com/valet-dev/valet/internal/store"
	"github.com/valet-dev/valet/internal/tools"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// auditLogEscalationThreshold is the number of consecutive tool-call log
// failures after which the diagnostic level escalates from Warn to Error.
const auditLogEscalationThreshold = 3

// maxLoggedArgLen bounds the argument text stored per tool-call log entry.
const maxLoggedArgLen = 1024

// ToolDispatcher authorizes, logs, and executes a single tool call. Every
// outcome — denial, missing tool, executor failure — is folded into a
// user-presentable tool result so the conversation can always continue.
type ToolDispatcher struct {
	authority *security.Authority
	registry  *tools.Registry
	log       store.ToolCallLog

	// logFailCount tracks consecutive tool-call log failures for escalating
	// diagnostics; it resets on each successful write. logFailTotal never
	// resets, keeping intermittent failures visible to operators.
	logFailCount atomic.Int64
	logFailTotal atomic.Int64
}

// NewToolDispatcher creates a ToolDispatcher. authority and registry are
// required; log may be nil to disable the tool-call log.
func NewToolDispatcher(authority *security.Authority, registry *tools.Registry, log store.ToolCallLog) (*ToolDispatcher, error) {
	if authority == nil {
		return nil, valeterr.New(valeterr.CodeAgentLoopInvalidInput, "authority is required")
	}
	if registry == nil {
		return nil, valeterr.New(valeterr.CodeAgentLoopInvalidInput, "registry is required")
	}
	return &ToolDispatcher{
		authority: authority,
		registry:  registry,
		log:       log,
	}, nil
}

// Dispatch runs one tool call end to end and returns the textual result to
// fold into the transcript. It never returns an error: authorization
// denials surface as their exact denial message, execution failures as
// "tool failed: <reason>".
func (d *ToolDispatcher) Dispatch(ctx context.Context, runID, callID, toolName, arguments string, p *auth.Principal) string {
	d.openEntry(ctx, runID, callID, toolName, arguments)

	if err := d.authority.Authorize(toolName, p.Scopes); err != nil {
		// The denial text names the missing scope(s); record it and surface
		// it verbatim so the model can explain the limitation.
		denial := security.DenialMessage(d.authority.RequiredScopes(toolName))
		d.closeEntry(ctx, runID, callID, store.ToolCallStatusError, denial)
		return denial
	}

	result, err := d.registry.Execute(ctx, toolName, arguments, p)
	if err != nil {
		text := "tool failed: " + err.Error()
		d.closeEntry(ctx, runID, callID, store.ToolCallStatusError, text)
		return text
	}

	d.closeEntry(ctx, runID, callID, store.ToolCallStatusSuccess, "")
	return result
}

// openEntry writes the pending tool-call log row. Best-effort: failures are
// logged at an escalating level and never block dispatch.
func (d *ToolDispatcher) openEntry(ctx context.Context, runID, callID, toolName, arguments string) {
	if d.log == nil {
		return
	}

	title, description := toolName, ""
	if t, err := d.registry.Get(toolName); err == nil {
		title, description = t.Title, t.Description
	}

	rec := &store.ToolCallRecord{
		RunID:       runID,
		CallID:      callID,
		ToolName:    toolName,
		Title:       title,
		Description: description,
		Arguments:   truncateUTF8(arguments, maxLoggedArgLen),
		Status:      store.ToolCallStatusPending,
	}
	if err := d.log.Open(ctx, rec); err != nil {
		d.logWriteFailure(ctx, "tool call log open failed", err, runID, callID, toolName)
		return
	}
	d.logFailCount.Store(0)
}

// closeEntry transitions the log row to its terminal status. Best-effort.
func (d *ToolDispatcher) closeEntry(ctx context.Context, runID, callID string, status store.ToolCallStatus, errText string) {
	if d.log == nil {
		return
	}
	if err := d.log.CloseCall(ctx, runID, callID, status, errText); err != nil {
		d.logWriteFailure(ctx, "tool call log close failed", err, runID, callID, string(status))
		return
	}
	d.logFailCount.Store(0)
}

// logWriteFailure records a log-write failure at Warn, escalating to Error
// after auditLogEscalationThreshold consecutive failures.
func (d *ToolDispatcher) logWriteFailure(ctx context.Context, msg string, err error, runID, callID, detail string) {
	consecutive := d.logFailCount.Add(1)
	total := d.logFailTotal.Add(1)

	level := slog.LevelWarn
	attrs := []slog.Attr{
		slog.Any("error", err),
		slog.String("run_id", runID),
		slog.String("call_id", callID),
		slog.String("detail", detail),
		slog.Int64("consecutive_failures", consecutive),
	}
	if consecutive >= auditLogEscalationThreshold {
		level = slog.LevelError
		attrs = append(attrs, slog.Int64("total_failures", total))
	}
	slog.LogAttrs(ctx, level, msg, attrs...)
}

// truncateUTF8 cuts s to at most n bytes, walking back to a rune boundary.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
