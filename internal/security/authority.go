// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package security

import (
	"strings"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Authority maps tool names to the scopes required to invoke them. It is
// immutable configuration constructed once at process start and injected
// wherever authorization decisions are made.
type Authority struct {
	required map[string][]string
}

// NewAuthority constructs an Authority from a tool → required-scopes map.
// The map is copied; an absent or empty entry means "always allowed".
func NewAuthority(required map[string][]string) *Authority {
	copied := make(map[string][]string, len(required))
	for tool, scopes := range required {
		copied[tool] = append([]string(nil), scopes...)
	}
	return &Authority{required: copied}
}

// DefaultRequirements is the scope requirement map for the built-in tools.
func DefaultRequirements() map[string][]string {
	return map[string][]string{
		"get_user_context":      {ScopeReadContext},
		"update_user_context":   {ScopeWriteContext},
		"list_calendar_events":  {ScopeReadCalendar},
		"create_calendar_event": {ScopeWriteCalendar},
		"list_tasks":            {ScopeReadCalendar},
		"create_task":           {ScopeWriteCalendar},
		"get_weather":           nil,
	}
}

// RequiredScopes returns the scopes required to invoke the named tool.
// Unknown tools require nothing; existence is the registry's concern.
func (a *Authority) RequiredScopes(toolName string) []string {
	return append([]string(nil), a.required[toolName]...)
}

// IsAuthorized reports whether granted satisfies required: true iff required
// is empty or granted intersects it (any-of semantics).
func IsAuthorized(required []string, granted ScopeSet) bool {
	if len(required) == 0 {
		return true
	}
	return granted.Intersects(required)
}

// Authorize checks the named tool against the granted scopes. On denial it
// returns a tool.scope.forbidden error whose message names the missing
// scope(s) so it can be surfaced verbatim as a tool result.
func (a *Authority) Authorize(toolName string, granted ScopeSet) error {
	required := a.required[toolName]
	if IsAuthorized(required, granted) {
		return nil
	}

	return valeterr.New(
		valeterr.CodeToolForbidden,
		DenialMessage(required),
		valeterr.FieldTool(toolName),
	)
}

// DenialMessage renders the user-presentable denial text for a missing
// scope set, e.g. "Access denied: Missing required scope 'read:calendar'".
func DenialMessage(required []string) string {
	quoted := make([]string, len(required))
	for i, s := range required {
		quoted[i] = "'" + s + "'"
	}
	return "Access denied: Missing required scope " + strings.Join(quoted, " or ")
}
