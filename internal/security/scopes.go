// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

// Package security implements the scope-based authorization model: a static
// map of tool names to required capability scopes, checked against the
// scopes granted to an authenticated principal.
package security

import "sort"

// Capability scopes known to the runtime.
const (
	ScopeReadContext   = "read:user-context"
	ScopeWriteContext  = "write:user-context"
	ScopeReadCalendar  = "read:calendar"
	ScopeWriteCalendar = "write:calendar"
)

// AllScopes returns every scope the runtime knows about, in stable order.
func AllScopes() []string {
	return []string{ScopeReadContext, ScopeWriteContext, ScopeReadCalendar, ScopeWriteCalendar}
}

// ScopeSet is an immutable set of granted capability scopes.
type ScopeSet struct {
	scopes map[string]struct{}
}

// NewScopeSet constructs a ScopeSet from the provided scopes.
func NewScopeSet(scopes ...string) ScopeSet {
	m := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if s == "" {
			continue
		}
		m[s] = struct{}{}
	}
	return ScopeSet{scopes: m}
}

// Contains reports whether the set grants the given scope.
func (s ScopeSet) Contains(scope string) bool {
	_, ok := s.scopes[scope]
	return ok
}

// Intersects reports whether the set grants any of the given scopes.
// An empty required list never intersects.
func (s ScopeSet) Intersects(required []string) bool {
	for _, r := range required {
		if s.Contains(r) {
			return true
		}
	}
	return false
}

// List returns the granted scopes in stable (sorted) order.
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s.scopes))
	for scope := range s.scopes {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of granted scopes.
func (s ScopeSet) Len() int {
	return len(s.scopes)
}
