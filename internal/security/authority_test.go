// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package security_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/security"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

func TestIsAuthorized(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		granted  []string
		want     bool
	}{
		{
			name:     "no requirement always allowed",
			required: nil,
			granted:  nil,
			want:     true,
		},
		{
			name:     "empty grant denied",
			required: []string{security.ScopeReadContext},
			granted:  nil,
			want:     false,
		},
		{
			name:     "disjoint scopes denied",
			required: []string{security.ScopeReadCalendar},
			granted:  []string{security.ScopeReadContext, security.ScopeWriteContext},
			want:     false,
		},
		{
			name:     "single overlap allowed",
			required: []string{security.ScopeReadCalendar, security.ScopeWriteCalendar},
			granted:  []string{security.ScopeWriteCalendar},
			want:     true,
		},
		{
			name:     "superset allowed",
			required: []string{security.ScopeWriteContext},
			granted:  security.AllScopes(),
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			granted := security.NewScopeSet(tt.granted...)
			assert.Equal(t, tt.want, security.IsAuthorized(tt.required, granted))
		})
	}
}

func TestAuthority_Authorize(t *testing.T) {
	authority := security.NewAuthority(security.DefaultRequirements())

	t.Run("denial carries exact message", func(t *testing.T) {
		err := authority.Authorize("get_user_context", security.NewScopeSet())
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeToolForbidden, valeterr.CodeOf(err))
		assert.Equal(t, "Access denied: Missing required scope 'read:user-context'", err.Error())
	})

	t.Run("granted scope passes", func(t *testing.T) {
		err := authority.Authorize("get_user_context", security.NewScopeSet(security.ScopeReadContext))
		assert.NoError(t, err)
	})

	t.Run("unknown tool requires nothing", func(t *testing.T) {
		err := authority.Authorize("made_up_tool", security.NewScopeSet())
		assert.NoError(t, err)
	})

	t.Run("unscoped tool passes with empty grant", func(t *testing.T) {
		err := authority.Authorize("get_weather", security.NewScopeSet())
		assert.NoError(t, err)
	})

	t.Run("tasks reuse calendar scopes", func(t *testing.T) {
		granted := security.NewScopeSet(security.ScopeReadCalendar)
		assert.NoError(t, authority.Authorize("list_tasks", granted))
		assert.Error(t, authority.Authorize("create_task", granted))
	})
}

func TestDenialMessage(t *testing.T) {
	assert.Equal(t,
		"Access denied: Missing required scope 'read:calendar'",
		security.DenialMessage([]string{security.ScopeReadCalendar}),
	)
	assert.Equal(t,
		"Access denied: Missing required scope 'read:calendar' or 'write:calendar'",
		security.DenialMessage([]string{security.ScopeReadCalendar, security.ScopeWriteCalendar}),
	)
}

func TestScopeSet(t *testing.T) {
	s := security.NewScopeSet(security.ScopeWriteCalendar, security.ScopeReadContext, "")

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(security.ScopeReadContext))
	assert.False(t, s.Contains(security.ScopeWriteContext))
	assert.Equal(t, []string{security.ScopeReadContext, security.ScopeWriteCalendar}, s.List())

	assert.False(t, s.Intersects(nil))
	assert.True(t, s.Intersects([]string{security.ScopeWriteCalendar}))
}
