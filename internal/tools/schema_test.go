// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package tools_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/tools"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

func testParams() tools.Params {
	return tools.Params{
		"title": {Type: tools.TypeString, Description: "Event title", Required: true},
		"count": {Type: tools.TypeInteger, Description: "How many"},
		"lat":   {Type: tools.TypeNumber, Description: "Latitude"},
		"done":  {Type: tools.TypeBoolean, Description: "Completion flag"},
		"kind":  {Type: tools.TypeString, Description: "Kind", Enum: []string{"meeting", "reminder"}},
	}
}

func TestParams_InputSchema(t *testing.T) {
	schema := testParams().InputSchema()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"title"}, schema["required"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 5)

	title, ok := props["title"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", title["type"])
	assert.Equal(t, "Event title", title["description"])

	kind, ok := props["kind"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"meeting", "reminder"}, kind["enum"])
}

func TestParams_InputSchema_NoRequired(t *testing.T) {
	schema := tools.Params{
		"q": {Type: tools.TypeString},
	}.InputSchema()

	_, present := schema["required"]
	assert.False(t, present)
}

func TestParams_Validate(t *testing.T) {
	params := testParams()

	t.Run("valid args coerced", func(t *testing.T) {
		out, err := params.Validate(map[string]any{
			"title": "standup",
			"count": float64(3),
			"lat":   52.52,
			"done":  true,
			"kind":  "meeting",
		})
		require.NoError(t, err)
		assert.Equal(t, "standup", out["title"])
		assert.Equal(t, 3, out["count"])
		assert.Equal(t, 52.52, out["lat"])
		assert.Equal(t, true, out["done"])
	})

	t.Run("optional params may be absent", func(t *testing.T) {
		out, err := params.Validate(map[string]any{"title": "standup"})
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})

	t.Run("missing required rejected", func(t *testing.T) {
		_, err := params.Validate(map[string]any{"count": float64(1)})
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeToolArgsInvalid, valeterr.CodeOf(err))
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		_, err := params.Validate(map[string]any{"title": "x", "bogus": "y"})
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeToolArgsInvalid, valeterr.CodeOf(err))
	})

	t.Run("fractional integer rejected", func(t *testing.T) {
		_, err := params.Validate(map[string]any{"title": "x", "count": 1.5})
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeToolArgsInvalid, valeterr.CodeOf(err))
	})

	t.Run("type mismatch rejected", func(t *testing.T) {
		_, err := params.Validate(map[string]any{"title": 42.0})
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeToolArgsInvalid, valeterr.CodeOf(err))
	})

	t.Run("enum violation rejected", func(t *testing.T) {
		_, err := params.Validate(map[string]any{"title": "x", "kind": "party"})
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeToolArgsInvalid, valeterr.CodeOf(err))
	})
}
