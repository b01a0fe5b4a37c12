// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/provider"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// stubProvider reports a fixed name and availability.
type stubProvider struct {
	name      string
	available bool
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Available(_ context.Context) bool { return p.available }

func (p *stubProvider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *stubProvider) Chat(_ context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent)
	close(ch)
	return ch, nil
}

func (p *stubProvider) Status(_ context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Provider: p.name, Available: p.available}, nil
}

func (p *stubProvider) Close() error { return nil }

func TestRegistry_Route(t *testing.T) {
	ctx := context.Background()

	newRegistry := func(t *testing.T, anthropicUp, openaiUp bool) *provider.Registry {
		t.Helper()
		reg := provider.NewRegistry()
		reg.Register("anthropic", &stubProvider{name: "anthropic", available: anthropicUp})
		reg.Register("openai", &stubProvider{name: "openai", available: openaiUp})
		require.NoError(t, reg.SetDefault("anthropic/claude-sonnet-4-0"))
		require.NoError(t, reg.SetFailover([]string{"openai/gpt-4.1-mini"}))
		return reg
	}

	t.Run("explicit model ref", func(t *testing.T) {
		reg := newRegistry(t, true, true)
		p, model, err := reg.Route(ctx, "openai/gpt-4.1-mini")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
		assert.Equal(t, "gpt-4.1-mini", model)
	})

	t.Run("empty model uses default", func(t *testing.T) {
		reg := newRegistry(t, true, true)
		p, model, err := reg.Route(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
		assert.Equal(t, "claude-sonnet-4-0", model)
	})

	t.Run("default keyword uses default", func(t *testing.T) {
		reg := newRegistry(t, true, true)
		p, _, err := reg.Route(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("unavailable default falls over", func(t *testing.T) {
		reg := newRegistry(t, false, true)
		p, model, err := reg.Route(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
		assert.Equal(t, "gpt-4.1-mini", model)
	})

	t.Run("all unavailable", func(t *testing.T) {
		reg := newRegistry(t, false, false)
		_, _, err := reg.Route(ctx, "")
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeProviderAllUnavailable, valeterr.CodeOf(err))
	})

	t.Run("bare model name rejected", func(t *testing.T) {
		reg := newRegistry(t, true, true)
		_, _, err := reg.Route(ctx, "gpt-4.1-mini")
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeProviderInvalidModelRef, valeterr.CodeOf(err))
	})

	t.Run("no default configured", func(t *testing.T) {
		reg := provider.NewRegistry()
		reg.Register("anthropic", &stubProvider{name: "anthropic", available: true})
		_, _, err := reg.Route(ctx, "")
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeProviderNoDefault, valeterr.CodeOf(err))
	})
}

func TestRegistry_SetDefault(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register("anthropic", &stubProvider{name: "anthropic", available: true})

	assert.NoError(t, reg.SetDefault("anthropic/claude-sonnet-4-0"))

	err := reg.SetDefault("google/gemini-2.5-flash")
	require.Error(t, err)
	assert.Equal(t, valeterr.CodeProviderNotFound, valeterr.CodeOf(err))
}

func TestRegistry_SetFailover(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register("anthropic", &stubProvider{name: "anthropic", available: true})

	err := reg.SetFailover([]string{"anthropic/claude-sonnet-4-0", "openai/gpt-4.1-mini"})
	require.Error(t, err)
	assert.Equal(t, valeterr.CodeProviderNotFound, valeterr.CodeOf(err))

	assert.NoError(t, reg.SetFailover([]string{"anthropic/claude-sonnet-4-0"}))
}

func TestRegistry_Get(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register("anthropic", &stubProvider{name: "anthropic", available: true})

	p, err := reg.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = reg.Get("missing")
	require.Error(t, err)
	assert.Equal(t, valeterr.CodeProviderNotFound, valeterr.CodeOf(err))
}

func TestRegistry_Statuses(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register("openai", &stubProvider{name: "openai", available: true})
	reg.Register("anthropic", &stubProvider{name: "anthropic", available: false})

	statuses := reg.Statuses(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, "anthropic", statuses[0].Provider)
	assert.False(t, statuses[0].Available)
	assert.Equal(t, "openai", statuses[1].Provider)
	assert.True(t, statuses[1].Available)
}
