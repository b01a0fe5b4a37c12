// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/config"
)

func testRuntimeConfig() *config.Config {
	return &config.Config{
		Networking: config.NetworkingConfig{
			Listen: "127.0.0.1:0",
		},
		Storage: config.StorageConfig{
			Backend: "sqlite",
		},
		Auth: config.AuthConfig{
			DevSecret:   "test-secret",
			DevClientID: "dev",
		},
	}
}

func TestWireRuntime(t *testing.T) {
	dir := t.TempDir()
	cfg := testRuntimeConfig()

	rt, err := WireRuntime(context.Background(), cfg, dir)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	assert.NotNil(t, rt.Server)
	assert.NotNil(t, rt.Stores)
	assert.NotNil(t, rt.ProviderRegistry)
	assert.NotNil(t, rt.Loop)
}

func TestRuntime_GracefulShutdown(t *testing.T) {
	dir := t.TempDir()
	cfg := testRuntimeConfig()

	rt, err := WireRuntime(context.Background(), cfg, dir)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Start and immediately cancel — should shut down cleanly.
	err = rt.Start(ctx)
	assert.NoError(t, err)
}

func TestWireRuntime_HealthEndpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := testRuntimeConfig()

	rt, err := WireRuntime(context.Background(), cfg, dir)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	rt.Server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestWireRuntime_ChatEndpointWired(t *testing.T) {
	dir := t.TempDir()
	cfg := testRuntimeConfig()

	rt, err := WireRuntime(context.Background(), cfg, dir)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	body := `{"content":"hello"}`

	// Without credentials the request is rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	rt.Server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// With the dev secret the request reaches a registered handler.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-secret")
	w = httptest.NewRecorder()
	rt.Server.Handler().ServeHTTP(w, req)

	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
	assert.NotEqual(t, http.StatusNotFound, w.Code)
}

func TestRegisterBuiltinProviders_SkipsUnknownAndEmpty(t *testing.T) {
	cfg := testRuntimeConfig()
	cfg.Providers = map[string]config.ProviderConfig{
		"openai":  {APIKey: "sk-test"},
		"unknown": {APIKey: "sk-test"},
		"no-key":  {},
	}

	dir := t.TempDir()
	rt, err := WireRuntime(context.Background(), cfg, dir)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	_, err = rt.ProviderRegistry.Get("openai")
	assert.NoError(t, err)
	_, err = rt.ProviderRegistry.Get("unknown")
	assert.Error(t, err)
	_, err = rt.ProviderRegistry.Get("no-key")
	assert.Error(t, err)
}
