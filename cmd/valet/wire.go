// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/valet-dev/valet/internal/agent"
	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/backend"
	"github.com/valet-dev/valet/internal/config"
	"github.com/valet-dev/valet/internal/notify"
	"github.com/valet-dev/valet/internal/provider"
	anthropicprov "github.com/valet-dev/valet/internal/provider/anthropic"
	googleprov "github.com/valet-dev/valet/internal/provider/google"
	openaiprov "github.com/valet-dev/valet/internal/provider/openai"
	"github.com/valet-dev/valet/internal/secrets"
	"github.com/valet-dev/valet/internal/security"
	"github.com/valet-dev/valet/internal/server"
	"github.com/valet-dev/valet/internal/store"
	_ "github.com/valet-dev/valet/internal/store/sqlite" // register sqlite backend
	"github.com/valet-dev/valet/internal/tools"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Runtime holds all wired subsystems and manages their lifecycle.
type Runtime struct {
	Server           *server.Server
	Stores           *store.Stores
	ProviderRegistry *provider.Registry
	Loop             *agent.Loop
}

// WireRuntime creates all subsystems and wires them together. The dataDir
// is the root directory for all persistent state.
func WireRuntime(_ context.Context, cfg *config.Config, dataDir string) (*Runtime, error) {
	secretStore := secrets.NewKeyringStore()
	resolveSecrets(cfg, secretStore)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, valeterr.Errorf(valeterr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	// 1. Persistent stores (transcript, context document, tool-call log).
	stores, err := store.Open(cfg.Storage.Backend, dataDir)
	if err != nil {
		return nil, valeterr.Errorf(valeterr.CodeCLISetupFailure, "opening stores: %w", err)
	}

	// 2. Provider registry — register built-in providers and wire routing.
	provReg := provider.NewRegistry()
	registerBuiltinProviders(cfg, provReg)

	if cfg.Models.Default != "" {
		if err := provReg.SetDefault(cfg.Models.Default); err != nil {
			_ = stores.Close()
			return nil, valeterr.Wrapf(err, valeterr.CodeCLISetupFailure, "setting default provider: %s", cfg.Models.Default)
		}
	}
	if len(cfg.Models.Failover) > 0 {
		if err := provReg.SetFailover(cfg.Models.Failover); err != nil {
			_ = stores.Close()
			return nil, valeterr.Wrapf(err, valeterr.CodeCLISetupFailure, "setting failover chain")
		}
	}

	// 3. Scope authority and tool registry.
	authority := security.NewAuthority(security.DefaultRequirements())

	toolReg := tools.NewRegistry()
	toolReg.Register(tools.ContextTools(stores.Context)...)
	toolReg.Register(tools.WeatherTool(""))
	if cfg.Backend.BaseURL != "" {
		client := backend.New(cfg.Backend.BaseURL)
		toolReg.Register(tools.CalendarTools(client)...)
		toolReg.Register(tools.TaskTools(client)...)
	} else {
		slog.Warn("no backend base URL configured: calendar and task tools disabled")
	}

	// 4. Tool dispatcher with the durable call log.
	dispatcher, err := agent.NewToolDispatcher(authority, toolReg, stores.ToolCalls)
	if err != nil {
		_ = stores.Close()
		return nil, valeterr.Errorf(valeterr.CodeCLISetupFailure, "creating dispatcher: %w", err)
	}

	// 5. Credential verifier chain: dev override, session bridge, signed tokens.
	verifier := buildVerifier(cfg, secretStore)

	// 6. Completion notifier (no-op without a bot token).
	notifier := notify.NewTelegram(cfg.Telegram.BotToken)

	// 7. Agent loop.
	loop, err := agent.NewLoop(agent.LoopConfig{
		Router:        provReg,
		Transcript:    stores.Transcript,
		Context:       stores.Context,
		Registry:      toolReg,
		Dispatcher:    dispatcher,
		Notifier:      notifier,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		FlushInterval: cfg.Agent.FlushInterval,
		Temperature:   cfg.Agent.Temperature,
	})
	if err != nil {
		_ = stores.Close()
		return nil, valeterr.Errorf(valeterr.CodeCLISetupFailure, "creating agent loop: %w", err)
	}

	// 8. HTTP server.
	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Networking.Listen,
		CORSOrigins: cfg.Networking.CORSOrigins,
	}, verifier)
	if err != nil {
		_ = stores.Close()
		return nil, valeterr.Errorf(valeterr.CodeCLISetupFailure, "creating server: %w", err)
	}
	srv.RegisterServices(&server.Services{
		Chat:       loop,
		Transcript: stores.Transcript,
		ToolLog:    stores.ToolCalls,
		Providers:  provReg,
	})

	return &Runtime{
		Server:           srv,
		Stores:           stores,
		ProviderRegistry: provReg,
		Loop:             loop,
	}, nil
}

// Start runs the HTTP server and blocks until the context is cancelled.
func (rt *Runtime) Start(ctx context.Context) error {
	return rt.Server.Start(ctx)
}

// Close releases all resources held by the runtime.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.ProviderRegistry != nil {
		if err := rt.ProviderRegistry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.Stores != nil {
		if err := rt.Stores.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resolveSecrets replaces keyring:// URIs in secret-bearing config fields
// with values from the OS keyring. Resolution failures are logged and the
// original value kept, surfacing later where the value is used.
func resolveSecrets(cfg *config.Config, store secrets.Store) {
	resolve := func(field string, value *string) {
		if !secrets.IsKeyringURI(*value) {
			return
		}
		resolved, err := secrets.ResolveKeyringURI(store, *value)
		if err != nil {
			slog.Warn("failed to resolve keyring URI, keeping original value",
				"config_key", field,
				"error", err,
			)
			return
		}
		*value = resolved
	}

	for name, pc := range cfg.Providers {
		resolve("providers."+name+".api_key", &pc.APIKey)
		cfg.Providers[name] = pc
	}
	resolve("auth.dev_secret", &cfg.Auth.DevSecret)
	resolve("auth.dev_calendar_token", &cfg.Auth.DevCalendarToken)
	resolve("auth.signing_key", &cfg.Auth.SigningKey)
	resolve("telegram.bot_token", &cfg.Telegram.BotToken)
}

// buildVerifier assembles the ordered strategy chain from config: dev
// override, then the session bridge, then signed tokens.
func buildVerifier(cfg *config.Config, secretStore secrets.Store) *auth.Verifier {
	var strategies []auth.Strategy

	if cfg.Auth.DevSecret != "" {
		strategies = append(strategies, auth.NewDevStrategy(
			cfg.Auth.DevSecret,
			cfg.Auth.DevClientID,
			cfg.Auth.DevCalendarToken,
			secretStore,
		))
	}

	strategies = append(strategies, auth.NewSessionStrategy())

	if cfg.Auth.SigningKey != "" {
		strategies = append(strategies, auth.NewSignedTokenStrategy([]byte(cfg.Auth.SigningKey)))
	}

	return auth.NewVerifier(strategies...)
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject failing factories.
var builtinProviderFactories = map[string]providerFactory{
	"anthropic": func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"google": func(pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey})
	},
	"openai": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
}

// registerBuiltinProviders iterates configured providers and registers
// matching built-in implementations. Unknown names or empty API keys are
// logged and skipped — neither is fatal at startup.
func registerBuiltinProviders(cfg *config.Config, reg *provider.Registry) {
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			slog.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		reg.Register(name, p)
		slog.Info("registered provider", "provider", name)
	}
}
