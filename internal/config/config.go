// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Config is the top-level valet configuration.
type Config struct {
	Networking NetworkingConfig          `mapstructure:"networking"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Models     ModelsConfig              `mapstructure:"models"`
	Auth       AuthConfig                `mapstructure:"auth"`
	Agent      AgentConfig               `mapstructure:"agent"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Backend    BackendConfig             `mapstructure:"backend"`
	Telegram   TelegramConfig            `mapstructure:"telegram"`
}

// NetworkingConfig controls how valet listens for connections.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection and failover.
type ModelsConfig struct {
	Default  string   `mapstructure:"default"`
	Failover []string `mapstructure:"failover"`
}

// AuthConfig holds the credential verification settings.
type AuthConfig struct {
	// DevSecret enables the development override strategy when non-empty.
	DevSecret string `mapstructure:"dev_secret"`
	// DevClientID is the identity bound by the dev override.
	DevClientID string `mapstructure:"dev_client_id"`
	// DevCalendarToken is the static fallback delegated token for the
	// dev identity when the keyring has none.
	DevCalendarToken string `mapstructure:"dev_calendar_token"`
	// SigningKey verifies HS256-signed bearer tokens.
	SigningKey string `mapstructure:"signing_key"`
}

// AgentConfig tunes the tool-call loop.
type AgentConfig struct {
	MaxToolIterations int           `mapstructure:"max_tool_iterations"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	SystemPrompt      string        `mapstructure:"system_prompt"`
	Temperature       float32       `mapstructure:"temperature"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
}

// BackendConfig points at the delegated calendar/tasks service.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// TelegramConfig enables completion notifications when a bot token is set.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix VALET_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("networking.listen", "127.0.0.1:8780")
	v.SetDefault("networking.cors_origins", []string{})
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("models.default", "openai/gpt-4.1-mini")
	v.SetDefault("auth.dev_client_id", "dev")
	v.SetDefault("agent.max_tool_iterations", 4)
	v.SetDefault("agent.history_limit", 50)
	v.SetDefault("agent.flush_interval", "1s")
	v.SetDefault("agent.temperature", 0.7)

	// Environment
	v.SetEnvPrefix("VALET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, valeterr.Errorf(valeterr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateAgent()...)

	return errs
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue, "config: networking.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: networking.listen must be a valid host:port address, got %q: %w",
			c.Networking.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: networking.listen port must be a number, got %q",
			portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: networking.listen port must be between 1 and 65535, got %d",
			port,
		))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite], got %q",
			c.Storage.Backend,
		))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue, "config: models.default must not be empty"))
	} else if !strings.Contains(c.Models.Default, "/") {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: models.default must be in \"provider/model\" format, got %q",
			c.Models.Default,
		))
	} else if c.Providers != nil {
		// Only cross-reference providers when the providers section exists
		// in config. A nil map means no providers section was configured
		// (e.g., defaults only on fresh install), which is valid.
		providerName := providerFromModel(c.Models.Default)
		if _, ok := c.Providers[providerName]; !ok {
			errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
				"config: models.default %q references provider %q which is not configured",
				c.Models.Default, providerName,
			))
		}
	}

	for i, model := range c.Models.Failover {
		if !strings.Contains(model, "/") {
			errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
				"config: models.failover[%d] must be in \"provider/model\" format, got %q",
				i, model,
			))
			continue
		}
		if c.Providers != nil {
			providerName := providerFromModel(model)
			if _, ok := c.Providers[providerName]; !ok {
				errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
					"config: models.failover[%d] %q references provider %q which is not configured",
					i, model, providerName,
				))
			}
		}
	}

	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error

	// With neither a signing key nor a dev secret, no strategy can ever
	// verify a credential and every request would be rejected.
	if c.Auth.SigningKey == "" && c.Auth.DevSecret == "" {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: at least one of auth.signing_key or auth.dev_secret must be set"))
	}

	if c.Auth.DevSecret != "" && c.Auth.DevClientID == "" {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: auth.dev_client_id must not be empty when auth.dev_secret is set"))
	}

	return errs
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.MaxToolIterations <= 0 {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: agent.max_tool_iterations must be greater than 0, got %d",
			c.Agent.MaxToolIterations,
		))
	}

	if c.Agent.HistoryLimit <= 0 {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: agent.history_limit must be greater than 0, got %d",
			c.Agent.HistoryLimit,
		))
	}

	if c.Agent.FlushInterval <= 0 {
		errs = append(errs, valeterr.Errorf(valeterr.CodeConfigValidateInvalidValue,
			"config: agent.flush_interval must be greater than 0, got %s",
			c.Agent.FlushInterval,
		))
	}

	return errs
}

// providerFromModel extracts the provider prefix from a "provider/model" string.
func providerFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}
