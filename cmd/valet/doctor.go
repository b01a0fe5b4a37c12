// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/valet-dev/valet/internal/config"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check binary health, configuration, the OS keyring, disk space, and whether a runtime is reachable.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", "127.0.0.1:8780", "runtime address to check")
	cmd.Flags().Bool("show-config", false, "print the effective configuration (secrets redacted)")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr, _ := cmd.Flags().GetString("address")
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfgPath := resolveConfigPath(cmd)
	cfg, cfgErr := config.Load(cfgPath)

	dataDir := doctorDataDir(cfg)

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Runtime", func() string { return checkRuntime(addr) }},
		{"Config", func() string { return checkConfig(cfgPath, cfgErr) }},
		{"Keyring", checkKeyring},
		{"Disk Space", func() string { return checkDiskSpace(dataDir) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	if showConfig && cfg != nil {
		rendered, err := yaml.Marshal(redactedConfig(cfg))
		if err != nil {
			return fmt.Errorf("rendering config: %w", err)
		}
		if _, err := fmt.Fprintf(w, "\nEffective configuration:\n%s", rendered); err != nil {
			return err
		}
	}

	return nil
}

// doctorDataDir resolves the data directory without failing the whole
// diagnostic run.
func doctorDataDir(cfg *config.Config) string {
	dir, err := resolveDataDir(cfg)
	if err != nil {
		home, _ := os.UserHomeDir()
		return home
	}
	return dir
}

func checkBinary() string {
	return fmt.Sprintf("valet %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkRuntime(addr string) string {
	rc := newRuntimeClient(addr)
	var body struct {
		Status string `json:"status"`
	}
	if err := rc.getJSON("/health", &body); err != nil {
		if errors.Is(err, ErrRuntimeNotRunning) {
			return fmt.Sprintf("not running at %s (run 'valet serve')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

func checkConfig(cfgPath string, cfgErr error) string {
	if cfgErr != nil {
		return fmt.Sprintf("error: %s", cfgErr)
	}
	if cfgPath != "" {
		return fmt.Sprintf("loaded from %s", cfgPath)
	}
	return "using defaults (no config file found)"
}

func checkKeyring() string {
	store := secretStoreFactory()
	const probe = "doctor-probe"

	if err := store.Store(serviceName, probe, "ok"); err != nil {
		return fmt.Sprintf("unavailable: %s", err)
	}
	if _, err := store.Retrieve(serviceName, probe); err != nil {
		return fmt.Sprintf("write ok, read failed: %s", err)
	}
	_ = store.Delete(serviceName, probe)
	return "available"
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}

const redactedValue = "[redacted]"

// redactedConfig converts a Config into a YAML-friendly map with every
// secret-bearing field replaced by a marker noting presence.
func redactedConfig(cfg *config.Config) map[string]any {
	providers := map[string]any{}
	for name, pc := range cfg.Providers {
		entry := map[string]any{}
		if pc.APIKey != "" {
			entry["api_key"] = redactedValue
		}
		if pc.Endpoint != "" {
			entry["endpoint"] = pc.Endpoint
		}
		providers[name] = entry
	}

	auth := map[string]any{
		"dev_client_id": cfg.Auth.DevClientID,
	}
	if cfg.Auth.DevSecret != "" {
		auth["dev_secret"] = redactedValue
	}
	if cfg.Auth.DevCalendarToken != "" {
		auth["dev_calendar_token"] = redactedValue
	}
	if cfg.Auth.SigningKey != "" {
		auth["signing_key"] = redactedValue
	}

	out := map[string]any{
		"networking": map[string]any{
			"listen":       cfg.Networking.Listen,
			"cors_origins": cfg.Networking.CORSOrigins,
		},
		"providers": providers,
		"models": map[string]any{
			"default":  cfg.Models.Default,
			"failover": cfg.Models.Failover,
		},
		"auth": auth,
		"agent": map[string]any{
			"max_tool_iterations": cfg.Agent.MaxToolIterations,
			"history_limit":       cfg.Agent.HistoryLimit,
			"flush_interval":      cfg.Agent.FlushInterval.String(),
			"temperature":         cfg.Agent.Temperature,
		},
		"storage": map[string]any{
			"backend":  cfg.Storage.Backend,
			"data_dir": cfg.Storage.DataDir,
		},
	}

	if cfg.Backend.BaseURL != "" {
		out["backend"] = map[string]any{"base_url": cfg.Backend.BaseURL}
	}
	if cfg.Telegram.BotToken != "" {
		out["telegram"] = map[string]any{"bot_token": redactedValue}
	}

	return out
}
