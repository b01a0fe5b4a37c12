// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valet-dev/valet/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the valet runtime",
		Long:  "Load configuration, initialize stores, providers, and the agent loop, and start the HTTP server.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("networking.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath := resolveConfigPath(cmd)
	if cfgPath != "" {
		config.WarnInsecurePermissions(cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Apply any flag/env overrides that Viper resolved.
	if listen := viper.GetString("networking.listen"); listen != "" {
		cfg.Networking.Listen = listen
	}

	dataDir, err := resolveDataDir(cfg)
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := WireRuntime(ctx, cfg, dataDir)
	if err != nil {
		return fmt.Errorf("wiring runtime: %w", err)
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			slog.Warn("shutdown cleanup error", "error", cerr)
		}
	}()

	slog.Info("starting valet", "listen", cfg.Networking.Listen, "data_dir", dataDir)
	return rt.Start(ctx)
}
