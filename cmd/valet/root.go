// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valet-dev/valet/internal/config"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// NewRootCmd creates the root valet command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "valet",
		Short:         "Valet — personal assistant tool-call runtime",
		Long:          "Valet orchestrates agent tool calls with scoped authorization, durable transcripts, and an auditable per-run tool-call log.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindGlobalFlags(cmd)
		},
	}

	// Global flags — these map to viper keys via bindGlobalFlags.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newDoctorCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// bindGlobalFlags wires the persistent flags into the global Viper so
// subcommands read them uniformly, and raises the log level when verbose.
func bindGlobalFlags(cmd *cobra.Command) error {
	v := viper.GetViper()

	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return valeterr.Errorf(valeterr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return valeterr.Errorf(valeterr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	if v.GetBool("verbose") {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	return nil
}

// resolveConfigPath picks the config file for this invocation: explicit
// --config flag, then an existing file at the default location, then a
// freshly bootstrapped default. Empty means run on defaults and env only.
func resolveConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		return path
	}
	if path, err := config.DefaultConfigPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return path
		}
	}
	return config.BootstrapConfig()
}

// resolveDataDir returns the data directory from the flag, the config, or
// the platform default.
func resolveDataDir(cfg *config.Config) (string, error) {
	if dir := viper.GetString("data_dir"); dir != "" {
		return dir, nil
	}
	if cfg != nil && cfg.Storage.DataDir != "" {
		return cfg.Storage.DataDir, nil
	}
	return config.DefaultDataDir()
}
