// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valet-dev/valet/internal/secrets"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// serviceName is the keyring service name under which valet stores secrets.
const serviceName = "valet"

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long:  "Set, list, and delete secrets stored under the valet service in the operating system keyring.",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret read from stdin",
		Long:  "Read a secret value from stdin and store it under the given name. Reference it in the config as keyring://valet/<name>.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored secret names",
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return valeterr.Errorf(valeterr.CodeCLIInputInvalid, "reading secret value: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return valeterr.New(valeterr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	store := secretStoreFactory()
	if err := store.Store(serviceName, name, value); err != nil {
		return valeterr.Errorf(valeterr.CodeSecretStoreFailure, "storing secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s (reference as keyring://%s/%s)\n", name, serviceName, name)
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	store := secretStoreFactory()
	keys, err := store.List(serviceName)
	if err != nil {
		return valeterr.Errorf(valeterr.CodeSecretListFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	store := secretStoreFactory()

	if err := store.Delete(serviceName, name); err != nil {
		if valeterr.HasCode(err, valeterr.CodeSecretNotFound) {
			return valeterr.Errorf(valeterr.CodeSecretNotFound, "secret %q not found", name)
		}
		return valeterr.Errorf(valeterr.CodeSecretDeleteFailure, "deleting secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
