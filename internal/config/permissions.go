// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

//go:build !windows

package config

import (
	"log/slog"
	"os"
)

// WarnInsecurePermissions logs a warning when the config file is group- or
// world-readable. The file may carry plaintext tokens, so anything looser
// than 0600 is worth flagging; startup continues either way.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("skipping config permission check", "path", path, "error", err)
		return
	}

	if perm := info.Mode().Perm(); perm&0o044 != 0 {
		slog.Warn("config file is readable by other users; chmod 0600 recommended",
			"path", path,
			"mode", perm,
		)
	}
}
