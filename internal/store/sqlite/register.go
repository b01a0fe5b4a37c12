// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package sqlite

import (
	"fmt"
	"path/filepath"

	"github.com/valet-dev/valet/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newStores)
}

func newStores(dataDir string) (*store.Stores, error) {
	// Track opened stores for cleanup on partial failure.
	var closers []interface{ Close() error }
	cleanup := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	ts, err := NewTranscriptStore(filepath.Join(dataDir, "transcript.db"))
	if err != nil {
		return nil, fmt.Errorf("creating transcript store: %w", err)
	}
	closers = append(closers, ts)

	cs, err := NewContextStore(filepath.Join(dataDir, "context.db"))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating context store: %w", err)
	}
	closers = append(closers, cs)

	tl, err := NewToolCallLog(filepath.Join(dataDir, "toolcalls.db"))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating tool call log: %w", err)
	}

	return &store.Stores{
		Transcript: ts,
		Context:    cs,
		ToolCalls:  tl,
	}, nil
}
