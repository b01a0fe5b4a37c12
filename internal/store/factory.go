// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package store

import (
	"sync"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Stores bundles the three persistent stores the runtime needs.
type Stores struct {
	Transcript TranscriptStore
	Context    ContextStore
	ToolCalls  ToolCallLog
}

// Close closes all sub-stores, returning the first error encountered.
func (s *Stores) Close() error {
	var errs []error
	if s.Transcript != nil {
		if err := s.Transcript.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Context != nil {
		if err := s.Context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ToolCalls != nil {
		if err := s.ToolCalls.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return valeterr.Join(errs...)
	}
	return nil
}

// Factory creates all stores rooted at dataDir.
type Factory func(dataDir string) (*Stores, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Open creates the stores for the named backend ("" defaults to sqlite).
func Open(backend, dataDir string) (*Stores, error) {
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	f, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, valeterr.Errorf(valeterr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	return f(dataDir)
}
