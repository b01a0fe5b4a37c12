// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

// Package tools implements the tool executor registry: per-tool parameter
// schemas, argument validation, and dispatch to the concrete backend
// adapters. Side effects happen only inside tool Run functions, never in
// the orchestration loop.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/provider"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Tool is one registered executor. Title and Description are the
// human-readable strings recorded in the tool-call log.
type Tool struct {
	Name        string
	Title       string
	Description string
	Params      Params
	Run         func(ctx context.Context, args map[string]any, p *auth.Principal) (string, error)
}

// Definition renders the tool for inclusion in a ChatRequest.
func (t *Tool) Definition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.Params.InputSchema(),
	}
}

// Registry is a thread-safe in-memory tool registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous entry.
func (r *Registry) Register(tools ...*Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.tools[t.Name] = t
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, valeterr.New(
			valeterr.CodeToolNotFound,
			"tool not registered: "+name,
			valeterr.FieldTool(name),
		)
	}
	return t, nil
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all registered tool definitions sorted by name,
// for inclusion in ChatRequest.Tools.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute decodes and validates the raw JSON arguments, then runs the tool.
// Malformed input is rejected before any side effect.
func (r *Registry) Execute(ctx context.Context, name, arguments string, p *auth.Principal) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}

	var raw map[string]any
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &raw); err != nil {
			return "", valeterr.With(
				valeterr.Wrap(err, valeterr.CodeToolArgsInvalid, "decoding tool arguments"),
				valeterr.FieldTool(name),
			)
		}
	}

	args, err := t.Params.Validate(raw)
	if err != nil {
		return "", valeterr.With(err, valeterr.FieldTool(name))
	}

	result, err := t.Run(ctx, args, p)
	if err != nil {
		if valeterr.CodeOf(err) != "" {
			return "", err
		}
		return "", valeterr.With(
			valeterr.Wrapf(err, valeterr.CodeToolExecFailure, "executing tool %q", name),
			valeterr.FieldTool(name),
		)
	}
	return result, nil
}
