// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Registry manages provider registration, lookup, and routing with
// failover. It implements the Router interface.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string   // "provider/model" format
	failover   []string // ordered list of "provider/model" refs
}

// Compile-time check that Registry implements Router.
var _ Router = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// RegisterProvider adds a provider to the registry (Router interface).
func (r *Registry) RegisterProvider(name string, p Provider) error {
	r.Register(name, p)
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, valeterr.New(
			valeterr.CodeProviderNotFound,
			"provider not found: "+name,
			valeterr.FieldProvider(name),
		)
	}
	return p, nil
}

// SetDefault sets the default "provider/model" reference used when the
// request does not name a model. Returns an error if the provider portion
// of the ref is not registered.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provName, _ := parseRef(ref)
	if _, ok := r.providers[provName]; !ok {
		return valeterr.New(
			valeterr.CodeProviderNotFound,
			"SetDefault: provider not registered: "+provName,
			valeterr.FieldProvider(provName),
		)
	}
	r.defaultRef = ref
	return nil
}

// SetFailover sets the ordered failover chain of "provider/model" refs.
// Returns an error if any provider portion of the refs is not registered.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		provName, _ := parseRef(ref)
		if _, ok := r.providers[provName]; !ok {
			return valeterr.New(
				valeterr.CodeProviderNotFound,
				"SetFailover: provider not registered: "+provName,
				valeterr.FieldProvider(provName),
			)
		}
	}
	r.failover = append([]string(nil), chain...)
	return nil
}

// Route selects a provider for the given model name. When modelName is
// empty or "default" the configured default is used, then the failover
// chain is walked until a healthy provider is found.
func (r *Registry) Route(ctx context.Context, modelName string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, err := r.resolveRef(modelName)
	if err != nil {
		return nil, "", err
	}
	if ref == "" {
		return nil, "", valeterr.New(
			valeterr.CodeProviderNoDefault,
			"no default provider configured",
		)
	}

	p, model, err := r.tryRef(ctx, ref)
	if err == nil {
		return p, model, nil
	}

	for _, fallback := range r.failover {
		p, model, err := r.tryRef(ctx, fallback)
		if err == nil {
			return p, model, nil
		}
	}

	return nil, "", valeterr.New(
		valeterr.CodeProviderAllUnavailable,
		"all providers unavailable: no healthy provider found",
	)
}

// Statuses reports health for every registered provider, sorted by name.
func (r *Registry) Statuses(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]ProviderStatus, 0, len(names))
	for _, name := range names {
		status, err := r.providers[name].Status(ctx)
		if err != nil {
			status = ProviderStatus{Provider: name, Available: false, Message: err.Error()}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return valeterr.Join(errs...)
	}
	return nil
}

// resolveRef determines which "provider/model" ref to use.
// Caller must hold r.mu (at least RLock).
// Returns an error for non-qualified model names (missing "provider/" prefix).
func (r *Registry) resolveRef(modelName string) (string, error) {
	if modelName != "" && modelName != "default" {
		if !strings.Contains(modelName, "/") {
			return "", valeterr.Errorf(
				valeterr.CodeProviderInvalidModelRef,
				"model name %q must use provider/model format", modelName,
			)
		}
		return modelName, nil
	}
	return r.defaultRef, nil
}

// tryRef parses a "provider/model" ref, looks up the provider, and checks
// availability. Caller must hold r.mu (at least RLock).
func (r *Registry) tryRef(ctx context.Context, ref string) (Provider, string, error) {
	providerName, model := parseRef(ref)

	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", valeterr.New(
			valeterr.CodeProviderNotFound,
			"provider not found: "+providerName,
			valeterr.FieldProvider(providerName),
		)
	}

	if !p.Available(ctx) {
		return nil, "", valeterr.New(
			valeterr.CodeProviderUpstreamFailure,
			"provider unavailable: "+providerName,
			valeterr.FieldProvider(providerName),
		)
	}

	return p, model, nil
}

// parseRef splits a "provider/model" reference on the first "/".
func parseRef(ref string) (providerName, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
