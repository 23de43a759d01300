// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"sort"
	"strings"
	"sync"

	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

// DefaultMaxDepth caps inheritance chain length. Deeper chains fail with
// invalid_spec.
const DefaultMaxDepth = 8

// Registry stores agent specs and resolves inheritance chains.
//
// Reads are concurrent; writes serialize and bump a version counter that
// keys the effective-spec cache. A cache entry recorded under an older
// version is discarded on next access.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]*AgentSpec
	cache    map[string]*cacheEntry
	version  uint64
	maxDepth int
	refs     map[string]int // live Agent refcounts per spec name
	logger   *zap.Logger
}

type cacheEntry struct {
	eff     *EffectiveSpec
	version uint64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxDepth overrides the inheritance depth cap.
func WithMaxDepth(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty spec registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		specs:    make(map[string]*AgentSpec),
		cache:    make(map[string]*cacheEntry),
		maxDepth: DefaultMaxDepth,
		refs:     make(map[string]int),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and stores a spec. With replace=false a name
// collision fails with duplicate_name. Registration invalidates every
// cached effective spec whose chain contains the name.
func (r *Registry) Register(s *AgentSpec, replace bool) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[s.Name]; exists && !replace {
		return types.NewError(types.KindDuplicateName,
			"agent spec %q already registered", s.Name).WithEntity(s.Name)
	}

	r.specs[s.Name] = s.Clone()
	r.version++
	r.invalidateLocked(s.Name)

	r.logger.Debug("registered agent spec",
		zap.String("name", s.Name),
		zap.String("parent", s.Parent),
		zap.Uint64("registry_version", r.version))
	return nil
}

// Resolve walks the parent chain from name to root, detects cycles, and
// merges the chain into an effective spec. Results are cached per
// registry version.
func (r *Registry) Resolve(name string) (*EffectiveSpec, error) {
	r.mu.RLock()
	if entry, ok := r.cache[name]; ok && entry.version == r.version {
		eff := entry.eff.Clone()
		r.mu.RUnlock()
		return eff, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock.
	if entry, ok := r.cache[name]; ok && entry.version == r.version {
		return entry.eff.Clone(), nil
	}

	chain, err := r.chainLocked(name)
	if err != nil {
		return nil, err
	}
	eff := merge(chain)
	r.cache[name] = &cacheEntry{eff: eff, version: r.version}
	return eff.Clone(), nil
}

// chainLocked collects the inheritance chain for name, root first.
func (r *Registry) chainLocked(name string) ([]*AgentSpec, error) {
	visited := make(map[string]bool)
	var order []string
	var chain []*AgentSpec

	current := name
	for current != "" {
		if visited[current] {
			order = append(order, current)
			return nil, types.NewError(types.KindCycle,
				"inheritance cycle detected: %s", strings.Join(order, " -> ")).WithEntity(name)
		}
		visited[current] = true
		order = append(order, current)

		s, ok := r.specs[current]
		if !ok {
			if current == name {
				return nil, types.NewError(types.KindNotFound,
					"agent spec %q not registered", name).WithEntity(name)
			}
			return nil, types.NewError(types.KindNotFound,
				"parent %q of agent %q not registered", current, name).WithEntity(name)
		}
		if len(order) > r.maxDepth {
			return nil, types.NewError(types.KindInvalidSpec,
				"inheritance chain of agent %q exceeds depth cap %d", name, r.maxDepth).
				WithEntity(name).
				WithHint("flatten the hierarchy or raise the registry depth cap")
		}

		// Prepend so the root ends up first.
		chain = append([]*AgentSpec{s}, chain...)
		current = s.Parent
	}
	return chain, nil
}

// Unregister removes a spec. It fails with in_use when a live Agent or a
// current-version cached effective spec references the name, unless
// force is set.
func (r *Registry) Unregister(name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.specs[name]; !ok {
		return types.NewError(types.KindNotFound,
			"agent spec %q not registered", name).WithEntity(name)
	}

	if !force {
		if r.refs[name] > 0 {
			return types.NewError(types.KindInUse,
				"agent spec %q has %d live agents", name, r.refs[name]).
				WithEntity(name).
				WithHint("wait for running turns to finish or pass force")
		}
		for cached, entry := range r.cache {
			if entry.version != r.version {
				continue
			}
			for _, link := range entry.eff.Chain {
				if link == name {
					return types.NewError(types.KindInUse,
						"agent spec %q is referenced by resolved spec %q", name, cached).
						WithEntity(name).
						WithHint("pass force to drop dependent cache entries")
				}
			}
		}
	}

	delete(r.specs, name)
	r.version++
	r.invalidateLocked(name)

	r.logger.Debug("unregistered agent spec",
		zap.String("name", name),
		zap.Bool("force", force))
	return nil
}

// Acquire records a live Agent reference against a spec name.
func (r *Registry) Acquire(name string) {
	r.mu.Lock()
	r.refs[name]++
	r.mu.Unlock()
}

// Release drops a live Agent reference.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	if r.refs[name] > 0 {
		r.refs[name]--
	}
	r.mu.Unlock()
}

// List returns registered spec names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the raw spec, if registered.
func (r *Registry) Get(name string) (*AgentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Version returns the current registry version.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// invalidateLocked drops cache entries whose chain contains name.
// Stale-version entries are dropped lazily on access, so only
// current-version entries need scanning here.
func (r *Registry) invalidateLocked(name string) {
	for cached, entry := range r.cache {
		for _, link := range entry.eff.Chain {
			if link == name {
				delete(r.cache, cached)
				break
			}
		}
	}
}
