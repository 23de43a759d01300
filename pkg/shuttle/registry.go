// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shuttle

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/weft/pkg/types"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// Policy is the allowlist context consulted before any write or
// external tool runs. Resources outside every matching allowlist deny
// the invocation with policy_denied before the handler executes.
type Policy struct {
	// AllowedPaths are filesystem path prefixes writable by tools
	AllowedPaths []string

	// AllowedCommands are executable names shell tools may run
	AllowedCommands []string

	// AllowedHosts are host patterns ("api.example.com", "*.internal")
	// reachable by network tools
	AllowedHosts []string
}

// Permits reports whether the resource is inside the policy allowlists.
func (p *Policy) Permits(resource string) bool {
	if p == nil {
		return false
	}
	for _, prefix := range p.AllowedPaths {
		if strings.HasPrefix(resource, prefix) {
			return true
		}
	}
	for _, cmd := range p.AllowedCommands {
		if resource == cmd {
			return true
		}
	}
	for _, host := range p.AllowedHosts {
		if matchHost(host, resource) {
			return true
		}
	}
	return false
}

func matchHost(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

// Registry manages tool registration and policy-gated invocation.
// Registration happens at startup; after that the registry is
// effectively read-only and safe for concurrent invocation.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *zap.Logger
}

// NewRegistry creates a tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool to the catalog. Names must be well-formed and
// unique.
func (r *Registry) Register(tool Tool) error {
	if !types.ValidName(tool.Name()) {
		return types.NewError(types.KindConfigurationError,
			"tool name %q must match [a-z0-9][a-z0-9_-]*", tool.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return types.NewError(types.KindDuplicateName,
			"tool %q already registered", tool.Name()).WithEntity(tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Describe returns descriptors for the named tools (all tools when
// names is empty), sorted by name. Used when assembling prompts.
func (r *Registry) Describe(names ...string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var selected []Tool
	if len(names) == 0 {
		for _, tool := range r.tools {
			selected = append(selected, tool)
		}
	} else {
		for _, name := range names {
			if tool, ok := r.tools[name]; ok {
				selected = append(selected, tool)
			}
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name() < selected[j].Name() })

	out := make([]Descriptor, 0, len(selected))
	for _, tool := range selected {
		out = append(out, Descriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			SideEffect:  tool.SideEffect(),
			Schema:      tool.InputSchema().ToMap(),
		})
	}
	return out
}

// Invoke validates args against the tool's schema, applies the policy
// gate, and runs the handler. Handlers observe ctx cancellation.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}, policy *Policy) (*Result, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, types.NewError(types.KindNotFound,
			"tool %q not registered", name).WithEntity(name)
	}

	if err := validateArgs(tool, args); err != nil {
		return nil, err
	}

	if class := tool.SideEffect(); class == SideEffectWrite || class == SideEffectExternal {
		if lister, ok := tool.(ResourceLister); ok {
			for _, resource := range lister.Resources(args) {
				if !policy.Permits(resource) {
					r.logger.Warn("tool invocation denied by policy",
						zap.String("tool", name),
						zap.String("resource", resource),
						zap.String("side_effect", string(class)))
					return nil, types.NewError(types.KindPolicyDenied,
						"tool %q touches %q outside the allowlist", name, resource).
						WithEntity(name).
						WithHint("extend the tool policy allowlists")
				}
			}
		} else if policy == nil {
			return nil, types.NewError(types.KindPolicyDenied,
				"tool %q has side effects but no policy context", name).WithEntity(name)
		}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	if result != nil && result.ExecutionTimeMs == 0 {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	return result, nil
}

// validateArgs checks args against the tool's declared JSON Schema.
func validateArgs(tool Tool, args map[string]interface{}) error {
	schema := tool.InputSchema()
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema.ToMap()),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return types.WrapError(types.KindConfigurationError, err,
			"tool %q schema is invalid", tool.Name()).WithEntity(tool.Name())
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return types.NewError(types.KindBadRequest,
			"tool %q arguments invalid: %s", tool.Name(), strings.Join(details, "; ")).
			WithEntity(tool.Name())
	}
	return nil
}
