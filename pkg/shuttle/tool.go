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

// Package shuttle provides the tool catalog and policy-gated invocation.
// Tools are the mechanism agents use to act on the world; each tool
// encapsulates a single capability behind a JSON-schema parameter
// contract and a declared side-effect class.
//
// Why "shuttle"? Tools shuttle data and execution between the model and
// the backend, like a shuttle carrying the weft across a loom.
package shuttle

import (
	"context"
	"encoding/json"
)

// SideEffect classifies what a tool does to the world. Policy gating
// keys on this class: write and external tools must stay inside an
// explicit allowlist.
type SideEffect string

const (
	// SideEffectPure computes from inputs only
	SideEffectPure SideEffect = "pure"
	// SideEffectRead observes the environment without changing it
	SideEffectRead SideEffect = "read"
	// SideEffectWrite mutates local state (filesystem, database)
	SideEffectWrite SideEffect = "write"
	// SideEffectExternal reaches outside the process boundary (network,
	// subprocesses)
	SideEffectExternal SideEffect = "external"
)

// Tool is an invokable capability.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for model context
	Description() string

	// InputSchema returns the JSON Schema for tool parameters
	InputSchema() *JSONSchema

	// SideEffect returns the declared side-effect class
	SideEffect() SideEffect

	// Execute runs the tool. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// ResourceLister is implemented by tools whose invocations touch
// nameable resources (paths, commands, hosts). The registry consults it
// when applying the policy allowlists.
type ResourceLister interface {
	// Resources extracts the resources an invocation with these params
	// would touch.
	Resources(params map[string]interface{}) []string
}

// Result is the outcome of a tool execution.
type Result struct {
	// Data contains the result payload (format varies by tool)
	Data interface{}

	// Metadata contains tool-specific metadata
	Metadata map[string]interface{}

	// ExecutionTimeMs is the wall-clock execution time
	ExecutionTimeMs int64
}

// JSON renders the result data for transcript embedding.
func (r *Result) JSON() string {
	if r == nil || r.Data == nil {
		return "null"
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return "null"
	}
	return string(b)
}

// Descriptor is the registry's public view of a tool, used when
// assembling prompts that expose tool declarations to the provider.
type Descriptor struct {
	Name        string
	Description string
	SideEffect  SideEffect
	Schema      map[string]interface{}
}

// JSONSchema is a JSON Schema fragment for tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
}

// ToMap renders the schema as a generic map for provider declarations
// and validator input.
func (s *JSONSchema) ToMap() map[string]interface{} {
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return out
}

// NewObjectSchema creates an object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

// NewArraySchema creates an array schema.
func NewArraySchema(description string, items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: "array", Description: description, Items: items}
}
