// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package spec is the source of truth for agent definitions. It stores
// raw agent specs and resolves inheritance chains into effective specs
// with cycle detection and version-keyed caching.
package spec

import (
	"github.com/teradata-labs/weft/pkg/types"
)

// Default scalar values applied when no spec in the chain sets them.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// Scalar bounds enforced at registration.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// AgentSpec is a declarative agent definition. Specs are immutable once
// registered; replacement swaps the whole spec atomically.
type AgentSpec struct {
	// Name uniquely identifies the spec within a registry
	Name string `yaml:"name"`

	// Parent names the spec this one inherits from (optional)
	Parent string `yaml:"parent,omitempty"`

	// Provider identifies the LLM backend (e.g. "anthropic", "ollama")
	Provider string `yaml:"provider,omitempty"`

	// Model is the provider-specific model identifier
	Model string `yaml:"model,omitempty"`

	// Temperature is the sampling temperature in [0, 2]; nil inherits
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens caps output tokens; nil inherits
	MaxTokens *int `yaml:"max_tokens,omitempty"`

	// SystemPrompt is the system message text; empty inherits
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Tools lists tool names available to the agent, in order
	Tools []string `yaml:"tools,omitempty"`

	// Skills lists skill names, in order
	Skills []string `yaml:"skills,omitempty"`

	// Metadata is free-form descriptive data; child keys override parent
	Metadata map[string]string `yaml:"metadata,omitempty"`

	// Config is free-form runtime configuration; child keys override parent
	Config map[string]string `yaml:"config,omitempty"`
}

// Clone returns a deep copy of the spec.
func (s *AgentSpec) Clone() *AgentSpec {
	out := *s
	if s.Temperature != nil {
		t := *s.Temperature
		out.Temperature = &t
	}
	if s.MaxTokens != nil {
		m := *s.MaxTokens
		out.MaxTokens = &m
	}
	out.Tools = append([]string(nil), s.Tools...)
	out.Skills = append([]string(nil), s.Skills...)
	out.Metadata = cloneMap(s.Metadata)
	out.Config = cloneMap(s.Config)
	return &out
}

// Validate checks structural and bound invariants of a single spec.
// Inheritance is validated at resolve time.
func (s *AgentSpec) Validate() error {
	if !types.ValidName(s.Name) {
		return types.NewError(types.KindInvalidSpec,
			"agent name %q must match [a-z0-9][a-z0-9_-]* (1-64 chars)", s.Name)
	}
	if s.Parent != "" && !types.ValidName(s.Parent) {
		return types.NewError(types.KindInvalidSpec,
			"parent name %q of agent %q is malformed", s.Parent, s.Name).WithEntity(s.Name)
	}
	if s.Temperature != nil && (*s.Temperature < MinTemperature || *s.Temperature > MaxTemperature) {
		return types.NewError(types.KindInvalidSpec,
			"temperature %v of agent %q outside [%v, %v]",
			*s.Temperature, s.Name, MinTemperature, MaxTemperature).WithEntity(s.Name)
	}
	if s.MaxTokens != nil && *s.MaxTokens <= 0 {
		return types.NewError(types.KindInvalidSpec,
			"max_tokens %d of agent %q must be positive", *s.MaxTokens, s.Name).WithEntity(s.Name)
	}
	for _, tool := range s.Tools {
		if !types.ValidName(tool) {
			return types.NewError(types.KindInvalidSpec,
				"tool name %q of agent %q is malformed", tool, s.Name).WithEntity(s.Name)
		}
	}
	for _, skill := range s.Skills {
		if !types.ValidName(skill) {
			return types.NewError(types.KindInvalidSpec,
				"skill name %q of agent %q is malformed", skill, s.Name).WithEntity(s.Name)
		}
	}
	return nil
}

// EffectiveSpec is a fully resolved agent definition after inheritance
// merging. Immutable once produced.
type EffectiveSpec struct {
	Name         string
	Provider     string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Tools        []string
	Skills       []string
	Metadata     map[string]string
	Config       map[string]string

	// Chain lists the spec names that produced this result, root first
	Chain []string
}

// Clone returns a deep copy of the effective spec.
func (e *EffectiveSpec) Clone() *EffectiveSpec {
	out := *e
	out.Tools = append([]string(nil), e.Tools...)
	out.Skills = append([]string(nil), e.Skills...)
	out.Metadata = cloneMap(e.Metadata)
	out.Config = cloneMap(e.Config)
	out.Chain = append([]string(nil), e.Chain...)
	return &out
}

// merge folds the chain root-first into an effective spec. Tool and
// skill lists are set-unions preserving first occurrence; maps are
// shallow-merged with child keys overriding; scalars take the last
// (deepest) set value.
func merge(chain []*AgentSpec) *EffectiveSpec {
	eff := &EffectiveSpec{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Metadata:    make(map[string]string),
		Config:      make(map[string]string),
	}
	seenTools := make(map[string]bool)
	seenSkills := make(map[string]bool)

	for _, s := range chain {
		eff.Chain = append(eff.Chain, s.Name)
		if s.Provider != "" {
			eff.Provider = s.Provider
		}
		if s.Model != "" {
			eff.Model = s.Model
		}
		if s.Temperature != nil {
			eff.Temperature = *s.Temperature
		}
		if s.MaxTokens != nil {
			eff.MaxTokens = *s.MaxTokens
		}
		if s.SystemPrompt != "" {
			eff.SystemPrompt = s.SystemPrompt
		}
		for _, tool := range s.Tools {
			if !seenTools[tool] {
				seenTools[tool] = true
				eff.Tools = append(eff.Tools, tool)
			}
		}
		for _, skill := range s.Skills {
			if !seenSkills[skill] {
				seenSkills[skill] = true
				eff.Skills = append(eff.Skills, skill)
			}
		}
		for k, v := range s.Metadata {
			eff.Metadata[k] = v
		}
		for k, v := range s.Config {
			eff.Config[k] = v
		}
	}
	// The leaf names the result.
	eff.Name = chain[len(chain)-1].Name
	return eff
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
