// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config loads declarative documents (agent specs, workflows,
// groups) from YAML and keeps a spec directory hot-reloaded.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teradata-labs/weft/pkg/group"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
	"github.com/teradata-labs/weft/pkg/workflow"
	"gopkg.in/yaml.v3"
)

// LoadAgentSpec reads one agent spec document. Unknown keys are
// rejected so typos surface at load time instead of silently
// defaulting.
func LoadAgentSpec(path string) (*spec.AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.KindInvalidSpec, err, "read agent spec %q", path)
	}
	var s spec.AgentSpec
	if err := decodeStrict(data, &s); err != nil {
		return nil, types.WrapError(types.KindInvalidSpec, err, "parse agent spec %q", path)
	}
	if s.Name == "" {
		return nil, types.NewError(types.KindInvalidSpec, "agent spec %q has no name", path)
	}
	return &s, nil
}

// LoadAgentSpecs reads every .yaml/.yml document in a directory,
// sorted by filename for deterministic registration order.
func LoadAgentSpecs(dir string) ([]*spec.AgentSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, types.WrapError(types.KindInvalidSpec, err, "read spec directory %q", dir)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	specs := make([]*spec.AgentSpec, 0, len(paths))
	for _, path := range paths {
		s, err := LoadAgentSpec(path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// LoadWorkflow reads and validates one workflow document.
func LoadWorkflow(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.KindInvalidWorkflow, err, "read workflow %q", path)
	}
	var w workflow.Workflow
	if err := decodeStrict(data, &w); err != nil {
		return nil, types.WrapError(types.KindInvalidWorkflow, err, "parse workflow %q", path)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// LoadGroup reads and validates one group document.
func LoadGroup(path string) (*group.Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.KindInvalidGroup, err, "read group %q", path)
	}
	var g group.Group
	if err := decodeStrict(data, &g); err != nil {
		return nil, types.WrapError(types.KindInvalidGroup, err, "parse group %q", path)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func decodeStrict(data []byte, dst interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(dst)
}

func isYAML(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
