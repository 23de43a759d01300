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
package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs([]string{
		"topic=vector databases",
		"count=3",
		"ratio=0.5",
		"dry_run=true",
		`label="42"`,
	})
	require.NoError(t, err)
	assert.Equal(t, "vector databases", inputs["topic"])
	assert.Equal(t, float64(3), inputs["count"])
	assert.Equal(t, 0.5, inputs["ratio"])
	assert.Equal(t, true, inputs["dry_run"])
	// Quoted values stay strings even when numeric.
	assert.Equal(t, "42", inputs["label"])
}

func TestParseInputsRejectsMalformedPairs(t *testing.T) {
	for _, pair := range []string{"topic", "=value", ""} {
		_, err := parseInputs([]string{pair})
		assert.Error(t, err, "pair %q", pair)
	}
}

func TestParseInputsEmpty(t *testing.T) {
	inputs, err := parseInputs(nil)
	require.NoError(t, err)
	assert.Nil(t, inputs)
}

func TestValidateDocumentDetection(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	wfPath := write("wf.yaml", `
name: pipeline
steps:
  - id: only
    kind: agent
    agent: researcher
    task: t
`)
	kind, err := validateDocument(wfPath)
	require.NoError(t, err)
	assert.Equal(t, "workflow", kind)

	groupPath := write("group.yaml", `
name: council
pattern: broadcast
members: [a, b]
consensus_threshold: 0.5
max_rounds: 3
`)
	kind, err = validateDocument(groupPath)
	require.NoError(t, err)
	assert.Equal(t, "group", kind)

	agentPath := write("agent.yaml", "name: researcher\nprovider: anthropic\n")
	kind, err = validateDocument(agentPath)
	require.NoError(t, err)
	assert.Equal(t, "agent", kind)

	badPath := write("bad.yaml", `
name: pipeline
steps:
  - id: only
    kind: agent
    agent: researcher
    task: t
    depends_on: [ghost]
`)
	_, err = validateDocument(badPath)
	assert.Error(t, err)
}
