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

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, content string) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "weft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "weft.yaml"))
	// Missing config file is not an error; defaults apply.
	require.Error(t, err)

	viper.Reset()
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 8, cfg.Engine.Parallelism)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Sandbox.Enabled)
	assert.NotEmpty(t, cfg.Database.Path)
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg := loadTestConfig(t, `
llm:
  provider: ollama
  ollama_model: llama3.1:70b
engine:
  parallelism: 2
tools:
  allowed_commands: [ls, cat]
  allowed_hosts: ["api.example.com"]
logging:
  level: debug
  trace: true
`)

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3.1:70b", cfg.LLM.OllamaModel)
	assert.Equal(t, 2, cfg.Engine.Parallelism)
	assert.Equal(t, []string{"ls", "cat"}, cfg.Tools.AllowedCommands)
	assert.True(t, cfg.Logging.Trace)
}

func TestConfigValidate(t *testing.T) {
	cfg := loadTestConfig(t, "llm:\n  provider: ollama\n")
	require.NoError(t, cfg.Validate())

	cfg.LLM.Provider = "watsonx"
	assert.Error(t, cfg.Validate())

	cfg.LLM.Provider = "anthropic"
	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateSandboxNeedsImage(t *testing.T) {
	cfg := loadTestConfig(t, "sandbox:\n  enabled: true\n  image: \"\"\n")
	assert.Error(t, cfg.Validate())
}
