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
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/viper"
	weftconfig "github.com/teradata-labs/weft/pkg/config"
	"go.uber.org/zap"
)

// DefaultConfigFileName is the base name of the config file (weft.yaml).
const DefaultConfigFileName = "weft"

// Config holds all configuration for the weft CLI.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// Specs configuration (agent spec directory)
	Specs SpecsConfig `mapstructure:"specs"`

	// Groups configuration (group definition directory)
	Groups GroupsConfig `mapstructure:"groups"`

	// LLM provider configuration
	LLM LLMConfig `mapstructure:"llm"`

	// Database configuration (run store)
	Database DatabaseConfig `mapstructure:"database"`

	// Tools configuration (builtin tool allowlists)
	Tools ToolsConfig `mapstructure:"tools"`

	// Sandbox configuration (container-based tool execution)
	Sandbox SandboxConfig `mapstructure:"sandbox"`

	// Engine configuration (workflow execution)
	Engine EngineSettings `mapstructure:"engine"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// SpecsConfig holds agent spec directory configuration.
type SpecsConfig struct {
	// Dir is the directory holding agent spec YAML files
	Dir string `mapstructure:"dir"`

	// HotReload re-registers specs when files change (default: false)
	HotReload bool `mapstructure:"hot_reload"`
}

// GroupsConfig holds group definition directory configuration.
type GroupsConfig struct {
	// Dir is the directory holding group YAML files
	Dir string `mapstructure:"dir"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider string `mapstructure:"provider"` // anthropic, ollama

	// Anthropic-specific
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"` // From CLI/env only
	AnthropicModel  string `mapstructure:"anthropic_model"`

	// Ollama-specific
	OllamaEndpoint string `mapstructure:"ollama_endpoint"`
	OllamaModel    string `mapstructure:"ollama_model"`

	// Common parameters
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// DatabaseConfig holds run store configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ToolsConfig holds builtin tool allowlists. Empty lists disable the
// corresponding tool.
type ToolsConfig struct {
	// AllowedPaths are filesystem prefixes file tools may touch
	AllowedPaths []string `mapstructure:"allowed_paths"`

	// AllowedCommands are executables shell_exec may run
	AllowedCommands []string `mapstructure:"allowed_commands"`

	// AllowedHosts are host patterns http_request may reach
	AllowedHosts []string `mapstructure:"allowed_hosts"`

	// Workdir is the working directory for shell_exec
	Workdir string `mapstructure:"workdir"`
}

// SandboxConfig holds sandbox tool configuration.
type SandboxConfig struct {
	// Enabled registers the sandbox_exec tool (default: false)
	Enabled bool `mapstructure:"enabled"`

	// DockerHost is the Docker daemon endpoint (default: from environment)
	DockerHost string `mapstructure:"docker_host"`

	// Image is the sandbox container image
	Image string `mapstructure:"image"`

	// Resource limits
	CPUShare    float64 `mapstructure:"cpu_share"`
	MemoryBytes int64   `mapstructure:"memory_bytes"`
	DiskBytes   int64   `mapstructure:"disk_bytes"`

	// TimeoutSeconds bounds each sandboxed command
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// Network policy: none, bridged, host
	Network string `mapstructure:"network"`

	// FSMode: read-only-root, writable
	FSMode string `mapstructure:"fs_mode"`

	// MaxConcurrent bounds live sandboxes
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// EngineSettings holds workflow engine configuration.
type EngineSettings struct {
	// Parallelism caps concurrent workflow steps (default: 8)
	Parallelism int `mapstructure:"parallelism"`

	// MaxToolRounds bounds the completion/tool loop per agent turn
	MaxToolRounds int `mapstructure:"max_tool_rounds"`

	// ContinueOnLength enables length-based turn continuation
	ContinueOnLength bool `mapstructure:"continue_on_length"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // optional log file path

	// Trace exports spans to the logger at debug level
	Trace bool `mapstructure:"trace"`
}

// LoadConfig loads configuration from flags, config file, environment
// variables, and defaults, in that priority order.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(weftconfig.DataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/weft/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// No config file; defaults + env vars + flags.
	}

	viper.SetEnvPrefix("WEFT")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	dataDir := weftconfig.DataDir()

	viper.SetDefault("specs.dir", filepath.Join(dataDir, "agents"))
	viper.SetDefault("specs.hot_reload", false)
	viper.SetDefault("groups.dir", filepath.Join(dataDir, "groups"))

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.anthropic_model", "claude-sonnet-4-5")
	viper.SetDefault("llm.ollama_endpoint", "http://localhost:11434")
	viper.SetDefault("llm.ollama_model", "llama3.1:8b")
	viper.SetDefault("llm.timeout_seconds", 120)

	viper.SetDefault("database.path", filepath.Join(dataDir, "weft.db"))

	viper.SetDefault("sandbox.enabled", false)
	viper.SetDefault("sandbox.image", "weft-sandbox:latest")
	viper.SetDefault("sandbox.cpu_share", 1.0)
	viper.SetDefault("sandbox.memory_bytes", 512<<20)
	viper.SetDefault("sandbox.disk_bytes", 1<<30)
	viper.SetDefault("sandbox.timeout_seconds", 120)
	viper.SetDefault("sandbox.network", "none")
	viper.SetDefault("sandbox.fs_mode", "writable")
	viper.SetDefault("sandbox.max_concurrent", 4)

	viper.SetDefault("engine.parallelism", 8)
	viper.SetDefault("engine.max_tool_rounds", 16)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "ollama":
	case "":
		return fmt.Errorf("llm.provider is required")
	default:
		return fmt.Errorf("unsupported LLM provider: %s (must be anthropic or ollama)", c.LLM.Provider)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sandbox.Enabled && c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image is required when the sandbox is enabled")
	}
	return nil
}

// buildLogger creates the process logger from the logging config.
func buildLogger(cfg LoggingConfig) *zap.Logger {
	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	logLevel := zap.InfoLevel
	if cfg.Level != "" {
		if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
			log.Printf("Invalid log level %q, using INFO: %v", cfg.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	if cfg.File != "" {
		zapConfig.OutputPaths = []string{cfg.File}
		zapConfig.ErrorOutputPaths = []string{cfg.File}
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}
