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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teradata-labs/weft/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "weft",
	Short:   "Weft - Declarative multi-agent orchestration runtime",
	Long:    `Weft runs LLM agent workflows defined in YAML: single agent turns, dependency-ordered workflow DAGs, and multi-agent group collaborations, with tool allowlists, sandboxed execution, and approval gates.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $WEFT_DATA_DIR/weft.yaml)")

	// Spec flags
	rootCmd.PersistentFlags().String("specs", "", "agent spec directory")
	rootCmd.PersistentFlags().String("groups", "", "group definition directory")

	// LLM flags
	rootCmd.PersistentFlags().String("llm-provider", "anthropic", "LLM provider (anthropic, ollama)")
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or ANTHROPIC_API_KEY)")
	rootCmd.PersistentFlags().String("anthropic-model", "claude-sonnet-4-5", "Anthropic model")

	// Database flags
	rootCmd.PersistentFlags().String("db", "", "SQLite run store path")

	// Engine flags
	rootCmd.PersistentFlags().Int("parallelism", 8, "maximum concurrent workflow steps")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().Bool("trace", false, "export spans to the logger")

	// Bind flags to viper
	_ = viper.BindPFlag("specs.dir", rootCmd.PersistentFlags().Lookup("specs"))
	_ = viper.BindPFlag("groups.dir", rootCmd.PersistentFlags().Lookup("groups"))

	_ = viper.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.anthropic_model", rootCmd.PersistentFlags().Lookup("anthropic-model"))

	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	_ = viper.BindPFlag("engine.parallelism", rootCmd.PersistentFlags().Lookup("parallelism"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.trace", rootCmd.PersistentFlags().Lookup("trace"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
