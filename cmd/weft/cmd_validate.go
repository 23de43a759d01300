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
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	weftconfig "github.com/teradata-labs/weft/pkg/config"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate <path>...",
	Short: "Validate workflow, agent spec, and group files",
	Long: `Validate weft YAML documents. Directories are walked recursively.

The document type is detected from its structure:
- steps          -> workflow
- members/pattern -> group
- otherwise      -> agent spec

Examples:
  weft validate workflows/research.yaml
  weft validate agents/ groups/ workflows/`,
	Args: cobra.MinimumNArgs(1),
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	var files []string
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", path, err)
			os.Exit(1)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && (strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml")) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Error walking %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	if len(files) == 0 {
		fmt.Println("No YAML files found")
		return
	}

	invalid := 0
	for _, file := range files {
		docKind, err := validateDocument(file)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", file, err)
			invalid++
			continue
		}
		fmt.Printf("✅ %s (%s)\n", file, docKind)
	}
	if invalid > 0 {
		fmt.Printf("\n%d of %d file(s) invalid\n", invalid, len(files))
		os.Exit(1)
	}
}

// validateDocument detects the document type from its top-level keys
// and runs the matching loader.
func validateDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", err
	}

	switch {
	case doc["steps"] != nil:
		_, err := weftconfig.LoadWorkflow(path)
		return "workflow", err
	case doc["members"] != nil || doc["pattern"] != nil:
		_, err := weftconfig.LoadGroup(path)
		return "group", err
	default:
		_, err := weftconfig.LoadAgentSpec(path)
		return "agent", err
	}
}
