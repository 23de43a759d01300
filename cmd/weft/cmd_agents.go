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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	weftconfig "github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/spec"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect agent specs",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent specs in the spec directory",
	Long: `List the agent specs in the configured spec directory with their
resolved provider, model, and tools after inheritance.

Examples:
  weft agents list
  weft agents list --specs ./agents`,
	Run: runAgentsList,
}

func init() {
	agentsCmd.AddCommand(agentsListCmd)
	rootCmd.AddCommand(agentsCmd)
}

func runAgentsList(cmd *cobra.Command, args []string) {
	specs, err := weftconfig.LoadAgentSpecs(config.Specs.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	if len(specs) == 0 {
		fmt.Printf("No agent specs found in %s\n", config.Specs.Dir)
		return
	}

	registry := spec.NewRegistry()
	for _, s := range specs {
		if err := registry.Register(s, false); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPARENT\tPROVIDER\tMODEL\tTOOLS")
	for _, name := range registry.List() {
		eff, err := registry.Resolve(name)
		if err != nil {
			fmt.Fprintf(w, "%s\t\t\t\t(unresolvable: %v)\n", name, err)
			continue
		}
		s, _ := registry.Get(name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			name, s.Parent, eff.Provider, eff.Model, strings.Join(eff.Tools, ","))
	}
	_ = w.Flush()
}
