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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	weftconfig "github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/types"
	"github.com/teradata-labs/weft/pkg/workflow"
	"go.uber.org/zap"
)

var (
	runWorkflowFile string
	runInputs       []string
	runTimeout      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a workflow",
	Long: `Execute a workflow defined in a YAML file.

Inputs are passed as key=value pairs; values are parsed as JSON when
possible (numbers, booleans, quoted strings, arrays) and fall back to
plain strings otherwise.

Examples:
  weft run -w workflows/research.yaml -i topic="vector databases"
  weft run -w pipeline.yaml -i count=3 -i dry_run=true --timeout 10m`,
	Run: runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&runWorkflowFile, "workflow", "w", "", "workflow YAML file (required)")
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "workflow input as key=value (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall execution timeout (0 = workflow default)")
	_ = runCmd.MarkFlagRequired("workflow")
	rootCmd.AddCommand(runCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) {
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := buildLogger(config.Logging)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wf, err := weftconfig.LoadWorkflow(runWorkflowFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	inputs, err := parseInputs(runInputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	rt, err := newRuntime(ctx, config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to initialize runtime: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close(context.Background())

	ec, runErr := rt.workflows.Execute(ctx, wf, inputs, workflow.Options{Timeout: runTimeout})
	if ec != nil {
		if err := rt.store.SaveExecution(context.Background(), ec); err != nil {
			logger.Warn("failed to persist execution", zap.Error(err))
		}
		printExecution(ec)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "❌ Workflow failed: %v\n", runErr)
		os.Exit(1)
	}
}

func printExecution(ec *workflow.ExecutionContext) {
	fmt.Printf("Execution %s (%s): %s\n", ec.ID, ec.WorkflowName, ec.Status)
	fmt.Printf("Tokens: %d in / %d out / %d total\n",
		ec.Usage.InputTokens, ec.Usage.OutputTokens, ec.Usage.TotalTokens)
	if ec.Failure != nil {
		fmt.Printf("Failure: [%s] %s\n", ec.Failure.Kind, ec.Failure.Message)
	}
	if len(ec.Outputs) > 0 {
		out, err := json.MarshalIndent(ec.Outputs, "", "  ")
		if err == nil {
			fmt.Printf("Outputs:\n%s\n", out)
		}
	}
	for _, rec := range ec.Steps {
		if rec.Status == types.StepFailed && rec.Failure != nil {
			fmt.Printf("  step %s: [%s] %s\n", rec.StepID, rec.Failure.Kind, rec.Failure.Message)
		}
	}
}

// parseInputs turns repeated key=value flags into a workflow input map.
func parseInputs(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid input %q (expected key=value)", pair)
		}
		inputs[key] = parseInputValue(value)
	}
	return inputs, nil
}

// parseInputValue interprets the value as JSON when it parses, so
// numeric and boolean inputs match their declared types.
func parseInputValue(value string) interface{} {
	var parsed interface{}
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		return parsed
	}
	return value
}
