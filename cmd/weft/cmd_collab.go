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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	weftconfig "github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/group"
	"go.uber.org/zap"
)

var (
	collabGroupFile string
	collabGoal      string
	collabTimeout   time.Duration
	collabShowLog   bool
)

var collabCmd = &cobra.Command{
	Use:   "collab",
	Short: "Run a group collaboration to consensus",
	Long: `Run a multi-agent group collaboration toward a goal.

The group definition names the members, routing pattern, consensus
threshold, and round limit. The session ends when the agreement ratio
reaches the threshold or the round limit is exhausted.

Examples:
  weft collab -g groups/design-council.yaml --goal "Choose a storage engine"
  weft collab -g groups/review-board.yaml --goal "Approve the rollout plan" --transcript`,
	Run: runCollab,
}

func init() {
	collabCmd.Flags().StringVarP(&collabGroupFile, "group", "g", "", "group YAML file (required)")
	collabCmd.Flags().StringVar(&collabGoal, "goal", "", "shared objective for the session (required)")
	collabCmd.Flags().DurationVar(&collabTimeout, "timeout", 0, "session timeout (0 = none)")
	collabCmd.Flags().BoolVar(&collabShowLog, "transcript", false, "print the full conversation transcript")
	_ = collabCmd.MarkFlagRequired("group")
	_ = collabCmd.MarkFlagRequired("goal")
	rootCmd.AddCommand(collabCmd)
}

func runCollab(cmd *cobra.Command, args []string) {
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := buildLogger(config.Logging)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := weftconfig.LoadGroup(collabGroupFile)
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

	session, runErr := rt.groups.Collaborate(ctx, g, collabGoal, group.Options{Timeout: collabTimeout})
	if session != nil {
		if err := rt.store.SaveSession(context.Background(), session); err != nil {
			logger.Warn("failed to persist session", zap.Error(err))
		}
		printSession(session)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "❌ Collaboration failed: %v\n", runErr)
		os.Exit(1)
	}
}

func printSession(session *group.Session) {
	fmt.Printf("Session %s (%s): %s after %d round(s)\n",
		session.ID, session.GroupName, session.Status, session.Round)
	fmt.Printf("Tokens: %d in / %d out / %d total\n",
		session.Usage.InputTokens, session.Usage.OutputTokens, session.Usage.TotalTokens)
	if session.Consensus != "" {
		fmt.Printf("Consensus: %s\n", session.Consensus)
	}
	if session.Failure != nil {
		fmt.Printf("Failure: [%s] %s\n", session.Failure.Kind, session.Failure.Message)
	}
	if collabShowLog {
		fmt.Println("Transcript:")
		for _, msg := range session.Messages {
			fmt.Printf("  [%s] %s: %s\n", msg.Performative, msg.Sender, msg.Text())
		}
	}
}
