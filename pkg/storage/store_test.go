// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/group"
	"github.com/teradata-labs/weft/pkg/review"
	"github.com/teradata-labs/weft/pkg/types"
	"github.com/teradata-labs/weft/pkg/workflow"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := NewRunStore(context.Background(),
		filepath.Join(t.TempDir(), "weft.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestExecutionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	ec := &workflow.ExecutionContext{
		ID:            types.NewID(),
		WorkflowName:  "pipeline",
		Status:        types.WorkflowCompleted,
		CorrelationID: "corr-1",
		Inputs:        map[string]interface{}{"topic": "storage"},
		Outputs:       map[string]interface{}{"result": "done"},
		Metadata:      map[string]string{"tracker": "TASK-7"},
		Usage:         types.Usage{InputTokens: 100, OutputTokens: 40, TotalTokens: 140},
		StartedAt:     started,
		EndedAt:       time.Now(),
		Steps: map[string]*workflow.StepRecord{
			"s1": {
				StepID:   "s1",
				Status:   types.StepCompleted,
				Attempts: 2,
				Output:   "done",
				Usage:    types.Usage{TotalTokens: 140},
			},
			"s2": {
				StepID: "s2",
				Status: types.StepSkipped,
			},
		},
	}
	require.NoError(t, store.SaveExecution(ctx, ec))

	got, err := store.GetExecution(ctx, ec.ID)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", got.WorkflowName)
	assert.Equal(t, types.WorkflowCompleted, got.Status)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, map[string]interface{}{"topic": "storage"}, got.Inputs)
	assert.Equal(t, map[string]interface{}{"result": "done"}, got.Outputs)
	assert.Equal(t, map[string]string{"tracker": "TASK-7"}, got.Metadata)
	assert.Equal(t, 140, got.Usage.TotalTokens)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, 2, got.Steps["s1"].Attempts)
	assert.Equal(t, "done", got.Steps["s1"].Output)
	assert.Equal(t, types.StepSkipped, got.Steps["s2"].Status)
}

func TestExecutionUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ec := &workflow.ExecutionContext{
		ID:           types.NewID(),
		WorkflowName: "pipeline",
		Status:       types.WorkflowRunning,
		StartedAt:    time.Now(),
		Steps: map[string]*workflow.StepRecord{
			"s1": {StepID: "s1", Status: types.StepRunning, Attempts: 1},
		},
	}
	require.NoError(t, store.SaveExecution(ctx, ec))

	ec.Status = types.WorkflowFailed
	ec.Failure = &types.Failure{Kind: types.KindBadRequest, Message: "boom"}
	ec.Steps["s1"].Status = types.StepFailed
	ec.Steps["s1"].Attempts = 3
	require.NoError(t, store.SaveExecution(ctx, ec))

	got, err := store.GetExecution(ctx, ec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowFailed, got.Status)
	require.NotNil(t, got.Failure)
	assert.Equal(t, types.KindBadRequest, got.Failure.Kind)
	assert.Equal(t, 3, got.Steps["s1"].Attempts)
}

func TestGetExecutionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetExecution(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestListExecutions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		name := "alpha"
		if i == 2 {
			name = "beta"
		}
		require.NoError(t, store.SaveExecution(ctx, &workflow.ExecutionContext{
			ID:           types.NewID(),
			WorkflowName: name,
			Status:       types.WorkflowCompleted,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			Steps:        map[string]*workflow.StepRecord{},
		}))
	}

	all, err := store.ListExecutions(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.True(t, all[0].StartedAt.After(all[1].StartedAt))

	alphas, err := store.ListExecutions(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Len(t, alphas, 2)
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &group.Session{
		ID:        types.NewID(),
		GroupName: "council",
		Goal:      "agree on the plan",
		Status:    types.SessionCompleted,
		Round:     2,
		Consensus: "plan x",
		Messages: []types.Message{
			{
				Role:         types.RoleAssistant,
				Sender:       "a",
				Performative: types.PerformativePropose,
				Parts:        []types.ContentPart{{Kind: types.PartText, Text: "plan x"}},
			},
		},
		Usage:     types.Usage{TotalTokens: 60},
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
	}
	require.NoError(t, store.SaveSession(ctx, session))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "council", got.GroupName)
	assert.Equal(t, types.SessionCompleted, got.Status)
	assert.Equal(t, "plan x", got.Consensus)
	assert.Equal(t, 2, got.Round)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, types.PerformativePropose, got.Messages[0].Performative)
	assert.Equal(t, "plan x", got.Messages[0].Text())
}

func TestReviewRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := review.Request{
		ID: types.NewID(),
		Artifact: review.Artifact{
			ID:      "step-9",
			Kind:    "workflow_step",
			Content: "rm -rf /var/data",
			Creator: "exec-1",
		},
		State: types.ReviewApproved,
		Records: []review.DecisionRecord{
			{Reviewer: "lead", Approved: true, Comment: "fine"},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveReview(ctx, req))

	got, err := store.GetReview(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewApproved, got.State)
	assert.Equal(t, "step-9", got.Artifact.ID)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "lead", got.Records[0].Reviewer)
	assert.True(t, got.Records[0].Approved)
}

func TestJournalIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := event.Event{
		ID:            types.NewID(),
		Kind:          event.WorkflowStarted,
		CorrelationID: "corr-1",
		Payload:       map[string]interface{}{"workflow": "pipeline"},
		Timestamp:     time.Now(),
	}
	require.NoError(t, store.JournalEvent(ctx, ev))
	// At-least-once delivery replays the same event.
	require.NoError(t, store.JournalEvent(ctx, ev))

	events, err := store.Events(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.WorkflowStarted, events[0].Kind)
	assert.Equal(t, "pipeline", events[0].Payload["workflow"])
}

func TestJournalSubscribesToBus(t *testing.T) {
	store := newTestStore(t)
	bus := event.NewBus(event.WithLogger(zaptest.NewLogger(t)))

	cancel := store.Journal(bus)
	defer cancel()

	bus.Emit(event.WorkflowStarted, "corr-2", nil)
	bus.Emit(event.WorkflowCompleted, "corr-2", nil)
	bus.Close()

	events, err := store.Events(context.Background(), "corr-2")
	require.NoError(t, err)
	require.Len(t, events, 2)
	// ULID ids order the journal by publish time.
	assert.Equal(t, event.WorkflowStarted, events[0].Kind)
	assert.Equal(t, event.WorkflowCompleted, events[1].Kind)
}
