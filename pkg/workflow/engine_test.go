// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/group"
	"github.com/teradata-labs/weft/pkg/review"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap/zaptest"
)

// agentBehavior scripts one agent's response for the fake runner.
type agentBehavior func(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error)

type fakeAgents struct {
	mu        sync.Mutex
	behaviors map[string]agentBehavior
	calls     map[string]int
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{behaviors: make(map[string]agentBehavior), calls: make(map[string]int)}
}

func (f *fakeAgents) on(name string, b agentBehavior) { f.behaviors[name] = b }

func (f *fakeAgents) Execute(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
	f.mu.Lock()
	f.calls[req.AgentName]++
	b := f.behaviors[req.AgentName]
	f.mu.Unlock()
	if b == nil {
		return nil, types.NewError(types.KindNotFound, "agent %q not scripted", req.AgentName)
	}
	return b(ctx, req)
}

func (f *fakeAgents) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// echoes the bound "text" input back as output.
func echoBehavior(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
	return &types.StepResult{
		Status: types.StepCompleted,
		Output: req.Inputs["text"],
		Usage:  types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

// sleeps, honoring cancellation the way a real turn does.
func slowBehavior(d time.Duration) agentBehavior {
	return func(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
		select {
		case <-time.After(d):
			return &types.StepResult{Status: types.StepCompleted, Output: "slow done"}, nil
		case <-ctx.Done():
			return nil, types.WrapError(types.KindOf(ctx.Err()), ctx.Err(), "turn interrupted")
		}
	}
}

func failBehavior(kind types.Kind, after time.Duration) agentBehavior {
	return func(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
		if after > 0 {
			select {
			case <-time.After(after):
			case <-ctx.Done():
				return nil, types.WrapError(types.KindOf(ctx.Err()), ctx.Err(), "turn interrupted")
			}
		}
		return nil, types.NewError(kind, "scripted failure")
	}
}

func newTestEngine(t *testing.T, agents AgentRunner, mutate func(*EngineConfig)) (*Engine, *collector, func()) {
	t.Helper()
	bus := event.NewBus(event.WithLogger(zaptest.NewLogger(t)))
	c := newCollector()
	cancelSub := bus.Subscribe(c.handle)
	config := EngineConfig{
		Agents: agents,
		Bus:    bus,
		Logger: zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&config)
	}
	engine, err := NewEngine(config)
	require.NoError(t, err)
	return engine, c, func() {
		cancelSub()
		bus.Close()
	}
}

func TestSingleAgentStepHappyPath(t *testing.T) {
	agents := newFakeAgents()
	agents.on("echoer", echoBehavior)
	engine, c, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name:   "echo",
		Inputs: []InputDecl{{Name: "text", Type: "string", Required: true}},
		Steps: []Step{{
			ID: "s1", Kind: StepAgent, Agent: "echoer", Task: "repeat the input",
			Inputs: map[string]Binding{"text": {Input: "text"}},
		}},
		Outputs: []OutputBinding{{Name: "result", Step: "s1"}},
	}

	ec, err := engine.Execute(context.Background(), wf, map[string]interface{}{"text": "hello"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowCompleted, ec.Status)
	assert.Equal(t, map[string]interface{}{"result": "hello"}, ec.Outputs)
	assert.Equal(t, types.StepCompleted, ec.Steps["s1"].Status)
	assert.Equal(t, 1, ec.Steps["s1"].Attempts)
	assert.Equal(t, 15, ec.Usage.TotalTokens)
	assert.Nil(t, ec.Failure)

	// Exactly one step-started and one step-completed for s1, in order,
	// bracketed by the workflow events.
	events := c.wait(t, 4)
	var started, completed []int
	for i, ev := range events {
		assert.Equal(t, ec.ID, ev.CorrelationID)
		switch ev.Kind {
		case event.WorkflowStepStarted:
			started = append(started, i)
		case event.WorkflowStepCompleted:
			completed = append(completed, i)
		}
	}
	require.Len(t, started, 1)
	require.Len(t, completed, 1)
	assert.Less(t, started[0], completed[0])
	assert.Equal(t, event.WorkflowStarted, events[0].Kind)
	assert.Equal(t, event.WorkflowCompleted, events[len(events)-1].Kind)
}

func TestParallelFanOutFailFast(t *testing.T) {
	agents := newFakeAgents()
	agents.on("slow-1", slowBehavior(500*time.Millisecond))
	agents.on("failing", failBehavior(types.KindBadRequest, 50*time.Millisecond))
	agents.on("slow-3", slowBehavior(500*time.Millisecond))
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name: "fanout",
		Steps: []Step{
			{ID: "p1", Kind: StepAgent, Agent: "slow-1", Task: "t"},
			{ID: "p2", Kind: StepAgent, Agent: "failing", Task: "t"},
			{ID: "p3", Kind: StepAgent, Agent: "slow-3", Task: "t"},
		},
	}

	start := time.Now()
	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, types.KindBadRequest, types.KindOf(err))
	assert.Equal(t, types.WorkflowFailed, ec.Status)
	assert.Equal(t, types.StepFailed, ec.Steps["p2"].Status)
	assert.Equal(t, types.StepCancelled, ec.Steps["p1"].Status)
	assert.Equal(t, types.StepCancelled, ec.Steps["p3"].Status)
	// Sibling cancellation: the run must not wait out the slow steps.
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestStepRetrySharesRecord(t *testing.T) {
	agents := newFakeAgents()
	var attempts int
	var mu sync.Mutex
	agents.on("flaky", func(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return nil, types.NewError(types.KindTransient, "blip %d", n)
		}
		return &types.StepResult{Status: types.StepCompleted, Output: "finally"}, nil
	})
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name: "retrying",
		Steps: []Step{{
			ID: "s1", Kind: StepAgent, Agent: "flaky", Task: "t",
			Retry: &RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
		}},
		Outputs: []OutputBinding{{Name: "out", Step: "s1"}},
	}

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, ec.Steps["s1"].Attempts)
	assert.Equal(t, "finally", ec.Outputs["out"])
}

func TestNonRetryableKindIsNotRetried(t *testing.T) {
	agents := newFakeAgents()
	agents.on("broken", failBehavior(types.KindBadRequest, 0))
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name: "no-retry",
		Steps: []Step{{
			ID: "s1", Kind: StepAgent, Agent: "broken", Task: "t",
			Retry: &RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
		}},
	}

	_, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, agents.callCount("broken"))
}

func TestContinueOnErrorSkipsDownstream(t *testing.T) {
	agents := newFakeAgents()
	agents.on("broken", failBehavior(types.KindBadRequest, 0))
	agents.on("worker", echoBehavior)
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name:    "lenient",
		OnError: ContinueOnError,
		Steps: []Step{
			{ID: "bad", Kind: StepAgent, Agent: "broken", Task: "t"},
			{ID: "after-bad", Kind: StepAgent, Agent: "worker", Task: "t", DependsOn: []string{"bad"}},
			{ID: "independent", Kind: StepAgent, Agent: "worker", Task: "t"},
		},
	}

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, types.WorkflowFailed, ec.Status)
	assert.Equal(t, types.StepFailed, ec.Steps["bad"].Status)
	assert.Equal(t, types.StepSkipped, ec.Steps["after-bad"].Status)
	assert.Equal(t, types.StepCompleted, ec.Steps["independent"].Status)
}

func TestConditionFalseSkipsStep(t *testing.T) {
	agents := newFakeAgents()
	agents.on("worker", echoBehavior)
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name:   "conditional",
		Inputs: []InputDecl{{Name: "mode", Type: "string"}},
		Steps: []Step{{
			ID: "opt", Kind: StepAgent, Agent: "worker", Task: "t",
			Condition: `mode == "full"`,
			Inputs:    map[string]Binding{"mode": {Input: "mode"}},
		}},
		Outputs: []OutputBinding{{Name: "out", Step: "opt"}},
	}

	ec, err := engine.Execute(context.Background(), wf, map[string]interface{}{"mode": "fast"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, ec.Status)
	assert.Equal(t, types.StepSkipped, ec.Steps["opt"].Status)
	// A skipped step's declared output reads as null downstream.
	assert.Nil(t, ec.Outputs["out"])
	assert.Zero(t, agents.callCount("worker"))
}

func TestBranchActivatesOneSide(t *testing.T) {
	agents := newFakeAgents()
	agents.on("prober", func(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
		return &types.StepResult{Status: types.StepCompleted, Output: "ship"}, nil
	})
	agents.on("worker", echoBehavior)
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name: "branched",
		Steps: []Step{
			{ID: "probe", Kind: StepAgent, Agent: "prober", Task: "t"},
			{ID: "decide", Kind: StepBranch, Condition: `verdict == "ship"`,
				DependsOn: []string{"probe"},
				Inputs:    map[string]Binding{"verdict": {Step: "probe"}},
				Then:      []string{"release"}, Else: []string{"fix"}},
			{ID: "release", Kind: StepAgent, Agent: "worker", Task: "t", DependsOn: []string{"decide"}},
			{ID: "fix", Kind: StepAgent, Agent: "worker", Task: "t", DependsOn: []string{"decide"}},
		},
	}

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, ec.Status)
	assert.Equal(t, true, ec.Steps["decide"].Output)
	assert.Equal(t, types.StepCompleted, ec.Steps["release"].Status)
	assert.Equal(t, types.StepSkipped, ec.Steps["fix"].Status)
}

func TestParallelStepJoinsOutputs(t *testing.T) {
	agents := newFakeAgents()
	agents.on("worker-a", func(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
		return &types.StepResult{Status: types.StepCompleted, Output: "alpha"}, nil
	})
	agents.on("worker-b", func(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
		return &types.StepResult{Status: types.StepCompleted, Output: "beta"}, nil
	})
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name: "joined",
		Steps: []Step{{
			ID: "fan", Kind: StepParallel, Steps: []Step{
				{ID: "sub-a", Kind: StepAgent, Agent: "worker-a", Task: "t"},
				{ID: "sub-b", Kind: StepAgent, Agent: "worker-b", Task: "t"},
			},
		}},
		Outputs: []OutputBinding{{Name: "joined", Step: "fan"}},
	}

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"sub-a": "alpha", "sub-b": "beta"}, ec.Outputs["joined"])
	assert.Equal(t, types.StepCompleted, ec.Steps["sub-a"].Status)
	assert.Equal(t, types.StepCompleted, ec.Steps["sub-b"].Status)
}

func TestParallelStepFailureCancelsSiblings(t *testing.T) {
	agents := newFakeAgents()
	agents.on("failing", failBehavior(types.KindBadRequest, 10*time.Millisecond))
	agents.on("slow", slowBehavior(time.Second))
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name: "fan-fail",
		Steps: []Step{{
			ID: "fan", Kind: StepParallel, Steps: []Step{
				{ID: "sub-bad", Kind: StepAgent, Agent: "failing", Task: "t"},
				{ID: "sub-slow", Kind: StepAgent, Agent: "slow", Task: "t"},
			},
		}},
	}

	start := time.Now()
	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, types.KindBadRequest, types.KindOf(err))
	assert.Equal(t, types.StepFailed, ec.Steps["sub-bad"].Status)
	assert.Equal(t, types.StepCancelled, ec.Steps["sub-slow"].Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWorkflowTimeout(t *testing.T) {
	agents := newFakeAgents()
	agents.on("slow", slowBehavior(time.Second))
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name:  "deadline",
		Steps: []Step{{ID: "s1", Kind: StepAgent, Agent: "slow", Task: "t"}},
	}

	ec, err := engine.Execute(context.Background(), wf, nil, Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, types.KindTimeout, types.KindOf(err))
	assert.Equal(t, types.WorkflowTimeout, ec.Status)
}

func TestWorkflowCancellation(t *testing.T) {
	agents := newFakeAgents()
	agents.on("slow", slowBehavior(time.Second))
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	wf := &Workflow{
		Name:  "interrupted",
		Steps: []Step{{ID: "s1", Kind: StepAgent, Agent: "slow", Task: "t"}},
	}
	ec, err := engine.Execute(ctx, wf, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
	assert.Equal(t, types.WorkflowCancelled, ec.Status)
	assert.Equal(t, types.StepCancelled, ec.Steps["s1"].Status)
}

func TestToolStep(t *testing.T) {
	registry := shuttle.NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, registry.Register(&staticTool{name: "lookup", data: "found"}))

	agents := newFakeAgents()
	engine, _, cleanup := newTestEngine(t, agents, func(c *EngineConfig) {
		c.Tools = registry
	})
	defer cleanup()

	wf := &Workflow{
		Name: "tooling",
		Steps: []Step{{
			ID: "t1", Kind: StepTool, Tool: "lookup",
			Args: map[string]interface{}{"key": "k"},
		}},
		Outputs: []OutputBinding{{Name: "hit", Step: "t1"}},
	}

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "found", ec.Outputs["hit"])
}

func TestGroupStep(t *testing.T) {
	def := &group.Group{
		Name:               "council",
		Pattern:            group.PatternBroadcast,
		Members:            []string{"a", "b"},
		ConsensusThreshold: 0.5,
		MaxRounds:          2,
	}
	groups := groupRunnerFunc(func(ctx context.Context, g *group.Group, goal string, opts group.Options) (*group.Session, error) {
		return &group.Session{
			GroupName: g.Name,
			Status:    types.SessionCompleted,
			Consensus: "agreed plan",
			Usage:     types.Usage{TotalTokens: 40},
		}, nil
	})

	agents := newFakeAgents()
	engine, _, cleanup := newTestEngine(t, agents, func(c *EngineConfig) {
		c.Groups = groups
		c.GroupDefs = map[string]*group.Group{"council": def}
	})
	defer cleanup()

	wf := &Workflow{
		Name: "deliberate",
		Steps: []Step{{
			ID: "g1", Kind: StepGroup, Group: "council", Goal: "settle the plan",
		}},
		Outputs: []OutputBinding{{Name: "plan", Step: "g1"}},
	}

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "agreed plan", ec.Outputs["plan"])
	assert.Equal(t, 40, ec.Usage.TotalTokens)
}

func TestGroupStepUnknownGroup(t *testing.T) {
	agents := newFakeAgents()
	engine, _, cleanup := newTestEngine(t, agents, func(c *EngineConfig) {
		c.Groups = groupRunnerFunc(func(ctx context.Context, g *group.Group, goal string, opts group.Options) (*group.Session, error) {
			return nil, nil
		})
	})
	defer cleanup()

	wf := &Workflow{
		Name:  "lost",
		Steps: []Step{{ID: "g1", Kind: StepGroup, Group: "ghost", Goal: "g"}},
	}
	_, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestApprovalGateResume(t *testing.T) {
	gate := review.NewGate(nil, zaptest.NewLogger(t))
	agents := newFakeAgents()
	agents.on("worker", echoBehavior)
	engine, _, cleanup := newTestEngine(t, agents, func(c *EngineConfig) {
		c.Reviews = gate
	})
	defer cleanup()

	wf := &Workflow{
		Name: "gated",
		Steps: []Step{{
			ID: "s1", Kind: StepAgent, Agent: "worker",
			Task:     "rm -rf /var/data", // trips the high-risk patterns
			Approval: &ApprovalPolicy{Reviewers: []string{"lead"}},
		}},
	}

	// Approve once the request shows up.
	go func() {
		for i := 0; i < 100; i++ {
			pending := gate.Pending()
			if len(pending) == 1 {
				_ = gate.Approve(pending[0].ID, "lead", "fine")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, ec.Status)
	assert.Equal(t, 1, agents.callCount("worker"))
}

func TestApprovalGateRejection(t *testing.T) {
	gate := review.NewGate(nil, zaptest.NewLogger(t))
	agents := newFakeAgents()
	agents.on("worker", echoBehavior)
	engine, _, cleanup := newTestEngine(t, agents, func(c *EngineConfig) {
		c.Reviews = gate
	})
	defer cleanup()

	wf := &Workflow{
		Name: "vetoed",
		Steps: []Step{{
			ID: "s1", Kind: StepAgent, Agent: "worker",
			Task:     "rm -rf /var/data",
			Approval: &ApprovalPolicy{Reviewers: []string{"lead"}},
		}},
	}

	go func() {
		for i := 0; i < 100; i++ {
			pending := gate.Pending()
			if len(pending) == 1 {
				_ = gate.Reject(pending[0].ID, "lead", "too risky")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))
	assert.Equal(t, types.WorkflowFailed, ec.Status)
	// The gated step never dispatched.
	assert.Zero(t, agents.callCount("worker"))
}

func TestRequiredInputMissing(t *testing.T) {
	agents := newFakeAgents()
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := linearWorkflow()
	_, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, types.KindInvalidWorkflow, types.KindOf(err))
	assert.Contains(t, err.Error(), "required input")
}

func TestUndeclaredInputRejected(t *testing.T) {
	agents := newFakeAgents()
	agents.on("worker", echoBehavior)
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := linearWorkflow()
	_, err := engine.Execute(context.Background(), wf,
		map[string]interface{}{"topic": "x", "surprise": true}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}

func TestInputDefaultApplied(t *testing.T) {
	agents := newFakeAgents()
	agents.on("worker", func(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error) {
		return &types.StepResult{
			Status: types.StepCompleted,
			Output: fmt.Sprintf("%v", req.Inputs["depth"]),
		}, nil
	})
	engine, _, cleanup := newTestEngine(t, agents, nil)
	defer cleanup()

	wf := &Workflow{
		Name:   "defaulted",
		Inputs: []InputDecl{{Name: "depth", Type: "number", Default: 3}},
		Steps: []Step{{
			ID: "s1", Kind: StepAgent, Agent: "worker", Task: "t",
			Inputs: map[string]Binding{"depth": {Input: "depth"}},
		}},
		Outputs: []OutputBinding{{Name: "out", Step: "s1"}},
	}

	ec, err := engine.Execute(context.Background(), wf, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "3", ec.Outputs["out"])
}

// groupRunnerFunc adapts a function to the GroupRunner interface.
type groupRunnerFunc func(ctx context.Context, g *group.Group, goal string, opts group.Options) (*group.Session, error)

func (f groupRunnerFunc) Collaborate(ctx context.Context, g *group.Group, goal string, opts group.Options) (*group.Session, error) {
	return f(ctx, g, goal, opts)
}

// staticTool returns fixed data for tool-step tests.
type staticTool struct {
	name string
	data interface{}
}

func (t *staticTool) Name() string        { return t.name }
func (t *staticTool) Description() string { return "returns fixed data" }
func (t *staticTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("lookup params", map[string]*shuttle.JSONSchema{
		"key": shuttle.NewStringSchema("lookup key"),
	}, nil)
}
func (t *staticTool) SideEffect() shuttle.SideEffect { return shuttle.SideEffectPure }
func (t *staticTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	return &shuttle.Result{Data: t.data}, nil
}

// collector accumulates delivered events behind a mutex.
type collector struct {
	mu     sync.Mutex
	events []event.Event
	seen   chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 1024)}
}

func (c *collector) handle(ev event.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []event.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.events) >= n {
			out := make([]event.Event, len(c.events))
			copy(out, c.events)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}
