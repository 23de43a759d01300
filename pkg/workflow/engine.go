// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/group"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/review"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

// DefaultParallelism caps concurrent steps per workflow run.
const DefaultParallelism = 8

// AgentRunner executes agent steps. Satisfied by agent.Executor.
type AgentRunner interface {
	Execute(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error)
}

// GroupRunner executes group steps. Satisfied by group.Engine.
type GroupRunner interface {
	Collaborate(ctx context.Context, g *group.Group, goal string, opts group.Options) (*group.Session, error)
}

// ToolInvoker executes tool steps. Satisfied by shuttle.Registry.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}, policy *shuttle.Policy) (*shuttle.Result, error)
}

// StepRecord is the per-step state inside an execution. Retry attempts
// share one record; Attempts counts them.
type StepRecord struct {
	StepID    string
	Status    types.StepStatus
	Attempts  int
	Output    interface{}
	Failure   *types.Failure
	Usage     types.Usage
	StartedAt time.Time
	EndedAt   time.Time
}

// ExecutionContext is the per-invocation state of a workflow run.
type ExecutionContext struct {
	// ID is the execution ULID; it doubles as the event correlation id
	// unless the caller supplies one
	ID string

	WorkflowName string

	// Inputs are the resolved workflow inputs, defaults applied
	Inputs map[string]interface{}

	// Steps holds one record per step id, sub-steps included
	Steps map[string]*StepRecord

	// Outputs are the declared workflow outputs, computed on completion
	Outputs map[string]interface{}

	Status  types.WorkflowStatus
	Failure *types.Failure

	CorrelationID string

	// Metadata carries opaque cross-references to external trackers;
	// the engine never interprets it
	Metadata map[string]string

	Usage types.Usage

	StartedAt time.Time
	EndedAt   time.Time
}

// EngineConfig configures a workflow engine.
type EngineConfig struct {
	// Agents executes agent steps (required)
	Agents AgentRunner

	// Groups executes group steps; group steps fail without it
	Groups GroupRunner

	// GroupDefs resolves group names referenced by group steps
	GroupDefs map[string]*group.Group

	// Tools executes tool steps; tool steps fail without it
	Tools ToolInvoker

	// ToolPolicy gates side-effectful tool steps
	ToolPolicy *shuttle.Policy

	// Reviews resolves approval-gated steps; required when any workflow
	// declares an approval policy
	Reviews *review.Gate

	// Parallelism caps concurrent steps; 0 takes DefaultParallelism
	Parallelism int

	Bus    *event.Bus
	Tracer observability.Tracer
	Logger *zap.Logger
}

// Engine executes workflows.
type Engine struct {
	agents      AgentRunner
	groups      GroupRunner
	groupDefs   map[string]*group.Group
	tools       ToolInvoker
	toolPolicy  *shuttle.Policy
	reviews     *review.Gate
	parallelism int
	bus         *event.Bus
	tracer      observability.Tracer
	logger      *zap.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Agents == nil {
		return nil, types.NewError(types.KindConfigurationError, "agent runner is required")
	}
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultParallelism
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Engine{
		agents:      config.Agents,
		groups:      config.Groups,
		groupDefs:   config.GroupDefs,
		tools:       config.Tools,
		toolPolicy:  config.ToolPolicy,
		reviews:     config.Reviews,
		parallelism: config.Parallelism,
		bus:         config.Bus,
		tracer:      config.Tracer,
		logger:      config.Logger,
	}, nil
}

// Options tune one workflow invocation.
type Options struct {
	// Timeout bounds the run together with the workflow's own timeout;
	// the tighter one wins
	Timeout time.Duration

	// CorrelationID overrides the execution id as event correlation
	CorrelationID string

	// Metadata seeds ExecutionContext.Metadata
	Metadata map[string]string
}

// Execute runs the workflow to a terminal status. The returned context
// is populated also on failure; the error mirrors ec.Failure.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, inputs map[string]interface{}, opts Options) (*ExecutionContext, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	resolved, err := resolveWorkflowInputs(wf, inputs)
	if err != nil {
		return nil, err
	}

	ec := &ExecutionContext{
		ID:           types.NewID(),
		WorkflowName: wf.Name,
		Inputs:       resolved,
		Steps:        make(map[string]*StepRecord),
		Status:       types.WorkflowPending,
		Metadata:     opts.Metadata,
		StartedAt:    time.Now(),
	}
	ec.CorrelationID = opts.CorrelationID
	if ec.CorrelationID == "" {
		ec.CorrelationID = ec.ID
	}
	for i := range wf.Steps {
		s := &wf.Steps[i]
		ec.Steps[s.ID] = &StepRecord{StepID: s.ID, Status: types.StepPending}
		for j := range s.Steps {
			ec.Steps[s.Steps[j].ID] = &StepRecord{StepID: s.Steps[j].ID, Status: types.StepPending}
		}
	}

	timeout := minPositive(wf.Timeout, opts.Timeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanWorkflowExecution)
	span.SetAttribute("workflow", wf.Name)
	span.SetAttribute("execution_id", ec.ID)
	defer e.tracer.EndSpan(span)

	r := &run{
		engine:      e,
		wf:          wf,
		ec:          ec,
		abort:       abort,
		sem:         make(chan struct{}, e.parallelismFor(wf)),
		correlation: ec.CorrelationID,
	}

	ec.Status = types.WorkflowRunning
	e.emit(event.WorkflowStarted, r.correlation, map[string]interface{}{
		"execution_id": ec.ID,
		"workflow":     wf.Name,
		"steps":        len(wf.Steps),
	})
	e.logger.Info("workflow started",
		zap.String("workflow", wf.Name),
		zap.String("execution_id", ec.ID),
		zap.Int("steps", len(wf.Steps)))

	runErr := r.schedule(ctx)
	r.finalize(ctx, runErr)
	span.RecordError(runErr)

	kind := event.WorkflowCompleted
	if ec.Status != types.WorkflowCompleted {
		kind = event.WorkflowFailed
	}
	e.emit(kind, r.correlation, map[string]interface{}{
		"execution_id": ec.ID,
		"workflow":     wf.Name,
		"status":       string(ec.Status),
	})
	e.logger.Info("workflow ended",
		zap.String("execution_id", ec.ID),
		zap.String("status", string(ec.Status)))
	return ec, runErr
}

func (e *Engine) parallelismFor(wf *Workflow) int {
	if wf.Parallelism > 0 && wf.Parallelism < e.parallelism {
		return wf.Parallelism
	}
	return e.parallelism
}

func (e *Engine) emit(kind event.Kind, correlation string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(kind, correlation, payload)
}

// run is the mutable state of one execution.
type run struct {
	engine      *Engine
	wf          *Workflow
	ec          *ExecutionContext
	abort       context.CancelCauseFunc
	sem         chan struct{}
	correlation string

	mu       sync.Mutex
	failure  error
	approval int
}

// schedule walks the graph in topological layers. Steps inside a layer
// run concurrently up to the parallelism cap.
func (r *run) schedule(ctx context.Context) error {
	for _, layer := range topoLayers(r.wf.Steps) {
		if err := context.Cause(ctx); err != nil {
			r.markRemaining(types.StepCancelled)
			return types.WrapError(types.KindOf(err), err, "workflow interrupted")
		}

		var wg sync.WaitGroup
		for _, step := range layer {
			step := step
			rec := r.ec.Steps[step.ID]
			if rec.Status.Terminal() {
				// Pre-skipped by an upstream branch.
				continue
			}
			if skip, cause := r.unsatisfiedDependency(step); skip {
				r.skipStep(step, rec, cause)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				select {
				case r.sem <- struct{}{}:
					defer func() { <-r.sem }()
				case <-ctx.Done():
					r.recordCancelled(step, rec, context.Cause(ctx))
					return
				}
				r.engine.runStep(ctx, r, step, rec)
			}()
		}
		wg.Wait()

		r.mu.Lock()
		failed := r.failure
		r.mu.Unlock()
		if failed != nil && r.wf.failurePolicy() == FailFast {
			r.markRemaining(types.StepCancelled)
			return failed
		}
		if err := context.Cause(ctx); err != nil {
			r.markRemaining(types.StepCancelled)
			return types.WrapError(types.KindOf(err), err, "workflow interrupted")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// unsatisfiedDependency reports whether a step must be skipped because
// a dependency did not complete. Only reachable under continue-on-error
// or behind a skipped dependency.
func (r *run) unsatisfiedDependency(step *Step) (bool, string) {
	for _, dep := range step.DependsOn {
		rec := r.ec.Steps[dep]
		switch rec.Status {
		case types.StepCompleted:
		case types.StepSkipped:
			// A skipped branch target keeps its successors runnable; the
			// skipped step's output reads as null. Skips caused by failure
			// propagate.
			if rec.Failure != nil {
				return true, fmt.Sprintf("dependency %q was skipped", dep)
			}
		default:
			return true, fmt.Sprintf("dependency %q ended %s", dep, rec.Status)
		}
	}
	return false, ""
}

func (r *run) skipStep(step *Step, rec *StepRecord, cause string) {
	r.mu.Lock()
	rec.Status = types.StepSkipped
	rec.Failure = &types.Failure{
		Kind:    types.KindInvalidWorkflow,
		Message: cause,
		Entity:  step.ID,
	}
	rec.EndedAt = time.Now()
	r.mu.Unlock()
	r.engine.emit(event.WorkflowStepCompleted, r.correlation, map[string]interface{}{
		"execution_id": r.ec.ID,
		"step_id":      step.ID,
		"status":       string(types.StepSkipped),
	})
	// Branch targets under this step stay pending; nothing to do.
	r.propagateSkipToSubSteps(step)
}

func (r *run) propagateSkipToSubSteps(step *Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range step.Steps {
		sub := r.ec.Steps[step.Steps[i].ID]
		if !sub.Status.Terminal() {
			sub.Status = types.StepSkipped
		}
	}
}

func (r *run) recordCancelled(step *Step, rec *StepRecord, cause error) {
	r.mu.Lock()
	rec.Status = types.StepCancelled
	rec.Failure = types.FailureOf(types.WrapError(types.KindCancelled,
		orCanceled(cause), "step %q cancelled", step.ID))
	rec.EndedAt = time.Now()
	r.mu.Unlock()
	r.engine.emit(event.WorkflowStepFailed, r.correlation, map[string]interface{}{
		"execution_id": r.ec.ID,
		"step_id":      step.ID,
		"status":       string(types.StepCancelled),
	})
}

// markRemaining moves every non-terminal record to the given status.
func (r *run) markRemaining(status types.StepStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.ec.Steps {
		if !rec.Status.Terminal() {
			rec.Status = status
			rec.EndedAt = time.Now()
		}
	}
}

// finalize settles the aggregate status, outputs, and failure record.
func (r *run) finalize(ctx context.Context, runErr error) {
	ec := r.ec
	ec.EndedAt = time.Now()
	for _, rec := range ec.Steps {
		ec.Usage.Add(rec.Usage)
	}

	if runErr == nil {
		ec.Status = types.WorkflowCompleted
		ec.Outputs = make(map[string]interface{}, len(r.wf.Outputs))
		for _, out := range r.wf.Outputs {
			ec.Outputs[out.Name] = ec.Steps[out.Step].Output
		}
		return
	}

	ec.Failure = types.FailureOf(runErr)
	switch {
	case types.KindOf(runErr) == types.KindTimeout &&
		errors.Is(context.Cause(ctx), context.DeadlineExceeded):
		// The workflow deadline fired; a step-level timeout alone reads
		// as an ordinary failure.
		ec.Status = types.WorkflowTimeout
	case types.KindOf(runErr) == types.KindCancelled:
		ec.Status = types.WorkflowCancelled
	default:
		ec.Status = types.WorkflowFailed
	}
}

// runStep executes one step through condition, approval, and the retry
// loop. Attempts share the step record.
func (e *Engine) runStep(ctx context.Context, r *run, step *Step, rec *StepRecord) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanWorkflowStep)
	span.SetAttribute("step_id", step.ID)
	span.SetAttribute("kind", string(step.Kind))
	defer e.tracer.EndSpan(span)

	r.mu.Lock()
	rec.Status = types.StepRunning
	rec.StartedAt = time.Now()
	bound, bindErr := r.resolveBindingsLocked(step)
	r.mu.Unlock()

	e.emit(event.WorkflowStepStarted, r.correlation, map[string]interface{}{
		"execution_id": r.ec.ID,
		"step_id":      step.ID,
		"kind":         string(step.Kind),
	})

	if bindErr == nil && step.Condition != "" && step.Kind != StepBranch {
		ok, err := evaluateCondition(step.Condition, bound)
		if err != nil {
			bindErr = types.WrapError(types.KindInvalidWorkflow, err,
				"condition of step %q", step.ID)
		} else if !ok {
			r.mu.Lock()
			rec.Status = types.StepSkipped
			rec.Output = nil
			rec.EndedAt = time.Now()
			r.mu.Unlock()
			e.emit(event.WorkflowStepCompleted, r.correlation, map[string]interface{}{
				"execution_id": r.ec.ID,
				"step_id":      step.ID,
				"status":       string(types.StepSkipped),
			})
			return
		}
	}

	if bindErr == nil && step.Approval != nil {
		bindErr = e.awaitApproval(ctx, r, step, bound)
	}

	var result *types.StepResult
	var err error
	if bindErr != nil {
		err = bindErr
	} else {
		result, err = e.dispatchWithRetry(ctx, r, step, rec, bound)
	}
	span.RecordError(err)

	r.mu.Lock()
	if err == nil {
		rec.Status = types.StepCompleted
		rec.Output = result.Output
		rec.Usage.Add(result.Usage)
		rec.EndedAt = time.Now()
		r.mu.Unlock()
		e.emit(event.WorkflowStepCompleted, r.correlation, map[string]interface{}{
			"execution_id": r.ec.ID,
			"step_id":      step.ID,
			"status":       string(types.StepCompleted),
			"attempts":     rec.Attempts,
		})
		if step.Kind == StepBranch {
			r.applyBranch(step, rec)
		}
		return
	}

	if types.KindOf(err) == types.KindCancelled {
		rec.Status = types.StepCancelled
	} else {
		rec.Status = types.StepFailed
	}
	rec.Failure = types.FailureOf(err)
	rec.EndedAt = time.Now()
	status := rec.Status
	cancelled := status == types.StepCancelled
	r.mu.Unlock()

	e.emit(event.WorkflowStepFailed, r.correlation, map[string]interface{}{
		"execution_id": r.ec.ID,
		"step_id":      step.ID,
		"status":       string(status),
		"kind":         string(types.KindOf(err)),
	})
	e.logger.Warn("workflow step failed",
		zap.String("execution_id", r.ec.ID),
		zap.String("step_id", step.ID),
		zap.Error(err))

	if cancelled {
		return
	}
	r.mu.Lock()
	if r.failure == nil {
		r.failure = types.WrapError(types.KindOf(err), err, "step %q failed", step.ID)
	}
	r.mu.Unlock()
	if r.wf.failurePolicy() == FailFast {
		r.abort(context.Canceled)
	}
}

// dispatchWithRetry re-dispatches retryable failures per the step's
// retry policy.
func (e *Engine) dispatchWithRetry(ctx context.Context, r *run, step *Step, rec *StepRecord, bound map[string]interface{}) (*types.StepResult, error) {
	maxAttempts := step.Retry.attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.mu.Lock()
		rec.Attempts = attempt
		r.mu.Unlock()

		stepCtx := ctx
		if step.Timeout > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
			defer cancel()
		}

		result, err := e.dispatch(stepCtx, r, step, bound)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := types.KindOf(err)
		if kind == types.KindCancelled || ctx.Err() != nil {
			return nil, err
		}
		if attempt == maxAttempts || !step.Retry.retryable(kind) {
			return nil, err
		}
		e.logger.Warn("retrying workflow step",
			zap.String("step_id", step.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if step.Retry.Backoff > 0 {
			select {
			case <-time.After(step.Retry.Backoff):
			case <-ctx.Done():
				return nil, types.WrapError(types.KindOf(ctx.Err()), ctx.Err(),
					"step %q interrupted during backoff", step.ID)
			}
		}
	}
	return nil, lastErr
}

// dispatch routes one attempt by step kind.
func (e *Engine) dispatch(ctx context.Context, r *run, step *Step, bound map[string]interface{}) (*types.StepResult, error) {
	switch step.Kind {
	case StepAgent:
		return e.agents.Execute(ctx, agent.TurnRequest{
			AgentName:     step.Agent,
			Task:          step.Task,
			Inputs:        bound,
			CorrelationID: r.correlation,
		})

	case StepGroup:
		if e.groups == nil {
			return nil, types.NewError(types.KindConfigurationError,
				"no group engine configured for step %q", step.ID)
		}
		def, ok := e.groupDefs[step.Group]
		if !ok {
			return nil, types.NewError(types.KindNotFound,
				"group %q of step %q is not registered", step.Group, step.ID)
		}
		session, err := e.groups.Collaborate(ctx, def, step.Goal, group.Options{
			CorrelationID: r.correlation,
		})
		if err != nil {
			return nil, err
		}
		if session.Failure != nil {
			return nil, types.NewError(session.Failure.Kind, "%s", session.Failure.Message)
		}
		return &types.StepResult{
			Status:     types.StepCompleted,
			Output:     session.Consensus,
			Usage:      session.Usage,
			Transcript: session.Messages,
		}, nil

	case StepTool:
		if e.tools == nil {
			return nil, types.NewError(types.KindConfigurationError,
				"no tool registry configured for step %q", step.ID)
		}
		args := make(map[string]interface{}, len(step.Args)+len(bound))
		for k, v := range step.Args {
			args[k] = v
		}
		for k, v := range bound {
			args[k] = v
		}
		res, err := e.tools.Invoke(ctx, step.Tool, args, e.toolPolicy)
		if err != nil {
			return nil, err
		}
		return &types.StepResult{Status: types.StepCompleted, Output: res.Data}, nil

	case StepBranch:
		taken, err := evaluateCondition(step.Condition, bound)
		if err != nil {
			return nil, types.WrapError(types.KindInvalidWorkflow, err,
				"condition of branch %q", step.ID)
		}
		return &types.StepResult{Status: types.StepCompleted, Output: taken}, nil

	case StepParallel:
		return e.dispatchParallel(ctx, r, step, bound)
	}
	return nil, types.NewError(types.KindInvalidWorkflow, "step %q has unknown kind %q", step.ID, step.Kind)
}

// applyBranch pre-skips the successors on the losing side. Called with
// the branch record already completed.
func (r *run) applyBranch(step *Step, rec *StepRecord) {
	taken, _ := rec.Output.(bool)
	losers := step.Else
	if !taken {
		losers = step.Then
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range losers {
		loser := r.ec.Steps[id]
		if !loser.Status.Terminal() {
			loser.Status = types.StepSkipped
			loser.EndedAt = time.Now()
		}
	}
}

// dispatchParallel fans sub-steps out concurrently and joins their
// outputs into a map keyed by sub-step id. The first failure cancels
// the siblings.
func (e *Engine) dispatchParallel(ctx context.Context, r *run, step *Step, bound map[string]interface{}) (*types.StepResult, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	outputs := make(map[string]interface{}, len(step.Steps))
	var usage types.Usage

	for i := range step.Steps {
		sub := &step.Steps[i]
		subRec := r.ec.Steps[sub.ID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.mu.Lock()
			subRec.Status = types.StepRunning
			subRec.StartedAt = time.Now()
			subBound, bindErr := r.resolveBindingsLocked(sub)
			r.mu.Unlock()
			for k, v := range bound {
				if _, ok := subBound[k]; !ok {
					subBound[k] = v
				}
			}

			var result *types.StepResult
			err := bindErr
			if err == nil {
				result, err = e.dispatchWithRetry(ctx, r, sub, subRec, subBound)
			}

			r.mu.Lock()
			if err != nil {
				if types.KindOf(err) == types.KindCancelled {
					subRec.Status = types.StepCancelled
				} else {
					subRec.Status = types.StepFailed
				}
				subRec.Failure = types.FailureOf(err)
			} else {
				subRec.Status = types.StepCompleted
				subRec.Output = result.Output
				subRec.Usage.Add(result.Usage)
			}
			subRec.EndedAt = time.Now()
			r.mu.Unlock()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil && types.KindOf(err) != types.KindCancelled {
					firstErr = types.WrapError(types.KindOf(err), err,
						"sub-step %q of %q failed", sub.ID, step.ID)
					cancel(context.Canceled)
				}
				return
			}
			outputs[sub.ID] = result.Output
			usage.Add(result.Usage)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	// No local failure, so a dead context means the parent was cancelled
	// or timed out underneath us.
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		return nil, types.WrapError(types.KindOf(cause), cause,
			"parallel step %q interrupted", step.ID)
	}
	return &types.StepResult{Status: types.StepCompleted, Output: outputs, Usage: usage}, nil
}

// awaitApproval suspends the workflow behind the review gate. Rejection
// and expiry fail the step with policy_denied.
func (e *Engine) awaitApproval(ctx context.Context, r *run, step *Step, bound map[string]interface{}) error {
	if e.reviews == nil {
		return types.NewError(types.KindConfigurationError,
			"step %q requires approval but no review gate is configured", step.ID)
	}

	content := step.Task
	if content == "" {
		content = fmt.Sprintf("%s step %q with inputs %v", step.Kind, step.ID, bound)
	}
	reviewID, err := e.reviews.Request(review.Artifact{
		ID:      step.ID,
		Kind:    "workflow_step",
		Content: content,
		Creator: r.ec.ID,
	}, review.Policy{
		MinApprovals:       step.Approval.MinApprovals,
		Reviewers:          step.Approval.Reviewers,
		AutoApproveLowRisk: step.Approval.AutoApproveLowRisk,
		Timeout:            step.Approval.Timeout,
	})
	if err != nil {
		return types.WrapError(types.KindOf(err), err, "review request for step %q", step.ID)
	}

	r.setAwaitingApproval(true)
	defer r.setAwaitingApproval(false)
	e.logger.Info("workflow awaiting approval",
		zap.String("execution_id", r.ec.ID),
		zap.String("step_id", step.ID),
		zap.String("review_id", reviewID))

	decision, err := e.reviews.WaitFor(ctx, reviewID, time.Time{})
	if err != nil {
		return err
	}
	if !decision.Approved() {
		return types.NewError(types.KindPolicyDenied,
			"step %q was not approved (review %s, state %s)", step.ID, reviewID, decision.State).
			WithHint("approve the pending review or adjust the step's approval policy")
	}
	return nil
}

// setAwaitingApproval flips the aggregate status while at least one
// step waits on a review.
func (r *run) setAwaitingApproval(waiting bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if waiting {
		r.approval++
	} else {
		r.approval--
	}
	if r.ec.Status.Terminal() {
		return
	}
	if r.approval > 0 {
		r.ec.Status = types.WorkflowAwaitingApproval
	} else {
		r.ec.Status = types.WorkflowRunning
	}
}

// resolveBindingsLocked materializes a step's input map. Caller holds
// r.mu; upstream records are terminal by the scheduling invariant.
func (r *run) resolveBindingsLocked(step *Step) (map[string]interface{}, error) {
	bound := make(map[string]interface{}, len(step.Inputs))
	for name, b := range step.Inputs {
		switch {
		case b.Input != "":
			bound[name] = r.ec.Inputs[b.Input]
		case b.Step != "":
			bound[name] = r.ec.Steps[b.Step].Output
		default:
			bound[name] = b.Value
		}
	}
	return bound, nil
}

// resolveWorkflowInputs applies declared defaults and checks required
// inputs and types.
func resolveWorkflowInputs(wf *Workflow, inputs map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(inputs))
	declared := make(map[string]bool, len(wf.Inputs))
	for _, decl := range wf.Inputs {
		declared[decl.Name] = true
		val, ok := inputs[decl.Name]
		if !ok {
			if decl.Required {
				return nil, types.NewError(types.KindInvalidWorkflow,
					"required input %q is missing", decl.Name).WithEntity(wf.Name)
			}
			if decl.Default != nil {
				resolved[decl.Name] = decl.Default
			}
			continue
		}
		if err := checkInputType(decl, val); err != nil {
			return nil, err
		}
		resolved[decl.Name] = val
	}
	for name := range inputs {
		if !declared[name] {
			return nil, types.NewError(types.KindInvalidWorkflow,
				"input %q is not declared by workflow %q", name, wf.Name).WithEntity(wf.Name)
		}
	}
	return resolved, nil
}

func checkInputType(decl InputDecl, val interface{}) error {
	ok := true
	switch decl.Type {
	case "", "object", "array":
	case "string":
		_, ok = val.(string)
	case "boolean":
		_, ok = val.(bool)
	case "number":
		_, ok = toFloat64(val)
	}
	if !ok {
		return types.NewError(types.KindInvalidWorkflow,
			"input %q is not a %s", decl.Name, decl.Type)
	}
	return nil
}

// topoLayers groups top-level steps into dependency layers: a step's
// layer index is one past its deepest dependency.
func topoLayers(steps []Step) [][]*Step {
	depth := make(map[string]int, len(steps))
	byID := make(map[string]*Step, len(steps))
	for i := range steps {
		byID[steps[i].ID] = &steps[i]
	}
	var resolve func(id string) int
	resolve = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, dep := range byID[id].DependsOn {
			if dd := resolve(dep) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for i := range steps {
		if d := resolve(steps[i].ID); d > maxDepth {
			maxDepth = d
		}
	}
	layers := make([][]*Step, maxDepth+1)
	for i := range steps {
		d := depth[steps[i].ID]
		layers[d] = append(layers[d], &steps[i])
	}
	return layers
}

func minPositive(a, b time.Duration) time.Duration {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func orCanceled(err error) error {
	if err != nil {
		return err
	}
	return context.Canceled
}
