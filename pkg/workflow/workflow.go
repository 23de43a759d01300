// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workflow interprets declarative step graphs: dependency
// scheduling with a parallelism cap, retries, conditions, branching,
// approval gates, and failure policies.
package workflow

import (
	"time"

	"github.com/teradata-labs/weft/pkg/types"
)

// StepKind selects how a step is dispatched.
type StepKind string

const (
	StepAgent    StepKind = "agent"
	StepGroup    StepKind = "group"
	StepTool     StepKind = "tool"
	StepBranch   StepKind = "branch"
	StepParallel StepKind = "parallel"
)

// FailurePolicy decides what a non-retryable step failure does to the
// rest of the run.
type FailurePolicy string

const (
	// FailFast cancels all in-flight steps and fails the workflow.
	FailFast FailurePolicy = "fail_fast"

	// ContinueOnError marks the step failed and skips downstream steps
	// whose dependencies became unsatisfiable.
	ContinueOnError FailurePolicy = "continue_on_error"
)

// Binding maps one step input from a workflow input, an upstream step
// output, or a literal. Exactly one source may be set.
type Binding struct {
	// Input names a declared workflow input
	Input string `yaml:"input,omitempty"`

	// Step names an upstream step whose output is copied
	Step string `yaml:"step,omitempty"`

	// Value is a literal
	Value interface{} `yaml:"value,omitempty"`
}

// RetryPolicy controls re-dispatch of a failed step. Attempts share a
// single step record.
type RetryPolicy struct {
	// MaxAttempts caps total attempts; 0 reads as 1
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the delay between attempts
	Backoff time.Duration `yaml:"backoff"`

	// RetryOn restricts which error kinds re-dispatch; empty falls back
	// to the standard retryable set
	RetryOn []types.Kind `yaml:"retry_on,omitempty"`
}

func (p *RetryPolicy) attempts() int {
	if p == nil || p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p *RetryPolicy) retryable(kind types.Kind) bool {
	if p == nil {
		return false
	}
	if len(p.RetryOn) == 0 {
		return types.Retryable(kind)
	}
	for _, k := range p.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

// ApprovalPolicy pauses a step behind a human review gate before it
// dispatches.
type ApprovalPolicy struct {
	// Reviewers lists who may decide; empty means anyone
	Reviewers []string `yaml:"reviewers,omitempty"`

	// MinApprovals is the approval count required; 0 reads as 1
	MinApprovals int `yaml:"min_approvals"`

	// Timeout expires the request; an expired review reads as rejection
	Timeout time.Duration `yaml:"timeout"`

	// AutoApproveLowRisk approves immediately when the artifact matches
	// no high-risk pattern
	AutoApproveLowRisk bool `yaml:"auto_approve_low_risk"`
}

// Step is a single node in the workflow graph.
type Step struct {
	// ID is unique within the workflow
	ID string `yaml:"id"`

	Kind StepKind `yaml:"kind"`

	// Agent names the agent spec to run (kind agent)
	Agent string `yaml:"agent,omitempty"`

	// Task is the instruction text for an agent step
	Task string `yaml:"task,omitempty"`

	// Group names the group definition to convene (kind group)
	Group string `yaml:"group,omitempty"`

	// Goal is the shared objective for a group step
	Goal string `yaml:"goal,omitempty"`

	// Tool names the registered tool to invoke (kind tool)
	Tool string `yaml:"tool,omitempty"`

	// Args are static tool arguments; bound inputs override on key clash
	Args map[string]interface{} `yaml:"args,omitempty"`

	// DependsOn lists step ids that must reach a terminal status first
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Inputs binds named step inputs from workflow inputs and upstream
	// outputs
	Inputs map[string]Binding `yaml:"inputs,omitempty"`

	// Condition skips the step when it evaluates false. Boolean
	// combinations of equality tests over bound values.
	Condition string `yaml:"condition,omitempty"`

	Retry *RetryPolicy `yaml:"retry,omitempty"`

	// Timeout bounds this step; the effective deadline is the tighter of
	// the step and workflow deadlines
	Timeout time.Duration `yaml:"timeout"`

	// Approval gates the step behind human review
	Approval *ApprovalPolicy `yaml:"approval,omitempty"`

	// Then and Else name the successor steps a branch activates; the
	// losing side is skipped (kind branch)
	Then []string `yaml:"then,omitempty"`
	Else []string `yaml:"else,omitempty"`

	// Steps are the sub-steps of a parallel step; they run concurrently
	// and their outputs join into a map keyed by sub-step id
	Steps []Step `yaml:"steps,omitempty"`
}

// InputDecl declares a workflow input.
type InputDecl struct {
	Name string `yaml:"name"`

	// Type is one of string, number, boolean, object, array; empty
	// accepts anything
	Type string `yaml:"type,omitempty"`

	Required bool `yaml:"required"`

	// Default applies when the caller omits the input
	Default interface{} `yaml:"default,omitempty"`
}

// OutputBinding exposes one step's output as a named workflow output.
type OutputBinding struct {
	Name string `yaml:"name"`
	Step string `yaml:"step"`
}

// Workflow is a declarative graph of steps.
type Workflow struct {
	Name string `yaml:"name"`

	Inputs []InputDecl `yaml:"inputs,omitempty"`

	Steps []Step `yaml:"steps"`

	Outputs []OutputBinding `yaml:"outputs,omitempty"`

	// OnError is the workflow failure policy; empty reads as fail_fast
	OnError FailurePolicy `yaml:"on_error,omitempty"`

	// Timeout bounds the whole run
	Timeout time.Duration `yaml:"timeout"`

	// Parallelism caps concurrent steps; 0 takes the engine default
	Parallelism int `yaml:"parallelism"`
}

func (w *Workflow) failurePolicy() FailurePolicy {
	if w.OnError == ContinueOnError {
		return ContinueOnError
	}
	return FailFast
}

var validInputTypes = map[string]bool{
	"": true, "string": true, "number": true, "boolean": true,
	"object": true, "array": true,
}

// Validate checks the workflow shape: unique step ids, a dependency
// DAG, resolvable references, and kind-specific requirements.
func (w *Workflow) Validate() error {
	if !types.ValidName(w.Name) {
		return types.NewError(types.KindInvalidWorkflow,
			"workflow name %q must match [a-z0-9][a-z0-9_-]* (1-64 chars)", w.Name)
	}
	if len(w.Steps) == 0 {
		return types.NewError(types.KindInvalidWorkflow,
			"workflow %q has no steps", w.Name).WithEntity(w.Name)
	}

	inputs := make(map[string]bool, len(w.Inputs))
	for _, in := range w.Inputs {
		if !types.ValidName(in.Name) {
			return w.invalid("input name %q is malformed", in.Name)
		}
		if inputs[in.Name] {
			return w.invalid("input %q declared twice", in.Name)
		}
		if !validInputTypes[in.Type] {
			return w.invalid("input %q has unknown type %q", in.Name, in.Type)
		}
		inputs[in.Name] = true
	}

	// Collect every step id, including parallel sub-steps, into one
	// namespace.
	ids := make(map[string]bool)
	var collect func(steps []Step) error
	collect = func(steps []Step) error {
		for i := range steps {
			s := &steps[i]
			if !types.ValidName(s.ID) {
				return w.invalid("step id %q is malformed", s.ID)
			}
			if ids[s.ID] {
				return w.invalid("step id %q appears twice", s.ID)
			}
			ids[s.ID] = true
			if err := collect(s.Steps); err != nil {
				return err
			}
		}
		return nil
	}
	if err := collect(w.Steps); err != nil {
		return err
	}

	top := make(map[string]*Step, len(w.Steps))
	for i := range w.Steps {
		top[w.Steps[i].ID] = &w.Steps[i]
	}

	for i := range w.Steps {
		if err := w.validateStep(&w.Steps[i], top, inputs); err != nil {
			return err
		}
	}

	if err := w.checkAcyclic(top); err != nil {
		return err
	}

	// Binding and output references must name upstream steps so the
	// referenced output is frozen before it is read.
	ancestors := w.ancestorSets(top)
	checkBindings := func(s *Step) error {
		for name, b := range s.Inputs {
			if b.Step == "" {
				continue
			}
			if !ancestors[s.ID][b.Step] {
				return w.invalid("step %q binds input %q to %q, which is not an upstream step",
					s.ID, name, b.Step)
			}
		}
		return nil
	}
	for i := range w.Steps {
		if err := checkBindings(&w.Steps[i]); err != nil {
			return err
		}
		for j := range w.Steps[i].Steps {
			if err := checkBindings(&w.Steps[i].Steps[j]); err != nil {
				return err
			}
		}
	}

	outputs := make(map[string]bool, len(w.Outputs))
	for _, out := range w.Outputs {
		if !types.ValidName(out.Name) {
			return w.invalid("output name %q is malformed", out.Name)
		}
		if outputs[out.Name] {
			return w.invalid("output %q declared twice", out.Name)
		}
		outputs[out.Name] = true
		if !ids[out.Step] {
			return w.invalid("output %q references unknown step %q", out.Name, out.Step)
		}
	}

	switch w.OnError {
	case "", FailFast, ContinueOnError:
	default:
		return w.invalid("unknown failure policy %q", w.OnError)
	}
	if w.Parallelism < 0 {
		return w.invalid("parallelism must not be negative")
	}
	return nil
}

func (w *Workflow) validateStep(s *Step, top map[string]*Step, inputs map[string]bool) error {
	for _, dep := range s.DependsOn {
		if dep == s.ID {
			return w.invalid("step %q depends on itself", s.ID)
		}
		if _, ok := top[dep]; !ok {
			return w.invalid("step %q depends on unknown step %q", s.ID, dep)
		}
	}

	for name, b := range s.Inputs {
		set := 0
		if b.Input != "" {
			set++
			if !inputs[b.Input] {
				return w.invalid("step %q binds input %q to undeclared workflow input %q",
					s.ID, name, b.Input)
			}
		}
		if b.Step != "" {
			set++
		}
		if b.Value != nil {
			set++
		}
		if set != 1 {
			return w.invalid("step %q input %q must bind exactly one of input, step, value",
				s.ID, name)
		}
	}

	if s.Retry != nil && s.Retry.Backoff < 0 {
		return w.invalid("step %q has a negative retry backoff", s.ID)
	}
	if s.Timeout < 0 {
		return w.invalid("step %q has a negative timeout", s.ID)
	}

	switch s.Kind {
	case StepAgent:
		if s.Agent == "" {
			return w.invalid("agent step %q names no agent", s.ID)
		}
	case StepGroup:
		if s.Group == "" {
			return w.invalid("group step %q names no group", s.ID)
		}
	case StepTool:
		if s.Tool == "" {
			return w.invalid("tool step %q names no tool", s.ID)
		}
	case StepBranch:
		if s.Condition == "" {
			return w.invalid("branch step %q has no condition", s.ID)
		}
		if len(s.Then)+len(s.Else) == 0 {
			return w.invalid("branch step %q activates no successors", s.ID)
		}
		for _, succ := range append(append([]string{}, s.Then...), s.Else...) {
			target, ok := top[succ]
			if !ok {
				return w.invalid("branch step %q names unknown successor %q", s.ID, succ)
			}
			if !contains(target.DependsOn, s.ID) {
				return w.invalid("branch successor %q must depend on branch step %q", succ, s.ID)
			}
		}
	case StepParallel:
		if len(s.Steps) == 0 {
			return w.invalid("parallel step %q has no sub-steps", s.ID)
		}
		for i := range s.Steps {
			sub := &s.Steps[i]
			switch sub.Kind {
			case StepAgent, StepGroup, StepTool:
			default:
				return w.invalid("parallel step %q sub-step %q has unsupported kind %q",
					s.ID, sub.ID, sub.Kind)
			}
			if len(sub.DependsOn) > 0 {
				return w.invalid("parallel sub-step %q must not declare dependencies", sub.ID)
			}
			if err := w.validateStep(sub, top, inputs); err != nil {
				return err
			}
		}
	default:
		return w.invalid("step %q has unknown kind %q", s.ID, s.Kind)
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the top-level dependency
// graph; leftover nodes sit on a cycle.
func (w *Workflow) checkAcyclic(top map[string]*Step) error {
	indegree := make(map[string]int, len(top))
	successors := make(map[string][]string, len(top))
	for id, s := range top {
		indegree[id] += 0
		for _, dep := range s.DependsOn {
			indegree[id]++
			successors[dep] = append(successors[dep], id)
		}
	}

	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	if visited != len(top) {
		var cyclic []string
		for id, d := range indegree {
			if d > 0 {
				cyclic = append(cyclic, id)
			}
		}
		return types.NewError(types.KindCycle,
			"workflow %q has a dependency cycle involving %v", w.Name, cyclic).
			WithEntity(w.Name)
	}
	return nil
}

// ancestorSets computes the transitive dependency closure per step.
func (w *Workflow) ancestorSets(top map[string]*Step) map[string]map[string]bool {
	sets := make(map[string]map[string]bool, len(top))
	var resolve func(id string) map[string]bool
	resolve = func(id string) map[string]bool {
		if set, ok := sets[id]; ok {
			return set
		}
		set := make(map[string]bool)
		sets[id] = set
		for _, dep := range top[id].DependsOn {
			set[dep] = true
			for anc := range resolve(dep) {
				set[anc] = true
			}
		}
		return set
	}
	for id := range top {
		resolve(id)
	}
	// Parallel sub-steps see what their parent sees.
	for id, s := range top {
		for i := range s.Steps {
			sets[s.Steps[i].ID] = sets[id]
		}
	}
	return sets
}

func (w *Workflow) invalid(format string, args ...interface{}) error {
	return types.NewError(types.KindInvalidWorkflow, format, args...).WithEntity(w.Name)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
