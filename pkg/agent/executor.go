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

package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

const (
	// DefaultMaxToolRounds bounds the completion/tool loop per turn.
	DefaultMaxToolRounds = 16
	// DefaultMaxContinuations bounds length-based continuations per turn.
	DefaultMaxContinuations = 2
	// TruncationMarker is appended to output cut off by the token limit.
	TruncationMarker = "\n[output truncated]"
)

// ExecutorConfig configures an agent executor.
type ExecutorConfig struct {
	// Specs resolves agent names to effective specs (required)
	Specs *spec.Registry

	// Providers maps provider names to LLM backends (required)
	Providers *llm.Registry

	// Tools is the tool catalog; nil disables tool dispatch
	Tools *shuttle.Registry

	// ToolPolicy is the allowlist context applied on every invocation
	ToolPolicy *shuttle.Policy

	// Retry governs provider retries; DefaultRetryPolicy when zero
	Retry llm.RetryPolicy

	// MaxToolRounds bounds the completion/tool loop
	MaxToolRounds int

	// MaxContinuations bounds length-based continuations; set
	// ContinueOnLength to enable them at all
	MaxContinuations int
	ContinueOnLength bool

	Bus    *event.Bus
	Tracer observability.Tracer
	Logger *zap.Logger
}

// Executor runs single agent turns end to end.
type Executor struct {
	specs      *spec.Registry
	providers  *llm.Registry
	tools      *shuttle.Registry
	toolPolicy *shuttle.Policy
	retry      llm.RetryPolicy
	maxRounds  int
	maxCont    int
	contOnLen  bool
	bus        *event.Bus
	tracer     observability.Tracer
	logger     *zap.Logger
}

// NewExecutor creates an agent executor.
func NewExecutor(config ExecutorConfig) (*Executor, error) {
	if config.Specs == nil {
		return nil, types.NewError(types.KindConfigurationError, "spec registry is required")
	}
	if config.Providers == nil {
		return nil, types.NewError(types.KindConfigurationError, "provider registry is required")
	}
	if config.Retry == (llm.RetryPolicy{}) {
		config.Retry = llm.DefaultRetryPolicy()
	}
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = DefaultMaxToolRounds
	}
	if config.MaxContinuations <= 0 {
		config.MaxContinuations = DefaultMaxContinuations
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Executor{
		specs:      config.Specs,
		providers:  config.Providers,
		tools:      config.Tools,
		toolPolicy: config.ToolPolicy,
		retry:      config.Retry,
		maxRounds:  config.MaxToolRounds,
		maxCont:    config.MaxContinuations,
		contOnLen:  config.ContinueOnLength,
		bus:        config.Bus,
		tracer:     config.Tracer,
		logger:     config.Logger,
	}, nil
}

// TurnRequest describes one agent turn.
type TurnRequest struct {
	// AgentName resolves through the spec registry
	AgentName string

	// Task is the user-visible instruction for this turn
	Task string

	// Inputs are rendered into the initial user message
	Inputs map[string]interface{}

	// CorrelationID links emitted events to the enclosing workflow or
	// session
	CorrelationID string

	// Timeout bounds the turn in addition to the caller's context
	Timeout time.Duration

	// Retry overrides the executor's retry policy for this turn
	Retry *llm.RetryPolicy
}

// Execute runs one agent turn. The returned StepResult always carries
// the transcript and accumulated usage, also on failure.
func (e *Executor) Execute(ctx context.Context, req TurnRequest) (*types.StepResult, error) {
	eff, err := e.specs.Resolve(req.AgentName)
	if err != nil {
		return failedResult(nil, err), err
	}
	e.specs.Acquire(req.AgentName)
	defer e.specs.Release(req.AgentName)

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	a := newAgent(eff)
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanAgentTurn)
	span.SetAttribute("agent", req.AgentName)
	span.SetAttribute("execution_id", a.ExecutionID)
	defer e.tracer.EndSpan(span)

	e.emit(event.AgentTurnStarted, req.CorrelationID, map[string]interface{}{
		"execution_id": a.ExecutionID,
		"agent":        req.AgentName,
	})
	e.logger.Info("agent turn started",
		zap.String("agent", req.AgentName),
		zap.String("execution_id", a.ExecutionID),
		zap.String("provider", eff.Provider),
		zap.String("model", eff.Model))

	result, err := e.runTurn(ctx, a, req)
	span.RecordError(err)
	a.EndedAt = time.Now()

	if err != nil {
		a.Status = types.AgentFailed
		e.emit(event.AgentTurnFailed, req.CorrelationID, map[string]interface{}{
			"execution_id": a.ExecutionID,
			"agent":        req.AgentName,
			"kind":         string(types.KindOf(err)),
			"total_tokens": a.Usage.TotalTokens,
		})
		e.logger.Warn("agent turn failed",
			zap.String("agent", req.AgentName),
			zap.String("execution_id", a.ExecutionID),
			zap.String("kind", string(types.KindOf(err))),
			zap.Error(err))
		return result, err
	}

	a.Status = types.AgentCompleted
	e.emit(event.AgentTurnCompleted, req.CorrelationID, map[string]interface{}{
		"execution_id": a.ExecutionID,
		"agent":        req.AgentName,
		"total_tokens": a.Usage.TotalTokens,
	})
	e.logger.Info("agent turn completed",
		zap.String("agent", req.AgentName),
		zap.String("execution_id", a.ExecutionID),
		zap.Int("total_tokens", a.Usage.TotalTokens),
		zap.Duration("duration", a.EndedAt.Sub(a.StartedAt)))
	return result, nil
}

// runTurn drives the completion/tool loop.
func (e *Executor) runTurn(ctx context.Context, a *Agent, req TurnRequest) (*types.StepResult, error) {
	eff := a.Spec
	provider, err := e.providers.Get(eff.Provider)
	if err != nil {
		return failedResult(a, err), err
	}

	a.Status = types.AgentRunning
	if eff.SystemPrompt != "" {
		a.append(types.TextMessage(types.RoleSystem, "", eff.SystemPrompt))
	}
	a.append(types.TextMessage(types.RoleUser, "", renderTask(req.Task, req.Inputs)))

	decls := e.toolDecls(eff.Tools)
	retry := e.retry
	if req.Retry != nil {
		retry = *req.Retry
	}

	continuations := 0
	var finalText strings.Builder
	for round := 0; round < e.maxRounds; round++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err := types.WrapError(types.KindOf(ctxErr), ctxErr,
				"agent turn interrupted before round %d", round+1)
			return failedResult(a, err), err
		}

		resp, err := llm.CompleteWithRetry(ctx, provider, &llm.Request{
			Model:       eff.Model,
			Messages:    a.Transcript,
			Temperature: eff.Temperature,
			MaxTokens:   eff.MaxTokens,
			Tools:       decls,
		}, retry, e.logger)
		if err != nil {
			wrapped := types.WrapError(types.KindOf(err), err,
				"provider call failed for agent %q", eff.Name).WithEntity(eff.Name)
			return failedResult(a, wrapped), wrapped
		}

		e.accountUsage(a, resp)
		a.append(resp.Message)

		switch resp.FinishReason {
		case llm.FinishStop:
			finalText.WriteString(resp.Message.Text())
			return e.completedResult(a, finalText.String()), nil

		case llm.FinishToolCall:
			if err := e.dispatchTools(ctx, a, resp.Message.ToolCalls()); err != nil {
				return failedResult(a, err), err
			}

		case llm.FinishLength:
			finalText.WriteString(resp.Message.Text())
			if e.contOnLen && continuations < e.maxCont {
				continuations++
				a.append(types.TextMessage(types.RoleUser, "", "continue"))
				continue
			}
			finalText.WriteString(TruncationMarker)
			return e.completedResult(a, finalText.String()), nil

		default:
			err := types.NewError(types.KindTransient,
				"provider reported finish reason %q for agent %q", resp.FinishReason, eff.Name)
			return failedResult(a, err), err
		}
	}

	err = types.NewError(types.KindResourceExhausted,
		"agent %q exceeded %d completion rounds without finishing", eff.Name, e.maxRounds).
		WithEntity(eff.Name).
		WithHint("the model may be stuck in a tool loop")
	return failedResult(a, err), err
}

// dispatchTools invokes each tool call and appends the bound results.
// Tool failures are surfaced to the model as error results, not to the
// caller; only cancellation aborts the turn.
func (e *Executor) dispatchTools(ctx context.Context, a *Agent, calls []*types.ToolCall) error {
	a.Status = types.AgentAwaitingTool
	defer func() { a.Status = types.AgentRunning }()

	msg := types.Message{Role: types.RoleTool, Timestamp: time.Now()}
	for _, call := range calls {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.WrapError(types.KindOf(ctxErr), ctxErr,
				"tool dispatch interrupted at %q", call.Name)
		}

		toolCtx, span := e.tracer.StartSpan(ctx, observability.SpanToolInvocation)
		span.SetAttribute("tool", call.Name)

		content, isErr := e.invokeTool(toolCtx, call)
		span.SetAttribute("is_error", isErr)
		e.tracer.EndSpan(span)

		msg.Parts = append(msg.Parts, types.ContentPart{
			Kind: types.PartToolResult,
			ToolResult: &types.ToolResult{
				CallID:  call.ID,
				Content: content,
				IsError: isErr,
			},
		})
	}
	a.append(msg)
	return nil
}

func (e *Executor) invokeTool(ctx context.Context, call *types.ToolCall) (string, bool) {
	if e.tools == nil {
		return fmt.Sprintf("tool %q is not available", call.Name), true
	}
	result, err := e.tools.Invoke(ctx, call.Name, call.Input, e.toolPolicy)
	if err != nil {
		e.logger.Warn("tool invocation failed",
			zap.String("tool", call.Name),
			zap.String("kind", string(types.KindOf(err))),
			zap.Error(err))
		return err.Error(), true
	}
	return result.JSON(), false
}

// accountUsage folds provider-reported usage into the turn, estimating
// with the tokenizer when the provider reports nothing.
func (e *Executor) accountUsage(a *Agent, resp *llm.Response) {
	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage.InputTokens = estimateTokens(a.Transcript)
		usage.OutputTokens = estimateTokens([]types.Message{resp.Message})
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	a.Usage.Add(usage)
}

func (e *Executor) toolDecls(names []string) []llm.ToolDecl {
	if e.tools == nil || len(names) == 0 {
		return nil
	}
	descs := e.tools.Describe(names...)
	decls := make([]llm.ToolDecl, 0, len(descs))
	for _, d := range descs {
		decls = append(decls, llm.ToolDecl{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}
	return decls
}

func (e *Executor) completedResult(a *Agent, output string) *types.StepResult {
	return &types.StepResult{
		Status:     types.StepCompleted,
		Output:     output,
		Usage:      a.Usage,
		Transcript: a.Transcript,
	}
}

func failedResult(a *Agent, err error) *types.StepResult {
	result := &types.StepResult{
		Status:  types.StepFailed,
		Failure: types.FailureOf(err),
	}
	if a != nil {
		result.Usage = a.Usage
		result.Transcript = a.Transcript
	}
	if types.KindOf(err) == types.KindCancelled {
		result.Status = types.StepCancelled
	}
	return result
}

func (e *Executor) emit(kind event.Kind, correlationID string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(kind, correlationID, payload)
}

// renderTask builds the initial user message from the task text and
// sorted inputs.
func renderTask(task string, inputs map[string]interface{}) string {
	if len(inputs) == 0 {
		return task
	}
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\nInputs:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, inputs[k])
	}
	return b.String()
}
