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

// Package observability provides tracing for weft operations.
//
// Workflow executions, steps, agent turns, group rounds, and sandbox
// operations are instrumented with spans. Exporters are observer
// responsibilities; the core ships a no-op tracer and the span model.
package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Span names used by the core.
const (
	SpanWorkflowExecution = "workflow.execute"
	SpanWorkflowStep      = "workflow.step"
	SpanAgentTurn         = "agent.turn"
	SpanProviderCall      = "llm.completion"
	SpanToolInvocation    = "tool.invoke"
	SpanGroupSession      = "group.session"
	SpanGroupRound        = "group.round"
	SpanSandboxExecute    = "sandbox.execute"
	SpanSandboxSnapshot   = "sandbox.snapshot"
)

// Tracer is the instrumentation interface for weft operations.
//
// Thread-safe: all methods can be called concurrently.
type Tracer interface {
	// StartSpan creates a new span and returns a context containing it.
	// The span links to its parent via context propagation.
	StartSpan(ctx context.Context, name string) (context.Context, *Span)

	// EndSpan completes a span and exports it. Call via defer.
	EndSpan(span *Span)

	// RecordMetric records a point-in-time metric value with labels.
	RecordMetric(name string, value float64, labels map[string]string)

	// Flush forces export of buffered spans. Called on shutdown.
	Flush(ctx context.Context) error
}

// Span represents a unit of work with timing and metadata.
// Spans form a tree via ParentID references.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string

	Name       string
	Attributes map[string]interface{}

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Err records the failure outcome of the span, if any
	Err error
}

// SetAttribute sets a key-value attribute on the span.
// Safe to call on a nil span.
func (s *Span) SetAttribute(key string, value interface{}) {
	if s == nil {
		return
	}
	if s.Attributes == nil {
		s.Attributes = make(map[string]interface{})
	}
	s.Attributes[key] = value
}

// RecordError records an error outcome on the span.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.Err = err
}

type contextKey string

const spanContextKey contextKey = "weft.span"

// SpanFromContext retrieves the current span from context, if any.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey).(*Span); ok {
		return span
	}
	return nil
}

// ContextWithSpan returns a new context with the span attached.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey, span)
}

// NoOpTracer is a tracer that records nothing. Use for testing or when
// observability is disabled.
type NoOpTracer struct{}

// NewNoOpTracer creates a no-op tracer.
func NewNoOpTracer() *NoOpTracer {
	return &NoOpTracer{}
}

// StartSpan creates a minimal span but doesn't export it.
func (t *NoOpTracer) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{
		TraceID:    uuid.New().String(),
		SpanID:     uuid.New().String(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}
	return ContextWithSpan(ctx, span), span
}

// EndSpan closes the span without exporting it.
func (t *NoOpTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
}

// RecordMetric does nothing.
func (t *NoOpTracer) RecordMetric(name string, value float64, labels map[string]string) {}

// Flush does nothing.
func (t *NoOpTracer) Flush(ctx context.Context) error { return nil }
