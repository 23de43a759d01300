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

package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoggingTracer exports completed spans and metrics to a zap logger.
// Useful for local runs where no tracing backend is available.
type LoggingTracer struct {
	logger *zap.Logger
}

// NewLoggingTracer creates a tracer that writes spans to the logger at
// debug level and failed spans at warn level.
func NewLoggingTracer(logger *zap.Logger) *LoggingTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingTracer{logger: logger}
}

// StartSpan creates a new span linked to the parent in the context.
func (t *LoggingTracer) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
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

// EndSpan closes the span and writes it to the logger.
func (t *LoggingTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	fields := []zap.Field{
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID))
	}
	if len(span.Attributes) > 0 {
		fields = append(fields, zap.Any("attributes", span.Attributes))
	}
	if span.Err != nil {
		fields = append(fields, zap.Error(span.Err))
		t.logger.Warn("span failed: "+span.Name, fields...)
		return
	}
	t.logger.Debug("span: "+span.Name, fields...)
}

// RecordMetric writes the metric to the logger at debug level.
func (t *LoggingTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.logger.Debug("metric: "+name,
		zap.Float64("value", value),
		zap.Any("labels", labels))
}

// Flush is a no-op; spans are written synchronously.
func (t *LoggingTracer) Flush(ctx context.Context) error { return nil }
