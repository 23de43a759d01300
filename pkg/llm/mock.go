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

package llm

import (
	"context"
	"sync"

	"github.com/teradata-labs/weft/pkg/types"
)

// ScriptStep is one scripted provider outcome.
type ScriptStep struct {
	Response *Response
	Err      error

	// Delay simulates provider latency before the outcome is returned
	Delay func(ctx context.Context) error
}

// ScriptedProvider replays a fixed sequence of outcomes. It records every
// request for assertion. Used by tests across the runtime.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []ScriptStep
	next     int
	requests []*Request

	// Repeat replays the last step once the script is exhausted
	Repeat bool
}

// NewScriptedProvider builds a provider from scripted steps.
func NewScriptedProvider(steps ...ScriptStep) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// TextResponse builds a stop-terminated text response step.
func TextResponse(text string) ScriptStep {
	return ScriptStep{Response: &Response{
		Message:      types.TextMessage(types.RoleAssistant, "", text),
		FinishReason: FinishStop,
		Usage:        types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}
}

// ToolCallResponse builds a tool_call-terminated response step.
func ToolCallResponse(calls ...*types.ToolCall) ScriptStep {
	msg := types.Message{Role: types.RoleAssistant}
	for _, call := range calls {
		msg.Parts = append(msg.Parts, types.ContentPart{Kind: types.PartToolCall, ToolCall: call})
	}
	return ScriptStep{Response: &Response{
		Message:      msg,
		FinishReason: FinishToolCall,
		Usage:        types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}
}

// ErrorResponse builds a failing step with the given kind.
func ErrorResponse(kind types.Kind, message string) ScriptStep {
	return ScriptStep{Err: types.NewError(kind, "%s", message)}
}

// Complete replays the next scripted outcome.
func (p *ScriptedProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if p.next >= len(p.steps) {
		if !p.Repeat || len(p.steps) == 0 {
			p.mu.Unlock()
			return nil, types.NewError(types.KindBadRequest,
				"scripted provider exhausted after %d calls", len(p.steps))
		}
		p.next = len(p.steps) - 1
	}
	step := p.steps[p.next]
	p.next++
	p.mu.Unlock()

	if step.Delay != nil {
		if err := step.Delay(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, types.WrapError(types.KindCancelled, err, "scripted call cancelled")
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Stream replays the next outcome as a two-chunk stream.
func (p *ScriptedProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan Chunk, 2)
	go func() {
		defer close(ch)
		select {
		case <-ctx.Done():
			ch <- Chunk{Err: types.WrapError(types.KindCancelled, ctx.Err(), "stream cancelled")}
			return
		default:
		}
		ch <- Chunk{TextDelta: resp.Message.Text()}
		usage := resp.Usage
		ch <- Chunk{Final: true, Usage: &usage}
	}()
	return ch, nil
}

// Capabilities reports a fully featured mock backend.
func (p *ScriptedProvider) Capabilities() Capabilities {
	return Capabilities{
		Provider:          "scripted",
		Models:            []string{"scripted"},
		SupportsTools:     true,
		SupportsStreaming: true,
	}
}

// Requests returns the recorded requests.
func (p *ScriptedProvider) Requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns the number of Complete invocations observed.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
