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

// Package llm defines the provider port: the uniform request, response,
// and stream contract the core consumes over heterogeneous LLM backends.
// Adapters live in subpackages (anthropic, ollama).
package llm

import (
	"context"

	"github.com/teradata-labs/weft/pkg/types"
)

// FinishReason reports why a completion stopped.
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishLength   FinishReason = "length"
	FinishToolCall FinishReason = "tool_call"
	FinishError    FinishReason = "error"
)

// ToolDecl declares a tool to the model.
type ToolDecl struct {
	// Name is the tool's unique identifier
	Name string

	// Description is the human-readable purpose shown to the model
	Description string

	// Schema is the JSON Schema of the tool parameters
	Schema map[string]interface{}
}

// Request is a single completion request.
type Request struct {
	// Model is the provider-specific model identifier
	Model string

	// Messages is the ordered conversation transcript
	Messages []types.Message

	// Temperature is the sampling temperature
	Temperature float64

	// MaxTokens caps the output length; 0 uses the provider default
	MaxTokens int

	// Tools declares the tools the model may call
	Tools []ToolDecl
}

// Response is the outcome of a completion.
type Response struct {
	// Message is the assistant response, which may contain text and/or
	// tool-call parts
	Message types.Message

	// FinishReason reports why generation stopped
	FinishReason FinishReason

	// Usage carries the provider's token counters
	Usage types.Usage

	// Model echoes the model that produced the response
	Model string
}

// Chunk is one element of a completion stream. The stream is finite and
// non-restartable; the final chunk carries Final=true and the usage
// sentinel.
type Chunk struct {
	// TextDelta is the incremental text produced since the last chunk
	TextDelta string

	// Final marks the usage sentinel terminating the stream
	Final bool

	// Usage is set on the final chunk
	Usage *types.Usage

	// Err terminates the stream with a failure when set
	Err error
}

// Capabilities describes what a provider backend supports.
type Capabilities struct {
	// Provider is the backend name
	Provider string

	// Models lists the model ids the backend serves
	Models []string

	// SupportsTools reports native tool-call support
	SupportsTools bool

	// SupportsStreaming reports streaming support
	SupportsStreaming bool
}

// Provider abstracts an LLM backend. Implementations surface failures
// with the typed kinds in pkg/types so callers can distinguish
// retryable (rate_limited, transient, timeout) from terminal
// (auth, bad_request, quota_exceeded, model_unavailable) errors.
//
// Thread-safe: all methods can be called concurrently.
type Provider interface {
	// Complete performs a single-shot completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream produces a lazy chunk sequence ending in a usage sentinel.
	// Cancelling ctx terminates the upstream call; the channel is closed
	// after the final (or error) chunk.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// Capabilities reports the models and features the backend serves.
	Capabilities() Capabilities
}
