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

// Package anthropic adapts Anthropic's Claude API to the provider port.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5"
	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the Anthropic client.
type Config struct {
	// APIKey authenticates requests; ANTHROPIC_API_KEY is used when empty
	APIKey string

	// Model is the default model when requests omit one
	Model string

	// Timeout bounds each API call
	Timeout time.Duration

	// RequestsPerSecond enables client-side pacing when positive
	RequestsPerSecond float64
}

// Client implements llm.Provider against the Anthropic Messages API.
type Client struct {
	sdk     sdk.Client
	model   string
	limiter *llm.RateLimiter
}

// New creates an Anthropic provider.
func New(config Config) (*Client, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if config.APIKey == "" {
		return nil, types.NewError(types.KindConfigurationError,
			"anthropic provider requires an API key").
			WithHint("set providers.anthropic.api_key or ANTHROPIC_API_KEY")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	c := &Client{
		sdk: sdk.NewClient(
			option.WithAPIKey(config.APIKey),
			option.WithRequestTimeout(config.Timeout),
		),
		model: config.Model,
	}
	if config.RequestsPerSecond > 0 {
		c.limiter = llm.NewRateLimiter(config.RequestsPerSecond, 3)
	}
	return c, nil
}

// Complete performs a single-shot completion.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return c.convertResponse(msg), nil
}

// Stream produces a chunk sequence ending in a usage sentinel.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.sdk.Messages.NewStreaming(ctx, params)

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		acc := sdk.Message{}
		for stream.Next() {
			ev := stream.Current()
			if err := acc.Accumulate(ev); err != nil {
				ch <- llm.Chunk{Err: types.WrapError(types.KindTransient, err,
					"failed to accumulate stream event")}
				return
			}
			if delta, ok := ev.AsAny().(sdk.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(sdk.TextDelta); ok && text.Text != "" {
					select {
					case ch <- llm.Chunk{TextDelta: text.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- llm.Chunk{Err: classify(ctx, err)}
			return
		}
		usage := types.Usage{
			InputTokens:  int(acc.Usage.InputTokens),
			OutputTokens: int(acc.Usage.OutputTokens),
			TotalTokens:  int(acc.Usage.InputTokens + acc.Usage.OutputTokens),
		}
		ch <- llm.Chunk{Final: true, Usage: &usage}
	}()
	return ch, nil
}

// Capabilities reports the models this adapter serves.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Provider:          "anthropic",
		Models:            []string{c.model},
		SupportsTools:     true,
		SupportsStreaming: true,
	}
}

func (c *Client) buildParams(req *llm.Request) (sdk.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: sdk.Float(req.Temperature),
	}

	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Text()})
		case types.RoleUser:
			params.Messages = append(params.Messages,
				sdk.NewUserMessage(sdk.NewTextBlock(m.Text())))
		case types.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
			if text := m.Text(); text != "" {
				blocks = append(blocks, sdk.NewTextBlock(text))
			}
			for _, call := range m.ToolCalls() {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, call.Input, call.Name))
			}
			if len(blocks) > 0 {
				params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
			}
		case types.RoleTool:
			for _, p := range m.Parts {
				if p.Kind != types.PartToolResult || p.ToolResult == nil {
					continue
				}
				params.Messages = append(params.Messages, sdk.NewUserMessage(
					sdk.NewToolResultBlock(p.ToolResult.CallID, p.ToolResult.Content, p.ToolResult.IsError)))
			}
		}
	}

	for _, tool := range req.Tools {
		properties := tool.Schema["properties"]
		var required []string
		if raw, ok := tool.Schema["required"].([]string); ok {
			required = raw
		}
		params.Tools = append(params.Tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return params, nil
}

func (c *Client) convertResponse(msg *sdk.Message) *llm.Response {
	out := types.Message{Role: types.RoleAssistant, Timestamp: time.Now()}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Parts = append(out.Parts, types.ContentPart{Kind: types.PartText, Text: block.Text})
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			out.Parts = append(out.Parts, types.ContentPart{
				Kind: types.PartToolCall,
				ToolCall: &types.ToolCall{
					ID:    block.ID,
					Name:  block.Name,
					Input: input,
				},
			})
		}
	}

	finish := llm.FinishStop
	switch msg.StopReason {
	case sdk.StopReasonMaxTokens:
		finish = llm.FinishLength
	case sdk.StopReasonToolUse:
		finish = llm.FinishToolCall
	}

	return &llm.Response{
		Message:      out,
		FinishReason: finish,
		Model:        string(msg.Model),
		Usage: types.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

// classify maps SDK errors onto the typed error kinds.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.WrapError(types.KindTimeout, err, "anthropic call exceeded deadline")
		}
		return types.WrapError(types.KindCancelled, err, "anthropic call cancelled")
	}

	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403:
			return types.WrapError(types.KindAuth, err, "anthropic authentication failed")
		case 400:
			return types.WrapError(types.KindBadRequest, err, "anthropic rejected the request")
		case 404:
			return types.WrapError(types.KindModelUnavailable, err, "anthropic model not found")
		case 429:
			return types.WrapError(types.KindRateLimited, err, "anthropic rate limit hit").
				WithHint("lower providers.anthropic.requests_per_second")
		case 529:
			return types.WrapError(types.KindTransient, err, "anthropic overloaded")
		default:
			if apierr.StatusCode >= 500 {
				return types.WrapError(types.KindTransient, err, "anthropic server error")
			}
		}
	}
	return types.WrapError(types.KindTransient, err, "anthropic call failed")
}
