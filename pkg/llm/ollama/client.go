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

// Package ollama adapts a local Ollama server to the provider port
// via its /api/chat JSON endpoint.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// DefaultEndpoint is the default Ollama server address.
	DefaultEndpoint = "http://localhost:11434"
	// DefaultModel is used when requests omit a model.
	DefaultModel = "qwen2.5"
	// DefaultTimeout bounds each API call.
	DefaultTimeout = 300 * time.Second
)

// Config holds configuration for the Ollama client.
type Config struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Client implements llm.Provider against an Ollama server.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// New creates an Ollama provider.
func New(config Config) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		endpoint:   config.Endpoint,
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Wire types for /api/chat.

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []chatTool             `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Complete performs a single-shot completion.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.WrapError(types.KindTransient, err, "ollama response malformed")
	}
	return c.convertResponse(&out), nil
}

// Stream produces a chunk sequence from Ollama's NDJSON stream.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	body, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		usage := types.Usage{}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var line chatResponse
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				ch <- llm.Chunk{Err: types.WrapError(types.KindTransient, err, "ollama stream line malformed")}
				return
			}
			if line.Message.Content != "" {
				select {
				case ch <- llm.Chunk{TextDelta: line.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if line.Done {
				usage = types.Usage{
					InputTokens:  line.PromptEvalCount,
					OutputTokens: line.EvalCount,
					TotalTokens:  line.PromptEvalCount + line.EvalCount,
				}
				break
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- llm.Chunk{Err: classify(ctx, err)}
			return
		}
		ch <- llm.Chunk{Final: true, Usage: &usage}
	}()
	return ch, nil
}

// Capabilities reports the configured model.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Provider:          "ollama",
		Models:            []string{c.model},
		SupportsTools:     true,
		SupportsStreaming: true,
	}
}

func (c *Client) buildRequest(req *llm.Request, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	out := chatRequest{
		Model:  model,
		Stream: stream,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		out.Options["num_predict"] = req.MaxTokens
	}

	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem, types.RoleUser:
			out.Messages = append(out.Messages, chatMessage{Role: string(m.Role), Content: m.Text()})
		case types.RoleAssistant:
			cm := chatMessage{Role: "assistant", Content: m.Text()}
			for _, call := range m.ToolCalls() {
				cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
					Function: chatFunctionCall{Name: call.Name, Arguments: call.Input},
				})
			}
			out.Messages = append(out.Messages, cm)
		case types.RoleTool:
			for _, p := range m.Parts {
				if p.Kind == types.PartToolResult && p.ToolResult != nil {
					out.Messages = append(out.Messages, chatMessage{Role: "tool", Content: p.ToolResult.Content})
				}
			}
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		})
	}
	return json.Marshal(out)
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, types.WrapError(types.KindBadRequest, err, "failed to build ollama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, string(payload))
	}
	return resp, nil
}

func (c *Client) convertResponse(resp *chatResponse) *llm.Response {
	msg := types.Message{Role: types.RoleAssistant, Timestamp: time.Now()}
	if resp.Message.Content != "" {
		msg.Parts = append(msg.Parts, types.ContentPart{Kind: types.PartText, Text: resp.Message.Content})
	}
	for i, call := range resp.Message.ToolCalls {
		msg.Parts = append(msg.Parts, types.ContentPart{
			Kind: types.PartToolCall,
			ToolCall: &types.ToolCall{
				// Ollama does not assign call ids; synthesize stable ones.
				ID:    fmt.Sprintf("call-%d", i),
				Name:  call.Function.Name,
				Input: call.Function.Arguments,
			},
		})
	}

	finish := llm.FinishStop
	switch {
	case len(resp.Message.ToolCalls) > 0:
		finish = llm.FinishToolCall
	case resp.DoneReason == "length":
		finish = llm.FinishLength
	}

	return &llm.Response{
		Message:      msg,
		FinishReason: finish,
		Model:        resp.Model,
		Usage: types.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
		},
	}
}

func statusError(code int, body string) error {
	switch code {
	case http.StatusNotFound:
		return types.NewError(types.KindModelUnavailable, "ollama model not found: %s", body).
			WithHint("pull the model with `ollama pull`")
	case http.StatusBadRequest:
		return types.NewError(types.KindBadRequest, "ollama rejected the request: %s", body)
	case http.StatusTooManyRequests:
		return types.NewError(types.KindRateLimited, "ollama server busy")
	default:
		return types.NewError(types.KindTransient, "ollama returned status %d: %s", code, body)
	}
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return types.WrapError(types.KindTimeout, err, "ollama call exceeded deadline")
	}
	if ctx.Err() != nil {
		return types.WrapError(types.KindCancelled, err, "ollama call cancelled")
	}
	return types.WrapError(types.KindTransient, err, "ollama call failed")
}
