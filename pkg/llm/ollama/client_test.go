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

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

func TestCompleteTextResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(chatResponse{
			Model:           req.Model,
			Message:         chatMessage{Role: "assistant", Content: "hello"},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 12,
			EvalCount:       4,
		})
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL})
	resp, err := c.Complete(context.Background(), &llm.Request{
		Model: "qwen2.5",
		Messages: []types.Message{
			types.TextMessage(types.RoleSystem, "", "be brief"),
			types.TextMessage(types.RoleUser, "", "hi"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.FinishStop, resp.FinishReason)
	assert.Equal(t, "hello", resp.Message.Text())
	assert.Equal(t, 16, resp.Usage.TotalTokens)
}

func TestCompleteToolCallResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{
				Role: "assistant",
				ToolCalls: []chatToolCall{{
					Function: chatFunctionCall{
						Name:      "file_read",
						Arguments: map[string]interface{}{"path": "/tmp/x"},
					},
				}},
			},
			Done: true,
		})
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL})
	resp, err := c.Complete(context.Background(), &llm.Request{
		Messages: []types.Message{types.TextMessage(types.RoleUser, "", "read it")},
		Tools:    []llm.ToolDecl{{Name: "file_read", Schema: map[string]interface{}{"type": "object"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.FinishToolCall, resp.FinishReason)

	calls := resp.Message.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "file_read", calls[0].Name)
	assert.Equal(t, "/tmp/x", calls[0].Input["path"])
	assert.NotEmpty(t, calls[0].ID)
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		code int
		kind types.Kind
	}{
		{http.StatusNotFound, types.KindModelUnavailable},
		{http.StatusBadRequest, types.KindBadRequest},
		{http.StatusTooManyRequests, types.KindRateLimited},
		{http.StatusInternalServerError, types.KindTransient},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))
		c := New(Config{Endpoint: server.URL})
		_, err := c.Complete(context.Background(), &llm.Request{})
		require.Error(t, err)
		assert.Equal(t, tt.kind, types.KindOf(err))
		server.Close()
	}
}

func TestStreamDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(chatResponse{Message: chatMessage{Content: "hel"}})
		enc.Encode(chatResponse{Message: chatMessage{Content: "lo"}})
		enc.Encode(chatResponse{Done: true, DoneReason: "stop", PromptEvalCount: 3, EvalCount: 2})
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL})
	ch, err := c.Stream(context.Background(), &llm.Request{
		Messages: []types.Message{types.TextMessage(types.RoleUser, "", "hi")},
	})
	require.NoError(t, err)

	var text string
	var usage *types.Usage
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.TextDelta
		if chunk.Final {
			usage = chunk.Usage
		}
	}
	assert.Equal(t, "hello", text)
	require.NotNil(t, usage, "stream must end in a usage sentinel")
	assert.Equal(t, 5, usage.TotalTokens)
}

func TestCancelledCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{Endpoint: server.URL})
	_, err := c.Complete(ctx, &llm.Request{})
	require.Error(t, err)
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
}
