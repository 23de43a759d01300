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

package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/weft/pkg/types"
)

func TestFileToolsRequireAllowlist(t *testing.T) {
	_, err := NewFileReadTool(nil)
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))

	_, err = NewFileWriteTool([]string{})
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))

	_, err = NewFileWriteTool([]string{"relative/path"})
	require.Error(t, err, "allowlist entries must be absolute")
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))
}

func TestFileReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewFileWriteTool([]string{dir})
	require.NoError(t, err)
	reader, err := NewFileReadTool([]string{dir})
	require.NoError(t, err)

	path := filepath.Join(dir, "nested", "note.txt")
	_, err = writer.Execute(context.Background(), map[string]interface{}{
		"path":    path,
		"content": "hello weft",
	})
	require.NoError(t, err)

	result, err := reader.Execute(context.Background(), map[string]interface{}{"path": path})
	require.NoError(t, err)
	assert.Equal(t, "hello weft", result.Data)
	assert.Equal(t, 10, result.Metadata["bytes"])
}

func TestFileToolsDenyOutsideAllowlist(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewFileWriteTool([]string{dir})
	require.NoError(t, err)

	_, err = writer.Execute(context.Background(), map[string]interface{}{
		"path":    "/etc/shadow",
		"content": "nope",
	})
	require.Error(t, err)
	assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))

	// A sibling directory that shares the allowlist entry as a string
	// prefix is still outside it.
	reader, err := NewFileReadTool([]string{dir})
	require.NoError(t, err)
	_, err = reader.Execute(context.Background(), map[string]interface{}{
		"path": dir + "-evil/secret",
	})
	require.Error(t, err)
	assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))
}

func TestFileToolsRejectTraversal(t *testing.T) {
	dir := t.TempDir()
	reader, err := NewFileReadTool([]string{dir})
	require.NoError(t, err)

	_, err = reader.Execute(context.Background(), map[string]interface{}{
		"path": filepath.Join(dir, "..", "other", "file"),
	})
	require.Error(t, err)
	assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))
}

func TestFileReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	reader, err := NewFileReadTool([]string{dir})
	require.NoError(t, err)

	_, err = reader.Execute(context.Background(), map[string]interface{}{
		"path": filepath.Join(dir, "absent"),
	})
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestFileReadSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big")
	require.NoError(t, os.WriteFile(path, make([]byte, maxFileSize+1), 0o644))

	reader, err := NewFileReadTool([]string{dir})
	require.NoError(t, err)
	_, err = reader.Execute(context.Background(), map[string]interface{}{"path": path})
	require.Error(t, err)
	assert.Equal(t, types.KindResourceExhausted, types.KindOf(err))
}

func TestShellExecRequiresAllowlist(t *testing.T) {
	_, err := NewShellExecTool(nil)
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))
}

func TestShellExecRunsAllowedCommand(t *testing.T) {
	tool, err := NewShellExecTool([]string{"echo"})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo",
		"args":    []interface{}{"hello"},
	})
	require.NoError(t, err)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, "hello\n", data["stdout"])
	assert.Equal(t, 0, data["exit_code"])
}

func TestShellExecDeniesUnlistedCommand(t *testing.T) {
	tool, err := NewShellExecTool([]string{"echo"})
	require.NoError(t, err)

	_, err = tool.Execute(context.Background(), map[string]interface{}{"command": "rm"})
	require.Error(t, err)
	assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))
}

func TestShellExecRejectsMetacharacters(t *testing.T) {
	tool, err := NewShellExecTool([]string{"echo"})
	require.NoError(t, err)

	for _, arg := range []string{"a;b", "a|b", "$(whoami)", "`id`", "a>b"} {
		_, err = tool.Execute(context.Background(), map[string]interface{}{
			"command": "echo",
			"args":    []interface{}{arg},
		})
		require.Error(t, err, "argument %q must be rejected", arg)
		assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))
	}
}

func TestShellExecNonZeroExit(t *testing.T) {
	tool, err := NewShellExecTool([]string{"false"})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"command": "false"})
	require.NoError(t, err, "non-zero exit is a result, not an error")
	data := result.Data.(map[string]interface{})
	assert.Equal(t, 1, data["exit_code"])
}

func TestShellExecTimeout(t *testing.T) {
	tool, err := NewShellExecTool([]string{"sleep"}, WithShellTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = tool.Execute(context.Background(), map[string]interface{}{
		"command": "sleep",
		"args":    []interface{}{"5"},
	})
	require.Error(t, err)
	assert.Equal(t, types.KindTimeout, types.KindOf(err))
}

func TestHTTPRequestRequiresAllowlist(t *testing.T) {
	_, err := NewHTTPRequestTool(nil)
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))
}

func TestHTTPRequestAllowedHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "token", r.Header.Get("X-Auth"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	tool, err := NewHTTPRequestTool([]string{u.Hostname()})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"url":     server.URL,
		"method":  "POST",
		"body":    `{"x":1}`,
		"headers": map[string]interface{}{"X-Auth": "token"},
	})
	require.NoError(t, err)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, http.StatusCreated, data["status"])
	assert.Equal(t, `{"ok":true}`, data["body"])
}

func TestHTTPRequestDeniesUnlistedHost(t *testing.T) {
	tool, err := NewHTTPRequestTool([]string{"api.example.com"})
	require.NoError(t, err)

	_, err = tool.Execute(context.Background(), map[string]interface{}{
		"url": "http://evil.example.com/steal",
	})
	require.Error(t, err)
	assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))
}

func TestHTTPRequestRejectsNonHTTPSchemes(t *testing.T) {
	tool, err := NewHTTPRequestTool([]string{"api.example.com"})
	require.NoError(t, err)

	_, err = tool.Execute(context.Background(), map[string]interface{}{
		"url": "file:///etc/passwd",
	})
	require.Error(t, err)
	assert.Equal(t, types.KindBadRequest, types.KindOf(err))
}

func TestResourceExtraction(t *testing.T) {
	reader, err := NewFileReadTool([]string{"/workspace"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/workspace/a.txt"},
		reader.Resources(map[string]interface{}{"path": "/workspace/a.txt"}))

	shell, err := NewShellExecTool([]string{"ls"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ls"},
		shell.Resources(map[string]interface{}{"command": "ls"}))

	httpTool, err := NewHTTPRequestTool([]string{"api.example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"api.example.com"},
		httpTool.Resources(map[string]interface{}{"url": "https://api.example.com/v1"}))
}
