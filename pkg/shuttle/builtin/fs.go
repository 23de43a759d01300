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

// Package builtin provides the stock tool set: filesystem access,
// command execution, and HTTP requests. Every tool with side effects
// requires an explicit allowlist at construction; there is no
// permissive default.
package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
)

// maxFileSize caps file_read payloads so a single tool result cannot
// blow out the model context.
const maxFileSize = 1 << 20

// FileReadTool reads files under a set of allowed path prefixes.
type FileReadTool struct {
	allowedPaths []string
}

// NewFileReadTool creates a file_read tool restricted to the given
// path prefixes.
func NewFileReadTool(allowedPaths []string) (*FileReadTool, error) {
	cleaned, err := cleanPrefixes("file_read", allowedPaths)
	if err != nil {
		return nil, err
	}
	return &FileReadTool{allowedPaths: cleaned}, nil
}

func (t *FileReadTool) Name() string        { return "file_read" }
func (t *FileReadTool) Description() string { return "Read the contents of a file at a given path" }

func (t *FileReadTool) SideEffect() shuttle.SideEffect { return shuttle.SideEffectRead }

func (t *FileReadTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("file_read parameters",
		map[string]*shuttle.JSONSchema{
			"path": shuttle.NewStringSchema("Absolute path of the file to read"),
		},
		[]string{"path"})
}

func (t *FileReadTool) Resources(params map[string]interface{}) []string {
	if path, ok := params["path"].(string); ok {
		return []string{filepath.Clean(path)}
	}
	return nil
}

func (t *FileReadTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	path, err := pathParam(params)
	if err != nil {
		return nil, err
	}
	if !underAny(path, t.allowedPaths) {
		return nil, types.NewError(types.KindPolicyDenied,
			"path %q is outside the file_read allowlist", path).WithEntity("file_read")
	}
	if err := ctx.Err(); err != nil {
		return nil, types.WrapError(types.KindOf(err), err, "file_read aborted")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.WrapError(types.KindNotFound, err, "file %q does not exist", path)
		}
		return nil, types.WrapError(types.KindTransient, err, "failed to stat %q", path)
	}
	if info.Size() > maxFileSize {
		return nil, types.NewError(types.KindResourceExhausted,
			"file %q is %d bytes, limit is %d", path, info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.KindTransient, err, "failed to read %q", path)
	}
	return &shuttle.Result{
		Data: string(data),
		Metadata: map[string]interface{}{
			"path":  path,
			"bytes": len(data),
		},
	}, nil
}

// FileWriteTool writes files under a set of allowed path prefixes.
type FileWriteTool struct {
	allowedPaths []string
}

// NewFileWriteTool creates a file_write tool restricted to the given
// path prefixes. An empty allowlist is a configuration error: a write
// tool with nowhere it may write is a misconfiguration, not a sandbox.
func NewFileWriteTool(allowedPaths []string) (*FileWriteTool, error) {
	cleaned, err := cleanPrefixes("file_write", allowedPaths)
	if err != nil {
		return nil, err
	}
	return &FileWriteTool{allowedPaths: cleaned}, nil
}

func (t *FileWriteTool) Name() string { return "file_write" }
func (t *FileWriteTool) Description() string {
	return "Write content to a file, creating parent directories as needed"
}

func (t *FileWriteTool) SideEffect() shuttle.SideEffect { return shuttle.SideEffectWrite }

func (t *FileWriteTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("file_write parameters",
		map[string]*shuttle.JSONSchema{
			"path":    shuttle.NewStringSchema("Absolute path of the file to write"),
			"content": shuttle.NewStringSchema("Content to write"),
		},
		[]string{"path", "content"})
}

func (t *FileWriteTool) Resources(params map[string]interface{}) []string {
	if path, ok := params["path"].(string); ok {
		return []string{filepath.Clean(path)}
	}
	return nil
}

func (t *FileWriteTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	path, err := pathParam(params)
	if err != nil {
		return nil, err
	}
	content, ok := params["content"].(string)
	if !ok {
		return nil, types.NewError(types.KindBadRequest, "content parameter must be a string")
	}
	if !underAny(path, t.allowedPaths) {
		return nil, types.NewError(types.KindPolicyDenied,
			"path %q is outside the file_write allowlist", path).WithEntity("file_write")
	}
	if err := ctx.Err(); err != nil {
		return nil, types.WrapError(types.KindOf(err), err, "file_write aborted")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.WrapError(types.KindTransient, err, "failed to create parent of %q", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, types.WrapError(types.KindTransient, err, "failed to write %q", path)
	}
	return &shuttle.Result{
		Data: map[string]interface{}{"path": path, "bytes": len(content)},
	}, nil
}

func pathParam(params map[string]interface{}) (string, error) {
	raw, ok := params["path"].(string)
	if !ok || raw == "" {
		return "", types.NewError(types.KindBadRequest, "path parameter must be a non-empty string")
	}
	clean := filepath.Clean(raw)
	if strings.Contains(raw, "..") {
		return "", types.NewError(types.KindPolicyDenied,
			"path %q contains a parent traversal", raw)
	}
	return clean, nil
}

func cleanPrefixes(tool string, prefixes []string) ([]string, error) {
	if len(prefixes) == 0 {
		return nil, types.NewError(types.KindConfigurationError,
			"%s requires at least one allowed path prefix", tool).
			WithHint("set tools.allowed_paths in the config")
	}
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if !filepath.IsAbs(p) {
			return nil, types.NewError(types.KindConfigurationError,
				"%s allowlist entry %q must be absolute", tool, p)
		}
		out = append(out, filepath.Clean(p))
	}
	return out, nil
}

func underAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
