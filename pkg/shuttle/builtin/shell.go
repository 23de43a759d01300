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
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// DefaultShellTimeout bounds a shell_exec invocation.
	DefaultShellTimeout = 60 * time.Second
	// maxOutputBytes caps captured stdout/stderr per invocation.
	maxOutputBytes = 256 * 1024
)

// shellMetachars are rejected in every argv element. Commands run via
// exec directly, never through a shell, so these have no legitimate
// use and their presence indicates an injection attempt.
const shellMetachars = ";|&$`<>(){}"

// ShellExecTool runs allowlisted commands as an argv array, without
// shell interpretation.
type ShellExecTool struct {
	allowedCommands []string
	timeout         time.Duration
	workdir         string
}

// ShellExecOption customizes a ShellExecTool.
type ShellExecOption func(*ShellExecTool)

// WithShellTimeout overrides the per-invocation timeout.
func WithShellTimeout(d time.Duration) ShellExecOption {
	return func(t *ShellExecTool) { t.timeout = d }
}

// WithWorkdir sets the working directory for executed commands.
func WithWorkdir(dir string) ShellExecOption {
	return func(t *ShellExecTool) { t.workdir = dir }
}

// NewShellExecTool creates a shell_exec tool restricted to the given
// executable names.
func NewShellExecTool(allowedCommands []string, opts ...ShellExecOption) (*ShellExecTool, error) {
	if len(allowedCommands) == 0 {
		return nil, types.NewError(types.KindConfigurationError,
			"shell_exec requires at least one allowed command").
			WithHint("set tools.allowed_commands in the config")
	}
	t := &ShellExecTool{
		allowedCommands: allowedCommands,
		timeout:         DefaultShellTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *ShellExecTool) Name() string { return "shell_exec" }
func (t *ShellExecTool) Description() string {
	return "Execute an allowlisted command with arguments, without shell interpretation"
}

func (t *ShellExecTool) SideEffect() shuttle.SideEffect { return shuttle.SideEffectExternal }

func (t *ShellExecTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("shell_exec parameters",
		map[string]*shuttle.JSONSchema{
			"command": shuttle.NewStringSchema("Executable name, must be on the allowlist"),
			"args": shuttle.NewArraySchema("Arguments passed verbatim",
				shuttle.NewStringSchema("A single argument")),
		},
		[]string{"command"})
}

func (t *ShellExecTool) Resources(params map[string]interface{}) []string {
	if cmd, ok := params["command"].(string); ok {
		return []string{cmd}
	}
	return nil
}

func (t *ShellExecTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	command, ok := params["command"].(string)
	if !ok || command == "" {
		return nil, types.NewError(types.KindBadRequest, "command parameter must be a non-empty string")
	}
	if !contains(t.allowedCommands, command) {
		return nil, types.NewError(types.KindPolicyDenied,
			"command %q is not on the allowlist", command).WithEntity("shell_exec")
	}

	args, err := argvParam(params)
	if err != nil {
		return nil, err
	}
	for _, arg := range append([]string{command}, args...) {
		if strings.ContainsAny(arg, shellMetachars) {
			return nil, types.NewError(types.KindPolicyDenied,
				"argument %q contains shell metacharacters", arg).WithEntity("shell_exec")
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = t.workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, n: maxOutputBytes}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case runCtx.Err() == context.DeadlineExceeded:
			return nil, types.NewError(types.KindTimeout,
				"command %q exceeded the %s timeout", command, t.timeout)
		case ctx.Err() != nil:
			return nil, types.WrapError(types.KindCancelled, runErr, "command %q cancelled", command)
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return nil, types.WrapError(types.KindTransient, runErr,
				"failed to run command %q", command)
		}
	}

	return &shuttle.Result{
		Data: map[string]interface{}{
			"stdout":    stdout.String(),
			"stderr":    stderr.String(),
			"exit_code": exitCode,
		},
		Metadata:        map[string]interface{}{"command": command},
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

func argvParam(params map[string]interface{}) ([]string, error) {
	raw, ok := params["args"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, types.NewError(types.KindBadRequest, "args parameter must be an array of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, types.NewError(types.KindBadRequest, "args parameter must be an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// limitedWriter discards bytes past n instead of failing the command.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.n - lw.w.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		lw.w.Write(p[:remaining])
		return len(p), nil
	}
	return lw.w.Write(p)
}
