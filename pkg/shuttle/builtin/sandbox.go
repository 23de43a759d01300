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
	"sync"

	"github.com/teradata-labs/weft/pkg/sandbox"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
)

// SandboxExecTool runs commands inside an isolated sandbox instead of
// the host. The sandbox is provisioned lazily on first invocation and
// reused until Close; rollback on failure follows the sandbox's
// rollback policy.
type SandboxExecTool struct {
	manager *sandbox.Manager
	config  sandbox.Config

	mu        sync.Mutex
	sandboxID string
}

// NewSandboxExecTool creates a sandbox_exec tool. The config describes
// the sandbox to provision on first use.
func NewSandboxExecTool(manager *sandbox.Manager, config sandbox.Config) (*SandboxExecTool, error) {
	if manager == nil {
		return nil, types.NewError(types.KindConfigurationError,
			"sandbox_exec requires a sandbox manager")
	}
	return &SandboxExecTool{manager: manager, config: config}, nil
}

func (t *SandboxExecTool) Name() string { return "sandbox_exec" }
func (t *SandboxExecTool) Description() string {
	return "Execute a command inside an isolated sandbox with resource limits"
}

func (t *SandboxExecTool) SideEffect() shuttle.SideEffect { return shuttle.SideEffectExternal }

func (t *SandboxExecTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("sandbox_exec parameters",
		map[string]*shuttle.JSONSchema{
			"command": shuttle.NewStringSchema("Executable name"),
			"args": shuttle.NewArraySchema("Arguments passed verbatim",
				shuttle.NewStringSchema("A single argument")),
		},
		[]string{"command"})
}

func (t *SandboxExecTool) Resources(params map[string]interface{}) []string {
	if cmd, ok := params["command"].(string); ok {
		return []string{cmd}
	}
	return nil
}

func (t *SandboxExecTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	command, ok := params["command"].(string)
	if !ok || command == "" {
		return nil, types.NewError(types.KindBadRequest, "command parameter must be a non-empty string")
	}
	args, err := argvParam(params)
	if err != nil {
		return nil, err
	}

	id, err := t.ensureSandbox(ctx)
	if err != nil {
		return nil, err
	}

	res, err := t.manager.Execute(ctx, id, append([]string{command}, args...), nil)
	if err != nil {
		// Rollback policy decides whether the sandbox is restored.
		_, _ = t.manager.AutoRollbackOnError(ctx, id, err)
		return nil, err
	}

	return &shuttle.Result{
		Data: map[string]interface{}{
			"stdout":    string(res.Stdout),
			"stderr":    string(res.Stderr),
			"exit_code": res.ExitCode,
		},
		Metadata: map[string]interface{}{
			"sandbox_id": id,
			"command":    command,
			"breaches":   res.Breaches,
		},
		ExecutionTimeMs: res.DurationMs,
	}, nil
}

// Close destroys the lazily created sandbox, if any.
func (t *SandboxExecTool) Close(ctx context.Context) error {
	t.mu.Lock()
	id := t.sandboxID
	t.sandboxID = ""
	t.mu.Unlock()
	if id == "" {
		return nil
	}
	return t.manager.Destroy(ctx, id)
}

func (t *SandboxExecTool) ensureSandbox(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sandboxID != "" {
		return t.sandboxID, nil
	}
	sb, err := t.manager.Create(ctx, t.config)
	if err != nil {
		return "", err
	}
	t.sandboxID = sb.ID
	return sb.ID, nil
}
