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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/weft/pkg/sandbox"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap/zaptest"
)

type stubBackend struct {
	mu         sync.Mutex
	provisions int
	execs      [][]string
	removed    []string
	execErr    error
}

func (s *stubBackend) Provision(ctx context.Context, id string, config sandbox.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisions++
	return nil
}

func (s *stubBackend) Exec(ctx context.Context, id string, command []string, inputFiles map[string][]byte) (*sandbox.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, command)
	if s.execErr != nil {
		return nil, s.execErr
	}
	return &sandbox.ExecutionResult{ExitCode: 0, Stdout: []byte("done"), DurationMs: 3}, nil
}

func (s *stubBackend) Snapshot(ctx context.Context, id string) (string, int64, error) {
	return fmt.Sprintf("snap-%d", time.Now().UnixNano()), 1024, nil
}

func (s *stubBackend) Restore(ctx context.Context, id, ref string) error { return nil }

func (s *stubBackend) Stats(ctx context.Context, id string) (*sandbox.UsageSample, error) {
	return &sandbox.UsageSample{}, nil
}

func (s *stubBackend) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
	return nil
}

func sandboxTestConfig() sandbox.Config {
	return sandbox.Config{
		Image: "weft-sandbox:latest",
		Limits: sandbox.Limits{
			CPUShare:    1.0,
			MemoryBytes: 512 << 20,
			DiskBytes:   1 << 30,
			Timeout:     30 * time.Second,
		},
		Network: sandbox.NetworkNone,
		FSMode:  sandbox.FSWritable,
	}
}

func newSandboxTool(t *testing.T, backend sandbox.Backend) *SandboxExecTool {
	t.Helper()
	manager, err := sandbox.NewManager(sandbox.ManagerConfig{
		Backend: backend,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	tool, err := NewSandboxExecTool(manager, sandboxTestConfig())
	require.NoError(t, err)
	return tool
}

func TestSandboxExecProvisionsLazilyAndReuses(t *testing.T) {
	backend := &stubBackend{}
	tool := newSandboxTool(t, backend)
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]interface{}{
		"command": "pytest",
		"args":    []interface{}{"-q"},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Data.(map[string]interface{})["stdout"])
	assert.Equal(t, 0, res.Data.(map[string]interface{})["exit_code"])
	assert.NotEmpty(t, res.Metadata["sandbox_id"])

	_, err = tool.Execute(ctx, map[string]interface{}{"command": "ls"})
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.provisions)
	require.Len(t, backend.execs, 2)
	assert.Equal(t, []string{"pytest", "-q"}, backend.execs[0])
}

func TestSandboxExecRequiresCommand(t *testing.T) {
	tool := newSandboxTool(t, &stubBackend{})

	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, types.KindBadRequest, types.KindOf(err))
}

func TestSandboxExecCloseDestroys(t *testing.T) {
	backend := &stubBackend{}
	tool := newSandboxTool(t, backend)
	ctx := context.Background()

	_, err := tool.Execute(ctx, map[string]interface{}{"command": "ls"})
	require.NoError(t, err)
	require.NoError(t, tool.Close(ctx))

	backend.mu.Lock()
	removed := len(backend.removed)
	backend.mu.Unlock()
	assert.Equal(t, 1, removed)

	// Idempotent once the sandbox is gone.
	require.NoError(t, tool.Close(ctx))
}

func TestNewSandboxExecToolRequiresManager(t *testing.T) {
	_, err := NewSandboxExecTool(nil, sandboxTestConfig())
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))
}
