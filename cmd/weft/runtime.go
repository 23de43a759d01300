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
package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/teradata-labs/weft/pkg/agent"
	weftconfig "github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/group"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/anthropic"
	"github.com/teradata-labs/weft/pkg/llm/ollama"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/review"
	"github.com/teradata-labs/weft/pkg/sandbox"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/shuttle/builtin"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/storage"
	"github.com/teradata-labs/weft/pkg/workflow"
	"go.uber.org/zap"
)

// runtime wires the full orchestration stack for one CLI invocation.
type runtime struct {
	logger    *zap.Logger
	tracer    observability.Tracer
	bus       *event.Bus
	store     *storage.RunStore
	specs     *spec.Registry
	providers *llm.Registry
	tools     *shuttle.Registry
	policy    *shuttle.Policy
	gate      *review.Gate
	groupDefs map[string]*group.Group
	agents    *agent.Executor
	groups    *group.Engine
	workflows *workflow.Engine

	watcher     *weftconfig.Watcher
	sandboxTool *builtin.SandboxExecTool
	sandboxMgr  *sandbox.Manager
	stopJournal func()
}

// newRuntime builds the runtime from the loaded config. Components are
// wired in dependency order; any failure tears down what was built.
func newRuntime(ctx context.Context, cfg *Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{logger: logger}

	if cfg.Logging.Trace {
		rt.tracer = observability.NewLoggingTracer(logger)
	} else {
		rt.tracer = observability.NewNoOpTracer()
	}

	rt.bus = event.NewBus(event.WithLogger(logger))

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	store, err := storage.NewRunStore(ctx, cfg.Database.Path, logger)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.store = store
	rt.stopJournal = store.Journal(rt.bus)

	rt.specs = spec.NewRegistry(spec.WithLogger(logger))
	if err := rt.loadSpecs(ctx, cfg); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.providers = llm.NewProviderRegistry()
	if err := rt.registerProviders(cfg); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	if err := rt.buildTools(ctx, cfg); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.gate = review.NewGate(rt.bus, logger)

	rt.agents, err = agent.NewExecutor(agent.ExecutorConfig{
		Specs:            rt.specs,
		Providers:        rt.providers,
		Tools:            rt.tools,
		ToolPolicy:       rt.policy,
		MaxToolRounds:    cfg.Engine.MaxToolRounds,
		ContinueOnLength: cfg.Engine.ContinueOnLength,
		Bus:              rt.bus,
		Tracer:           rt.tracer,
		Logger:           logger,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.groups, err = group.NewEngine(group.EngineConfig{
		Runner: rt.agents,
		Bus:    rt.bus,
		Tracer: rt.tracer,
		Logger: logger,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.groupDefs, err = loadGroupDefs(cfg.Groups.Dir)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.workflows, err = workflow.NewEngine(workflow.EngineConfig{
		Agents:      rt.agents,
		Groups:      rt.groups,
		GroupDefs:   rt.groupDefs,
		Tools:       rt.tools,
		ToolPolicy:  rt.policy,
		Reviews:     rt.gate,
		Parallelism: cfg.Engine.Parallelism,
		Bus:         rt.bus,
		Tracer:      rt.tracer,
		Logger:      logger,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	return rt, nil
}

// Close tears down in reverse dependency order. Safe on a partially
// built runtime.
func (rt *runtime) Close(ctx context.Context) {
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	if rt.sandboxTool != nil {
		if err := rt.sandboxTool.Close(ctx); err != nil {
			rt.logger.Warn("sandbox teardown failed", zap.Error(err))
		}
	}
	if rt.sandboxMgr != nil {
		if err := rt.sandboxMgr.Close(ctx); err != nil {
			rt.logger.Warn("sandbox manager close failed", zap.Error(err))
		}
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.stopJournal != nil {
		rt.stopJournal()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("run store close failed", zap.Error(err))
		}
	}
}

func (rt *runtime) loadSpecs(ctx context.Context, cfg *Config) error {
	if cfg.Specs.Dir == "" {
		return nil
	}
	if _, err := os.Stat(cfg.Specs.Dir); os.IsNotExist(err) {
		rt.logger.Info("spec directory does not exist, starting empty",
			zap.String("dir", cfg.Specs.Dir))
		return nil
	}

	if cfg.Specs.HotReload {
		watcher, err := weftconfig.NewWatcher(weftconfig.WatcherConfig{
			Dir:      cfg.Specs.Dir,
			Registry: rt.specs,
			Logger:   rt.logger,
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		rt.watcher = watcher
		return nil
	}

	specs, err := weftconfig.LoadAgentSpecs(cfg.Specs.Dir)
	if err != nil {
		return err
	}
	for _, s := range specs {
		if err := rt.specs.Register(s, false); err != nil {
			return err
		}
	}
	rt.logger.Info("agent specs loaded",
		zap.String("dir", cfg.Specs.Dir),
		zap.Int("count", len(specs)))
	return nil
}

func (rt *runtime) registerProviders(cfg *Config) error {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second

	switch cfg.LLM.Provider {
	case "anthropic":
		client, err := anthropic.New(anthropic.Config{
			APIKey:            cfg.LLM.AnthropicAPIKey,
			Model:             cfg.LLM.AnthropicModel,
			Timeout:           timeout,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		})
		if err != nil {
			return err
		}
		rt.providers.Register("anthropic", client)
	case "ollama":
		rt.providers.Register("ollama", ollama.New(ollama.Config{
			Endpoint: cfg.LLM.OllamaEndpoint,
			Model:    cfg.LLM.OllamaModel,
			Timeout:  timeout,
		}))
	}
	return nil
}

// buildTools registers the builtin tools whose allowlists are
// configured; an empty allowlist leaves the tool out entirely.
func (rt *runtime) buildTools(ctx context.Context, cfg *Config) error {
	rt.tools = shuttle.NewRegistry(rt.logger)
	rt.policy = &shuttle.Policy{
		AllowedPaths:    cfg.Tools.AllowedPaths,
		AllowedCommands: cfg.Tools.AllowedCommands,
		AllowedHosts:    cfg.Tools.AllowedHosts,
	}

	if len(cfg.Tools.AllowedPaths) > 0 {
		readTool, err := builtin.NewFileReadTool(cfg.Tools.AllowedPaths)
		if err != nil {
			return err
		}
		writeTool, err := builtin.NewFileWriteTool(cfg.Tools.AllowedPaths)
		if err != nil {
			return err
		}
		if err := rt.tools.Register(readTool); err != nil {
			return err
		}
		if err := rt.tools.Register(writeTool); err != nil {
			return err
		}
	}

	if len(cfg.Tools.AllowedCommands) > 0 {
		var opts []builtin.ShellExecOption
		if cfg.Tools.Workdir != "" {
			opts = append(opts, builtin.WithWorkdir(cfg.Tools.Workdir))
		}
		shellTool, err := builtin.NewShellExecTool(cfg.Tools.AllowedCommands, opts...)
		if err != nil {
			return err
		}
		if err := rt.tools.Register(shellTool); err != nil {
			return err
		}
	}

	if len(cfg.Tools.AllowedHosts) > 0 {
		httpTool, err := builtin.NewHTTPRequestTool(cfg.Tools.AllowedHosts)
		if err != nil {
			return err
		}
		if err := rt.tools.Register(httpTool); err != nil {
			return err
		}
	}

	if cfg.Sandbox.Enabled {
		backend, err := sandbox.NewDockerBackend(ctx, sandbox.DockerBackendConfig{
			Host:   cfg.Sandbox.DockerHost,
			Logger: rt.logger,
		})
		if err != nil {
			return err
		}
		rt.sandboxMgr, err = sandbox.NewManager(sandbox.ManagerConfig{
			Backend:       backend,
			MaxConcurrent: cfg.Sandbox.MaxConcurrent,
			Bus:           rt.bus,
			Logger:        rt.logger,
		})
		if err != nil {
			return err
		}
		rt.sandboxTool, err = builtin.NewSandboxExecTool(rt.sandboxMgr, sandbox.Config{
			Image: cfg.Sandbox.Image,
			Limits: sandbox.Limits{
				CPUShare:    cfg.Sandbox.CPUShare,
				MemoryBytes: cfg.Sandbox.MemoryBytes,
				DiskBytes:   cfg.Sandbox.DiskBytes,
				Timeout:     time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second,
			},
			Network: sandbox.NetworkPolicy(cfg.Sandbox.Network),
			FSMode:  sandbox.FilesystemMode(cfg.Sandbox.FSMode),
			Workdir: cfg.Tools.Workdir,
		})
		if err != nil {
			return err
		}
		if err := rt.tools.Register(rt.sandboxTool); err != nil {
			return err
		}
	}

	return nil
}

// loadGroupDefs loads every group definition in dir, keyed by name. A
// missing or unset directory yields an empty map.
func loadGroupDefs(dir string) (map[string]*group.Group, error) {
	defs := make(map[string]*group.Group)
	if dir == "" {
		return defs, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return defs, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (filepath.Ext(name) != ".yaml" && filepath.Ext(name) != ".yml") {
			continue
		}
		g, err := weftconfig.LoadGroup(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs[g.Name] = g
	}
	return defs, nil
}
