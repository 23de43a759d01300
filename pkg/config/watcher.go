// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces rapid editor write bursts into one reload.
const DefaultDebounce = 500 * time.Millisecond

// WatcherConfig configures a spec directory watcher.
type WatcherConfig struct {
	// Dir is the directory holding agent spec YAML files.
	Dir string

	// Registry receives re-registered specs on change.
	Registry *spec.Registry

	// Debounce is the quiet period after the last write before a file
	// is reloaded. Defaults to DefaultDebounce.
	Debounce time.Duration

	Logger *zap.Logger
}

// Watcher watches a spec directory and re-registers changed agent
// specs. A file that fails to load or validate is logged and skipped;
// the previously registered version stays active.
type Watcher struct {
	dir      string
	registry *spec.Registry
	debounce time.Duration
	logger   *zap.Logger
	fw       *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher. Call Start to begin watching.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Dir == "" {
		return nil, types.NewError(types.KindConfigurationError, "watcher requires a spec directory")
	}
	if config.Registry == nil {
		return nil, types.NewError(types.KindConfigurationError, "watcher requires a spec registry")
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Watcher{
		dir:      config.Dir,
		registry: config.Registry,
		debounce: config.Debounce,
		logger:   config.Logger,
		timers:   make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start loads every spec currently in the directory, then watches for
// changes until Stop is called or the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	specs, err := LoadAgentSpecs(w.dir)
	if err != nil {
		return err
	}
	for _, s := range specs {
		if err := w.registry.Register(s, true); err != nil {
			return err
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return types.WrapError(types.KindInternal, err, "create filesystem watcher")
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return types.WrapError(types.KindConfigurationError, err, "watch %q", w.dir)
	}
	w.fw = fw

	w.logger.Info("spec watcher started",
		zap.String("dir", w.dir),
		zap.Int("specs", len(specs)),
		zap.Duration("debounce", w.debounce))

	go w.watchLoop(ctx)
	return nil
}

// Stop shuts the watcher down and waits for the watch loop to exit.
// Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.fw != nil {
			<-w.doneCh
		}
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)
	defer w.fw.Close()
	defer w.cancelTimers()

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("spec watcher error", zap.Error(err))
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !watchable(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// Keep the registered spec so running agents are unaffected.
		if timer, ok := w.timers[ev.Name]; ok {
			timer.Stop()
			delete(w.timers, ev.Name)
		}
		w.logger.Info("spec file removed, keeping registered version",
			zap.String("path", ev.Name))
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if timer, ok := w.timers[ev.Name]; ok {
		timer.Stop()
	}
	path := ev.Name
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.reload(path)
	})
}

func (w *Watcher) reload(path string) {
	s, err := LoadAgentSpec(path)
	if err != nil {
		w.logger.Warn("spec reload rejected",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	if err := w.registry.Register(s, true); err != nil {
		w.logger.Warn("spec re-registration rejected",
			zap.String("path", path),
			zap.String("agent", s.Name),
			zap.Error(err))
		return
	}
	w.logger.Info("spec reloaded",
		zap.String("path", path),
		zap.String("agent", s.Name),
		zap.Uint64("registry_version", w.registry.Version()))
}

func (w *Watcher) cancelTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
}

// watchable filters out editor temp files and non-YAML entries.
func watchable(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".swp") {
		return false
	}
	return isYAML(base)
}
