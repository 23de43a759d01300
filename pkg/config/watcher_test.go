// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap/zaptest"
)

func startWatcher(t *testing.T, dir string, registry *spec.Registry) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherConfig{
		Dir:      dir,
		Registry: registry,
		Debounce: 20 * time.Millisecond,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestNewWatcherValidation(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Registry: spec.NewRegistry()})
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))

	_, err = NewWatcher(WatcherConfig{Dir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))
}

func TestWatcherInitialLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reader.yaml", "name: reader\nmodel: m1\n")
	writeFile(t, dir, "writer.yaml", "name: writer\nmodel: m1\n")

	registry := spec.NewRegistry()
	startWatcher(t, dir, registry)

	assert.ElementsMatch(t, []string{"reader", "writer"}, registry.List())
}

func TestWatcherStartFailsOnBrokenSpec(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: [unclosed\n")

	w, err := NewWatcher(WatcherConfig{Dir: dir, Registry: spec.NewRegistry()})
	require.NoError(t, err)
	err = w.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindInvalidSpec, types.KindOf(err))
}

func TestWatcherReloadsChangedSpec(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reader.yaml", "name: reader\nmodel: m1\n")

	registry := spec.NewRegistry()
	startWatcher(t, dir, registry)

	writeFile(t, dir, "reader.yaml", "name: reader\nmodel: m2\n")

	require.Eventually(t, func() bool {
		s, ok := registry.Get("reader")
		return ok && s.Model == "m2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherRegistersNewSpec(t *testing.T) {
	dir := t.TempDir()
	registry := spec.NewRegistry()
	startWatcher(t, dir, registry)

	writeFile(t, dir, "critic.yaml", "name: critic\n")

	require.Eventually(t, func() bool {
		_, ok := registry.Get("critic")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherKeepsLastGoodSpecOnBrokenUpdate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reader.yaml", "name: reader\nmodel: m1\n")

	registry := spec.NewRegistry()
	startWatcher(t, dir, registry)

	writeFile(t, dir, "reader.yaml", "name: [unclosed\n")
	// Sentinel file written after the broken update; once it lands the
	// broken reload has had more than a debounce window to fire.
	writeFile(t, dir, "sentinel.yaml", "name: sentinel\n")

	require.Eventually(t, func() bool {
		_, ok := registry.Get("sentinel")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	s, ok := registry.Get("reader")
	require.True(t, ok)
	assert.Equal(t, "m1", s.Model)
}

func TestWatcherIgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	registry := spec.NewRegistry()
	startWatcher(t, dir, registry)

	writeFile(t, dir, "draft.yaml.tmp", "name: draft\n")
	writeFile(t, dir, ".reader.yaml.swp", "garbage")
	writeFile(t, dir, "real.yaml", "name: real\n")

	require.Eventually(t, func() bool {
		_, ok := registry.Get("real")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"real"}, registry.List())
}

func TestWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, spec.NewRegistry())
	w.Stop()
	w.Stop()
}
