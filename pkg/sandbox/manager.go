// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

const (
	// DefaultMaxConcurrent bounds live sandboxes per manager.
	DefaultMaxConcurrent = 8
	// DefaultMonitorInterval is the resource sampling period.
	DefaultMonitorInterval = time.Second
	// DefaultSnapshotKeep is the per-sandbox snapshot retention count.
	DefaultSnapshotKeep = 3
	// DefaultSnapshotMaxAge is the snapshot retention age.
	DefaultSnapshotMaxAge = 24 * time.Hour
	// DefaultCreateWait bounds how long a blocking Create waits for a
	// slot before giving up.
	DefaultCreateWait = 30 * time.Second
)

// Sandbox is the handle returned to callers. The manager owns the
// record; handles are references, not ownership.
type Sandbox struct {
	ID        string
	Config    Config
	State     types.SandboxState
	Snapshots []string
	CreatedAt time.Time
}

// ManagerConfig configures a sandbox manager.
type ManagerConfig struct {
	// Backend provides the isolation mechanism (required)
	Backend Backend

	// MaxConcurrent bounds live sandboxes; DefaultMaxConcurrent when zero
	MaxConcurrent int

	// BlockOnCapacity makes Create wait for a slot instead of failing
	// with at_capacity
	BlockOnCapacity bool

	// CreateWait bounds the blocking wait; DefaultCreateWait when zero
	CreateWait time.Duration

	// MonitorInterval is the usage sampling period
	MonitorInterval time.Duration

	// SnapshotKeep and SnapshotMaxAge set the retention policy
	SnapshotKeep   int
	SnapshotMaxAge time.Duration

	Bus    *event.Bus
	Logger *zap.Logger
}

// Manager provisions, monitors, snapshots, rolls back, and destroys
// sandboxes. State transitions are serialized per sandbox; total live
// sandboxes are bounded by a semaphore.
type Manager struct {
	backend Backend
	config  ManagerConfig

	mu        sync.Mutex
	sandboxes map[string]*record

	slots chan struct{}
	cron  *cron.Cron

	bus    *event.Bus
	logger *zap.Logger
}

// record is the manager-owned state for one sandbox.
type record struct {
	mu        sync.Mutex
	id        string
	config    Config
	state     types.SandboxState
	snapshots []Snapshot
	createdAt time.Time
}

// NewManager creates a sandbox manager and starts the snapshot
// retention job.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Backend == nil {
		return nil, types.NewError(types.KindConfigurationError, "sandbox backend is required")
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.CreateWait <= 0 {
		config.CreateWait = DefaultCreateWait
	}
	if config.MonitorInterval <= 0 {
		config.MonitorInterval = DefaultMonitorInterval
	}
	if config.SnapshotKeep <= 0 {
		config.SnapshotKeep = DefaultSnapshotKeep
	}
	if config.SnapshotMaxAge <= 0 {
		config.SnapshotMaxAge = DefaultSnapshotMaxAge
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	m := &Manager{
		backend:   config.Backend,
		config:    config,
		sandboxes: make(map[string]*record),
		slots:     make(chan struct{}, config.MaxConcurrent),
		bus:       config.Bus,
		logger:    config.Logger,
	}

	m.cron = cron.New()
	if _, err := m.cron.AddFunc("@every 1h", m.pruneSnapshots); err != nil {
		return nil, types.WrapError(types.KindConfigurationError, err,
			"failed to schedule snapshot retention")
	}
	m.cron.Start()
	return m, nil
}

// Create validates the config, takes a capacity slot, and provisions a
// sandbox via the backend. The returned handle is in ready state.
func (m *Manager) Create(ctx context.Context, config Config) (*Sandbox, error) {
	if err := config.Limits.Validate(); err != nil {
		return nil, err
	}
	if config.Image == "" {
		return nil, types.NewError(types.KindInvalidConfig, "sandbox image is required")
	}

	if err := m.acquireSlot(ctx); err != nil {
		return nil, err
	}

	rec := &record{
		id:        types.NewID(),
		config:    config,
		state:     types.SandboxProvisioning,
		createdAt: time.Now(),
	}
	m.mu.Lock()
	m.sandboxes[rec.id] = rec
	m.mu.Unlock()

	if err := m.backend.Provision(ctx, rec.id, config); err != nil {
		m.mu.Lock()
		delete(m.sandboxes, rec.id)
		m.mu.Unlock()
		m.releaseSlot()
		return nil, err
	}

	rec.mu.Lock()
	rec.state = types.SandboxReady
	rec.mu.Unlock()

	m.emit(event.SandboxCreated, rec.id, map[string]interface{}{
		"sandbox_id": rec.id,
		"image":      config.Image,
	})
	m.logger.Info("sandbox created",
		zap.String("sandbox_id", rec.id),
		zap.String("image", config.Image),
		zap.Float64("cpu_share", config.Limits.CPUShare),
		zap.Int64("memory_bytes", config.Limits.MemoryBytes))

	return m.handle(rec), nil
}

// Execute runs a command in the sandbox under its declared limits.
// The manager samples usage while the command runs and terminates the
// sandbox preemptively on a hard cap breach, surfacing the typed
// failure.
func (m *Manager) Execute(ctx context.Context, sandboxID string, command []string, inputFiles map[string][]byte) (*ExecutionResult, error) {
	rec, err := m.get(sandboxID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	if rec.state == types.SandboxDestroyed {
		rec.mu.Unlock()
		return nil, types.NewError(types.KindNotFound,
			"sandbox %s is destroyed", sandboxID).WithEntity(sandboxID)
	}
	if rec.state != types.SandboxReady {
		rec.mu.Unlock()
		return nil, types.NewError(types.KindBadRequest,
			"sandbox %s is %s, not ready", sandboxID, rec.state).WithEntity(sandboxID)
	}
	rec.state = types.SandboxExecuting
	limits := rec.config.Limits
	rec.mu.Unlock()

	defer func() {
		rec.mu.Lock()
		if rec.state == types.SandboxExecuting {
			rec.state = types.SandboxReady
		}
		rec.mu.Unlock()
	}()

	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	deadline := time.Now().Add(limits.Timeout)

	monitorDone := make(chan monitorReport, 1)
	go m.monitor(execCtx, cancel, rec, deadline, monitorDone)

	result, execErr := m.backend.Exec(execCtx, sandboxID, command, inputFiles)
	cancel(nil)
	report := <-monitorDone

	// A monitor-initiated kill surfaces as the typed cause, not as the
	// backend's transport error.
	if cause := context.Cause(execCtx); cause != nil && cause != context.Canceled {
		if kind := types.KindOf(cause); kind == types.KindTimeout || kind == types.KindOOM || kind == types.KindResourceExhausted {
			return nil, cause
		}
	}
	if execErr != nil {
		return nil, execErr
	}

	result.PeakMemoryBytes = report.peakMemory
	result.PeakCPUShare = report.peakCPU
	result.Breaches = report.breaches
	return result, nil
}

type monitorReport struct {
	peakMemory int64
	peakCPU    float64
	breaches   []string
}

// monitor samples resource usage until the execution context ends,
// cancelling the execution with a typed cause on a hard breach.
func (m *Manager) monitor(ctx context.Context, cancel context.CancelCauseFunc, rec *record, deadline time.Time, done chan<- monitorReport) {
	var report monitorReport
	defer func() { done <- report }()

	ticker := time.NewTicker(m.config.MonitorInterval)
	defer ticker.Stop()

	limits := rec.config.Limits
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				report.breaches = append(report.breaches, "timeout")
				m.breach(rec.id, "timeout", 0, 0)
				cancel(types.NewError(types.KindTimeout,
					"sandbox %s exceeded the %s wall-clock limit", rec.id, limits.Timeout).
					WithEntity(rec.id))
				return
			}

			sample, err := m.backend.Stats(ctx, rec.id)
			if err != nil {
				continue
			}
			if sample.MemoryBytes > report.peakMemory {
				report.peakMemory = sample.MemoryBytes
			}
			if sample.CPUShare > report.peakCPU {
				report.peakCPU = sample.CPUShare
			}

			if sample.MemoryBytes > limits.MemoryBytes {
				report.breaches = append(report.breaches, "memory")
				m.breach(rec.id, "memory", sample.MemoryBytes, limits.MemoryBytes)
				cancel(types.NewError(types.KindOOM,
					"sandbox %s exceeded the %d byte memory limit", rec.id, limits.MemoryBytes).
					WithEntity(rec.id))
				return
			}
			if limits.DiskBytes > 0 && sample.DiskBytes > limits.DiskBytes {
				report.breaches = append(report.breaches, "disk")
				m.breach(rec.id, "disk", sample.DiskBytes, limits.DiskBytes)
				cancel(types.NewError(types.KindResourceExhausted,
					"sandbox %s exceeded the %d byte disk limit", rec.id, limits.DiskBytes).
					WithEntity(rec.id))
				return
			}
		}
	}
}

// Snapshot captures the sandbox filesystem and applies the retention
// policy.
func (m *Manager) Snapshot(ctx context.Context, sandboxID string) (string, error) {
	rec, err := m.get(sandboxID)
	if err != nil {
		return "", err
	}

	rec.mu.Lock()
	if rec.state == types.SandboxDestroyed {
		rec.mu.Unlock()
		return "", types.NewError(types.KindNotFound, "sandbox %s is destroyed", sandboxID)
	}
	rec.mu.Unlock()

	ref, size, err := m.backend.Snapshot(ctx, sandboxID)
	if err != nil {
		return "", err
	}

	snap := Snapshot{
		ID:        types.NewID(),
		SandboxID: sandboxID,
		Ref:       ref,
		SizeBytes: size,
		CreatedAt: time.Now(),
	}

	rec.mu.Lock()
	rec.snapshots = append(rec.snapshots, snap)
	if excess := len(rec.snapshots) - m.config.SnapshotKeep; excess > 0 {
		rec.snapshots = rec.snapshots[excess:]
	}
	rec.mu.Unlock()

	m.logger.Info("sandbox snapshot taken",
		zap.String("sandbox_id", sandboxID),
		zap.String("snapshot_id", snap.ID),
		zap.Int64("size_bytes", size))
	return snap.ID, nil
}

// Rollback restores the sandbox filesystem to the given snapshot,
// taking a safety snapshot first when the policy asks for one.
func (m *Manager) Rollback(ctx context.Context, sandboxID, snapshotID string) error {
	rec, err := m.get(sandboxID)
	if err != nil {
		return err
	}

	// Copy the snapshot while locked: the retention sweep compacts
	// rec.snapshots in place, so a pointer into it would go stale.
	rec.mu.Lock()
	var target Snapshot
	found := false
	for i := range rec.snapshots {
		if rec.snapshots[i].ID == snapshotID {
			target = rec.snapshots[i]
			found = true
			break
		}
	}
	backup := rec.config.Rollback.BackupBeforeRollback
	rec.mu.Unlock()

	if !found {
		return types.NewError(types.KindNotFound,
			"snapshot %s not found on sandbox %s", snapshotID, sandboxID).WithEntity(snapshotID)
	}

	if backup {
		if _, err := m.Snapshot(ctx, sandboxID); err != nil {
			return types.WrapError(types.KindOf(err), err,
				"safety snapshot before rollback failed")
		}
	}

	if err := m.backend.Restore(ctx, sandboxID, target.Ref); err != nil {
		return err
	}
	m.logger.Info("sandbox rolled back",
		zap.String("sandbox_id", sandboxID),
		zap.String("snapshot_id", snapshotID))
	return nil
}

// AutoRollbackOnError rolls the sandbox back to its latest snapshot
// when the error kind matches the sandbox's rollback triggers. Returns
// true when a rollback happened.
func (m *Manager) AutoRollbackOnError(ctx context.Context, sandboxID string, cause error) (bool, error) {
	rec, err := m.get(sandboxID)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	policy := rec.config.Rollback
	var latest string
	if n := len(rec.snapshots); n > 0 {
		latest = rec.snapshots[n-1].ID
	}
	rec.mu.Unlock()

	if !policy.triggered(types.KindOf(cause)) {
		return false, nil
	}
	if latest == "" {
		m.logger.Warn("rollback triggered but no snapshot exists",
			zap.String("sandbox_id", sandboxID),
			zap.String("kind", string(types.KindOf(cause))))
		return false, nil
	}
	if err := m.Rollback(ctx, sandboxID, latest); err != nil {
		return false, err
	}
	return true, nil
}

// Destroy terminates the sandbox and reclaims its slot. Idempotent.
func (m *Manager) Destroy(ctx context.Context, sandboxID string) error {
	m.mu.Lock()
	rec, ok := m.sandboxes[sandboxID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	rec.mu.Lock()
	if rec.state == types.SandboxDestroyed {
		rec.mu.Unlock()
		return nil
	}
	rec.state = types.SandboxDestroyed
	rec.mu.Unlock()

	if err := m.backend.Remove(ctx, sandboxID); err != nil {
		m.logger.Warn("sandbox backend removal failed",
			zap.String("sandbox_id", sandboxID), zap.Error(err))
	}
	m.releaseSlot()
	m.emit(event.SandboxDestroyed, sandboxID, map[string]interface{}{
		"sandbox_id": sandboxID,
	})
	m.logger.Info("sandbox destroyed", zap.String("sandbox_id", sandboxID))
	return nil
}

// Get returns the sandbox handle.
func (m *Manager) Get(sandboxID string) (*Sandbox, error) {
	rec, err := m.get(sandboxID)
	if err != nil {
		return nil, err
	}
	return m.handle(rec), nil
}

// Close stops the retention job and destroys all live sandboxes.
func (m *Manager) Close(ctx context.Context) error {
	m.cron.Stop()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Destroy(ctx, id); err != nil {
			m.logger.Warn("failed to destroy sandbox on close",
				zap.String("sandbox_id", id), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) acquireSlot(ctx context.Context) error {
	select {
	case m.slots <- struct{}{}:
		return nil
	default:
	}
	if !m.config.BlockOnCapacity {
		return types.NewError(types.KindAtCapacity,
			"sandbox manager at capacity (%d live)", m.config.MaxConcurrent).
			WithHint("destroy idle sandboxes or raise sandbox.max_concurrent")
	}

	wait := time.NewTimer(m.config.CreateWait)
	defer wait.Stop()
	select {
	case m.slots <- struct{}{}:
		return nil
	case <-wait.C:
		return types.NewError(types.KindAtCapacity,
			"no sandbox slot freed within %s", m.config.CreateWait)
	case <-ctx.Done():
		return types.WrapError(types.KindOf(ctx.Err()), ctx.Err(),
			"sandbox create interrupted")
	}
}

func (m *Manager) releaseSlot() {
	select {
	case <-m.slots:
	default:
	}
}

func (m *Manager) get(sandboxID string) (*record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sandboxes[sandboxID]
	if !ok {
		return nil, types.NewError(types.KindNotFound,
			"sandbox %s not found", sandboxID).WithEntity(sandboxID)
	}
	return rec, nil
}

func (m *Manager) handle(rec *record) *Sandbox {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	ids := make([]string, 0, len(rec.snapshots))
	for _, s := range rec.snapshots {
		ids = append(ids, s.ID)
	}
	return &Sandbox{
		ID:        rec.id,
		Config:    rec.config,
		State:     rec.state,
		Snapshots: ids,
		CreatedAt: rec.createdAt,
	}
}

func (m *Manager) breach(sandboxID, resource string, observed, limit int64) {
	m.emit(event.SandboxResourceBreach, sandboxID, map[string]interface{}{
		"sandbox_id": sandboxID,
		"resource":   resource,
		"observed":   observed,
		"limit":      limit,
	})
	m.logger.Warn("sandbox resource breach",
		zap.String("sandbox_id", sandboxID),
		zap.String("resource", resource),
		zap.Int64("observed", observed),
		zap.Int64("limit", limit))
}

// pruneSnapshots drops snapshot records older than the retention age.
func (m *Manager) pruneSnapshots() {
	cutoff := time.Now().Add(-m.config.SnapshotMaxAge)

	m.mu.Lock()
	recs := make([]*record, 0, len(m.sandboxes))
	for _, rec := range m.sandboxes {
		recs = append(recs, rec)
	}
	m.mu.Unlock()

	for _, rec := range recs {
		rec.mu.Lock()
		kept := rec.snapshots[:0]
		for _, snap := range rec.snapshots {
			if snap.CreatedAt.After(cutoff) {
				kept = append(kept, snap)
			}
		}
		dropped := len(rec.snapshots) - len(kept)
		rec.snapshots = kept
		rec.mu.Unlock()

		if dropped > 0 {
			m.logger.Info("pruned expired snapshots",
				zap.String("sandbox_id", rec.id),
				zap.Int("dropped", dropped))
		}
	}
}

func (m *Manager) emit(kind event.Kind, correlationID string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(kind, correlationID, payload)
}
