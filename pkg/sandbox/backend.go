// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package sandbox provisions, monitors, snapshots, and destroys
// isolated execution environments. The actual isolation mechanism is
// behind the Backend interface; the manager owns lifecycle, limits,
// and rollback policy.
package sandbox

import (
	"context"
	"time"

	"github.com/teradata-labs/weft/pkg/types"
)

// NetworkPolicy controls sandbox network access.
type NetworkPolicy string

const (
	NetworkNone    NetworkPolicy = "none"
	NetworkBridged NetworkPolicy = "bridged"
	NetworkHost    NetworkPolicy = "host"
)

// FilesystemMode controls root filesystem mutability.
type FilesystemMode string

const (
	FSReadOnlyRoot FilesystemMode = "read-only-root"
	FSWritable     FilesystemMode = "writable"
)

// RollbackTrigger names a condition that triggers auto-rollback.
type RollbackTrigger string

const (
	RollbackOnError   RollbackTrigger = "on_error"
	RollbackOnTimeout RollbackTrigger = "on_timeout"
	RollbackOnOOM     RollbackTrigger = "on_oom"
)

// Limits are the enforced resource bounds for one sandbox.
type Limits struct {
	// CPUShare is the CPU allocation in cores, 0.1 to 16
	CPUShare float64 `yaml:"cpu_share"`

	// MemoryBytes is the memory cap, 128 MiB to 16 GiB
	MemoryBytes int64 `yaml:"memory_bytes"`

	// DiskBytes is the writable disk cap, 256 MiB to 10 GiB
	DiskBytes int64 `yaml:"disk_bytes"`

	// Timeout is the wall-clock bound per Execute, 10s to 3600s
	Timeout time.Duration `yaml:"timeout"`
}

// Limit validation bounds.
const (
	MinCPUShare    = 0.1
	MaxCPUShare    = 16.0
	MinMemoryBytes = 128 << 20
	MaxMemoryBytes = 16 << 30
	MinDiskBytes   = 256 << 20
	MaxDiskBytes   = 10 << 30
	MinTimeout     = 10 * time.Second
	MaxTimeout     = 3600 * time.Second
)

// Validate checks the limits against the accepted ranges.
func (l Limits) Validate() error {
	if l.CPUShare < MinCPUShare || l.CPUShare > MaxCPUShare {
		return types.NewError(types.KindInvalidConfig,
			"cpu share %.2f outside [%.1f, %.1f]", l.CPUShare, MinCPUShare, MaxCPUShare)
	}
	if l.MemoryBytes < MinMemoryBytes || l.MemoryBytes > MaxMemoryBytes {
		return types.NewError(types.KindInvalidConfig,
			"memory limit %d outside [%d, %d] bytes", l.MemoryBytes, int64(MinMemoryBytes), int64(MaxMemoryBytes))
	}
	if l.DiskBytes < MinDiskBytes || l.DiskBytes > MaxDiskBytes {
		return types.NewError(types.KindInvalidConfig,
			"disk limit %d outside [%d, %d] bytes", l.DiskBytes, int64(MinDiskBytes), int64(MaxDiskBytes))
	}
	if l.Timeout < MinTimeout || l.Timeout > MaxTimeout {
		return types.NewError(types.KindInvalidConfig,
			"timeout %s outside [%s, %s]", l.Timeout, MinTimeout, MaxTimeout)
	}
	return nil
}

// RollbackPolicy controls automatic restoration after failures.
type RollbackPolicy struct {
	Triggers             []RollbackTrigger `yaml:"triggers"`
	BackupBeforeRollback bool              `yaml:"backup_before_rollback"`
}

// triggered reports whether the error kind matches a trigger.
func (p RollbackPolicy) triggered(kind types.Kind) bool {
	for _, t := range p.Triggers {
		switch t {
		case RollbackOnTimeout:
			if kind == types.KindTimeout {
				return true
			}
		case RollbackOnOOM:
			if kind == types.KindOOM {
				return true
			}
		case RollbackOnError:
			if kind != "" {
				return true
			}
		}
	}
	return false
}

// Config describes a sandbox to create.
type Config struct {
	// Image is the backend image reference
	Image string `yaml:"image"`

	Limits   Limits         `yaml:"limits"`
	Network  NetworkPolicy  `yaml:"network"`
	FSMode   FilesystemMode `yaml:"fs_mode"`
	Rollback RollbackPolicy `yaml:"rollback"`

	// Workdir is the working directory for executed commands
	Workdir string `yaml:"workdir"`

	// Env is injected into every execution
	Env map[string]string `yaml:"env"`
}

// ExecutionResult is the outcome of a sandboxed command.
type ExecutionResult struct {
	ExitCode        int      `json:"exit_code"`
	Stdout          []byte   `json:"stdout_bytes"`
	Stderr          []byte   `json:"stderr_bytes"`
	DurationMs      int64    `json:"duration_ms"`
	PeakMemoryBytes int64    `json:"peak_memory_bytes"`
	PeakCPUShare    float64  `json:"peak_cpu_share"`
	Breaches        []string `json:"resource_breaches,omitempty"`
}

// UsageSample is one resource-monitor observation.
type UsageSample struct {
	MemoryBytes int64
	CPUShare    float64
	DiskBytes   int64
	SampledAt   time.Time
}

// Snapshot is a point-in-time capture of a sandbox's mutable
// filesystem. Append-only.
type Snapshot struct {
	ID        string
	SandboxID string
	// Ref is the backend's handle for the captured state
	Ref       string
	SizeBytes int64
	CreatedAt time.Time
}

// Backend is the isolation mechanism behind the manager. A backend
// implementation maps these operations onto a container runtime.
type Backend interface {
	// Provision allocates the environment for the sandbox id
	Provision(ctx context.Context, id string, config Config) error

	// Exec runs a command; inputFiles are materialized in the workdir
	// before the command starts
	Exec(ctx context.Context, id string, command []string, inputFiles map[string][]byte) (*ExecutionResult, error)

	// Snapshot captures the mutable filesystem, returning a backend ref
	// and the captured size
	Snapshot(ctx context.Context, id string) (ref string, sizeBytes int64, err error)

	// Restore resets the sandbox filesystem to the given ref
	Restore(ctx context.Context, id string, ref string) error

	// Stats samples current resource usage
	Stats(ctx context.Context, id string) (*UsageSample, error)

	// Remove terminates and reclaims the environment; idempotent
	Remove(ctx context.Context, id string) error
}
