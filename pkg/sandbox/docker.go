// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

// DockerBackend maps the Backend contract onto the Docker Engine API.
// Sandboxes are long-lived containers; snapshots are image commits.
type DockerBackend struct {
	docker *client.Client
	logger *zap.Logger
}

// DockerBackendConfig configures a DockerBackend.
type DockerBackendConfig struct {
	// Host is the Docker daemon endpoint; the environment default is
	// used when empty
	Host string

	Logger *zap.Logger
}

// NewDockerBackend connects to the Docker daemon and verifies it is
// reachable.
func NewDockerBackend(ctx context.Context, config DockerBackendConfig) (*DockerBackend, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if config.Host != "" {
		opts = append(opts, client.WithHost(config.Host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	docker, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, types.WrapError(types.KindBackendUnavailable, err,
			"failed to create docker client")
	}
	if _, err := docker.Ping(ctx); err != nil {
		docker.Close()
		return nil, types.WrapError(types.KindBackendUnavailable, err,
			"docker daemon not reachable").
			WithHint("check that the docker daemon is running")
	}

	config.Logger.Info("docker backend connected", zap.String("host", config.Host))
	return &DockerBackend{docker: docker, logger: config.Logger}, nil
}

// Provision creates and starts a container named after the sandbox id,
// with the declared limits enforced by the runtime.
func (b *DockerBackend) Provision(ctx context.Context, id string, config Config) error {
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(config.Limits.CPUShare * 1e9),
			Memory:   config.Limits.MemoryBytes,
			// Same value disables swap beyond the memory cap, so the
			// kernel OOM-kills instead of thrashing.
			MemorySwap: config.Limits.MemoryBytes,
		},
		ReadonlyRootfs: config.FSMode == FSReadOnlyRoot,
		StorageOpt: map[string]string{
			"size": fmt.Sprintf("%d", config.Limits.DiskBytes),
		},
	}
	switch config.Network {
	case NetworkNone, "":
		hostConfig.NetworkMode = "none"
	case NetworkHost:
		hostConfig.NetworkMode = "host"
	case NetworkBridged:
		hostConfig.NetworkMode = "bridge"
	}

	var env []string
	for k, v := range config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	resp, err := b.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      config.Image,
			Env:        env,
			WorkingDir: config.Workdir,
			// Keep the container alive between Exec calls.
			Cmd: []string{"sleep", "infinity"},
		},
		hostConfig,
		nil, nil,
		containerName(id),
	)
	if err != nil {
		return classifyDockerError(err, "failed to create container for sandbox %s", id)
	}

	if err := b.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		b.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return classifyDockerError(err, "failed to start container for sandbox %s", id)
	}

	b.logger.Info("sandbox container started",
		zap.String("sandbox_id", id),
		zap.String("container_id", resp.ID))
	return nil
}

// Exec runs a command in the sandbox container, materializing input
// files in the workdir first.
func (b *DockerBackend) Exec(ctx context.Context, id string, command []string, inputFiles map[string][]byte) (*ExecutionResult, error) {
	if len(command) == 0 {
		return nil, types.NewError(types.KindBadRequest, "command is empty")
	}
	name := containerName(id)

	if len(inputFiles) > 0 {
		if err := b.copyFiles(ctx, name, inputFiles); err != nil {
			return nil, err
		}
	}

	execID, err := b.docker.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          command,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classifyDockerError(err, "failed to create exec in sandbox %s", id)
	}

	attach, err := b.docker.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, classifyDockerError(err, "failed to attach to exec in sandbox %s", id)
	}
	defer attach.Close()

	start := time.Now()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.KindOf(ctx.Err()), ctx.Err(),
				"execution in sandbox %s interrupted", id)
		}
		return nil, types.WrapError(types.KindTransient, err,
			"failed to read output from sandbox %s", id)
	}

	inspect, err := b.docker.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, classifyDockerError(err, "failed to inspect exec in sandbox %s", id)
	}

	return &ExecutionResult{
		ExitCode:   inspect.ExitCode,
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// Snapshot commits the container filesystem to an image and returns
// the image ref.
func (b *DockerBackend) Snapshot(ctx context.Context, id string) (string, int64, error) {
	ref := fmt.Sprintf("weft-snapshot-%s-%d", id, time.Now().UnixNano())
	resp, err := b.docker.ContainerCommit(ctx, containerName(id), container.CommitOptions{
		Reference: ref,
		Pause:     true,
	})
	if err != nil {
		return "", 0, classifyDockerError(err, "failed to snapshot sandbox %s", id)
	}

	var size int64
	if inspect, _, err := b.docker.ImageInspectWithRaw(ctx, resp.ID); err == nil {
		size = inspect.Size
	}
	b.logger.Info("sandbox snapshot committed",
		zap.String("sandbox_id", id),
		zap.String("image_ref", ref),
		zap.Int64("size_bytes", size))
	return ref, size, nil
}

// Restore replaces the sandbox container with one created from the
// snapshot image. The container keeps its name, so subsequent Exec
// calls are unaffected.
func (b *DockerBackend) Restore(ctx context.Context, id string, ref string) error {
	name := containerName(id)

	inspect, err := b.docker.ContainerInspect(ctx, name)
	if err != nil {
		return classifyDockerError(err, "failed to inspect sandbox %s before restore", id)
	}

	if err := b.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return classifyDockerError(err, "failed to remove sandbox %s for restore", id)
	}

	resp, err := b.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      ref,
			Env:        inspect.Config.Env,
			WorkingDir: inspect.Config.WorkingDir,
			Cmd:        []string{"sleep", "infinity"},
		},
		inspect.HostConfig,
		nil, nil,
		name,
	)
	if err != nil {
		return classifyDockerError(err, "failed to recreate sandbox %s from snapshot", id)
	}
	if err := b.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return classifyDockerError(err, "failed to start restored sandbox %s", id)
	}

	b.logger.Info("sandbox restored from snapshot",
		zap.String("sandbox_id", id),
		zap.String("image_ref", ref))
	return nil
}

// Stats samples current container resource usage.
func (b *DockerBackend) Stats(ctx context.Context, id string) (*UsageSample, error) {
	resp, err := b.docker.ContainerStatsOneShot(ctx, containerName(id))
	if err != nil {
		return nil, classifyDockerError(err, "failed to read stats for sandbox %s", id)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, types.WrapError(types.KindTransient, err,
			"stats for sandbox %s malformed", id)
	}

	sample := &UsageSample{
		MemoryBytes: int64(stats.MemoryStats.Usage),
		SampledAt:   time.Now(),
	}
	sysDelta := float64(stats.CPUStats.SystemUsage - stats.PreCPUStats.SystemUsage)
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage - stats.PreCPUStats.CPUUsage.TotalUsage)
	if sysDelta > 0 && cpuDelta > 0 {
		sample.CPUShare = cpuDelta / sysDelta * float64(stats.CPUStats.OnlineCPUs)
	}
	return sample, nil
}

// Remove force-removes the container. Missing containers are fine;
// Remove is idempotent.
func (b *DockerBackend) Remove(ctx context.Context, id string) error {
	err := b.docker.ContainerRemove(ctx, containerName(id), container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return classifyDockerError(err, "failed to remove sandbox %s", id)
	}
	return nil
}

// Close releases the Docker client.
func (b *DockerBackend) Close() error {
	return b.docker.Close()
}

// copyFiles tars the input files into the container workdir.
func (b *DockerBackend) copyFiles(ctx context.Context, name string, files map[string][]byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for path, data := range files {
		hdr := &tar.Header{
			Name:    strings.TrimPrefix(path, "/"),
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return types.WrapError(types.KindTransient, err, "failed to tar input file %q", path)
		}
		if _, err := tw.Write(data); err != nil {
			return types.WrapError(types.KindTransient, err, "failed to tar input file %q", path)
		}
	}
	if err := tw.Close(); err != nil {
		return types.WrapError(types.KindTransient, err, "failed to finalize input archive")
	}

	if err := b.docker.CopyToContainer(ctx, name, "/", &buf, container.CopyToContainerOptions{}); err != nil {
		return classifyDockerError(err, "failed to copy input files into container %s", name)
	}
	return nil
}

func containerName(id string) string {
	return "weft-sandbox-" + strings.ToLower(id)
}

func classifyDockerError(err error, format string, args ...interface{}) error {
	switch {
	case client.IsErrNotFound(err):
		return types.WrapError(types.KindNotFound, err, format, args...)
	case client.IsErrConnectionFailed(err):
		return types.WrapError(types.KindBackendUnavailable, err, format, args...)
	default:
		return types.WrapError(types.KindTransient, err, format, args...)
	}
}
