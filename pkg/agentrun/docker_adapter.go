package agentrun

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerAdapter implements Adapter against a single, already-running
// container via the Docker SDK. It never creates or removes containers —
// only ContainerExecCreate/Attach/Inspect, CopyToContainer, stats, and
// update calls against the container id it was constructed with.
type DockerAdapter struct {
	client      *client.Client
	containerID string
}

// NewDockerAdapter resolves containerName to a container id (failing with
// ErrNotFound if it does not exist or is not running) and returns an Adapter
// bound to it.
func NewDockerAdapter(ctx context.Context, dockerHost, containerName string) (*DockerAdapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if dockerHost != "" {
		opts = append(opts, client.WithHost(dockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker sdk client init failed: %w", err)
	}

	info, err := cli.ContainerInspect(ctx, containerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("resolve container %q: %w", containerName, ErrNotFound)
		}
		return nil, wrapUnreachable("resolve container "+containerName, err)
	}
	if !info.State.Running {
		return nil, fmt.Errorf("container %q is not running: %w", containerName, ErrNotFound)
	}

	return &DockerAdapter{client: cli, containerID: info.ID}, nil
}

// Exec runs cmd inside the bound container via ContainerExecCreate/Attach.
func (a *DockerAdapter) Exec(ctx context.Context, cmd []string, workdir string) (string, string, int, error) {
	execCfg := container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := a.client.ContainerExecCreate(ctx, a.containerID, execCfg)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", "", 0, fmt.Errorf("exec create: %w", ErrNotFound)
		}
		return "", "", 0, wrapUnreachable("exec create", err)
	}

	attach, err := a.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", 0, wrapUnreachable("exec attach", err)
	}
	defer attach.Close()

	// The hijacked connection only consults ctx during the attach handshake
	// above; once attached, reading attach.Reader blocks until the exec'd
	// process itself closes the stream. Race the copy against ctx so a
	// timeout/cancellation actually cuts the read short instead of waiting
	// for the snippet to finish on its own.
	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case copyErr := <-copyDone:
		if copyErr != nil && copyErr != io.EOF {
			return "", "", 0, wrapUnreachable("exec read streams", copyErr)
		}
	case <-ctx.Done():
		// attach.Close unblocks the copy goroutine's pending Read; its result
		// is discarded rather than raced against, since the goroutine keeps
		// writing into stdout/stderr until that happens.
		attach.Close()
		return "", "", -1, fmt.Errorf("exec %v: %w: still running at deadline", cmd, context.DeadlineExceeded)
	}

	inspect, err := a.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", "", 0, wrapUnreachable("exec inspect", err)
	}
	if inspect.Running {
		// Finished reading but the engine hasn't reaped the process yet.
		return stdout.String(), stderr.String(), -1, fmt.Errorf("exec %v: %w: still running at deadline", cmd, context.DeadlineExceeded)
	}

	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

// CopyIn places data at destPath via CopyToContainer, wrapping it in a
// single-entry in-memory tar archive as the Docker API requires.
func (a *DockerAdapter) CopyIn(ctx context.Context, data []byte, destPath string) error {
	dir := "/"
	name := destPath
	if idx := strings.LastIndex(destPath, "/"); idx >= 0 {
		dir = destPath[:idx+1]
		name = destPath[idx+1:]
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("build copy-in archive: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("build copy-in archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("build copy-in archive: %w", err)
	}

	if err := a.client.CopyToContainer(ctx, a.containerID, dir, &buf, container.CopyToContainerOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("copy in %q: %w", destPath, ErrNotFound)
		}
		return wrapUnreachable("copy in "+destPath, err)
	}
	return nil
}

// RemovePath deletes a file inside the container. A missing file is not an
// error — `rm -f` never fails on a missing target.
func (a *DockerAdapter) RemovePath(ctx context.Context, path string) error {
	_, stderr, exitCode, err := a.Exec(ctx, []string{"rm", "-f", path}, "")
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("remove path %q: %w: %s", path, ErrExecFailed, stderr)
	}
	return nil
}

// Reconfigure applies resource limits to the bound container via
// ContainerUpdate.
func (a *DockerAdapter) Reconfigure(ctx context.Context, cpuQuota int64, memoryLimit, memswapLimit int64) error {
	_, err := a.client.ContainerUpdate(ctx, a.containerID, container.UpdateConfig{
		Resources: container.Resources{
			CPUPeriod:  100_000,
			CPUQuota:   cpuQuota,
			Memory:     memoryLimit,
			MemorySwap: memswapLimit,
		},
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("reconfigure: %w", ErrNotFound)
		}
		return wrapUnreachable("reconfigure", err)
	}
	return nil
}

// dockerStatsPayload mirrors the subset of the engine's one-shot stats JSON
// response this adapter needs.
type dockerStatsPayload struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs     uint32 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
}

// Stats reads a one-shot (non-streaming) stats snapshot and derives
// cpu_usage_pct the same way `docker stats --no-stream` does: the ratio of
// CPU-delta to system-delta, scaled by the number of online CPUs.
func (a *DockerAdapter) Stats(ctx context.Context) (Stats, error) {
	resp, err := a.client.ContainerStatsOneShot(ctx, a.containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Stats{}, fmt.Errorf("stats: %w", ErrNotFound)
		}
		return Stats{}, wrapUnreachable("stats", err)
	}
	defer resp.Body.Close()

	var payload dockerStatsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Stats{}, wrapUnreachable("decode stats", err)
	}

	cpuDelta := float64(payload.CPUStats.CPUUsage.TotalUsage) - float64(payload.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(payload.CPUStats.SystemCPUUsage) - float64(payload.PreCPUStats.SystemCPUUsage)
	onlineCPUs := float64(payload.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}

	var cpuPct float64
	if sysDelta > 0 && cpuDelta > 0 {
		cpuPct = (cpuDelta / sysDelta) * onlineCPUs * 100.0
	}

	return Stats{
		CPUUsagePercent: cpuPct,
		MemUsed:         int64(payload.MemoryStats.Usage),
		MemLimit:        int64(payload.MemoryStats.Limit),
	}, nil
}

// Close releases the underlying Docker SDK client.
func (a *DockerAdapter) Close() error {
	return a.client.Close()
}
