package agentrun

import (
	"context"
	"errors"
	"fmt"
)

// Stats is a point-in-time snapshot of container resource usage, as read by
// the Resource Governor.
type Stats struct {
	CPUUsagePercent float64
	MemUsed         int64
	MemLimit        int64
}

// Sentinel errors returned (wrapped) by Adapter implementations. Callers
// should match with errors.Is.
var (
	// ErrContainerUnreachable means the container runtime did not respond.
	// The Orchestrator treats this as fatal.
	ErrContainerUnreachable = errors.New("agentrun: container unreachable")

	// ErrExecFailed means a command inside the container exited non-zero
	// when the caller expected zero.
	ErrExecFailed = errors.New("agentrun: exec failed")

	// ErrNotFound means the container id is unknown to the runtime.
	ErrNotFound = errors.New("agentrun: container not found")
)

// Adapter is the capability interface abstracting the container runtime from
// the core. No component outside an Adapter implementation may talk to the
// container runtime directly.
type Adapter interface {
	// Exec runs cmd synchronously inside the container, capturing both
	// output streams and the exit code. workdir may be empty.
	Exec(ctx context.Context, cmd []string, workdir string) (stdout, stderr string, exitCode int, err error)

	// CopyIn atomically places data at destPath inside the container. The
	// destination directory is assumed to already be writable.
	CopyIn(ctx context.Context, data []byte, destPath string) error

	// RemovePath deletes a file inside the container. A missing file is
	// not an error.
	RemovePath(ctx context.Context, path string) error

	// Reconfigure applies resource limits to the running container.
	Reconfigure(ctx context.Context, cpuQuota int64, memoryLimit, memswapLimit int64) error

	// Stats reads current container resource utilization.
	Stats(ctx context.Context) (Stats, error)
}

func wrapUnreachable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrContainerUnreachable, err)
}

func wrapExecFailed(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrExecFailed, err)
}
