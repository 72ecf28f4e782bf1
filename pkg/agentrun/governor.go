package agentrun

import (
	"context"
	"time"
)

const (
	// capacityCPUThreshold is the default CPU utilization ceiling above
	// which has_headroom reports false.
	capacityCPUThreshold = 80.0

	// capacityMemHeadroomBytes is subtracted from memory_limit: usage
	// above (limit - this) is treated as over capacity.
	capacityMemHeadroomBytes = 50 * 1024 * 1024

	capacityPollInterval = 1 * time.Second
	capacityPollTimeout  = 30 * time.Second
)

// resourceGovernor validates and applies per-container resource limits and
// gates admission on live headroom, rather than relying solely on the
// container runtime's own admission, so an overloaded container returns a
// clear error instead of stalling.
type resourceGovernor struct {
	adapter      Adapter
	cpuQuota     int64
	memoryLimit  int64
	memswapLimit int64
}

func newResourceGovernor(adapter Adapter, cfg RunnerConfig) (*resourceGovernor, error) {
	memBytes, err := ParseSize(cfg.MemoryLimit)
	if err != nil {
		return nil, err
	}
	swapBytes, err := ParseSize(cfg.MemswapLimit)
	if err != nil {
		return nil, err
	}
	return &resourceGovernor{
		adapter:      adapter,
		cpuQuota:     cfg.CPUQuota,
		memoryLimit:  memBytes,
		memswapLimit: swapBytes,
	}, nil
}

// apply pushes the governor's limits to the container.
func (g *resourceGovernor) apply(ctx context.Context) error {
	return g.adapter.Reconfigure(ctx, g.cpuQuota, g.memoryLimit, g.memswapLimit)
}

// hasHeadroom queries live stats and reports false if CPU usage exceeds the
// threshold or memory used exceeds (memory_limit - capacityMemHeadroomBytes).
func (g *resourceGovernor) hasHeadroom(ctx context.Context) (bool, error) {
	stats, err := g.adapter.Stats(ctx)
	if err != nil {
		return false, err
	}
	if stats.CPUUsagePercent > capacityCPUThreshold {
		return false, nil
	}
	if stats.MemUsed > g.memoryLimit-capacityMemHeadroomBytes {
		return false, nil
	}
	return true, nil
}

// waitForHeadroom polls hasHeadroom every capacityPollInterval up to
// capacityPollTimeout, returning an error once the deadline passes without
// ever observing headroom.
func (g *resourceGovernor) waitForHeadroom(ctx context.Context) error {
	deadline := time.Now().Add(capacityPollTimeout)
	for {
		ok, err := g.hasHeadroom(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errCapacityExhausted
		}

		timer := time.NewTimer(capacityPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var errCapacityExhausted = errContainerOverCapacity{}

// errContainerOverCapacity is returned by waitForHeadroom once the retry
// budget is exhausted.
type errContainerOverCapacity struct{}

func (errContainerOverCapacity) Error() string { return "container over capacity" }
