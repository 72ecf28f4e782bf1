package agentrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceGovernor_HasHeadroom_WithinThresholds(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetStats(Stats{CPUUsagePercent: 10, MemUsed: 10 * 1024 * 1024, MemLimit: 100 * 1024 * 1024})

	cfg := DefaultRunnerConfig()
	cfg.ContainerName = "c"
	g, err := newResourceGovernor(adapter, cfg)
	require.NoError(t, err)

	ok, err := g.hasHeadroom(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResourceGovernor_HasHeadroom_CPUOverThreshold(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetStats(Stats{CPUUsagePercent: 95, MemUsed: 1024, MemLimit: 100 * 1024 * 1024})

	cfg := DefaultRunnerConfig()
	cfg.ContainerName = "c"
	g, err := newResourceGovernor(adapter, cfg)
	require.NoError(t, err)

	ok, err := g.hasHeadroom(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResourceGovernor_HasHeadroom_MemoryNearLimit(t *testing.T) {
	adapter := NewFakeAdapter()
	limit := int64(100 * 1024 * 1024)
	adapter.SetStats(Stats{CPUUsagePercent: 5, MemUsed: limit - 1024, MemLimit: limit})

	cfg := DefaultRunnerConfig()
	cfg.ContainerName = "c"
	g, err := newResourceGovernor(adapter, cfg)
	require.NoError(t, err)

	ok, err := g.hasHeadroom(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "usage within 50MiB of the limit must report no headroom")
}

func TestResourceGovernor_Apply_PushesLimits(t *testing.T) {
	adapter := NewFakeAdapter()
	cfg := DefaultRunnerConfig()
	cfg.ContainerName = "c"
	g, err := newResourceGovernor(adapter, cfg)
	require.NoError(t, err)

	require.NoError(t, g.apply(context.Background()))
	calls := adapter.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "reconfigure", calls[len(calls)-1].Op)
}

func TestResourceGovernor_WaitForHeadroom_StopsOnCanceledContext(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetStats(Stats{CPUUsagePercent: 99, MemUsed: 1024, MemLimit: 100 * 1024 * 1024})

	cfg := DefaultRunnerConfig()
	cfg.ContainerName = "c"
	g, err := newResourceGovernor(adapter, cfg)
	require.NoError(t, err)
	g.cpuQuota = cfg.CPUQuota

	// The 30s retry budget is a package constant, so this test exercises
	// only the canceled-context return, not giving up after the budget.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = g.waitForHeadroom(ctx)
	assert.Error(t, err)
}
