package agentrun

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, cfg RunnerConfig, adapter *FakeAdapter) *Runner {
	t.Helper()
	cfg.ContainerName = "test-container"
	r, err := New(context.Background(), mergeDefaults(cfg), WithAdapter(adapter))
	require.NoError(t, err)
	return r
}

func mergeDefaults(cfg RunnerConfig) RunnerConfig {
	d := DefaultRunnerConfig()
	d.ContainerName = cfg.ContainerName
	if cfg.DependenciesWhitelist != nil {
		d.DependenciesWhitelist = cfg.DependenciesWhitelist
	}
	if cfg.CachedDependencies != nil {
		d.CachedDependencies = cfg.CachedDependencies
	}
	if cfg.DefaultTimeout != 0 {
		d.DefaultTimeout = cfg.DefaultTimeout
	}
	return d
}

// Scenario A
func TestRunner_ScenarioA_HelloWorld(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.RunPython = func(source string) (string, string, int) {
		return "hello, world!\n", "", 0
	}
	r := newTestRunner(t, RunnerConfig{}, adapter)

	outcome, err := r.Execute(context.Background(), "print('hello, world!')")
	require.NoError(t, err)
	assert.Equal(t, "hello, world!\n", outcome)
}

// Scenario B
func TestRunner_ScenarioB_UnsafeCodeNoSideEffects(t *testing.T) {
	adapter := NewFakeAdapter()
	r := newTestRunner(t, RunnerConfig{}, adapter)

	before := len(adapter.Calls())
	outcome, err := r.Execute(context.Background(), "import os\nos.system('rm -rf /')")
	require.NoError(t, err)
	assert.NotEmpty(t, outcome)
	assert.Equal(t, before, len(adapter.Calls()), "no container-side call may happen for rejected code")
}

// Scenario C
func TestRunner_ScenarioC_Arithmetic(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.RunPython = func(source string) (string, string, int) {
		return "670592745\n", "", 0
	}
	r := newTestRunner(t, RunnerConfig{}, adapter)

	outcome, err := r.Execute(context.Background(), "print(12345 * 54321)")
	require.NoError(t, err)
	assert.Equal(t, "670592745\n", outcome)
}

// Scenario D
func TestRunner_ScenarioD_WhitelistedTransientDependency(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.RunPython = func(source string) (string, string, int) {
		return "requests\n", "", 0
	}
	r := newTestRunner(t, RunnerConfig{DependenciesWhitelist: []string{"requests"}}, adapter)

	outcome, err := r.Execute(context.Background(), "import requests\nprint(requests.__name__)")
	require.NoError(t, err)
	assert.Equal(t, "requests\n", outcome)

	var installs, uninstalls int
	for _, c := range adapter.Calls() {
		if c.Op == "exec" && len(c.Args) >= 2 && c.Args[0] == "pip" {
			if c.Args[1] == "install" {
				installs++
			}
			if c.Args[1] == "uninstall" {
				uninstalls++
			}
		}
	}
	assert.Equal(t, 1, installs)
	assert.Equal(t, 1, uninstalls)
	assert.False(t, adapter.Installed("requests"), "transient dependency must not remain installed at rest")
}

// Scenario E
func TestRunner_ScenarioE_Timeout(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.RunPython = func(source string) (string, string, int) {
		time.Sleep(200 * time.Millisecond)
		return "", "", 0
	}
	r := newTestRunner(t, RunnerConfig{DefaultTimeout: 50 * time.Millisecond}, adapter)

	start := time.Now()
	outcome, err := r.Execute(context.Background(), "import time\ntime.sleep(30)")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "Execution timed out", outcome)
	assert.LessOrEqual(t, elapsed, 4*time.Second)
}

// Scenario F
func TestRunner_ScenarioF_ZeroDivision(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.RunPython = func(source string) (string, string, int) {
		return "", "  Traceback (most recent call last):\n    File \"x.py\", line 1\nZeroDivisionError: division by zero\n", 1
	}
	r := newTestRunner(t, RunnerConfig{}, adapter)

	outcome, err := r.Execute(context.Background(), "1/0")
	require.NoError(t, err)
	assert.Contains(t, outcome, "ZeroDivisionError")
	assert.True(t, strings.HasPrefix(outcome, "  "), "leading whitespace must be preserved")
}

func TestRunner_WhitelistEmpty_RejectsThirdPartyImportBeforeInstall(t *testing.T) {
	adapter := NewFakeAdapter()
	r := newTestRunner(t, RunnerConfig{DependenciesWhitelist: []string{}}, adapter)

	before := len(adapter.Calls())
	outcome, err := r.Execute(context.Background(), "import requests\nprint(requests.__name__)")
	require.NoError(t, err)
	assert.Contains(t, outcome, "Dependency not in whitelist")
	var installCalls int
	for _, c := range adapter.Calls()[before:] {
		if c.Op == "exec" && len(c.Args) >= 2 && c.Args[0] == "pip" && c.Args[1] == "install" {
			installCalls++
		}
	}
	assert.Zero(t, installCalls)
}

func TestRunner_EmptySource(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.RunPython = func(source string) (string, string, int) { return "", "", 0 }
	r := newTestRunner(t, RunnerConfig{}, adapter)

	outcome, err := r.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "", outcome)
}

// Invariant 3: snippet file never survives execute, success or failure.
func TestRunner_SnippetFileNeverSurvives(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.RunPython = func(source string) (string, string, int) { return "", "boom\n", 1 }
	r := newTestRunner(t, RunnerConfig{}, adapter)

	_, err := r.Execute(context.Background(), "raise RuntimeError('boom')")
	require.NoError(t, err)

	for _, c := range adapter.Calls() {
		if c.Op == "copy_in" {
			assert.False(t, adapter.FileExists(c.Args[0]))
		}
	}
}

// Invariant 7: idempotence for cached-only dependencies.
func TestRunner_Idempotent_CachedOnlyDependency(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.MarkInstalled("numpy")
	adapter.RunPython = func(source string) (string, string, int) { return "ok\n", "", 0 }
	r := newTestRunner(t, RunnerConfig{CachedDependencies: []string{"numpy"}}, adapter)

	source := "import numpy\nprint('ok')"
	first, err := r.Execute(context.Background(), source)
	require.NoError(t, err)

	before := len(adapter.Calls())
	second, err := r.Execute(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	var installsAfter int
	for _, c := range adapter.Calls()[before:] {
		if c.Op == "exec" && len(c.Args) >= 2 && c.Args[0] == "pip" && (c.Args[1] == "install" || c.Args[1] == "uninstall") {
			installsAfter++
		}
	}
	assert.Zero(t, installsAfter, "cached-only dependency must trigger zero install/uninstall calls")
}

func TestRunner_ContainerUnreachable_SurfacesAsError(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.Unreachable = true
	_, err := New(context.Background(), mergeDefaults(RunnerConfig{ContainerName: "c"}), WithAdapter(adapter))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContainerUnreachable)
}
