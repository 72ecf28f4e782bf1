package agentrun

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeCall records one invocation made against a FakeAdapter, with entry and
// exit timestamps so tests can assert serialization (see invariant 4 of the
// testable properties).
type FakeCall struct {
	Op        string
	Args      []string
	EnteredAt time.Time
	ExitedAt  time.Time
}

// FakeAdapter is an in-memory Adapter used by tests. It models a single
// container's filesystem (for CopyIn/RemovePath and the Executor's python3
// runs) and "installed packages" (for pip show/install/uninstall commands
// issued by the Dependency Manager), and records every call it receives.
type FakeAdapter struct {
	mu sync.Mutex

	files     map[string][]byte
	installed map[string]bool
	stats     Stats
	calls     []FakeCall

	// Unreachable, when set, makes every operation fail with
	// ErrContainerUnreachable, for exercising the fatal path.
	Unreachable bool

	// RunPython, when set, is invoked by Exec for `python3 <path>` commands
	// so tests can simulate interpreter behavior without a real container.
	RunPython func(source string) (stdout, stderr string, exitCode int)
}

// NewFakeAdapter returns a ready-to-use FakeAdapter with default stats
// reporting plenty of headroom.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		files:     make(map[string][]byte),
		installed: make(map[string]bool),
		stats: Stats{
			CPUUsagePercent: 5,
			MemUsed:         10 * 1024 * 1024,
			MemLimit:        100 * 1024 * 1024,
		},
	}
}

// Calls returns a copy of every recorded invocation, in order.
func (f *FakeAdapter) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// SetStats overrides the Stats returned by future calls.
func (f *FakeAdapter) SetStats(s Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = s
}

// MarkInstalled pre-seeds a package as already present, simulating a cached
// dependency warmed before the fake was constructed.
func (f *FakeAdapter) MarkInstalled(pkg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed[pkg] = true
}

func (f *FakeAdapter) record(op string, args []string, enter time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Op: op, Args: args, EnteredAt: enter, ExitedAt: time.Now()})
}

func (f *FakeAdapter) Exec(ctx context.Context, cmd []string, workdir string) (string, string, int, error) {
	enter := time.Now()
	defer f.record("exec", cmd, enter)

	f.mu.Lock()
	unreachable := f.Unreachable
	f.mu.Unlock()
	if unreachable {
		return "", "", 0, wrapUnreachable("exec", fmt.Errorf("fake adapter marked unreachable"))
	}

	if len(cmd) == 0 {
		return "", "", 1, nil
	}

	switch {
	case cmd[0] == "python3" && len(cmd) == 2:
		f.mu.Lock()
		data, ok := f.files[cmd[1]]
		f.mu.Unlock()
		if !ok {
			return "", fmt.Sprintf("python3: can't open file %q\n", cmd[1]), 2, nil
		}
		if f.RunPython != nil {
			stdout, stderr, code := f.RunPython(string(data))
			return stdout, stderr, code, nil
		}
		return "", "", 0, nil

	case cmd[0] == "pip" && len(cmd) >= 2 && cmd[1] == "show":
		f.mu.Lock()
		present := f.installed[cmd[len(cmd)-1]]
		f.mu.Unlock()
		if present {
			return "Name: " + cmd[len(cmd)-1] + "\n", "", 0, nil
		}
		return "", "Package(s) not found\n", 1, nil

	case cmd[0] == "pip" && len(cmd) >= 2 && cmd[1] == "install":
		pkg := cmd[len(cmd)-1]
		f.mu.Lock()
		f.installed[pkg] = true
		f.mu.Unlock()
		return "Successfully installed " + pkg + "\n", "", 0, nil

	case cmd[0] == "pip" && len(cmd) >= 3 && cmd[1] == "uninstall":
		pkg := cmd[len(cmd)-1]
		f.mu.Lock()
		delete(f.installed, pkg)
		f.mu.Unlock()
		return "Successfully uninstalled " + pkg + "\n", "", 0, nil

	case cmd[0] == "rm":
		for _, arg := range cmd[1:] {
			if strings.HasPrefix(arg, "-") {
				continue
			}
			f.mu.Lock()
			delete(f.files, arg)
			f.mu.Unlock()
		}
		return "", "", 0, nil

	case cmd[0] == "pkill":
		return "", "", 0, nil

	default:
		return "", "", 0, nil
	}
}

func (f *FakeAdapter) CopyIn(ctx context.Context, data []byte, destPath string) error {
	enter := time.Now()
	defer f.record("copy_in", []string{destPath}, enter)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return wrapUnreachable("copy_in", fmt.Errorf("fake adapter marked unreachable"))
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.files[destPath] = cp
	return nil
}

func (f *FakeAdapter) RemovePath(ctx context.Context, path string) error {
	enter := time.Now()
	defer f.record("remove_path", []string{path}, enter)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return wrapUnreachable("remove_path", fmt.Errorf("fake adapter marked unreachable"))
	}
	delete(f.files, path)
	return nil
}

func (f *FakeAdapter) Reconfigure(ctx context.Context, cpuQuota int64, memoryLimit, memswapLimit int64) error {
	enter := time.Now()
	defer f.record("reconfigure", nil, enter)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return wrapUnreachable("reconfigure", fmt.Errorf("fake adapter marked unreachable"))
	}
	f.stats.MemLimit = memoryLimit
	return nil
}

func (f *FakeAdapter) Stats(ctx context.Context) (Stats, error) {
	enter := time.Now()
	defer f.record("stats", nil, enter)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return Stats{}, wrapUnreachable("stats", fmt.Errorf("fake adapter marked unreachable"))
	}
	return f.stats, nil
}

// FileExists reports whether a path currently exists in the fake
// filesystem — used by tests asserting snippet cleanup.
func (f *FakeAdapter) FileExists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok
}

// Installed reports whether a package is currently marked installed —
// used by tests asserting dependency cleanup.
func (f *FakeAdapter) Installed(pkg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed[pkg]
}
