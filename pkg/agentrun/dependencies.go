package agentrun

import (
	"context"
	"fmt"
	"sync"
)

// errNotWhitelisted is returned by ensureAllowed for the first disallowed
// package name found.
type errNotWhitelisted struct{ pkg string }

func (e *errNotWhitelisted) Error() string {
	return fmt.Sprintf("dependency not in whitelist: %s", e.pkg)
}

// dependencyManager installs/uninstalls packages inside the container,
// enforces the whitelist, and honors a pre-warmed cache. Installs are
// serialized across all in-flight requests via a FIFO ticket queue, because
// the package installer is a process-global resource inside the container
// and is not safe to invoke concurrently.
type dependencyManager struct {
	adapter   Adapter
	whitelist []string
	cached    map[string]struct{}

	// waiters is a FIFO queue of arrival tickets. sync.Mutex does not
	// guarantee wakeup order, so callers queue their own channel here and
	// block on it instead of on a bare lock.
	mu      sync.Mutex
	waiters []chan struct{}
}

func newDependencyManager(adapter Adapter, whitelist, cached []string) *dependencyManager {
	cachedSet := make(map[string]struct{}, len(cached))
	for _, c := range cached {
		cachedSet[c] = struct{}{}
	}
	return &dependencyManager{
		adapter:   adapter,
		whitelist: whitelist,
		cached:    cachedSet,
	}
}

// acquireInstallLock blocks until it is this caller's turn, in the order
// callers arrived, and returns a release function.
func (d *dependencyManager) acquireInstallLock(ctx context.Context) (func(), error) {
	ticket := make(chan struct{})

	d.mu.Lock()
	first := len(d.waiters) == 0
	d.waiters = append(d.waiters, ticket)
	d.mu.Unlock()

	if !first {
		select {
		case <-ticket:
		case <-ctx.Done():
			d.abandon(ticket)
			return nil, ctx.Err()
		}
	}

	release := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		// Drop ourselves (always at index 0 once granted) and wake the next.
		if len(d.waiters) > 0 {
			d.waiters = d.waiters[1:]
		}
		if len(d.waiters) > 0 {
			close(d.waiters[0])
		}
	}
	return release, nil
}

// abandon splices ticket out of the waiter queue for a caller that gave up
// waiting (context canceled/timed out) before it was granted the lock. If
// ticket had already reached the front and been granted concurrently with
// the cancellation, the next waiter in line is woken instead of being left
// stuck behind a ticket nobody will ever release.
func (d *dependencyManager) abandon(ticket chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, w := range d.waiters {
		if w != ticket {
			continue
		}
		wasFront := i == 0
		d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
		if wasFront && len(d.waiters) > 0 {
			select {
			case <-d.waiters[0]:
				// Already closed/granted by a racing release; nothing to do.
			default:
				close(d.waiters[0])
			}
		}
		return
	}
}

// ensureAllowed checks deps against the whitelist. "*" permits anything.
func (d *dependencyManager) ensureAllowed(deps []string) error {
	if whitelistAllowsAll(d.whitelist) {
		return nil
	}
	allowed := toSet(d.whitelist)
	for _, dep := range deps {
		if _, ok := allowed[dep]; !ok {
			return &errNotWhitelisted{pkg: dep}
		}
	}
	return nil
}

// alreadyPresent asks the package installer directly — never in-process
// state — so concurrent runs never double-install.
func (d *dependencyManager) alreadyPresent(ctx context.Context, pkg string) (bool, error) {
	_, _, exitCode, err := d.adapter.Exec(ctx, []string{"pip", "show", pkg}, "")
	if err != nil {
		return false, err
	}
	return exitCode == 0, nil
}

// install installs every dep not already present, sequentially, serialized
// with every other in-flight install/uninstall. On any failure, it rolls
// back everything this call itself installed and returns the error. The
// returned slice is exactly the packages this call caused to be installed
// (excludes ones found already present), so only those get uninstalled
// later.
func (d *dependencyManager) install(ctx context.Context, deps []string) ([]string, error) {
	release, err := d.acquireInstallLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var installedThisCall []string
	for _, dep := range deps {
		present, err := d.alreadyPresent(ctx, dep)
		if err != nil {
			d.rollback(ctx, installedThisCall)
			return nil, err
		}
		if present {
			continue
		}

		_, stderr, exitCode, err := d.adapter.Exec(ctx, []string{"pip", "install", "--quiet", dep}, "")
		if err != nil {
			d.rollback(ctx, installedThisCall)
			return nil, err
		}
		if exitCode != 0 {
			d.rollback(ctx, installedThisCall)
			return nil, fmt.Errorf("install %s: %w: %s", dep, ErrExecFailed, stderr)
		}
		installedThisCall = append(installedThisCall, dep)
	}
	return installedThisCall, nil
}

// rollback best-effort uninstalls everything this call itself installed,
// called while still holding the install lock.
func (d *dependencyManager) rollback(ctx context.Context, installed []string) {
	for _, dep := range installed {
		_, _, _, _ = d.adapter.Exec(ctx, []string{"pip", "uninstall", "-y", dep}, "")
	}
}

// uninstall best-effort removes deps, skipping anything in the cached set.
// A failure on one package does not prevent attempts on the rest.
func (d *dependencyManager) uninstall(ctx context.Context, deps []string) {
	release, err := d.acquireInstallLock(ctx)
	if err != nil {
		return
	}
	defer release()

	for _, dep := range deps {
		if _, isCached := d.cached[dep]; isCached {
			continue
		}
		_, _, _, _ = d.adapter.Exec(ctx, []string{"pip", "uninstall", "-y", dep}, "")
	}
}

// warmCache installs every cached dependency once. Failures here are fatal
// to construction.
func (d *dependencyManager) warmCache(ctx context.Context) error {
	if len(d.cached) == 0 {
		return nil
	}
	deps := make([]string, 0, len(d.cached))
	for dep := range d.cached {
		deps = append(deps, dep)
	}
	_, err := d.install(ctx, deps)
	return err
}
