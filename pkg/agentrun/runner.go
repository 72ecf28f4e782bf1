package agentrun

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agentrun/internal/logging"
)

// errKind names the taxonomy of recoverable failure kinds the Orchestrator
// converts to an Outcome string. ContainerUnreachable is the only kind that
// instead bubbles up as a Go error.
type errKind string

const (
	kindUnsafeCode         errKind = "unsafe_code"
	kindDependencyBlocked  errKind = "dependency_blocked"
	kindCapacityExhausted  errKind = "capacity_exhausted"
	kindInstallFailed      errKind = "install_failed"
	kindExecutionError     errKind = "execution_error"
	kindExecutionTimeout   errKind = "execution_timeout"
	kindContainerUnreached errKind = "container_unreachable"
)

// Runner is the public entry point: construct with a RunnerConfig, then call
// Execute for each snippet. A Runner owns one Adapter for its lifetime and
// may be used concurrently from multiple goroutines.
type Runner struct {
	cfg      RunnerConfig
	adapter  Adapter
	deps     *dependencyManager
	governor *resourceGovernor
	exec     *executor
	log      *zap.Logger
}

// Option configures optional Runner behavior at construction time.
type Option func(*Runner)

// WithLogger overrides the zap logger used for structured error records.
// Defaults to the package-wide logger (internal/logging) if unset.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithAdapter overrides the container Adapter, bypassing Docker SDK
// resolution entirely. Intended for tests (pass a *FakeAdapter) and for
// embedding applications that already manage their own container handle.
func WithAdapter(a Adapter) Option {
	return func(r *Runner) { r.adapter = a }
}

// New validates cfg, resolves (or accepts, via WithAdapter) a container
// Adapter, applies resource limits, and warms the dependency cache. It
// fails fast on invalid config or an unreachable container.
func New(ctx context.Context, cfg RunnerConfig, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		logging.Init()
		r.log = logging.L()
	}

	if r.adapter == nil {
		adapter, err := NewDockerAdapter(ctx, cfg.DockerHost, cfg.ContainerName)
		if err != nil {
			return nil, err
		}
		r.adapter = adapter
	}

	governor, err := newResourceGovernor(r.adapter, cfg)
	if err != nil {
		return nil, err
	}
	r.governor = governor
	if err := r.governor.apply(ctx); err != nil {
		return nil, fmt.Errorf("apply resource limits: %w", err)
	}

	r.deps = newDependencyManager(r.adapter, cfg.DependenciesWhitelist, cfg.CachedDependencies)
	if err := r.deps.warmCache(ctx); err != nil {
		return nil, fmt.Errorf("warm dependency cache: %w", err)
	}

	r.exec = &executor{adapter: r.adapter, timeout: cfg.DefaultTimeout}
	return r, nil
}

// Execute screens, installs dependencies, runs, and cleans up source, per
// the 7-step flow: screen, extract imports, check whitelist, wait for
// capacity, install, execute, uninstall. On every exit path no transient
// package remains installed and no source file remains on the container.
//
// The returned error is non-nil for ErrContainerUnreachable, and also for
// any other error from waiting for capacity or from running the snippet
// (such as a canceled ctx or ErrNotFound), which is returned as it is rather
// than converted to an Outcome string. Unsafe code, whitelist rejections,
// capacity exhaustion, install failures, non-zero interpreter exits and
// timeouts are all returned as the (string, nil) Outcome pair.
func (r *Runner) Execute(ctx context.Context, source string) (string, error) {
	// 1. Screen.
	if reason, ok := screen(source); !ok {
		r.logOutcome(kindUnsafeCode, "screen", nil, errors.New(reason))
		return reason, nil
	}

	// 2. Extract imports.
	deps := extractImports(source)

	// 3. Whitelist check.
	if err := r.deps.ensureAllowed(deps); err != nil {
		var notWhitelisted *errNotWhitelisted
		if errors.As(err, &notWhitelisted) {
			outcome := fmt.Sprintf("Dependency not in whitelist: %s", notWhitelisted.pkg)
			r.logOutcome(kindDependencyBlocked, "deps_check", deps, err)
			return outcome, nil
		}
		return "", err
	}

	// 4. Wait for capacity.
	if err := r.governor.waitForHeadroom(ctx); err != nil {
		var overCapacity errContainerOverCapacity
		if errors.As(err, &overCapacity) {
			r.logOutcome(kindCapacityExhausted, "wait_capacity", deps, err)
			return "Container over capacity", nil
		}
		if errors.Is(err, ErrContainerUnreachable) {
			r.logOutcome(kindContainerUnreached, "wait_capacity", deps, err)
			return "", err
		}
		return "", err
	}

	// 5. Install.
	installed, err := r.deps.install(ctx, deps)
	if err != nil {
		if errors.Is(err, ErrContainerUnreachable) {
			r.logOutcome(kindContainerUnreached, "install", deps, err)
			return "", err
		}
		r.logOutcome(kindInstallFailed, "install", deps, err)
		return "Failed to install dependencies", nil
	}

	// 6. Execute. The executor guarantees file cleanup on every path.
	s := newSnippet(source, deps)
	outcome, execFailed, runErr := r.exec.run(ctx, s)

	// 7. Uninstall (failures logged, not surfaced), regardless of step 6's
	// outcome.
	r.deps.uninstall(context.Background(), installed)

	if runErr != nil {
		var timedOut errExecutionTimeout
		if errors.As(runErr, &timedOut) {
			r.logOutcome(kindExecutionTimeout, "execute", installed, runErr)
			return "Execution timed out", nil
		}
		if errors.Is(runErr, ErrContainerUnreachable) {
			r.logOutcome(kindContainerUnreached, "execute", installed, runErr)
			return "", runErr
		}
		return "", runErr
	}

	if execFailed {
		r.logOutcome(kindExecutionError, "execute", installed, errors.New(outcome))
	}
	return outcome, nil
}

// logOutcome emits one structured log record per error kind, carrying kind,
// phase, and the transient dependency list at time of failure, so the
// field set can't drift between call sites.
func (r *Runner) logOutcome(kind errKind, phase string, transientDeps []string, err error) {
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("phase", phase),
		zap.Strings("transient_deps", transientDeps),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	switch kind {
	case kindUnsafeCode, kindDependencyBlocked, kindCapacityExhausted, kindExecutionTimeout, kindExecutionError:
		r.log.Warn("agentrun execute outcome", fields...)
	default:
		r.log.Error("agentrun execute outcome", fields...)
	}
}

// Close releases the underlying Adapter, if it supports being closed.
func (r *Runner) Close() error {
	if closer, ok := r.adapter.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
