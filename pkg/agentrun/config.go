package agentrun

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RunnerConfig enumerates the construction-time options for a Runner.
// Fields mirror the recognized options of a runner config: container
// identity, resource limits, and dependency policy.
type RunnerConfig struct {
	// ContainerName identifies the already-running container the Runner
	// executes all snippets inside. Required.
	ContainerName string

	// CPUQuota is microseconds of CPU per 100ms scheduling period applied
	// to the container. Default 50000.
	CPUQuota int64

	// DefaultTimeout is the wall-clock cap on interpreter execution.
	// Default 20s.
	DefaultTimeout time.Duration

	// MemoryLimit is the RAM ceiling as a size string (e.g. "100m").
	// Default "100m".
	MemoryLimit string

	// MemswapLimit is the combined RAM+swap ceiling as a size string.
	// Must be >= MemoryLimit. Default "512m".
	MemswapLimit string

	// DependenciesWhitelist lists allowed package names. ["*"] permits
	// anything installable; an empty slice forbids installs entirely.
	// Default ["*"].
	DependenciesWhitelist []string

	// CachedDependencies are packages pre-installed at construction time
	// and never removed. Default none.
	CachedDependencies []string

	// DockerHost overrides the Docker SDK's default connection target.
	// Empty uses the SDK's environment-derived default.
	DockerHost string
}

// DefaultRunnerConfig returns a RunnerConfig populated with every default
// named in the runner config spec, except ContainerName which has no
// sensible default and must always be supplied by the caller.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		CPUQuota:              50_000,
		DefaultTimeout:        20 * time.Second,
		MemoryLimit:           "100m",
		MemswapLimit:          "512m",
		DependenciesWhitelist: []string{"*"},
		CachedDependencies:    nil,
	}
}

// ConfigError aggregates every validation failure found in a RunnerConfig
// so a caller sees the whole picture in one log line instead of fixing
// problems one restart at a time.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid: %s", strings.Join(e.Invalid, ", ")))
	}
	return "invalid runner config (" + strings.Join(parts, "; ") + ")"
}

// HasErrors reports whether any violation was recorded.
func (e *ConfigError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// Validate parses size strings, enforces memswap >= memory, cached subset of
// whitelist, and a positive cpu quota. It collects every violation rather
// than stopping at the first.
func (c RunnerConfig) Validate() error {
	cfgErr := &ConfigError{}

	if strings.TrimSpace(c.ContainerName) == "" {
		cfgErr.Missing = append(cfgErr.Missing, "container_name")
	}

	if c.CPUQuota <= 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "cpu_quota must be a positive integer")
	}

	memBytes, err := ParseSize(c.MemoryLimit)
	if err != nil {
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("memory_limit: %v", err))
	}
	swapBytes, err := ParseSize(c.MemswapLimit)
	if err != nil {
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("memswap_limit: %v", err))
	}
	if err == nil && swapBytes < memBytes {
		cfgErr.Invalid = append(cfgErr.Invalid, "memswap_limit must be >= memory_limit")
	}

	if c.DefaultTimeout <= 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "default_timeout must be positive")
	}

	if !whitelistAllowsAll(c.DependenciesWhitelist) {
		allowed := toSet(c.DependenciesWhitelist)
		for _, dep := range c.CachedDependencies {
			if _, ok := allowed[dep]; !ok {
				cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("cached dependency %q is not in the whitelist", dep))
			}
		}
	}

	if cfgErr.HasErrors() {
		return cfgErr
	}
	return nil
}

func whitelistAllowsAll(whitelist []string) bool {
	for _, w := range whitelist {
		if w == "*" {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// ParseSize parses a size string of the form "<integer><unit>" where unit is
// one of b, k, m, g (case-insensitive), as powers of 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	unit := s[len(s)-1:]
	var multiplier int64
	switch strings.ToLower(unit) {
	case "b":
		multiplier = 1
	case "k":
		multiplier = 1024
	case "m":
		multiplier = 1024 * 1024
	case "g":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("size %q missing required unit suffix b|k|m|g", s)
	}

	numPart := s[:len(s)-1]
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("size %q has invalid integer portion: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size %q must be positive", s)
	}
	return n * multiplier, nil
}

// FormatSize renders a byte count as the largest whole unit that divides it
// evenly, falling back to bytes. Round-trips with ParseSize for values
// produced by it.
func FormatSize(n int64) string {
	switch {
	case n%(1024*1024*1024) == 0:
		return fmt.Sprintf("%dg", n/(1024*1024*1024))
	case n%(1024*1024) == 0:
		return fmt.Sprintf("%dm", n/(1024*1024))
	case n%1024 == 0:
		return fmt.Sprintf("%dk", n/1024)
	default:
		return fmt.Sprintf("%db", n)
	}
}
