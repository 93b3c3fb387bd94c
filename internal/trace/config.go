package trace

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Config tunes one Driver run.
type Config struct {
	// StepCap bounds single-step iterations; exceeding it yields
	// StepLimitExceeded. Default is high — it detects runaway tracing,
	// not a semantic bound on loop iterations (spec §4.C).
	StepCap int

	// FreeWrappers is the configurable list of functions the tracer
	// recognizes as equivalent to free() without descending into them.
	// Minimally includes "free". User-defined wrappers not on this list
	// are conservatively modeled as doing nothing (spec §9).
	FreeWrappers []string

	// AllocWrappers names the functions whose Enter is tagged with the
	// returned address as a tracked allocation.
	AllocWrappers []string

	// MinDebuggerVersion is a semver constraint (e.g. ">=7.0") the
	// Adapter's self-reported version must satisfy; empty disables the
	// check.
	MinDebuggerVersion string

	// EmulationPrefix is VEX_PLATFORM's cross-arch emulation command
	// (e.g. "qemu-arm -L /sysroot"), shell-split and prepended to the
	// debugger invocation.
	EmulationPrefix string
}

// DefaultConfig mirrors the spec's defaults: a high step cap, the
// minimal free-wrapper list, and the realloc-as-free-then-alloc policy
// baked into the driver rather than exposed as a knob (spec §9).
func DefaultConfig() Config {
	return Config{
		StepCap:       5_000_000,
		FreeWrappers:  []string{"free"},
		AllocWrappers: []string{"malloc", "calloc", "realloc"},
	}
}

// CheckDebuggerVersion validates version against MinDebuggerVersion, if
// one is configured.
func (c Config) CheckDebuggerVersion(version string) error {
	if c.MinDebuggerVersion == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(c.MinDebuggerVersion)
	if err != nil {
		return fmt.Errorf("trace: invalid MinDebuggerVersion constraint %q: %w", c.MinDebuggerVersion, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("trace: debugger reported unparseable version %q: %w", version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("trace: debugger version %s does not satisfy %s", version, c.MinDebuggerVersion)
	}
	return nil
}

func (c Config) isFreeWrapper(name string) bool {
	for _, w := range c.FreeWrappers {
		if w == name {
			return true
		}
	}
	return false
}

func (c Config) isAllocWrapper(name string) bool {
	for _, w := range c.AllocWrappers {
		if w == name {
			return true
		}
	}
	return false
}
