// Package loadtest implements the core of the load generation engine: the
// virtual user pool, the iteration executor and the stage scheduler.
package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/stampede-load/stampede/internal/loadtest/metrics"
)

// Scenario is the user-supplied iteration body. The engine treats it as an
// opaque callable: one Run call is one iteration. Returning an error marks
// the iteration failed; it never stops the run.
type Scenario interface {
	Run(ctx context.Context, state *State) error
}

// ScenarioFunc adapts a plain function to the Scenario interface.
type ScenarioFunc func(ctx context.Context, state *State) error

// Run calls f.
func (f ScenarioFunc) Run(ctx context.Context, state *State) error { return f(ctx, state) }

// State is the per-virtual-user execution context handed to every
// iteration. A virtual user keeps one State for its whole life, so Data
// persists across that user's iterations.
type State struct {
	// VU is the owning virtual user's id.
	VU int

	// Iteration is the 1-based iteration number within this VU.
	Iteration int64

	// SetupData is the value produced by the run's setup function, shared
	// read-only by every VU.
	SetupData any

	// Data is VU-local scratch space, e.g. values extracted from earlier
	// responses in the same journey.
	Data map[string]any

	registry *metrics.Registry
	checks   []CheckResult
	checkErr error
}

// NewState creates a State bound to a registry. The pool creates these;
// tests may build them directly.
func NewState(vu int, registry *metrics.Registry) *State {
	return &State{
		VU:       vu,
		Data:     make(map[string]any),
		registry: registry,
	}
}

// Registry exposes the run's metric registry so scenarios can observe
// custom metrics.
func (s *State) Registry() *metrics.Registry { return s.registry }

// Check records a named boolean assertion. The outcome is appended to the
// current iteration's result and observed on a rate metric named after
// the check. A check name that collides with an existing non-rate metric
// fails the iteration. Returns ok so checks can gate follow-on requests.
func (s *State) Check(name string, ok bool) bool {
	s.checks = append(s.checks, CheckResult{Name: name, Passed: ok})
	if s.registry != nil {
		rate, err := s.registry.Rate(name)
		if err != nil {
			if s.checkErr == nil {
				s.checkErr = fmt.Errorf("check %q: %w", name, err)
			}
		} else {
			rate.Observe(ok)
		}
	}
	return ok
}

// CheckResult is one recorded assertion.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// IterationResult is produced once per iteration. It is consumed by the
// metric registry as it is produced; callers get a copy for inspection
// but nothing retains it.
type IterationResult struct {
	Duration time.Duration   `json:"duration"`
	Checks   []CheckResult   `json:"checks,omitempty"`
	Err      *IterationError `json:"error,omitempty"`
}

// Failed reports whether the iteration ended in an error.
func (r IterationResult) Failed() bool { return r.Err != nil }
