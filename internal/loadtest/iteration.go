package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stampede-load/stampede/internal/loadtest/metrics"
)

// Built-in metric names recorded by the iteration runner.
const (
	MetricIterations        = "iterations"
	MetricIterationDuration = "iteration_duration"
	MetricIterationFailed   = "iteration_failed"
)

// IterationRunner executes scenario iterations one at a time and converts
// every failure mode into an IterationResult. A failing iteration is
// recorded, never propagated: a broken iteration must not take down its
// virtual user or the run.
type IterationRunner struct {
	registry *metrics.Registry
	clock    Clock
	timeout  time.Duration

	iterations *metrics.Counter
	duration   *metrics.Trend
	failed     *metrics.Rate
}

// NewIterationRunner creates a runner and registers the built-in
// iteration metrics. A zero timeout disables the per-iteration bound.
func NewIterationRunner(registry *metrics.Registry, clock Clock, timeout time.Duration) (*IterationRunner, error) {
	iterations, err := registry.Counter(MetricIterations)
	if err != nil {
		return nil, err
	}
	duration, err := registry.Trend(MetricIterationDuration)
	if err != nil {
		return nil, err
	}
	failed, err := registry.Rate(MetricIterationFailed)
	if err != nil {
		return nil, err
	}
	return &IterationRunner{
		registry:   registry,
		clock:      clock,
		timeout:    timeout,
		iterations: iterations,
		duration:   duration,
		failed:     failed,
	}, nil
}

// Run executes exactly one iteration of the scenario.
//
// The returned result carries the elapsed time, the checks recorded via
// state.Check, and the failure (if any) classified by kind. When the
// iteration exceeds the configured timeout its context is cancelled, so a
// well-behaved scenario unwinds its in-flight call, and the error kind is
// ErrorKindTimeout.
func (r *IterationRunner) Run(ctx context.Context, scenario Scenario, state *State) IterationResult {
	iterCtx := ctx
	cancel := func() {}
	if r.timeout > 0 {
		iterCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	state.checks = state.checks[:0]
	state.checkErr = nil

	start := r.clock.Now()
	err := runRecovered(iterCtx, scenario, state)
	elapsed := r.clock.Now().Sub(start)
	if err == nil {
		err = state.checkErr
	}

	result := IterationResult{
		Duration: elapsed,
		Checks:   append([]CheckResult(nil), state.checks...),
	}
	if err != nil {
		result.Err = r.classify(iterCtx, ctx, err)
	}

	// Aggregate immediately; the result itself is not retained.
	r.iterations.Inc()
	r.duration.Observe(float64(elapsed) / float64(time.Millisecond))
	r.failed.Observe(result.Err != nil)

	return result
}

// runRecovered invokes the scenario, converting panics into errors.
func runRecovered(ctx context.Context, scenario Scenario, state *State) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &IterationError{Kind: ErrorKindPanic, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return scenario.Run(ctx, state)
}

// classify buckets a scenario error by failure kind.
func (r *IterationRunner) classify(iterCtx, parent context.Context, err error) *IterationError {
	var ie *IterationError
	if errors.As(err, &ie) {
		return ie
	}
	// A deadline on the iteration context that the parent did not cause
	// means the iteration ran past its bound.
	if iterCtx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		return &IterationError{Kind: ErrorKindTimeout, Err: err}
	}
	return &IterationError{Kind: ErrorKindIteration, Err: err}
}
