package loadtest_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stampede-load/stampede/internal/loadtest"
	"github.com/stampede-load/stampede/internal/loadtest/metrics"
)

func newTestRunner(t *testing.T, timeout time.Duration) (*loadtest.IterationRunner, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	runner, err := loadtest.NewIterationRunner(reg, loadtest.SystemClock(), timeout)
	if err != nil {
		t.Fatalf("NewIterationRunner() error = %v", err)
	}
	return runner, reg
}

func TestIterationRunner_Success(t *testing.T) {
	runner, reg := newTestRunner(t, 0)

	scenario := loadtest.ScenarioFunc(func(ctx context.Context, state *loadtest.State) error {
		state.Check("status is 200", true)
		return nil
	})

	result := runner.Run(context.Background(), scenario, loadtest.NewState(1, reg))

	if result.Failed() {
		t.Fatalf("iteration failed: %v", result.Err)
	}
	if len(result.Checks) != 1 || !result.Checks[0].Passed {
		t.Errorf("Checks = %+v, want one passing check", result.Checks)
	}

	snap := reg.Snapshot()
	if c, _ := snap.Get(loadtest.MetricIterations); c.Count != 1 {
		t.Errorf("iterations counter = %d, want 1", c.Count)
	}
	if f, _ := snap.Get(loadtest.MetricIterationFailed); f.Rate != 0 {
		t.Errorf("failed rate = %v, want 0", f.Rate)
	}
	if chk, ok := snap.Get("status is 200"); !ok || chk.Rate != 1 {
		t.Errorf("check rate metric = %+v, want rate 1", chk)
	}
}

func TestIterationRunner_ErrorRecovered(t *testing.T) {
	runner, reg := newTestRunner(t, 0)

	scenario := loadtest.ScenarioFunc(func(ctx context.Context, state *loadtest.State) error {
		return errors.New("connection refused")
	})

	result := runner.Run(context.Background(), scenario, loadtest.NewState(1, reg))

	if !result.Failed() {
		t.Fatal("iteration should have failed")
	}
	if result.Err.Kind != loadtest.ErrorKindIteration {
		t.Errorf("error kind = %v, want %v", result.Err.Kind, loadtest.ErrorKindIteration)
	}
	if f, _ := reg.Snapshot().Get(loadtest.MetricIterationFailed); f.Rate != 1 {
		t.Errorf("failed rate = %v, want 1", f.Rate)
	}
}

func TestIterationRunner_PanicRecovered(t *testing.T) {
	runner, reg := newTestRunner(t, 0)

	scenario := loadtest.ScenarioFunc(func(ctx context.Context, state *loadtest.State) error {
		panic("nil pointer in user code")
	})

	result := runner.Run(context.Background(), scenario, loadtest.NewState(1, reg))

	if !result.Failed() {
		t.Fatal("iteration should have failed")
	}
	if result.Err.Kind != loadtest.ErrorKindPanic {
		t.Errorf("error kind = %v, want %v", result.Err.Kind, loadtest.ErrorKindPanic)
	}
}

func TestIterationRunner_Timeout(t *testing.T) {
	runner, reg := newTestRunner(t, 20*time.Millisecond)

	scenario := loadtest.ScenarioFunc(func(ctx context.Context, state *loadtest.State) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	start := time.Now()
	result := runner.Run(context.Background(), scenario, loadtest.NewState(1, reg))

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, iteration took %v", elapsed)
	}
	if !result.Failed() {
		t.Fatal("iteration should have failed")
	}
	if result.Err.Kind != loadtest.ErrorKindTimeout {
		t.Errorf("error kind = %v, want %v", result.Err.Kind, loadtest.ErrorKindTimeout)
	}
}

func TestIterationRunner_CheckNameCollidingWithMetricFailsIteration(t *testing.T) {
	runner, reg := newTestRunner(t, 0)

	// A check whose name is already taken by a non-rate metric cannot be
	// recorded; the conflict must fail the iteration instead of vanishing.
	if _, err := reg.Counter("status is 200"); err != nil {
		t.Fatalf("Counter() error = %v", err)
	}

	scenario := loadtest.ScenarioFunc(func(ctx context.Context, state *loadtest.State) error {
		state.Check("status is 200", true)
		return nil
	})

	state := loadtest.NewState(1, reg)
	result := runner.Run(context.Background(), scenario, state)

	if !result.Failed() {
		t.Fatal("iteration should have failed on the metric kind conflict")
	}
	if got := result.Err.Error(); !strings.Contains(got, "status is 200") {
		t.Errorf("error = %q, want it to name the conflicting check", got)
	}
	if f, _ := reg.Snapshot().Get(loadtest.MetricIterationFailed); f.Rate != 1 {
		t.Errorf("failed rate = %v, want 1", f.Rate)
	}

	// The conflict must not leak into the next iteration on the same state.
	clean := runner.Run(context.Background(), loadtest.ScenarioFunc(func(ctx context.Context, st *loadtest.State) error {
		return nil
	}), state)
	if clean.Failed() {
		t.Errorf("clean iteration failed: %v", clean.Err)
	}
}

func TestIterationRunner_ChecksResetBetweenIterations(t *testing.T) {
	runner, reg := newTestRunner(t, 0)
	state := loadtest.NewState(1, reg)

	scenario := loadtest.ScenarioFunc(func(ctx context.Context, st *loadtest.State) error {
		st.Check("homepage ok", true)
		return nil
	})

	runner.Run(context.Background(), scenario, state)
	second := runner.Run(context.Background(), scenario, state)

	if len(second.Checks) != 1 {
		t.Errorf("second iteration carried %d checks, want 1", len(second.Checks))
	}
	if chk, _ := reg.Snapshot().Get("homepage ok"); chk.Count != 2 {
		t.Errorf("check metric count = %d, want 2", chk.Count)
	}
}
