// Package engine provides the run coordinator: the top-level orchestrator
// that validates configuration, runs setup, drives the stage scheduler,
// evaluates thresholds and produces the final verdict.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stampede-load/stampede/internal/loadtest"
	"github.com/stampede-load/stampede/internal/loadtest/metrics"
	"github.com/stampede-load/stampede/internal/loadtest/threshold"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	StateConfiguring State = iota
	StateSettingUp
	StateRunning
	StateTearingDown
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateSettingUp:
		return "setting-up"
	case StateRunning:
		return "running"
	case StateTearingDown:
		return "tearing-down"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Verdict is the final pass/fail outcome of a run.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictFail
)

func (v Verdict) String() string {
	if v == VerdictPass {
		return "pass"
	}
	return "fail"
}

// MarshalJSON renders the verdict as its string name.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// Abort reasons recorded on RunResult.
const (
	ReasonAbortThreshold = "AbortThreshold"
	ReasonCancelled      = "Cancelled"
)

// ConfigurationError is fatal and always raised before any virtual user
// spawns.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Msg, e.Err)
	}
	return "configuration: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ThresholdSpec is one unparsed threshold from configuration.
type ThresholdSpec struct {
	Metric      string
	Expression  string
	AbortOnFail bool
}

// MetricSpec declares a custom metric so thresholds can bind to it before
// the first observation.
type MetricSpec struct {
	Name string
	Kind metrics.Kind
}

// Setup runs once before any virtual user; its result is shared with
// every iteration and with teardown.
type Setup func(ctx context.Context) (any, error)

// Teardown runs once after the pool has drained.
type Teardown func(ctx context.Context, data any) error

// Options configures a run.
type Options struct {
	Name string

	// Stages defines the ramp. Alternatively VUs+Duration request
	// constant concurrency and are translated into an equivalent ramp.
	Stages   []loadtest.Stage
	StartVUs int
	VUs      int
	Duration time.Duration

	ThinkTime        loadtest.ThinkTime
	IterationTimeout time.Duration

	Thresholds []ThresholdSpec
	Metrics    []MetricSpec

	// TickInterval is the scheduler's target re-sampling interval
	// (default 1s).
	TickInterval time.Duration

	// AbortCheckInterval is the safety tick for mid-run abort-threshold
	// checks (default 5s). Abort thresholds are additionally checked at
	// every stage boundary.
	AbortCheckInterval time.Duration

	// TrendCap bounds retained trend samples; zero retains all.
	TrendCap int

	// Clock defaults to the system clock; tests inject a fake.
	Clock loadtest.Clock

	Setup    Setup
	Teardown Teardown
}

// RunResult is produced exactly once per run and never mutated after.
type RunResult struct {
	ID      string  `json:"id"`
	Name    string  `json:"name,omitempty"`
	Verdict Verdict `json:"verdict"`

	// Aborted is true when the run stopped early; Reason then names why.
	Aborted bool   `json:"aborted,omitempty"`
	Reason  string `json:"reason,omitempty"`

	StartTime  time.Time     `json:"startTime"`
	Duration   time.Duration `json:"duration"`
	Iterations int64         `json:"iterations"`

	Metrics    metrics.Snapshot    `json:"metrics"`
	Thresholds []threshold.Outcome `json:"thresholds,omitempty"`
}

// Engine is the run coordinator. One Engine performs one run.
//
// Lifecycle: Configuring -> SettingUp -> Running -> TearingDown ->
// Completed, with Aborted reachable from Running on an abort-threshold
// failure or external cancellation.
type Engine struct {
	opts     Options
	scenario loadtest.Scenario

	clock      loadtest.Clock
	registry   *metrics.Registry
	runner     *loadtest.IterationRunner
	stages     []loadtest.Stage
	thresholds []*threshold.Threshold
	aborts     []*threshold.Threshold

	state     atomic.Int32
	abortOnce sync.Once
	abortedBy atomic.Bool
}

// New validates the options, registers all metrics and parses all
// thresholds. Every configuration problem is reported here, before a
// single virtual user exists.
func New(opts Options, scenario loadtest.Scenario) (*Engine, error) {
	if scenario == nil {
		return nil, &ConfigurationError{Msg: "scenario is required"}
	}

	clock := opts.Clock
	if clock == nil {
		clock = loadtest.SystemClock()
	}

	stages, err := resolveStages(opts)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistryWithConfig(metrics.Config{TrendCap: opts.TrendCap})
	runner, err := loadtest.NewIterationRunner(registry, clock, opts.IterationTimeout)
	if err != nil {
		return nil, &ConfigurationError{Msg: "registering built-in metrics", Err: err}
	}
	for _, spec := range opts.Metrics {
		if spec.Name == "" {
			return nil, &ConfigurationError{Msg: "metric declaration with empty name"}
		}
		if _, err := registry.Register(spec.Name, spec.Kind); err != nil {
			return nil, &ConfigurationError{Msg: "registering metric " + spec.Name, Err: err}
		}
	}

	e := &Engine{
		opts:     opts,
		scenario: scenario,
		clock:    clock,
		registry: registry,
		runner:   runner,
		stages:   stages,
	}

	for _, spec := range opts.Thresholds {
		th, err := threshold.Parse(spec.Metric, spec.Expression, spec.AbortOnFail)
		if err != nil {
			return nil, &ConfigurationError{Msg: "parsing threshold", Err: err}
		}
		if err := th.Validate(registry); err != nil {
			return nil, &ConfigurationError{Msg: "validating threshold", Err: err}
		}
		e.thresholds = append(e.thresholds, th)
		if th.AbortOnFail {
			e.aborts = append(e.aborts, th)
		}
	}

	return e, nil
}

func resolveStages(opts Options) ([]loadtest.Stage, error) {
	if len(opts.Stages) > 0 {
		if opts.VUs > 0 || opts.Duration > 0 {
			return nil, &ConfigurationError{Msg: "stages and vus/duration are mutually exclusive"}
		}
		for i, stage := range opts.Stages {
			if stage.Duration < 0 {
				return nil, &ConfigurationError{Msg: fmt.Sprintf("stage %d has negative duration", i)}
			}
			if stage.Target < 0 {
				return nil, &ConfigurationError{Msg: fmt.Sprintf("stage %d has negative target", i)}
			}
		}
		return opts.Stages, nil
	}

	if opts.VUs <= 0 || opts.Duration <= 0 {
		return nil, &ConfigurationError{Msg: "either stages or vus and duration must be set"}
	}
	// Constant concurrency is a degenerate ramp: jump, then hold.
	return []loadtest.Stage{
		{Duration: 0, Target: opts.VUs},
		{Duration: opts.Duration, Target: opts.VUs},
	}, nil
}

// State returns the coordinator's current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Registry exposes the run's metric registry.
func (e *Engine) Registry() *metrics.Registry { return e.registry }

// Run executes the full test and blocks until the verdict is known.
// It can be called once per Engine.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	if !e.state.CompareAndSwap(int32(StateConfiguring), int32(StateSettingUp)) {
		return nil, fmt.Errorf("engine has already run")
	}

	start := e.clock.Now()
	wall := time.Now()

	var setupData any
	if e.opts.Setup != nil {
		data, err := e.opts.Setup(ctx)
		if err != nil {
			e.state.Store(int32(StateAborted))
			return nil, fmt.Errorf("setup: %w", err)
		}
		setupData = data
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	pool := loadtest.NewPool(e.scenario, e.runner, e.clock, e.opts.ThinkTime)
	pool.SetSetupData(setupData)

	sched := loadtest.NewStageScheduler(e.clock, loadtest.SchedulerConfig{
		TickInterval: e.opts.TickInterval,
		StartVUs:     e.opts.StartVUs,
		OnStageEnd:   func(int) { e.checkAbort(cancel) },
	})

	e.state.Store(int32(StateRunning))

	stopTicker := make(chan struct{})
	var tickerWg sync.WaitGroup
	if len(e.aborts) > 0 {
		tickerWg.Add(1)
		go func() {
			defer tickerWg.Done()
			e.abortTicker(runCtx, stopTicker, cancel)
		}()
	}

	runErr := sched.Run(runCtx, e.stages, pool)
	close(stopTicker)
	tickerWg.Wait()

	aborted := e.abortedBy.Load()
	cancelled := runErr != nil && !aborted

	e.state.Store(int32(StateTearingDown))
	var tdErr error
	if e.opts.Teardown != nil {
		tdCtx, tdCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := e.opts.Teardown(tdCtx, setupData); err != nil {
			tdErr = fmt.Errorf("teardown: %w", err)
		}
		tdCancel()
	}

	snapshot := e.registry.Snapshot()
	outcomes := threshold.Evaluate(e.thresholds, snapshot)

	verdict := VerdictPass
	for _, o := range outcomes {
		if !o.Passed {
			verdict = VerdictFail
			break
		}
	}

	result := &RunResult{
		ID:        uuid.New().String(),
		Name:      e.opts.Name,
		Verdict:   verdict,
		StartTime: wall,
		Duration:  e.clock.Now().Sub(start),
		Metrics:   snapshot,
	}
	result.Thresholds = outcomes
	if iters, ok := snapshot.Get(loadtest.MetricIterations); ok {
		result.Iterations = iters.Count
	}

	switch {
	case aborted:
		result.Verdict = VerdictFail
		result.Aborted = true
		result.Reason = ReasonAbortThreshold
		e.state.Store(int32(StateAborted))
	case cancelled:
		result.Verdict = VerdictFail
		result.Aborted = true
		result.Reason = ReasonCancelled
		e.state.Store(int32(StateAborted))
		return result, runErr
	default:
		e.state.Store(int32(StateCompleted))
	}

	return result, tdErr
}

// abortTicker periodically re-checks abort-enabled thresholds while the
// scheduler runs, in addition to the stage-boundary checks.
func (e *Engine) abortTicker(ctx context.Context, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	interval := e.opts.AbortCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-e.clock.After(interval):
			e.checkAbort(cancel)
		}
	}
}

// checkAbort evaluates only the abort-enabled thresholds and cancels the
// run on the first failure. In-flight iterations see the cancellation
// through their context, so pending network calls are cancelled rather
// than leaked.
func (e *Engine) checkAbort(cancel context.CancelCauseFunc) {
	if len(e.aborts) == 0 || e.abortedBy.Load() {
		return
	}
	outcomes := threshold.Evaluate(e.aborts, e.registry.Snapshot())
	for _, o := range outcomes {
		if !o.Passed {
			e.abortOnce.Do(func() {
				e.abortedBy.Store(true)
				cancel(loadtest.ErrAborted)
			})
			return
		}
	}
}
