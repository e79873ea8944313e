package loadtest

import (
	"context"
	"math"
	"time"
)

// Stage is one time-bounded ramp segment: over Duration, the desired
// concurrency moves linearly from the previous stage's target to Target.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

// TargetSetter is the pool surface the scheduler drives. *Pool implements
// it; tests may substitute a recorder.
type TargetSetter interface {
	SetTarget(ctx context.Context, target int)
	ActiveCount() int
	StopAll()
}

// SchedulerConfig configures a StageScheduler.
type SchedulerConfig struct {
	// TickInterval is how often the target concurrency is re-sampled.
	// Defaults to one second.
	TickInterval time.Duration

	// StartVUs is the concurrency the first stage ramps from. Defaults
	// to zero.
	StartVUs int

	// OnStageEnd, if set, is invoked with the stage index each time a
	// stage boundary is crossed. The run coordinator hooks its mid-run
	// threshold checks here.
	OnStageEnd func(stage int)
}

// StageScheduler walks an ordered stage list, interpolating the desired
// concurrency at every tick and pushing it to the pool. It is driven
// entirely through its Clock, so a fake clock replays a full ramp in
// microseconds.
type StageScheduler struct {
	clock Clock
	cfg   SchedulerConfig
}

// NewStageScheduler creates a scheduler.
func NewStageScheduler(clock Clock, cfg SchedulerConfig) *StageScheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &StageScheduler{clock: clock, cfg: cfg}
}

// TargetAt returns the interpolated target concurrency at the given
// elapsed time for a stage list starting from startVUs.
//
// Properties: within a stage the value lies between the stage's start and
// end targets inclusive; at a stage boundary it equals the stage's target
// exactly; a zero-duration stage jumps instantly; past the last stage the
// final target holds; an empty stage list holds startVUs.
func TargetAt(stages []Stage, startVUs int, elapsed time.Duration) int {
	prev := startVUs
	var base time.Duration
	for _, stage := range stages {
		end := base + stage.Duration
		if stage.Duration > 0 && elapsed < end {
			progress := float64(elapsed-base) / float64(stage.Duration)
			return prev + int(math.Round(float64(stage.Target-prev)*progress))
		}
		prev = stage.Target
		base = end
	}
	return prev
}

// TotalDuration returns the wall time the stage list covers.
func TotalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, stage := range stages {
		total += stage.Duration
	}
	return total
}

// Run drives the pool through the stage list. It blocks until the last
// stage's duration has elapsed (or ctx is cancelled), then stops and
// drains the pool. The pool is always drained before Run returns.
func (s *StageScheduler) Run(ctx context.Context, stages []Stage, pool TargetSetter) error {
	start := s.clock.Now()
	total := TotalDuration(stages)

	boundaries := make([]time.Duration, len(stages))
	var acc time.Duration
	for i, stage := range stages {
		acc += stage.Duration
		boundaries[i] = acc
	}
	nextBoundary := 0

	pool.SetTarget(ctx, TargetAt(stages, s.cfg.StartVUs, 0))

	for {
		elapsed := s.clock.Now().Sub(start)
		if elapsed >= total {
			break
		}

		wait := s.cfg.TickInterval
		if remaining := total - elapsed; remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			pool.StopAll()
			return ctx.Err()
		case <-s.clock.After(wait):
		}

		elapsed = s.clock.Now().Sub(start)
		pool.SetTarget(ctx, TargetAt(stages, s.cfg.StartVUs, elapsed))

		for nextBoundary < len(boundaries) && elapsed >= boundaries[nextBoundary] {
			if s.cfg.OnStageEnd != nil {
				s.cfg.OnStageEnd(nextBoundary)
			}
			nextBoundary++
		}
	}

	pool.StopAll()
	return nil
}
