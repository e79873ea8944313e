package loadtest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stampede-load/stampede/internal/loadtest"
)

// recordingPool captures SetTarget calls with their simulated timestamps.
type recordingPool struct {
	clock *loadtest.FakeClock

	mu      sync.Mutex
	targets map[time.Duration]int
	last    int
	stopped bool
	start   time.Time
}

func newRecordingPool(clock *loadtest.FakeClock) *recordingPool {
	return &recordingPool{
		clock:   clock,
		targets: make(map[time.Duration]int),
		start:   clock.Now(),
	}
}

func (p *recordingPool) SetTarget(ctx context.Context, target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets[p.clock.Now().Sub(p.start)] = target
	p.last = target
}

func (p *recordingPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *recordingPool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *recordingPool) targetAt(elapsed time.Duration) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.targets[elapsed]
	return v, ok
}

func TestTargetAt_Interpolation(t *testing.T) {
	stages := []loadtest.Stage{
		{Duration: 10 * time.Second, Target: 5},
		{Duration: 30 * time.Second, Target: 50},
		{Duration: 60 * time.Second, Target: 5},
	}

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{5 * time.Second, 3},   // halfway from 0 to 5, rounded
		{10 * time.Second, 5},  // first boundary hits the target exactly
		{25 * time.Second, 28}, // midpoint of 5 -> 50
		{40 * time.Second, 50}, // second boundary
		{70 * time.Second, 28}, // midpoint of 50 -> 5
		{100 * time.Second, 5}, // end of the ramp
		{500 * time.Second, 5}, // past the last stage the target holds
	}
	for _, tt := range tests {
		if got := loadtest.TargetAt(stages, 0, tt.elapsed); got != tt.want {
			t.Errorf("TargetAt(%v) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
}

func TestTargetAt_BoundsWithinStage(t *testing.T) {
	stages := []loadtest.Stage{
		{Duration: 10 * time.Second, Target: 7},
		{Duration: 20 * time.Second, Target: 100},
		{Duration: 15 * time.Second, Target: 2},
	}

	bounds := []struct {
		from, to time.Duration
		lo, hi   int
	}{
		{0, 10 * time.Second, 0, 7},
		{10 * time.Second, 30 * time.Second, 7, 100},
		{30 * time.Second, 45 * time.Second, 2, 100},
	}
	for _, b := range bounds {
		for e := b.from; e <= b.to; e += time.Second {
			got := loadtest.TargetAt(stages, 0, e)
			if got < b.lo || got > b.hi {
				t.Errorf("TargetAt(%v) = %d, outside [%d, %d]", e, got, b.lo, b.hi)
			}
		}
	}
}

func TestTargetAt_ZeroDurationStageJumps(t *testing.T) {
	stages := []loadtest.Stage{
		{Duration: 0, Target: 20},
		{Duration: 10 * time.Second, Target: 20},
	}

	if got := loadtest.TargetAt(stages, 0, 0); got != 20 {
		t.Errorf("TargetAt(0) = %d, want immediate jump to 20", got)
	}
}

func TestTargetAt_EmptyStagesHoldStartVUs(t *testing.T) {
	if got := loadtest.TargetAt(nil, 12, 42*time.Second); got != 12 {
		t.Errorf("TargetAt(empty) = %d, want 12", got)
	}
}

func TestTargetAt_StartVUs(t *testing.T) {
	stages := []loadtest.Stage{{Duration: 10 * time.Second, Target: 30}}

	if got := loadtest.TargetAt(stages, 10, 5*time.Second); got != 20 {
		t.Errorf("TargetAt(5s) with startVUs=10 = %d, want 20", got)
	}
}

func TestStageScheduler_FullRampSimulated(t *testing.T) {
	clock := loadtest.NewFakeClock(time.Unix(0, 0))
	pool := newRecordingPool(clock)

	stages := []loadtest.Stage{
		{Duration: 10 * time.Second, Target: 5},
		{Duration: 30 * time.Second, Target: 50},
		{Duration: 60 * time.Second, Target: 5},
	}

	var boundaries []int
	var boundariesMu sync.Mutex
	sched := loadtest.NewStageScheduler(clock, loadtest.SchedulerConfig{
		TickInterval: time.Second,
		OnStageEnd: func(stage int) {
			boundariesMu.Lock()
			boundaries = append(boundaries, stage)
			boundariesMu.Unlock()
		},
	})

	done := make(chan error, 1)
	go func() {
		done <- sched.Run(context.Background(), stages, pool)
	}()

	// Walk the entire 100 second ramp one tick at a time.
	for i := 0; i < 100; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish after the last stage elapsed")
	}

	checks := []struct {
		elapsed time.Duration
		want    int
	}{
		{10 * time.Second, 5},
		{25 * time.Second, 28},
		{40 * time.Second, 50},
		{99 * time.Second, 6},
	}
	for _, c := range checks {
		got, ok := pool.targetAt(c.elapsed)
		if !ok {
			t.Errorf("no SetTarget recorded at %v", c.elapsed)
			continue
		}
		if got != c.want {
			t.Errorf("target at %v = %d, want %d", c.elapsed, got, c.want)
		}
	}

	pool.mu.Lock()
	stopped := pool.stopped
	pool.mu.Unlock()
	if !stopped {
		t.Error("scheduler did not stop the pool after the last stage")
	}

	boundariesMu.Lock()
	defer boundariesMu.Unlock()
	if len(boundaries) != 3 || boundaries[0] != 0 || boundaries[1] != 1 || boundaries[2] != 2 {
		t.Errorf("stage boundary callbacks = %v, want [0 1 2]", boundaries)
	}
}

func TestStageScheduler_CancelStopsPool(t *testing.T) {
	clock := loadtest.NewFakeClock(time.Unix(0, 0))
	pool := newRecordingPool(clock)

	stages := []loadtest.Stage{{Duration: time.Minute, Target: 10}}
	sched := loadtest.NewStageScheduler(clock, loadtest.SchedulerConfig{TickInterval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx, stages, pool)
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not return after cancellation")
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if !pool.stopped {
		t.Error("pool not stopped after cancellation")
	}
}
