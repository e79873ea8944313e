package loadtest

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// ThinkTime is the pause a virtual user takes between iterations,
// modeling human pacing. When Max > Min the pause is drawn uniformly
// from [Min, Max).
type ThinkTime struct {
	Min time.Duration
	Max time.Duration
}

func (t ThinkTime) pick() time.Duration {
	d := t.Min
	if t.Max > t.Min {
		d += time.Duration(rand.Int63n(int64(t.Max - t.Min)))
	}
	return d
}

// Pool owns the set of concurrently executing virtual users. The stage
// scheduler drives it through SetTarget; each spawned VU loops its
// iteration until marked Stopping.
//
// Shrinking is always graceful: a surplus VU finishes its current
// iteration before it is removed, so ramp-down never produces partial
// iterations. Only run-level context cancellation interrupts an iteration
// mid-flight.
type Pool struct {
	scenario Scenario
	runner   *IterationRunner
	clock    Clock
	think    ThinkTime

	setupData any

	mu     sync.Mutex
	vus    []*VirtualUser
	nextID int

	live atomic.Int32
	wg   sync.WaitGroup
}

// NewPool creates a pool. Nothing runs until SetTarget grows it.
func NewPool(scenario Scenario, runner *IterationRunner, clock Clock, think ThinkTime) *Pool {
	return &Pool{
		scenario: scenario,
		runner:   runner,
		clock:    clock,
		think:    think,
	}
}

// SetSetupData stores the value produced by the run's setup function;
// every VU sees it through its State. Must be called before the first
// SetTarget.
func (p *Pool) SetSetupData(data any) { p.setupData = data }

// SetTarget adjusts the number of looping virtual users toward target.
// Growth spawns immediately; shrink marks the newest surplus users
// Stopping and lets them drain on their own.
func (p *Pool) SetTarget(ctx context.Context, target int) {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current := len(p.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			p.nextID++
			vu := newVirtualUser(p.nextID)
			p.vus = append(p.vus, vu)
			p.live.Add(1)
			p.wg.Add(1)
			go p.runVU(ctx, vu)
		}
	case target < current:
		for i := current - 1; i >= target; i-- {
			p.vus[i].RequestStop()
		}
		p.vus = p.vus[:target]
	}
}

// ActiveCount returns the number of live virtual users, including ones
// still draining their final iteration.
func (p *Pool) ActiveCount() int {
	return int(p.live.Load())
}

// StopAll marks every virtual user Stopping and blocks until all of them
// have drained.
func (p *Pool) StopAll() {
	p.mu.Lock()
	for _, vu := range p.vus {
		vu.RequestStop()
	}
	p.vus = nil
	p.mu.Unlock()

	p.wg.Wait()
}

// runVU is the virtual user loop: iterate, think, repeat, until the VU is
// Stopping or the run context is cancelled.
func (p *Pool) runVU(ctx context.Context, vu *VirtualUser) {
	defer p.wg.Done()
	defer p.live.Add(-1)
	defer vu.markStopped()

	state := NewState(vu.ID, p.runner.registry)
	state.SetupData = p.setupData

	for {
		if vu.State() == VUStateStopping || ctx.Err() != nil {
			return
		}

		vu.setState(VUStateRunning)
		state.Iteration = vu.iterations.Add(1)
		p.runner.Run(ctx, p.scenario, state)
		vu.setState(VUStateIdle)

		if vu.State() == VUStateStopping || ctx.Err() != nil {
			return
		}
		if !p.thinkPause(ctx, vu) {
			return
		}
	}
}

// thinkPause sleeps the configured think time. It returns false when the
// pause was interrupted by a stop request or cancellation.
func (p *Pool) thinkPause(ctx context.Context, vu *VirtualUser) bool {
	d := p.think.pick()
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-p.clock.After(d):
		return true
	}
}
