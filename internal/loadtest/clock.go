package loadtest

import (
	"sync"
	"time"
)

// Clock abstracts time so the stage scheduler and virtual users can be
// driven by simulated time in tests. Production code uses SystemClock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock is a manually advanced Clock. Goroutines blocked in After fire
// when Advance moves the clock past their deadline, letting tests walk a
// multi-minute ramp without real waiting.
type FakeClock struct {
	mu       sync.Mutex
	now      time.Time
	waiters  []fakeWaiter
	blockers []fakeBlocker
}

type fakeWaiter struct {
	until time.Time
	ch    chan time.Time
}

type fakeBlocker struct {
	count int
	ch    chan struct{}
}

// NewFakeClock creates a fake clock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current simulated time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock has been advanced by
// at least d. Non-positive durations fire immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	until := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{until: until, ch: ch})
	c.notifyBlockers()
	return ch
}

// Advance moves the clock forward and fires every waiter whose deadline
// has passed.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.until.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

// BlockUntil waits until at least n goroutines are blocked in After.
// Tests use it to synchronize with the code under test before advancing.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	if len(c.waiters) >= n {
		c.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	c.blockers = append(c.blockers, fakeBlocker{count: n, ch: ch})
	c.mu.Unlock()
	<-ch
}

// notifyBlockers releases BlockUntil callers whose waiter count has been
// reached. Caller must hold mu.
func (c *FakeClock) notifyBlockers() {
	remaining := c.blockers[:0]
	for _, b := range c.blockers {
		if len(c.waiters) >= b.count {
			close(b.ch)
		} else {
			remaining = append(remaining, b)
		}
	}
	c.blockers = remaining
}
