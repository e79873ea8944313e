package loadtest

import "sync/atomic"

// VUState is the lifecycle state of a virtual user.
type VUState int32

const (
	// VUStateIdle means the VU exists but is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning means the VU is executing an iteration.
	VUStateRunning
	// VUStateStopping means the VU will exit after its current iteration.
	VUStateStopping
	// VUStateStopped means the VU's goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated concurrent client. It is owned exclusively
// by the Pool: created on ramp-up, marked Stopping on ramp-down or run
// end, and removed once its in-flight iteration completes.
type VirtualUser struct {
	// ID is unique within the pool.
	ID int

	state      atomic.Int32
	iterations atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

func newVirtualUser(id int) *VirtualUser {
	return &VirtualUser{
		ID:     id,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns how many iterations this VU has started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

// RequestStop asks the VU to exit after its current iteration. The
// in-flight iteration is never aborted; only run-level cancellation does
// that.
func (vu *VirtualUser) RequestStop() {
	for {
		cur := vu.state.Load()
		if VUState(cur) == VUStateStopping || VUState(cur) == VUStateStopped {
			return
		}
		if vu.state.CompareAndSwap(cur, int32(VUStateStopping)) {
			close(vu.stopCh)
			return
		}
	}
}

// Done is closed once the VU goroutine has exited.
func (vu *VirtualUser) Done() <-chan struct{} { return vu.doneCh }

func (vu *VirtualUser) setState(s VUState) {
	// Stopping and Stopped are terminal with respect to Idle/Running.
	for {
		cur := vu.state.Load()
		if VUState(cur) == VUStateStopping || VUState(cur) == VUStateStopped {
			return
		}
		if vu.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}
