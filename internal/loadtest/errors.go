package loadtest

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an iteration failed.
type ErrorKind int

const (
	// ErrorKindIteration covers network failures, failed user code and any
	// other error returned by the scenario.
	ErrorKindIteration ErrorKind = iota
	// ErrorKindTimeout marks an iteration that exceeded its configured bound.
	ErrorKindTimeout
	// ErrorKindPanic marks a panic recovered from inside the scenario.
	ErrorKindPanic
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindIteration:
		return "iteration"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// IterationError is the failure record of a single iteration. It is
// always recovered at the iteration executor boundary and never
// propagates to the virtual user pool or the run coordinator.
type IterationError struct {
	Kind ErrorKind
	Err  error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("iteration failed (%s): %v", e.Kind, e.Err)
}

func (e *IterationError) Unwrap() error { return e.Err }

// ErrAborted is the cause recorded when a fail-fast threshold stops the
// run early.
var ErrAborted = errors.New("run aborted by failing threshold")
