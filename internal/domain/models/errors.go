package models

import (
	"errors"
	"fmt"
)

// Store-level sentinel errors.
var (
	// ErrSignalNotFound is returned when no signal exists for an id or key.
	ErrSignalNotFound = errors.New("signal not found")
	// ErrDuplicateSignal is returned by Create when the idempotency key is
	// already taken by a non-terminal signal.
	ErrDuplicateSignal = errors.New("duplicate idempotency key")
	// ErrFencingConflict marks a writeback carrying a stale fencing token.
	// It is discarded and logged, never surfaced to a user.
	ErrFencingConflict = errors.New("stale fencing token")
	// ErrTerminalStatus marks an update against an already-terminal signal.
	ErrTerminalStatus = errors.New("signal is terminal")
	// ErrInvalidTransition marks a status change off the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStaleSignal marks a signal whose TTL elapsed before dispatch.
	ErrStaleSignal = errors.New("signal ttl exceeded")
	// ErrNodeNotFound is returned for an unknown scheduler node id.
	ErrNodeNotFound = errors.New("node not found")
)

// ErrClass classifies broker execution failures.
type ErrClass int

const (
	// ClassTransient errors (timeout, rate limit) are retried with backoff.
	ClassTransient ErrClass = iota
	// ClassPermanent errors (invalid instrument, insufficient margin)
	// terminate the signal immediately.
	ClassPermanent
	// ClassUnknown errors are treated as transient with a reduced retry
	// budget, so they neither loop forever nor vanish silently.
	ClassUnknown
)

func (c ErrClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ExecError is a classified broker execution error. Every broker adapter
// maps native errors into exactly one class.
type ExecError struct {
	Class  ErrClass
	Reason string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Reason, e.Class, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Reason, e.Class)
}

func (e *ExecError) Unwrap() error { return e.Err }

// TransientExecError wraps err as a retryable execution failure.
func TransientExecError(reason string, err error) *ExecError {
	return &ExecError{Class: ClassTransient, Reason: reason, Err: err}
}

// PermanentExecError wraps err as a non-retryable execution failure.
func PermanentExecError(reason string, err error) *ExecError {
	return &ExecError{Class: ClassPermanent, Reason: reason, Err: err}
}

// UnknownExecError wraps an unclassifiable failure.
func UnknownExecError(reason string, err error) *ExecError {
	return &ExecError{Class: ClassUnknown, Reason: reason, Err: err}
}

// ClassifyExecError extracts the class of a broker error. Errors that are
// not ExecError at any wrap depth classify as unknown.
func ClassifyExecError(err error) ErrClass {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Class
	}
	return ClassUnknown
}
