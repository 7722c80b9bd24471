package sandbox

import (
	"errors"
	"fmt"
)

// TimeLimitMessage is the diagnostic reported when a run exceeds its timeout.
const TimeLimitMessage = "time limit exceeded"

// Sentinel errors for typed error checking.
var (
	ErrInvalidRequest = errors.New("invalid execution request")
	ErrInfrastructure = errors.New("sandbox infrastructure failure")
	ErrUnsupported    = errors.New("sandboxed execution unsupported on this platform")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// infraError tags err as an infrastructure fault for the given operation.
func infraError(execID, op string, err error) *ExecutionError {
	return &ExecutionError{ExecID: execID, Op: op, Err: fmt.Errorf("%w: %w", ErrInfrastructure, err)}
}

// IsInfrastructure returns true if the error means the sandbox itself failed,
// as opposed to the submitted program misbehaving.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

// IsInvalidRequest returns true if the submission was rejected before running.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}
