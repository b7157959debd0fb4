package stepsaga

import (
	"errors"
	"fmt"
)

var (
	// ErrStepNotFound is returned by StepRegistry when a name is unknown.
	ErrStepNotFound = errors.New("step not found")

	// ErrDuplicateStep is returned when a step name is registered or
	// planned twice.
	ErrDuplicateStep = errors.New("duplicate step")

	// ErrIllegalTransition is returned when a status change would move a
	// work item backwards or out of a terminal status.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrDeadLetterNotFound is returned by dead-letter stores for unknown ids.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// StepError represents an unexpected fault raised by a step.
type StepError struct {
	Step StepName
	error
}

// StepFailed wraps a fault returned by a step's Execute.
func StepFailed(step StepName, err error) error {
	return &StepError{Step: step, error: fmt.Errorf("step '%s' failed: %w", step, err)}
}

// Unwrap returns the underlying fault.
func (e *StepError) Unwrap() error {
	return errors.Unwrap(e.error)
}

// PanicError indicates that a step panicked. The Coordinator recovers the
// panic and treats it as an unexpected fault.
type PanicError struct {
	Step  StepName
	Value any
}

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("step '%s' panicked: %v", e.Step, e.Value)
}

// CompensationError represents a compensate call that still failed after
// every retry attempt.
type CompensationError struct {
	Step     StepName
	Attempts int
	error
}

// CompensationFailed wraps the last compensation failure for step.
func CompensationFailed(step StepName, attempts int, err error) error {
	return &CompensationError{
		Step:     step,
		Attempts: attempts,
		error:    fmt.Errorf("compensation of step '%s' failed after %d attempt(s): %w", step, attempts, err),
	}
}

// Unwrap returns the last compensation failure.
func (e *CompensationError) Unwrap() error {
	return errors.Unwrap(e.error)
}

// errFailedResult turns a failed StepResult into an error so that reported
// failures and faults travel the same path.
type errFailedResult struct {
	result StepResult
}

func (e errFailedResult) Error() string {
	return e.result.Message()
}

// failureReason returns the human-readable reason recorded on the work item.
func failureReason(step StepName, result StepResult, err error) string {
	if err == nil {
		return result.Message()
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Error()
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return panicErr.Error()
	}
	return fmt.Sprintf("step '%s' failed: %v", step, err)
}
