package stepsaga

import (
	"context"
	"fmt"
)

// StepName represents a stable name for a saga Step. It is used in logs,
// failure messages, journal entries and dead-letter records.
type StepName string

// String returns the string representation of the StepName.
func (n StepName) String() string {
	return string(n)
}

// Step represents the building blocks of sagas.
//
// Execute attempts the forward action. Expected business-rule violations
// (insufficient stock, amount over a limit) must be reported as a failed
// StepResult with a nil error. A non-nil error is an unexpected fault; the
// Coordinator treats it exactly like a failed result. A failed Execute must not
// leave any effect that would need compensating.
//
// Compensate reverses the forward effect if and only if one was applied for the
// given work item. When nothing was applied it returns a successful result.
// Compensate may be invoked more than once for the same item and must leave the
// same observable state as a single call.
type Step[T any] interface {
	Execute(ctx context.Context, item *WorkItem[T]) (StepResult, error)
	Compensate(ctx context.Context, item *WorkItem[T]) (StepResult, error)
	Name() StepName
}

// StatusMarker can be implemented by a Step to choose the status the work item
// moves to after the step executes successfully.
type StatusMarker interface {
	CompletedStatus() Status
}

// markerFor returns the status written after step succeeds.
func markerFor[T any](step Step[T]) Status {
	if m, ok := step.(StatusMarker); ok {
		return m.CompletedStatus()
	}
	return defaultMarker(step.Name())
}

// defaultMarker is the status of a step that names none: <NAME>_COMPLETED.
func defaultMarker(name StepName) Status {
	return Status(toUpperSnake(name) + "_COMPLETED")
}

// StepResult is the outcome of a single Execute or Compensate call. It is
// immutable once produced.
type StepResult struct {
	success bool
	step    StepName
	message string
}

// Succeeded returns a successful StepResult for the named step.
func Succeeded(step StepName) StepResult {
	return StepResult{
		success: true,
		step:    step,
		message: fmt.Sprintf("step '%s' completed successfully", step),
	}
}

// Failed returns a failed StepResult carrying a human-readable reason.
func Failed(step StepName, reason string) StepResult {
	return StepResult{
		success: false,
		step:    step,
		message: fmt.Sprintf("step '%s' failed: %s", step, reason),
	}
}

// Failedf is Failed with a formatted reason.
func Failedf(step StepName, format string, args ...any) StepResult {
	return Failed(step, fmt.Sprintf(format, args...))
}

// Success reports whether the step succeeded.
func (r StepResult) Success() bool {
	return r.success
}

// Step returns the name of the step that produced the result.
func (r StepResult) Step() StepName {
	return r.step
}

// Message returns the human-readable diagnostic.
func (r StepResult) Message() string {
	return r.message
}

// String implements the fmt.Stringer interface for StepResult.
func (r StepResult) String() string {
	return r.message
}
