package stepsaga

import (
	"context"
	"fmt"
)

// ExecuteFunc is the forward half of a StepFunc.
type ExecuteFunc[T any] func(ctx context.Context, item *WorkItem[T]) (StepResult, error)

// CompensateFunc is the inverse half of a StepFunc.
type CompensateFunc[T any] func(ctx context.Context, item *WorkItem[T]) (StepResult, error)

// StepFunc is an implementation of Step that uses ordinary functions.
type StepFunc[T any] struct {
	name           StepName
	executeFunc    ExecuteFunc[T]
	compensateFunc CompensateFunc[T]
	marker         Status
}

// NewStepFunc constructs a new StepFunc from a pair of functions.
func NewStepFunc[T any](name StepName, execute ExecuteFunc[T], compensate CompensateFunc[T]) *StepFunc[T] {
	if compensate == nil {
		compensate = NoOpCompensate[T](name)
	}
	return &StepFunc[T]{
		name:           name,
		executeFunc:    execute,
		compensateFunc: compensate,
	}
}

// NoOpCompensate returns a compensate function that always succeeds without
// touching anything. It suits steps with no externally visible effect.
func NoOpCompensate[T any](name StepName) CompensateFunc[T] {
	return func(_ context.Context, _ *WorkItem[T]) (StepResult, error) {
		return Succeeded(name), nil
	}
}

// WithStatus sets the status written after a successful Execute.
func (sf *StepFunc[T]) WithStatus(status Status) *StepFunc[T] {
	sf.marker = status
	return sf
}

// Execute implements the Step interface for StepFunc.
func (sf *StepFunc[T]) Execute(ctx context.Context, item *WorkItem[T]) (StepResult, error) {
	return sf.executeFunc(ctx, item)
}

// Compensate implements the Step interface for StepFunc.
func (sf *StepFunc[T]) Compensate(ctx context.Context, item *WorkItem[T]) (StepResult, error) {
	return sf.compensateFunc(ctx, item)
}

// Name implements the Step interface for StepFunc.
func (sf *StepFunc[T]) Name() StepName {
	return sf.name
}

// CompletedStatus implements StatusMarker. An unset marker falls back to the
// name-derived default.
func (sf *StepFunc[T]) CompletedStatus() Status {
	if sf.marker == "" {
		return defaultMarker(sf.name)
	}
	return sf.marker
}

// String implements the fmt.Stringer interface for StepFunc.
func (sf *StepFunc[T]) String() string {
	return fmt.Sprintf("StepFunc[%s]", sf.name)
}
