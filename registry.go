package stepsaga

import (
	"fmt"
	"sort"

	"github.com/fortressi/stepsaga/set"
	"github.com/puzpuzpuz/xsync/v3"
)

// StepRegistry is a registry of saga steps that can be shared across sagas.
//
// Steps are identified by their StepName. Callers register every capability
// once and then compose an ordered list per run with Resolve, which keeps step
// lists declarative (for example read from configuration or a CLI flag).
type StepRegistry[T any] struct {
	steps *xsync.MapOf[StepName, Step[T]]
}

// NewStepRegistry creates a new StepRegistry.
func NewStepRegistry[T any]() *StepRegistry[T] {
	return &StepRegistry[T]{
		steps: xsync.NewMapOf[StepName, Step[T]](),
	}
}

// Register adds a step to the registry.
func (r *StepRegistry[T]) Register(step Step[T]) error {
	if step == nil {
		return fmt.Errorf("cannot register a nil step")
	}
	if _, loaded := r.steps.LoadOrStore(step.Name(), step); loaded {
		return fmt.Errorf("%w: '%s' already registered", ErrDuplicateStep, step.Name())
	}
	return nil
}

// Get retrieves a step from the registry by its name.
func (r *StepRegistry[T]) Get(name StepName) (Step[T], error) {
	step, ok := r.steps.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrStepNotFound, name)
	}
	return step, nil
}

// Resolve builds an ordered step list from names. A name may appear only once.
func (r *StepRegistry[T]) Resolve(names ...StepName) ([]Step[T], error) {
	seen := set.New[StepName]()
	steps := make([]Step[T], 0, len(names))
	for _, name := range names {
		if !seen.Insert(name) {
			return nil, fmt.Errorf("%w: '%s' listed twice", ErrDuplicateStep, name)
		}
		step, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Names returns the registered step names in lexical order.
func (r *StepRegistry[T]) Names() []StepName {
	names := make([]StepName, 0, r.steps.Size())
	r.steps.Range(func(name StepName, _ Step[T]) bool {
		names = append(names, name)
		return true
	})
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
