package stepsaga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	metrics     Metrics
	policy      RetryPolicy
	deadLetters DeadLetterStore
	stepTimeout time.Duration
}

// WithLogger sets the logger used for run, step and compensation events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithCompensationPolicy sets the retry policy applied to each compensate call.
func WithCompensationPolicy(policy RetryPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithDeadLetterStore sets where exhausted compensations are recorded.
func WithDeadLetterStore(store DeadLetterStore) Option {
	return func(o *options) {
		if store != nil {
			o.deadLetters = store
		}
	}
}

// WithStepTimeout bounds every Execute and Compensate call. Zero disables it.
func WithStepTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.stepTimeout = timeout
	}
}

// Coordinator drives a work item through an ordered list of steps. On the
// first failure it compensates every step that succeeded, most recent first.
//
// A Coordinator holds no per-run state and may be shared by concurrent runs
// as long as each run has its own WorkItem.
type Coordinator[T any] struct {
	options
}

// NewCoordinator creates a Coordinator. Without options it logs nothing,
// records no metrics, keeps dead letters in memory and retries each
// compensation with DefaultRetryPolicy.
func NewCoordinator[T any](opts ...Option) *Coordinator[T] {
	o := options{
		logger:      zap.NewNop(),
		metrics:     NopMetrics{},
		policy:      DefaultRetryPolicy(),
		deadLetters: NewMemoryDeadLetterStore(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.policy = o.policy.normalized()
	return &Coordinator[T]{options: o}
}

// DeadLetters returns the store exhausted compensations are written to.
func (c *Coordinator[T]) DeadLetters() DeadLetterStore {
	return c.deadLetters
}

// Report describes a finished run.
type Report[T any] struct {
	Item    *WorkItem[T]
	Journal *Journal

	// DeadLetters holds the records written for compensations that failed
	// on every attempt during this run.
	DeadLetters []DeadLetter

	// CompensationFaults counts compensations that could not be completed.
	CompensationFaults int

	// Err is set when the run was refused because the item was not PENDING.
	// No step ran and the item is unchanged.
	Err error

	Elapsed time.Duration
}

// Partial reports whether some compensation was given up on. The item still
// ends in COMPENSATION_COMPLETED; the dead letters say what is left to undo.
func (r *Report[T]) Partial() bool {
	return r.CompensationFaults > 0
}

// runState is the state of a single run. The executed log is discarded with it.
type runState[T any] struct {
	item     *WorkItem[T]
	journal  *Journal
	executed []executedStep[T]
	log      *zap.Logger
	report   *Report[T]
}

// Run executes steps in order against item and returns it in a terminal
// status. Run never returns an error: step failures, faults and panics all
// end in compensation. An item that is not PENDING is returned unchanged;
// Execute reports why in Report.Err.
func (c *Coordinator[T]) Run(ctx context.Context, steps []Step[T], item *WorkItem[T]) *WorkItem[T] {
	return c.Execute(ctx, steps, item).Item
}

// Execute is Run, additionally returning the run's journal and any dead
// letters written while compensating.
func (c *Coordinator[T]) Execute(ctx context.Context, steps []Step[T], item *WorkItem[T]) *Report[T] {
	start := time.Now()
	run := &runState[T]{
		item:    item,
		journal: NewJournal(item.ID),
		log:     c.logger.With(zap.Stringer("work_item", item.ID)),
	}
	run.report = &Report[T]{Item: item, Journal: run.journal}

	if status := item.Status(); status != StatusPending {
		run.report.Err = fmt.Errorf("%w: work item is %s, a run needs %s", ErrIllegalTransition, status, StatusPending)
		run.log.Error("saga run refused", zap.Stringer("status", status), zap.Error(run.report.Err))
		return run.report
	}

	c.metrics.RunStarted()
	run.log.Info("starting saga", zap.Int("steps", len(steps)))

	failed := c.forward(ctx, steps, run)

	switch {
	case !failed:
		c.transition(run, StatusCompleted)
		run.log.Info("saga completed successfully")
	case len(run.executed) == 0:
		c.transition(run, StatusFailed)
		run.log.Warn("saga failed with nothing to compensate", zap.String("reason", item.FailureReason()))
	default:
		run.log.Warn("saga step failed, starting compensation",
			zap.String("reason", item.FailureReason()),
			zap.Int("to_compensate", len(run.executed)))
		c.transition(run, StatusCompensating)
		c.compensate(ctx, run)
		c.transition(run, StatusCompensationCompleted)
		if run.report.Partial() {
			run.log.Error("saga compensation finished with faults", zap.Int("faults", run.report.CompensationFaults))
		} else {
			run.log.Info("saga compensation completed")
		}
	}

	run.report.Elapsed = time.Since(start)
	c.metrics.RunFinished(item.Status(), run.report.Elapsed)
	return run.report
}

// forward runs steps until one fails and reports whether one did. Each
// success is prepended to the executed log. Once ctx is done the next step
// fails with the context error without being called.
func (c *Coordinator[T]) forward(ctx context.Context, steps []Step[T], run *runState[T]) bool {
	for i, step := range steps {
		position := i + 1
		name := step.Name()
		log := run.log.With(zap.Stringer("step", name), zap.Int("position", position))

		c.record(run, Event{Position: position, Step: name, Kind: EventStarted})

		start := time.Now()
		var result StepResult
		err := ctx.Err()
		if err == nil {
			log.Info("executing saga step")
			result, err = c.invoke(ctx, step, run.item, step.Execute)
		}
		if err != nil {
			if _, ok := err.(*PanicError); !ok {
				err = StepFailed(name, err)
			}
		}
		ok := err == nil && result.Success()
		c.metrics.StepExecuted(name, ok, time.Since(start))

		if !ok {
			reason := failureReason(name, result, err)
			run.item.fail(reason)
			c.record(run, Event{Position: position, Step: name, Kind: EventFailed, Message: reason})
			log.Warn("saga step failed", zap.String("reason", reason))
			return true
		}

		c.record(run, Event{Position: position, Step: name, Kind: EventSucceeded})
		run.executed = append([]executedStep[T]{{position: position, step: step}}, run.executed...)

		marker := markerFor(step)
		if marker.phase() != phaseProgress {
			log.Warn("ignoring reserved status marker", zap.Stringer("marker", marker))
		} else {
			c.transition(run, marker)
		}
		log.Debug("saga step succeeded", zap.String("message", result.Message()))
	}
	return false
}

// invoke calls fn with the configured step timeout and converts a panic into
// a PanicError.
func (c *Coordinator[T]) invoke(
	ctx context.Context,
	step Step[T],
	item *WorkItem[T],
	fn func(context.Context, *WorkItem[T]) (StepResult, error),
) (result StepResult, err error) {
	if c.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stepTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			result = Failed(step.Name(), fmt.Sprint(r))
			err = &PanicError{Step: step.Name(), Value: r}
		}
	}()
	return fn(ctx, item)
}

func (c *Coordinator[T]) transition(run *runState[T], next Status) {
	from := run.item.Status()
	if err := run.item.advance(next); err != nil {
		run.log.Error("status transition refused", zap.Error(err))
		return
	}
	run.log.Debug("status changed", zap.Stringer("from", from), zap.Stringer("to", next))
}

func (c *Coordinator[T]) record(run *runState[T], event Event) {
	if err := run.journal.Record(event); err != nil {
		run.log.Error("journal rejected event", zap.Stringer("event", event), zap.Error(err))
	}
}
