package stepsaga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryPolicy bounds how often a single compensate call is attempted before
// the Coordinator gives up on it and writes a dead letter.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 50ms
// to 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}
}

// NoRetry makes exactly one compensate attempt per step.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	return b
}

// String implements the fmt.Stringer interface for RetryPolicy.
func (p RetryPolicy) String() string {
	return fmt.Sprintf("attempts=%d initial=%s max=%s multiplier=%.1f",
		p.MaxAttempts, p.InitialInterval, p.MaxInterval, p.Multiplier)
}

// executedStep is one entry of the executed step log.
type executedStep[T any] struct {
	position int
	step     Step[T]
}

// compensate walks the executed log from its head, which is the most recently
// succeeded step. A compensation that fails on every attempt is dead-lettered
// and the walk continues with the next entry.
func (c *Coordinator[T]) compensate(ctx context.Context, run *runState[T]) {
	// The sweep must visit every entry even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	for _, entry := range run.executed {
		name := entry.step.Name()
		log := run.log.With(zap.Stringer("step", name), zap.Int("position", entry.position))

		c.record(run, Event{Position: entry.position, Step: name, Kind: EventUndoStarted})
		log.Info("compensating step")

		start := time.Now()
		attempts, err := c.compensateWithRetry(ctx, entry.step, run.item, log)
		c.metrics.StepCompensated(name, err == nil, attempts, time.Since(start))

		if err == nil {
			c.record(run, Event{Position: entry.position, Step: name, Kind: EventUndoFinished, Attempts: attempts})
			log.Info("step compensated", zap.Int("attempts", attempts))
			continue
		}

		fault := CompensationFailed(name, attempts, err)
		run.report.CompensationFaults++
		c.record(run, Event{
			Position: entry.position,
			Step:     name,
			Kind:     EventUndoFailed,
			Attempts: attempts,
			Message:  err.Error(),
		})
		log.Error("compensation failed", zap.Error(fault))

		letter := NewDeadLetter(run.item.ID, name, entry.position, attempts, err, run.item.FailureReason())
		if putErr := c.deadLetters.Put(ctx, letter); putErr != nil {
			log.Error("failed to store dead letter", zap.Stringer("dead_letter", letter.ID), zap.Error(putErr))
			continue
		}
		c.metrics.DeadLettered(name)
		run.report.DeadLetters = append(run.report.DeadLetters, letter)
		log.Warn("compensation dead-lettered", zap.Stringer("dead_letter", letter.ID))
	}
}

// compensateWithRetry calls Compensate until it succeeds or the policy is
// exhausted, and returns the number of attempts made.
func (c *Coordinator[T]) compensateWithRetry(ctx context.Context, step Step[T], item *WorkItem[T], log *zap.Logger) (int, error) {
	attempts := 0
	operation := func() (StepResult, error) {
		attempts++
		result, err := c.invoke(ctx, step, item, step.Compensate)
		if err != nil {
			return result, err
		}
		if !result.Success() {
			return result, errFailedResult{result: result}
		}
		return result, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.policy.backOff()),
		backoff.WithMaxTries(uint(c.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Debug("retrying compensation", zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	if err != nil {
		var failed errFailedResult
		if errors.As(err, &failed) {
			return attempts, failed
		}
		return attempts, err
	}
	return attempts, nil
}
