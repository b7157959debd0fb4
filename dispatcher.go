package stepsaga

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher runs many work items through the same steps in parallel. Each
// item is driven by its own goroutine; the Coordinator itself stays
// sequential per item.
type Dispatcher[T any] struct {
	coordinator *Coordinator[T]
	parallelism int
	sagaTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. A parallelism below 1 runs one saga
// at a time.
func NewDispatcher[T any](coordinator *Coordinator[T], parallelism int) *Dispatcher[T] {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Dispatcher[T]{
		coordinator: coordinator,
		parallelism: parallelism,
	}
}

// WithSagaTimeout bounds the forward phase of every saga. Once the deadline
// passes, the running step may observe it and the next step fails without
// being called; the saga then compensates.
func (d *Dispatcher[T]) WithSagaTimeout(timeout time.Duration) *Dispatcher[T] {
	d.sagaTimeout = timeout
	return d
}

// Dispatch runs every item and returns the reports in input order.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, steps []Step[T], items []*WorkItem[T]) []*Report[T] {
	reports := make([]*Report[T], len(items))

	g := new(errgroup.Group)
	g.SetLimit(d.parallelism)
	for i, item := range items {
		g.Go(func() error {
			runCtx := ctx
			if d.sagaTimeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(ctx, d.sagaTimeout)
				defer cancel()
			}
			reports[i] = d.coordinator.Execute(runCtx, steps, item)
			return nil
		})
	}
	_ = g.Wait()

	d.coordinator.logger.Info("dispatch finished",
		zap.Int("sagas", len(items)),
		zap.Int("parallelism", d.parallelism))
	return reports
}

// DispatchItems is Dispatch returning only the work items.
func (d *Dispatcher[T]) DispatchItems(ctx context.Context, steps []Step[T], items []*WorkItem[T]) []*WorkItem[T] {
	reports := d.Dispatch(ctx, steps, items)
	out := make([]*WorkItem[T], len(reports))
	for i, r := range reports {
		out[i] = r.Item
	}
	return out
}
