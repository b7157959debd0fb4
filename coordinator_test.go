package stepsaga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testOrder struct {
	Sku string
}

// callLog records Execute and Compensate calls across steps.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.all() {
		if c == call {
			n++
		}
	}
	return n
}

func recordingStep(log *callLog, name StepName, fail bool) *StepFunc[testOrder] {
	return NewStepFunc[testOrder](name,
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			log.add("execute:" + name.String())
			if fail {
				return Failed(name, "rejected"), nil
			}
			return Succeeded(name), nil
		},
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			log.add("compensate:" + name.String())
			return Succeeded(name), nil
		},
	)
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func newItem() *WorkItem[testOrder] {
	return Submit(testOrder{Sku: "PROD-001"})
}

func TestEmptyStepListCompletes(t *testing.T) {
	c := NewCoordinator[testOrder]()
	item := newItem()

	report := c.Execute(context.Background(), nil, item)

	assert.Same(t, item, report.Item)
	assert.Equal(t, StatusCompleted, item.Status())
	assert.Empty(t, report.Journal.Events())
	assert.Empty(t, report.Journal.Compensated())
	assert.False(t, report.Partial())
}

func TestAllStepsSucceed(t *testing.T) {
	log := &callLog{}
	c := NewCoordinator[testOrder]()
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false),
		recordingStep(log, "charge", false),
		recordingStep(log, "fulfill", false),
	}
	item := newItem()

	got := c.Run(context.Background(), steps, item)

	assert.Same(t, item, got)
	assert.Equal(t, StatusCompleted, item.Status())
	assert.Empty(t, item.FailureReason())
	assert.Equal(t, []string{"execute:reserve", "execute:charge", "execute:fulfill"}, log.all())
}

func TestStatusMarkersAdvanceWithEachStep(t *testing.T) {
	var seen []Status
	observe := func(name StepName) *StepFunc[testOrder] {
		return NewStepFunc[testOrder](name,
			func(_ context.Context, item *WorkItem[testOrder]) (StepResult, error) {
				seen = append(seen, item.Status())
				return Succeeded(name), nil
			}, nil)
	}
	steps := []Step[testOrder]{
		observe("reserve"),
		observe("charge").WithStatus("PAYMENT_COMPLETED"),
		observe("fulfill"),
	}
	item := newItem()

	NewCoordinator[testOrder]().Run(context.Background(), steps, item)

	assert.Equal(t, []Status{StatusPending, "RESERVE_COMPLETED", "PAYMENT_COMPLETED"}, seen)
	assert.Equal(t, StatusCompleted, item.Status())
}

func TestCompensationIsLIFOForEveryFailurePosition(t *testing.T) {
	names := []StepName{"first", "second", "third", "fourth"}

	for failAt := range names {
		t.Run(fmt.Sprintf("fail at %s", names[failAt]), func(t *testing.T) {
			log := &callLog{}
			steps := make([]Step[testOrder], 0, len(names))
			for i, name := range names {
				steps = append(steps, recordingStep(log, name, i == failAt))
			}
			item := newItem()

			report := NewCoordinator[testOrder]().Execute(context.Background(), steps, item)

			var want []string
			for i := 0; i <= failAt; i++ {
				want = append(want, "execute:"+names[i].String())
			}
			var compensated []StepName
			for i := failAt - 1; i >= 0; i-- {
				want = append(want, "compensate:"+names[i].String())
				compensated = append(compensated, names[i])
			}
			assert.Equal(t, want, log.all())
			assert.Equal(t, compensated, report.Journal.Compensated())
			assert.Equal(t, fmt.Sprintf("step '%s' failed: rejected", names[failAt]), item.FailureReason())

			if failAt == 0 {
				assert.Equal(t, StatusFailed, item.Status())
			} else {
				assert.Equal(t, StatusCompensationCompleted, item.Status())
			}
		})
	}
}

func TestFailureStopsForwardPhase(t *testing.T) {
	log := &callLog{}
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false),
		recordingStep(log, "charge", true),
		recordingStep(log, "fulfill", false),
	}
	item := newItem()

	NewCoordinator[testOrder]().Run(context.Background(), steps, item)

	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Equal(t, 1, log.count("compensate:reserve"))
	assert.Zero(t, log.count("execute:fulfill"))
	assert.Zero(t, log.count("compensate:charge"))
	assert.Zero(t, log.count("compensate:fulfill"))
}

func TestExecuteErrorIsTreatedAsFailure(t *testing.T) {
	log := &callLog{}
	faulty := NewStepFunc[testOrder]("charge",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			return StepResult{}, errors.New("connection reset")
		}, nil)
	steps := []Step[testOrder]{recordingStep(log, "reserve", false), faulty}
	item := newItem()

	NewCoordinator[testOrder]().Run(context.Background(), steps, item)

	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Equal(t, "step 'charge' failed: connection reset", item.FailureReason())
	assert.Equal(t, 1, log.count("compensate:reserve"))
}

func TestExecutePanicIsTreatedAsFailure(t *testing.T) {
	log := &callLog{}
	panicky := NewStepFunc[testOrder]("charge",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			panic("nil gateway")
		}, nil)
	steps := []Step[testOrder]{recordingStep(log, "reserve", false), panicky}
	item := newItem()

	report := NewCoordinator[testOrder]().Execute(context.Background(), steps, item)

	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Equal(t, "step 'charge' panicked: nil gateway", item.FailureReason())
	assert.Equal(t, 1, log.count("compensate:reserve"))
	assert.Equal(t, []StepName{"reserve"}, report.Journal.Executed())
}

func TestCompensationRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	flaky := NewStepFunc[testOrder]("reserve",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			return Succeeded("reserve"), nil
		},
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			attempts++
			if attempts < 2 {
				return Failed("reserve", "ledger busy"), nil
			}
			return Succeeded("reserve"), nil
		})
	log := &callLog{}
	steps := []Step[testOrder]{flaky, recordingStep(log, "charge", true)}
	store := NewMemoryDeadLetterStore()
	item := newItem()

	report := NewCoordinator[testOrder](
		WithCompensationPolicy(fastRetry(3)),
		WithDeadLetterStore(store),
	).Execute(context.Background(), steps, item)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.False(t, report.Partial())
	assert.Empty(t, report.DeadLetters)

	letters, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, letters)

	events := report.Journal.Events()
	last := events[len(events)-1]
	assert.Equal(t, EventUndoFinished, last.Kind)
	assert.Equal(t, 2, last.Attempts)
}

func TestExhaustedCompensationIsDeadLetteredAndSweepContinues(t *testing.T) {
	log := &callLog{}
	attempts := 0
	stuck := NewStepFunc[testOrder]("charge",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			return Succeeded("charge"), nil
		},
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			attempts++
			return StepResult{}, errors.New("gateway unavailable")
		})
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false),
		stuck,
		recordingStep(log, "fulfill", true),
	}
	store := NewMemoryDeadLetterStore()
	registry := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(DefaultPrometheusConfig(), registry)
	require.NoError(t, err)
	item := newItem()

	report := NewCoordinator[testOrder](
		WithCompensationPolicy(fastRetry(3)),
		WithDeadLetterStore(store),
		WithMetrics(metrics),
	).Execute(context.Background(), steps, item)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Equal(t, 1, log.count("compensate:reserve"))
	assert.True(t, report.Partial())
	assert.Equal(t, 1, report.CompensationFaults)
	assert.Equal(t, []StepName{"charge", "reserve"}, report.Journal.Compensated())

	require.Len(t, report.DeadLetters, 1)
	letter := report.DeadLetters[0]
	assert.Equal(t, item.ID, letter.WorkItemID)
	assert.Equal(t, StepName("charge"), letter.Step)
	assert.Equal(t, 2, letter.Position)
	assert.Equal(t, 3, letter.Attempts)
	assert.Equal(t, "gateway unavailable", letter.LastError)
	assert.Equal(t, "step 'fulfill' failed: rejected", letter.FailureReason)

	stored, err := store.Get(context.Background(), letter.ID)
	require.NoError(t, err)
	assert.Equal(t, letter.ID, stored.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.deadLetters.WithLabelValues("charge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.compensations.WithLabelValues("charge", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.compensations.WithLabelValues("reserve", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runsFinished.WithLabelValues(string(StatusCompensationCompleted))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.runsInFlight))
}

func TestNoRetryMakesSingleAttempt(t *testing.T) {
	attempts := 0
	stuck := NewStepFunc[testOrder]("reserve",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			return Succeeded("reserve"), nil
		},
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			attempts++
			return Failed("reserve", "still locked"), nil
		})
	log := &callLog{}
	item := newItem()

	report := NewCoordinator[testOrder](WithCompensationPolicy(NoRetry())).
		Execute(context.Background(), []Step[testOrder]{stuck, recordingStep(log, "charge", true)}, item)

	assert.Equal(t, 1, attempts)
	require.Len(t, report.DeadLetters, 1)
	assert.Equal(t, "step 'reserve' failed: still locked", report.DeadLetters[0].LastError)
}

func TestCompensationPanicIsRecovered(t *testing.T) {
	log := &callLog{}
	panicky := NewStepFunc[testOrder]("charge",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			return Succeeded("charge"), nil
		},
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			panic("double refund")
		})
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false),
		panicky,
		recordingStep(log, "fulfill", true),
	}
	item := newItem()

	report := NewCoordinator[testOrder](WithCompensationPolicy(fastRetry(2))).
		Execute(context.Background(), steps, item)

	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Equal(t, 1, log.count("compensate:reserve"))
	require.Len(t, report.DeadLetters, 1)
	assert.Equal(t, "step 'charge' panicked: double refund", report.DeadLetters[0].LastError)
}

func TestDeadLetterStoreFailureDoesNotStopSweep(t *testing.T) {
	log := &callLog{}
	stuck := NewStepFunc[testOrder]("charge",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			return Succeeded("charge"), nil
		},
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			return Failed("charge", "no"), nil
		})
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false),
		stuck,
		recordingStep(log, "fulfill", true),
	}
	item := newItem()

	report := NewCoordinator[testOrder](
		WithCompensationPolicy(NoRetry()),
		WithDeadLetterStore(brokenStore{}),
	).Execute(context.Background(), steps, item)

	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Equal(t, 1, log.count("compensate:reserve"))
	assert.Equal(t, 1, report.CompensationFaults)
	assert.Empty(t, report.DeadLetters)
}

func TestCompensationIgnoresCallerCancellation(t *testing.T) {
	var compensateErr error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reserve := NewStepFunc[testOrder]("reserve",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			cancel()
			return Succeeded("reserve"), nil
		},
		func(ctx context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			compensateErr = ctx.Err()
			return Succeeded("reserve"), nil
		})
	charge := NewStepFunc[testOrder]("charge",
		func(ctx context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			return StepResult{}, ctx.Err()
		}, nil)
	item := newItem()

	NewCoordinator[testOrder]().Run(ctx, []Step[testOrder]{reserve, charge}, item)

	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Contains(t, item.FailureReason(), context.Canceled.Error())
	assert.NoError(t, compensateErr)
}

func TestStepTimeoutFailsSlowStep(t *testing.T) {
	log := &callLog{}
	slow := NewStepFunc[testOrder]("charge",
		func(ctx context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			select {
			case <-ctx.Done():
				return StepResult{}, ctx.Err()
			case <-time.After(time.Second):
				return Succeeded("charge"), nil
			}
		}, nil)
	item := newItem()

	NewCoordinator[testOrder](WithStepTimeout(10*time.Millisecond)).
		Run(context.Background(), []Step[testOrder]{recordingStep(log, "reserve", false), slow}, item)

	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Contains(t, item.FailureReason(), context.DeadlineExceeded.Error())
	assert.Equal(t, 1, log.count("compensate:reserve"))
}

func TestLateSuccessIsKept(t *testing.T) {
	late := NewStepFunc[testOrder]("reserve",
		func(ctx context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			<-ctx.Done()
			return Succeeded("reserve"), nil
		}, nil)
	item := newItem()

	NewCoordinator[testOrder](WithStepTimeout(5*time.Millisecond)).
		Run(context.Background(), []Step[testOrder]{late}, item)

	assert.Equal(t, StatusCompleted, item.Status())
}

func TestReservedMarkerIsIgnored(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := &callLog{}
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false).WithStatus(StatusCompleted),
		recordingStep(log, "charge", false),
	}
	item := newItem()

	NewCoordinator[testOrder](WithLogger(zap.New(core))).Run(context.Background(), steps, item)

	assert.Equal(t, StatusCompleted, item.Status())
	assert.Equal(t, 1, logs.FilterMessage("ignoring reserved status marker").Len())
}

func TestRunLogsLifecycle(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := &callLog{}
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false),
		recordingStep(log, "charge", false),
		recordingStep(log, "fulfill", true),
	}
	item := newItem()

	NewCoordinator[testOrder](WithLogger(zap.New(core))).Run(context.Background(), steps, item)

	assert.Equal(t, 3, logs.FilterMessage("executing saga step").Len())
	assert.Equal(t, 2, logs.FilterMessage("compensating step").Len())
	assert.Equal(t, 2, logs.FilterMessage("step compensated").Len())

	failed := logs.FilterMessage("saga step failed, starting compensation").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Equal(t, "step 'fulfill' failed: rejected", failed[0].ContextMap()["reason"])
	assert.Equal(t, item.ID.String(), failed[0].ContextMap()["work_item"])

	assert.Equal(t, 1, logs.FilterMessage("saga compensation completed").Len())
	assert.Zero(t, logs.FilterMessage("saga completed successfully").Len())
}

func TestCoordinatorIsSafeForConcurrentRuns(t *testing.T) {
	c := NewCoordinator[testOrder]()
	log := &callLog{}
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false),
		recordingStep(log, "charge", false),
	}

	var wg sync.WaitGroup
	items := make([]*WorkItem[testOrder], 20)
	for i := range items {
		items[i] = newItem()
		wg.Add(1)
		go func(item *WorkItem[testOrder]) {
			defer wg.Done()
			c.Run(context.Background(), steps, item)
		}(items[i])
	}
	wg.Wait()

	for _, item := range items {
		assert.Equal(t, StatusCompleted, item.Status())
	}
	assert.Equal(t, 20, log.count("execute:charge"))
}

type brokenStore struct{}

func (brokenStore) Put(context.Context, DeadLetter) error { return errors.New("disk full") }

func (brokenStore) Get(context.Context, uuid.UUID) (*DeadLetter, error) {
	return nil, ErrDeadLetterNotFound
}

func (brokenStore) List(context.Context) ([]DeadLetter, error) { return nil, nil }

func (brokenStore) Delete(context.Context, uuid.UUID) error { return nil }

func TestDoneContextStopsStepsThatIgnoreIt(t *testing.T) {
	log := &callLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := NewStepFunc[testOrder]("reserve",
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			log.add("execute:reserve")
			cancel()
			return Succeeded("reserve"), nil
		},
		func(_ context.Context, _ *WorkItem[testOrder]) (StepResult, error) {
			log.add("compensate:reserve")
			return Succeeded("reserve"), nil
		})
	item := newItem()

	report := NewCoordinator[testOrder]().Execute(ctx, []Step[testOrder]{
		cancelling,
		recordingStep(log, "charge", false),
		recordingStep(log, "ship", false),
	}, item)

	assert.Equal(t, StatusCompensationCompleted, item.Status())
	assert.Equal(t, "step 'charge' failed: context canceled", item.FailureReason())
	assert.Equal(t, []string{"execute:reserve", "compensate:reserve"}, log.all())
	assert.Equal(t, []StepName{"reserve"}, report.Journal.Executed())
}

func TestExpiredDeadlineFailsFirstStep(t *testing.T) {
	log := &callLog{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	item := newItem()

	NewCoordinator[testOrder]().Run(ctx, []Step[testOrder]{recordingStep(log, "reserve", false)}, item)

	assert.Equal(t, StatusFailed, item.Status())
	assert.Equal(t, "step 'reserve' failed: context deadline exceeded", item.FailureReason())
	assert.Empty(t, log.all())
}

func TestFinishedItemIsNotRunAgain(t *testing.T) {
	log := &callLog{}
	c := NewCoordinator[testOrder]()
	item := newItem()
	c.Run(context.Background(), []Step[testOrder]{recordingStep(log, "reserve", false)}, item)
	require.Equal(t, StatusCompleted, item.Status())
	updated := item.UpdatedAt()

	report := c.Execute(context.Background(), []Step[testOrder]{
		recordingStep(log, "charge", false),
		recordingStep(log, "ship", true),
	}, item)

	require.Error(t, report.Err)
	assert.ErrorIs(t, report.Err, ErrIllegalTransition)
	assert.Same(t, item, report.Item)
	assert.Equal(t, StatusCompleted, item.Status())
	assert.Empty(t, item.FailureReason())
	assert.Equal(t, updated, item.UpdatedAt())
	assert.Equal(t, []string{"execute:reserve"}, log.all())
	assert.Empty(t, report.Journal.Events())
}
