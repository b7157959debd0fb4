package stepsaga

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusStarted is the state of a LinearOrchestrator before any stage is
// reached.
const StatusStarted Status = "STARTED"

// Precondition reports whether a stage may be reached for the given id.
type Precondition func(ctx context.Context, id uuid.UUID) bool

// CompensationHook undoes everything a linear run may have done. It is
// called at most once per run.
type CompensationHook func(ctx context.Context, id uuid.UUID)

// Stage is one named step of a LinearOrchestrator.
type Stage struct {
	Name    string
	Reached Status
	Check   Precondition

	// Message is logged when the stage is reached.
	Message string
}

// LinearOrchestrator walks a fixed sequence of stages guarded by boolean
// preconditions. Unlike the Coordinator it keeps no per-stage undo stack: the
// first failed precondition triggers a single compensation hook and the run
// ends FAILED.
//
// Execute may be called concurrently; each call returns its own outcome.
// State is shared by all runs and only meaningful with one run at a time.
type LinearOrchestrator struct {
	name   string
	stages []Stage
	hook   CompensationHook
	logger *zap.Logger

	mu    sync.RWMutex
	state Status
}

// NewLinearOrchestrator creates an orchestrator. Only WithLogger applies.
func NewLinearOrchestrator(name string, stages []Stage, hook CompensationHook, opts ...Option) *LinearOrchestrator {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &LinearOrchestrator{
		name:   name,
		stages: stages,
		hook:   hook,
		logger: o.logger,
		state:  StatusStarted,
	}
}

// Execute runs every stage for id and returns COMPLETED or FAILED.
func (l *LinearOrchestrator) Execute(ctx context.Context, id uuid.UUID) Status {
	log := l.logger.With(zap.String("orchestration", l.name), zap.Stringer("id", id))
	l.setState(StatusStarted)
	log.Info("starting orchestration")

	for _, stage := range l.stages {
		if stage.Check != nil && !stage.Check(ctx, id) {
			log.Error("orchestration failed", zap.String("stage", stage.Name))
			log.Warn("compensating transaction")
			if l.hook != nil {
				l.hook(context.WithoutCancel(ctx), id)
			}
			l.setState(StatusFailed)
			return StatusFailed
		}
		l.setState(stage.Reached)
		msg := stage.Message
		if msg == "" {
			msg = "stage reached"
		}
		log.Info(msg, zap.String("stage", stage.Name), zap.Stringer("state", stage.Reached))
	}

	l.setState(StatusCompleted)
	log.Info("orchestration completed successfully")
	return StatusCompleted
}

// State returns the state last written by any run. With concurrent runs use
// the status Execute returns instead.
func (l *LinearOrchestrator) State() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *LinearOrchestrator) setState(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}
