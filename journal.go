package stepsaga

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// EventKind defines the types of events recorded for a step during a run.
type EventKind int

const (
	EventStarted EventKind = iota
	EventSucceeded
	EventFailed
	EventUndoStarted
	EventUndoFinished
	EventUndoFailed
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventUndoStarted:
		return "undo_started"
	case EventUndoFinished:
		return "undo_finished"
	case EventUndoFailed:
		return "undo_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalJSON implements the json.Marshaler interface for EventKind.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Event is one entry in a Journal.
type Event struct {
	Position int       `json:"position"`
	Step     StepName  `json:"step"`
	Kind     EventKind `json:"kind"`
	Attempts int       `json:"attempts,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// String implements the fmt.Stringer interface for Event.
func (e Event) String() string {
	s := fmt.Sprintf("S%03d %-16s %s", e.Position, e.Step, e.Kind)
	if e.Attempts > 1 {
		s += fmt.Sprintf(" (attempts=%d)", e.Attempts)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// stepStatus is the status of a single step position within a run.
type stepStatus int

const (
	stepNeverStarted stepStatus = iota
	stepStarted
	stepSucceeded
	stepFailed
	stepUndoStarted
	stepUndoFinished
	stepUndoFailed
)

// String returns the string representation of the stepStatus.
func (s stepStatus) String() string {
	switch s {
	case stepNeverStarted:
		return "NeverStarted"
	case stepStarted:
		return "Started"
	case stepSucceeded:
		return "Succeeded"
	case stepFailed:
		return "Failed"
	case stepUndoStarted:
		return "UndoStarted"
	case stepUndoFinished:
		return "UndoFinished"
	case stepUndoFailed:
		return "UndoFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// nextStatus returns the new status for a step after recording the given event.
func (s stepStatus) nextStatus(kind EventKind) (stepStatus, error) {
	switch s {
	case stepNeverStarted:
		if kind == EventStarted {
			return stepStarted, nil
		}
	case stepStarted:
		switch kind {
		case EventSucceeded:
			return stepSucceeded, nil
		case EventFailed:
			return stepFailed, nil
		}
	case stepSucceeded:
		if kind == EventUndoStarted {
			return stepUndoStarted, nil
		}
	case stepUndoStarted:
		switch kind {
		case EventUndoFinished:
			return stepUndoFinished, nil
		case EventUndoFailed:
			return stepUndoFailed, nil
		}
	}
	return s, fmt.Errorf("illegal event %s for step status %s", kind, s)
}

// Journal is the append-only event log of one saga run. It records what the
// Coordinator did, in order, and is discarded with the run's Report.
type Journal struct {
	mu        sync.Mutex
	itemID    uuid.UUID
	unwinding bool
	events    []Event
	status    btree.Map[int, stepStatus]
}

// NewJournal creates an empty Journal for the given work item.
func NewJournal(itemID uuid.UUID) *Journal {
	return &Journal{
		itemID: itemID,
		events: make([]Event, 0),
	}
}

// Record adds an event to the Journal after checking it is legal for the
// step's current status.
func (j *Journal) Record(event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	current, _ := j.status.Get(event.Position)
	next, err := current.nextStatus(event.Kind)
	if err != nil {
		return fmt.Errorf("step %d (%s): %w", event.Position, event.Step, err)
	}

	switch next {
	case stepFailed, stepUndoStarted, stepUndoFinished, stepUndoFailed:
		j.unwinding = true
	}

	if event.At.IsZero() {
		event.At = time.Now()
	}
	j.status.Set(event.Position, next)
	j.events = append(j.events, event)
	return nil
}

// Unwinding returns true once the run has started rolling back.
func (j *Journal) Unwinding() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.unwinding
}

// Events returns a copy of all recorded events in order.
func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.events...)
}

// Executed returns the names of steps whose Execute succeeded, in success order.
func (j *Journal) Executed() []StepName {
	return j.stepsWith(EventSucceeded)
}

// Compensated returns the names of steps whose compensation finished (or was
// given up on), in the order compensation ran.
func (j *Journal) Compensated() []StepName {
	return j.stepsWith(EventUndoFinished, EventUndoFailed)
}

func (j *Journal) stepsWith(kinds ...EventKind) []StepName {
	j.mu.Lock()
	defer j.mu.Unlock()

	var names []StepName
	for _, e := range j.events {
		for _, k := range kinds {
			if e.Kind == k {
				names = append(names, e.Step)
			}
		}
	}
	return names
}

// String implements the fmt.Stringer interface for Journal.
func (j *Journal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("SAGA JOURNAL:\n")
	sb.WriteString(fmt.Sprintf("work item: %s\n", j.itemID))
	direction := "forward"
	if j.unwinding {
		direction = "unwinding"
	}
	sb.WriteString(fmt.Sprintf("direction: %s\n", direction))
	sb.WriteString(fmt.Sprintf("events (%d total):\n", len(j.events)))
	for i, event := range j.events {
		sb.WriteString(fmt.Sprintf("%03d %s\n", i+1, event.String()))
	}
	sb.WriteString("final step status:\n")
	j.status.Scan(func(position int, status stepStatus) bool {
		sb.WriteString(fmt.Sprintf("S%03d %s\n", position, status))
		return true
	})
	return sb.String()
}
