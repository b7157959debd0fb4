package stepsaga

import (
	"fmt"
	"strings"
	"unicode"
)

// Status is the lifecycle value of a WorkItem. Besides the constants below,
// every step contributes its own in-progress marker (see StatusMarker).
type Status string

const (
	StatusPending               Status = "PENDING"
	StatusCompensating          Status = "COMPENSATING"
	StatusCompleted             Status = "COMPLETED"
	StatusCompensationCompleted Status = "COMPENSATION_COMPLETED"
	StatusFailed                Status = "FAILED"
)

// String returns the string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions may occur from s.
func (s Status) IsTerminal() bool {
	return s.phase() == phaseTerminal
}

// phase groups statuses into the ordered stages of the lifecycle.
type phase int

const (
	phasePending phase = iota
	phaseProgress
	phaseCompensating
	phaseTerminal
)

func (s Status) phase() phase {
	switch s {
	case StatusPending, "":
		return phasePending
	case StatusCompensating:
		return phaseCompensating
	case StatusCompleted, StatusCompensationCompleted, StatusFailed:
		return phaseTerminal
	default:
		return phaseProgress
	}
}

// nextStatus validates a transition from s to next. Status only ever moves
// forward: pending -> step markers -> compensating -> terminal. Step markers
// may follow each other. A terminal status never changes.
func (s Status) nextStatus(next Status) (Status, error) {
	from, to := s.phase(), next.phase()
	switch {
	case from == phaseTerminal:
		return s, fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrIllegalTransition, s, next)
	case to == phasePending:
		return s, fmt.Errorf("%w: cannot return to %s from %s", ErrIllegalTransition, next, s)
	case to < from:
		return s, fmt.Errorf("%w: %s -> %s moves backwards", ErrIllegalTransition, s, next)
	case from == phaseCompensating && to == phaseCompensating:
		return s, fmt.Errorf("%w: already %s", ErrIllegalTransition, s)
	}

	// Only some terminal statuses are reachable from a given phase.
	if to == phaseTerminal {
		switch next {
		case StatusCompleted:
			if from == phaseCompensating {
				return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
			}
		case StatusCompensationCompleted:
			if from != phaseCompensating {
				return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
			}
		}
	}
	return next, nil
}

// toUpperSnake turns a step name such as "InventoryService" or "reserve-stock"
// into INVENTORY_SERVICE / RESERVE_STOCK.
func toUpperSnake(name StepName) string {
	var sb strings.Builder
	runes := []rune(string(name))
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ' || r == '.' || r == '_':
			sb.WriteRune('_')
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				sb.WriteRune('_')
			}
		}
		sb.WriteRune(unicode.ToUpper(r))
	}
	return sb.String()
}
