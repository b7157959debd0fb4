package stepsaga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// DeadLetterStore defines the interface for recording compensations that
// could not be completed, so an operator or a reconciliation job can finish
// them later.
type DeadLetterStore interface {
	// Put persists a dead letter.
	Put(ctx context.Context, letter DeadLetter) error

	// Get retrieves a dead letter by ID.
	Get(ctx context.Context, id uuid.UUID) (*DeadLetter, error)

	// List returns all dead letters, oldest first.
	List(ctx context.Context) ([]DeadLetter, error)

	// Delete removes a dead letter once it has been reconciled.
	Delete(ctx context.Context, id uuid.UUID) error
}

// DeadLetter records a compensation that failed on every attempt.
type DeadLetter struct {
	ID            uuid.UUID `json:"id"`
	WorkItemID    uuid.UUID `json:"work_item_id"`
	Step          StepName  `json:"step"`
	Position      int       `json:"position"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	FailureReason string    `json:"failure_reason"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// NewDeadLetter builds a record with a time-ordered ID.
func NewDeadLetter(itemID uuid.UUID, step StepName, position, attempts int, lastErr error, failureReason string) DeadLetter {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	letter := DeadLetter{
		ID:            id,
		WorkItemID:    itemID,
		Step:          step,
		Position:      position,
		Attempts:      attempts,
		FailureReason: failureReason,
		RecordedAt:    time.Now().UTC(),
	}
	if lastErr != nil {
		letter.LastError = lastErr.Error()
	}
	return letter
}

// String implements the fmt.Stringer interface for DeadLetter.
func (d DeadLetter) String() string {
	return fmt.Sprintf("%s item=%s step=%s attempts=%d: %s", d.ID, d.WorkItemID, d.Step, d.Attempts, d.LastError)
}

// MemoryDeadLetterStore provides an in-memory implementation of
// DeadLetterStore for tests or processes that only need visibility.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	letters btree.Map[string, DeadLetter]
}

// NewMemoryDeadLetterStore creates a new in-memory store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

// Put stores the dead letter in memory.
func (m *MemoryDeadLetterStore) Put(_ context.Context, letter DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.letters.Set(letter.ID.String(), letter)
	return nil
}

// Get retrieves a dead letter from memory.
func (m *MemoryDeadLetterStore) Get(_ context.Context, id uuid.UUID) (*DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	letter, ok := m.letters.Get(id.String())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	return &letter, nil
}

// List returns the dead letters ordered by ID, which for v7 IDs is
// recording order.
func (m *MemoryDeadLetterStore) List(_ context.Context) ([]DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.letters.Values(), nil
}

// Delete removes the dead letter from memory.
func (m *MemoryDeadLetterStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.letters.Delete(id.String())
	return nil
}
