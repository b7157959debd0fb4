package stepsaga

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WorkItem is the business entity driven through a saga. Attributes are opaque
// to the engine; steps may read and update them while executing. Status and
// failure reason are owned by the Coordinator. A WorkItem is not locked: it
// has one writer, the run driving it, and must not be shared between
// concurrent runs.
type WorkItem[T any] struct {
	ID         uuid.UUID
	Attributes T

	status        Status
	failureReason string
	createdAt     time.Time
	updatedAt     time.Time
}

// NewWorkItem creates a PENDING work item with a caller-supplied identity.
func NewWorkItem[T any](id uuid.UUID, attributes T) *WorkItem[T] {
	now := time.Now()
	return &WorkItem[T]{
		ID:         id,
		Attributes: attributes,
		status:     StatusPending,
		createdAt:  now,
		updatedAt:  now,
	}
}

// Submit creates a PENDING work item with a freshly generated identity.
func Submit[T any](attributes T) *WorkItem[T] {
	return NewWorkItem(uuid.New(), attributes)
}

// Status returns the current lifecycle status.
func (w *WorkItem[T]) Status() Status {
	return w.status
}

// FailureReason returns the message of the step that triggered rollback, or
// an empty string.
func (w *WorkItem[T]) FailureReason() string {
	return w.failureReason
}

// CreatedAt returns the submission time.
func (w *WorkItem[T]) CreatedAt() time.Time {
	return w.createdAt
}

// UpdatedAt returns the time of the last status change.
func (w *WorkItem[T]) UpdatedAt() time.Time {
	return w.updatedAt
}

// advance moves the item to next, refusing any backward transition.
func (w *WorkItem[T]) advance(next Status) error {
	status, err := w.status.nextStatus(next)
	if err != nil {
		return err
	}
	w.status = status
	w.updatedAt = time.Now()
	return nil
}

// fail records why the saga is being rolled back. The status itself is moved
// separately so that it never goes backwards.
func (w *WorkItem[T]) fail(reason string) {
	w.failureReason = reason
	w.updatedAt = time.Now()
}

type workItemJSON[T any] struct {
	ID            uuid.UUID `json:"id"`
	Attributes    T         `json:"attributes"`
	Status        Status    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MarshalJSON implements the json.Marshaler interface for WorkItem.
func (w *WorkItem[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(workItemJSON[T]{
		ID:            w.ID,
		Attributes:    w.Attributes,
		Status:        w.status,
		FailureReason: w.failureReason,
		CreatedAt:     w.createdAt,
		UpdatedAt:     w.updatedAt,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface for WorkItem.
func (w *WorkItem[T]) UnmarshalJSON(data []byte) error {
	var raw workItemJSON[T]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.ID = raw.ID
	w.Attributes = raw.Attributes
	w.status = raw.Status
	w.failureReason = raw.FailureReason
	w.createdAt = raw.CreatedAt
	w.updatedAt = raw.UpdatedAt
	return nil
}
