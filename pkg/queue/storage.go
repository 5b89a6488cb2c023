package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Storage is the durable queue table. Every method must be a single atomic
// operation against the backing store.
type Storage interface {
	// CreateTask appends a row. The task is fully populated by the caller.
	CreateTask(ctx context.Context, task *PendingTask) error

	// ListPending returns a snapshot of all rows ordered by CreatedAt
	// ascending, ties broken by insertion order.
	ListPending(ctx context.Context) ([]PendingTask, error)

	// Ack removes the row. Unknown IDs are a no-op.
	Ack(ctx context.Context, id uuid.UUID) error

	// MarkFailed increments Attempts and sets LastAttemptedAt to now.
	// Unknown IDs are a no-op.
	MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) error
}

// DeadLetterStorage is implemented by storages that can park tasks the
// retry policy gave up on.
type DeadLetterStorage interface {
	Storage

	// MoveToDeadLetter atomically removes the pending row and records it in
	// the dead-letter table. Unknown IDs are a no-op.
	MoveToDeadLetter(ctx context.Context, id uuid.UUID, reason string, now time.Time) error

	ListDeadLetters(ctx context.Context) ([]DeadLetterTask, error)
}

// Counter is implemented by storages that can report queue depth cheaply.
type Counter interface {
	Count(ctx context.Context) (int, error)
}
