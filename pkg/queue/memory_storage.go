package queue

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRow struct {
	task PendingTask
	seq  uint64
}

// MemoryStorage implements DeadLetterStorage in process memory. It does not
// survive restarts and is meant for tests and ephemeral clients.
type MemoryStorage struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*memoryRow
	dlq   map[uuid.UUID]*DeadLetterTask
	seq   uint64
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[uuid.UUID]*memoryRow),
		dlq:   make(map[uuid.UUID]*DeadLetterTask),
	}
}

func (ms *MemoryStorage) CreateTask(_ context.Context, task *PendingTask) error {
	if task == nil {
		return ErrTaskNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}

	ms.seq++
	ms.tasks[task.ID] = &memoryRow{task: cloneTask(*task), seq: ms.seq}
	return nil
}

func (ms *MemoryStorage) ListPending(_ context.Context) ([]PendingTask, error) {
	ms.mu.RLock()
	rows := make([]memoryRow, 0, len(ms.tasks))
	for _, r := range ms.tasks {
		rows = append(rows, memoryRow{task: cloneTask(r.task), seq: r.seq})
	}
	ms.mu.RUnlock()

	slices.SortFunc(rows, func(a, b memoryRow) int {
		if c := a.task.CreatedAt.Compare(b.task.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]PendingTask, len(rows))
	for i, r := range rows {
		out[i] = r.task
	}
	return out, nil
}

func (ms *MemoryStorage) Ack(_ context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.tasks, id)
	return nil
}

func (ms *MemoryStorage) MarkFailed(_ context.Context, id uuid.UUID, now time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	r, ok := ms.tasks[id]
	if !ok {
		return nil
	}
	r.task.Attempts++
	r.task.LastAttemptedAt = &now
	return nil
}

func (ms *MemoryStorage) MoveToDeadLetter(_ context.Context, id uuid.UUID, reason string, now time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	r, ok := ms.tasks[id]
	if !ok {
		return nil
	}
	delete(ms.tasks, id)
	ms.dlq[id] = &DeadLetterTask{
		PendingTask: r.task,
		Reason:      reason,
		FailedAt:    now,
	}
	return nil
}

func (ms *MemoryStorage) ListDeadLetters(_ context.Context) ([]DeadLetterTask, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]DeadLetterTask, 0, len(ms.dlq))
	for _, t := range ms.dlq {
		c := *t
		c.PendingTask = cloneTask(t.PendingTask)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b DeadLetterTask) int {
		return a.FailedAt.Compare(b.FailedAt)
	})
	return out, nil
}

func (ms *MemoryStorage) Count(_ context.Context) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return len(ms.tasks), nil
}

func cloneTask(t PendingTask) PendingTask {
	t.Payload = slices.Clone(t.Payload)
	if t.LastAttemptedAt != nil {
		at := *t.LastAttemptedAt
		t.LastAttemptedAt = &at
	}
	return t
}
