package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskType selects the delivery handler for a task.
type TaskType string

const (
	TaskTypeEvent            TaskType = "EVENT"
	TaskTypeProfile          TaskType = "PROFILE"
	TaskTypeSessionConcluded TaskType = "SESSION_CONCLUDED"
	TaskTypeKeepAlive        TaskType = "KEEP_ALIVE"
	TaskTypePushToken        TaskType = "FB_TOKEN"
)

// TaskTypes lists every known task type.
var TaskTypes = []TaskType{
	TaskTypeEvent,
	TaskTypeProfile,
	TaskTypeSessionConcluded,
	TaskTypeKeepAlive,
	TaskTypePushToken,
}

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeEvent, TaskTypeProfile, TaskTypeSessionConcluded, TaskTypeKeepAlive, TaskTypePushToken:
		return true
	}
	return false
}

func (t TaskType) String() string {
	return string(t)
}

// PendingTask is one durable queue row. Payload is immutable once stored.
type PendingTask struct {
	ID              uuid.UUID       `json:"id"`
	Type            TaskType        `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	Attempts        int             `json:"attempts"`
	CreatedAt       time.Time       `json:"created_at"`
	LastAttemptedAt *time.Time      `json:"last_attempted_at,omitempty"`
}

// DeadLetterTask is a task removed from the pending table after its retry
// policy gave up on it. Kept for inspection and manual requeue.
type DeadLetterTask struct {
	PendingTask
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// toMillis and fromMillis convert between time.Time and the int64
// millisecond columns used by the SQL backends.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func fromNullMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

func toNullMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := toMillis(*t)
	return &ms
}
