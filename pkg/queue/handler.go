package queue

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Handler performs one delivery attempt for a task.
	Handler interface {
		Handle(ctx context.Context, task PendingTask) error
	}

	// HandlerFunc adapts a function to Handler.
	HandlerFunc func(ctx context.Context, task PendingTask) error

	// TaskHandlerFunc receives the decoded payload of a task.
	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error
)

func (f HandlerFunc) Handle(ctx context.Context, task PendingTask) error {
	return f(ctx, task)
}

// NewTaskHandler decodes the JSON payload into T before calling handler.
// The task being delivered is available through TaskFromContext.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	return HandlerFunc(func(ctx context.Context, task PendingTask) error {
		var payload T
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return errors.Join(ErrSerialization, err)
		}
		return handler(withTask(ctx, task), payload)
	})
}

type taskCtxKey struct{}

func withTask(ctx context.Context, task PendingTask) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, task)
}

// TaskFromContext returns the task a typed handler is delivering.
func TaskFromContext(ctx context.Context) (PendingTask, bool) {
	task, ok := ctx.Value(taskCtxKey{}).(PendingTask)
	return task, ok
}
