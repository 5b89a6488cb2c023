package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/engagekit/pkg/logger"
)

// TaskCreator is the part of Storage the Enqueuer needs.
type TaskCreator interface {
	CreateTask(ctx context.Context, task *PendingTask) error
}

// Enqueuer appends tasks to the queue.
type Enqueuer struct {
	repo   TaskCreator
	now    func() time.Time
	hooks  []func(PendingTask)
	logger *slog.Logger
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(repo TaskCreator, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:   repo,
		now:    options.now,
		hooks:  options.hooks,
		logger: options.logger,
	}, nil
}

// Enqueue serializes payload and appends a new row with Attempts=0 and
// CreatedAt=now. Payloads that cannot be encoded are rejected with
// ErrSerialization. Storage failures are reported as ErrStorage.
func (e *Enqueuer) Enqueue(ctx context.Context, typ TaskType, payload any) (uuid.UUID, error) {
	if !typ.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidTaskType, typ)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return uuid.Nil, err
	}

	task := &PendingTask{
		ID:       uuid.New(),
		Type:     typ,
		Payload:  data,
		Attempts: 0,
		// Rows are persisted with millisecond precision.
		CreatedAt: fromMillis(toMillis(e.now())),
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return uuid.Nil, errors.Join(ErrStorage, fmt.Errorf("failed to create %s task: %w", typ, err))
	}

	e.logger.DebugContext(ctx, "task enqueued",
		logger.Component("queue"),
		logger.TaskID(task.ID),
		logger.TaskType(task.Type))

	for _, hook := range e.hooks {
		hook(*task)
	}

	return task.ID, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, errors.Join(ErrSerialization, ErrPayloadNil)
	case json.RawMessage:
		if p == nil {
			return nil, errors.Join(ErrSerialization, ErrPayloadNil)
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: raw payload is not valid JSON", ErrSerialization)
		}
		return append(json.RawMessage(nil), p...), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrSerialization, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err))
	}
	if string(data) == "null" {
		return nil, errors.Join(ErrSerialization, ErrPayloadNil)
	}
	return data, nil
}
