package queue

import "errors"

var (
	// ErrRepositoryNil is returned when a nil storage is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrTaskNil is returned by storages when asked to create a nil task
	ErrTaskNil = errors.New("task cannot be nil")

	// ErrTaskExists is returned when a task with the same ID is already stored
	ErrTaskExists = errors.New("task already exists")

	// ErrInvalidTaskType is returned when enqueuing an unknown task type
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrSerialization marks a payload that cannot be encoded or decoded.
	// Such payloads are rejected at enqueue time and never stored.
	ErrSerialization = errors.New("payload serialization failed")

	// ErrStorage marks a failure of the persistence layer.
	ErrStorage = errors.New("queue storage failure")

	// ErrCorruptRow marks a stored row that cannot be decoded into a task.
	ErrCorruptRow = errors.New("corrupt queue row")

	// ErrDeferred is returned by a handler that declined to attempt delivery.
	// The task is neither acknowledged nor marked failed.
	ErrDeferred = errors.New("delivery deferred")

	// ErrHandlerNotFound is recorded when no handler is registered for a task type
	ErrHandlerNotFound = errors.New("no handler registered for task type")

	// ErrNoHandlers is returned when the dispatcher has no handlers registered
	ErrNoHandlers = errors.New("no task handlers registered")

	// ErrHandlerPanic wraps a panic recovered from a handler
	ErrHandlerPanic = errors.New("panic in handler")

	ErrDispatcherStarted    = errors.New("dispatcher already started")
	ErrDispatcherNotStarted = errors.New("dispatcher not started")
)
