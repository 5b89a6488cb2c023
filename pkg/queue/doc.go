// Package queue is the durable delivery queue: a write-ahead log of outbound
// network effects that survives process death, and the dispatcher that drains
// it.
//
// The package is organised around three components:
//
//   - Storage: the persisted table of PendingTask rows, backed by memory,
//     SQLite or Postgres
//   - Enqueuer: validates and serializes payloads, then appends rows
//   - Dispatcher: drains pending rows, hands each to the Handler registered
//     for its TaskType, and resolves the outcome back into storage
//
// # Delivery semantics
//
// Delivery is at-least-once. A row is removed only by Ack after its handler
// returned nil. Any other error (or a panic) records a failed attempt with
// MarkFailed and the row is retried on a later drain pass. Handlers that
// cannot attempt delivery right now (for example while a circuit breaker is
// open) return ErrDeferred and the row is left untouched.
//
// Within one drain pass tasks are dispatched in createdAt order, but
// deliveries run concurrently, so completion order is not guaranteed.
//
// # Retry policy
//
// The default policy, UnlimitedRetry, retries every failure forever with no
// delay. CappedRetry adds a maximum attempt count, a backoff strategy and a
// permanent-failure classifier; exhausted tasks are moved to the dead-letter
// table when the Storage implements DeadLetterStorage.
//
// # Usage
//
//	storage := queue.NewSQLiteStorage(db, queue.WithSQLiteLogger(log))
//
//	d, _ := queue.NewDispatcher(storage,
//	    queue.WithDrainInterval(30*time.Second),
//	    queue.WithMaxConcurrentDeliveries(4),
//	)
//	d.RegisterHandler(queue.TaskTypeEvent, queue.NewTaskHandler(sendEvent))
//
//	e, _ := queue.NewEnqueuer(storage, queue.WithOnEnqueue(func(queue.PendingTask) { d.Notify() }))
//	id, err := e.Enqueue(ctx, queue.TaskTypeEvent, event)
//
//	g.Go(d.Run(ctx))
package queue
