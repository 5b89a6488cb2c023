package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/engagekit/pkg/logger"
)

// Outcome is the resolution of one delivery attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeFailed
	OutcomeDeferred
	OutcomeDeadLettered
	// OutcomeUnacked is a successful delivery whose Ack failed. The row is
	// still queued and will be delivered again.
	OutcomeUnacked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeDeadLettered:
		return "dead_lettered"
	case OutcomeUnacked:
		return "unacked"
	default:
		return "unknown"
	}
}

// Delivery describes a finished attempt. Task reflects the row after the
// outcome was recorded.
type Delivery struct {
	Task     PendingTask
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// DrainResult counts what happened during one drain pass.
type DrainResult struct {
	Dispatched   int
	Delivered    int
	Failed       int
	Deferred     int
	DeadLettered int
	// Unacked counts successful deliveries whose rows could not be removed.
	// They are not included in Delivered.
	Unacked int
	// Skipped counts tasks not dispatched because they were already in
	// flight or their retry policy said "not yet".
	Skipped int
}

func (r *DrainResult) record(o Outcome) {
	switch o {
	case OutcomeDelivered:
		r.Delivered++
	case OutcomeFailed:
		r.Failed++
	case OutcomeDeferred:
		r.Deferred++
	case OutcomeDeadLettered:
		r.DeadLettered++
	case OutcomeUnacked:
		r.Unacked++
	}
}

// Dispatcher drains the queue and resolves each delivery back into storage.
type Dispatcher struct {
	repo     Storage
	dlq      DeadLetterStorage
	handlers map[TaskType]Handler
	mu       sync.RWMutex

	inflightMu sync.Mutex
	inflight   map[uuid.UUID]struct{}

	sem    chan struct{}
	notify chan struct{}
	wg     sync.WaitGroup
	stopMu sync.Mutex

	// Configuration
	policy          RetryPolicy
	drainInterval   time.Duration
	deliveryTimeout time.Duration
	now             func() time.Time
	onDelivery      []func(Delivery)
	logger          *slog.Logger

	// State management
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewDispatcher creates a dispatcher over repo. If repo implements
// DeadLetterStorage, exhausted tasks are moved there.
func NewDispatcher(repo Storage, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &dispatcherOptions{
		policy:                  UnlimitedRetry{},
		drainInterval:           30 * time.Second,
		deliveryTimeout:         time.Minute,
		maxConcurrentDeliveries: 4,
		now:                     time.Now,
		logger:                  slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	dlq, _ := repo.(DeadLetterStorage)

	return &Dispatcher{
		repo:            repo,
		dlq:             dlq,
		handlers:        make(map[TaskType]Handler),
		inflight:        make(map[uuid.UUID]struct{}),
		sem:             make(chan struct{}, options.maxConcurrentDeliveries),
		notify:          make(chan struct{}, 1),
		policy:          options.policy,
		drainInterval:   options.drainInterval,
		deliveryTimeout: options.deliveryTimeout,
		now:             options.now,
		onDelivery:      options.onDelivery,
		logger:          options.logger,
	}, nil
}

// RegisterHandler sets the handler for a task type, replacing any previous one.
func (d *Dispatcher) RegisterHandler(typ TaskType, handler Handler) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskType, typ)
	}
	if handler == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[typ] = handler
	return nil
}

// RegisterHandlers registers every entry of handlers.
func (d *Dispatcher) RegisterHandlers(handlers map[TaskType]Handler) error {
	for typ, h := range handlers {
		if err := d.RegisterHandler(typ, h); err != nil {
			return err
		}
	}
	return nil
}

// Notify requests a drain pass. Calls are coalesced and never block.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Start runs an immediate drain and then drains on every tick of the drain
// interval and on every Notify.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return ErrDispatcherStarted
	}
	if len(d.handlers) == 0 {
		d.mu.Unlock()
		return ErrNoHandlers
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	d.stopping.Store(false)

	d.stopMu.Lock()
	d.wg.Add(1)
	d.stopMu.Unlock()
	go d.run(runCtx)

	d.logger.InfoContext(ctx, "dispatcher started",
		logger.Component("queue"),
		slog.Duration("drain_interval", d.drainInterval),
		slog.Int("max_concurrent", cap(d.sem)))

	return nil
}

// Stop cancels the drain loop and waits for in-flight deliveries to resolve.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return ErrDispatcherNotStarted
	}

	d.stopMu.Lock()
	d.stopping.Store(true)
	d.stopMu.Unlock()

	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	cancel()

	d.logger.Info("dispatcher stopping, waiting for in-flight deliveries",
		logger.Component("queue"))

	d.wg.Wait()

	d.logger.Info("dispatcher stopped", logger.Component("queue"))
	return nil
}

// Run starts the dispatcher and returns a function suitable for errgroup
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		if err := d.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return d.Stop()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.drainInterval)
	defer ticker.Stop()

	d.drainLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.notify:
		}
		if d.stopping.Load() {
			return
		}
		d.drainLogged(ctx)
	}
}

func (d *Dispatcher) drainLogged(ctx context.Context) {
	res, err := d.Drain(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.ErrorContext(ctx, "drain pass failed",
			logger.Component("queue"),
			logger.Error(err))
		return
	}
	if res.Dispatched > 0 {
		d.logger.DebugContext(ctx, "drain pass finished",
			logger.Component("queue"),
			slog.Int("dispatched", res.Dispatched),
			slog.Int("delivered", res.Delivered),
			slog.Int("failed", res.Failed),
			slog.Int("deferred", res.Deferred),
			slog.Int("dead_lettered", res.DeadLettered),
			slog.Int("skipped", res.Skipped))
	}
}

// Drain performs one pass over a snapshot of pending tasks. Tasks are
// dispatched in FIFO order, at most MaxConcurrentDeliveries at a time, and
// Drain returns once every dispatched delivery has been resolved.
// Cancelling ctx stops dispatching new tasks; deliveries already started run
// to completion under their own timeout.
func (d *Dispatcher) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	tasks, err := d.repo.ListPending(ctx)
	if err != nil {
		return res, errors.Join(ErrStorage, fmt.Errorf("failed to list pending tasks: %w", err))
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	now := d.now()

dispatch:
	for _, task := range tasks {
		if !d.policy.Ready(task, now) {
			res.Skipped++
			continue
		}
		if !d.claim(task.ID) {
			res.Skipped++
			continue
		}

		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			d.release(task.ID)
			break dispatch
		}

		res.Dispatched++
		wg.Add(1)
		go func(task PendingTask) {
			defer wg.Done()
			defer func() { <-d.sem }()
			defer d.release(task.ID)

			outcome := d.deliver(context.WithoutCancel(ctx), task)

			mu.Lock()
			res.record(outcome)
			mu.Unlock()
		}(task)
	}

	wg.Wait()
	return res, ctx.Err()
}

func (d *Dispatcher) claim(id uuid.UUID) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id uuid.UUID) {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	delete(d.inflight, id)
}

// deliver runs the handler for task and records the outcome.
func (d *Dispatcher) deliver(ctx context.Context, task PendingTask) Outcome {
	start := time.Now()

	err := d.invoke(ctx, task)
	outcome, err := d.resolve(ctx, &task, err)

	delivery := Delivery{Task: task, Outcome: outcome, Err: err, Duration: time.Since(start)}
	for _, fn := range d.onDelivery {
		fn(delivery)
	}
	return outcome
}

func (d *Dispatcher) invoke(ctx context.Context, task PendingTask) (err error) {
	d.mu.RLock()
	handler, ok := d.handlers[task.Type]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, task.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			d.logger.ErrorContext(ctx, "handler panicked",
				logger.Component("queue"),
				logger.TaskID(task.ID),
				logger.TaskType(task.Type),
				slog.Any("panic", r))
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	defer cancel()

	return handler.Handle(hctx, task)
}

// resolve maps a handler result onto storage: nil acks, ErrDeferred leaves
// the row alone, anything else marks a failed attempt and may dead-letter.
func (d *Dispatcher) resolve(ctx context.Context, task *PendingTask, handleErr error) (Outcome, error) {
	if handleErr == nil {
		if err := d.repo.Ack(ctx, task.ID); err != nil {
			// The row stays and will be delivered again.
			d.logger.ErrorContext(ctx, "failed to ack delivered task",
				logger.Component("queue"),
				logger.TaskID(task.ID),
				logger.Error(err))
			return OutcomeUnacked, errors.Join(ErrStorage, err)
		}
		d.logger.DebugContext(ctx, "task delivered",
			logger.Component("queue"),
			logger.TaskID(task.ID),
			logger.TaskType(task.Type))
		return OutcomeDelivered, nil
	}

	if errors.Is(handleErr, ErrDeferred) {
		d.logger.DebugContext(ctx, "task deferred",
			logger.Component("queue"),
			logger.TaskID(task.ID),
			logger.TaskType(task.Type),
			logger.Error(handleErr))
		return OutcomeDeferred, handleErr
	}

	now := d.now()
	if err := d.repo.MarkFailed(ctx, task.ID, now); err != nil {
		d.logger.ErrorContext(ctx, "failed to mark task as failed",
			logger.Component("queue"),
			logger.TaskID(task.ID),
			logger.Error(err))
		return OutcomeFailed, errors.Join(handleErr, ErrStorage, err)
	}
	task.Attempts++
	task.LastAttemptedAt = &now

	d.logger.WarnContext(ctx, "task delivery failed",
		logger.Component("queue"),
		logger.TaskID(task.ID),
		logger.TaskType(task.Type),
		logger.Attempts(task.Attempts),
		logger.Error(handleErr))

	if d.dlq == nil || !d.policy.Exhausted(*task, handleErr) {
		return OutcomeFailed, handleErr
	}

	if err := d.dlq.MoveToDeadLetter(ctx, task.ID, handleErr.Error(), now); err != nil {
		d.logger.ErrorContext(ctx, "failed to move task to dead letter queue",
			logger.Component("queue"),
			logger.TaskID(task.ID),
			logger.Error(err))
		return OutcomeFailed, errors.Join(handleErr, ErrStorage, err)
	}

	d.logger.WarnContext(ctx, "task moved to dead letter queue",
		logger.Component("queue"),
		logger.TaskID(task.ID),
		logger.TaskType(task.Type),
		logger.Attempts(task.Attempts))

	return OutcomeDeadLettered, handleErr
}
