package queue

import (
	"log/slog"
	"time"
)

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	now    func() time.Time
	hooks  []func(PendingTask)
	logger *slog.Logger
}

// WithEnqueuerNowFunc overrides the clock used for CreatedAt.
func WithEnqueuerNowFunc(now func() time.Time) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithOnEnqueue registers a hook called after every successful enqueue.
// Hooks run synchronously on the caller's goroutine and must not block.
func WithOnEnqueue(hook func(PendingTask)) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if hook != nil {
			o.hooks = append(o.hooks, hook)
		}
	}
}

// WithEnqueuerLogger sets the logger for the enqueuer
func WithEnqueuerLogger(logger *slog.Logger) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
