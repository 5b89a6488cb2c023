package queue

import (
	"log/slog"
	"time"
)

// DispatcherOption is a functional option for configuring a Dispatcher
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	policy                  RetryPolicy
	drainInterval           time.Duration
	deliveryTimeout         time.Duration
	maxConcurrentDeliveries int
	now                     func() time.Time
	onDelivery              []func(Delivery)
	logger                  *slog.Logger
}

// WithRetryPolicy replaces the default UnlimitedRetry policy.
func WithRetryPolicy(p RetryPolicy) DispatcherOption {
	return func(o *dispatcherOptions) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithDrainInterval sets how often the dispatcher drains without a Notify.
func WithDrainInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.drainInterval = d
		}
	}
}

// WithDeliveryTimeout bounds a single handler call.
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.deliveryTimeout = d
		}
	}
}

// WithMaxConcurrentDeliveries sets how many deliveries may be in flight.
func WithMaxConcurrentDeliveries(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.maxConcurrentDeliveries = n
		}
	}
}

// WithDispatcherNowFunc overrides the clock used for retry decisions and
// LastAttemptedAt.
func WithDispatcherNowFunc(now func() time.Time) DispatcherOption {
	return func(o *dispatcherOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithOnDelivery registers an observer called after every resolved attempt.
func WithOnDelivery(fn func(Delivery)) DispatcherOption {
	return func(o *dispatcherOptions) {
		if fn != nil {
			o.onDelivery = append(o.onDelivery, fn)
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
