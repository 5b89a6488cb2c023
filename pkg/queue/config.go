package queue

import "time"

// Backoff names accepted by Config.RetryBackoff.
const (
	BackoffNone        = "none"
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config holds the dispatcher settings loaded from the environment.
type Config struct {
	DrainInterval           time.Duration `env:"ENGAGE_DRAIN_INTERVAL" envDefault:"30s"`
	MaxConcurrentDeliveries int           `env:"ENGAGE_MAX_CONCURRENT_DELIVERIES" envDefault:"4"`
	DeliveryTimeout         time.Duration `env:"ENGAGE_DELIVERY_TIMEOUT" envDefault:"1m"`

	// MaxAttempts caps failed attempts per task. Zero retries forever.
	MaxAttempts int `env:"ENGAGE_MAX_ATTEMPTS" envDefault:"0"`
	// RetryBackoff is "none", "fixed" or "exponential".
	RetryBackoff string `env:"ENGAGE_RETRY_BACKOFF" envDefault:"none"`
	// RetryInterval is the delay used by the fixed backoff.
	RetryInterval time.Duration `env:"ENGAGE_RETRY_INTERVAL" envDefault:"30s"`
	// DeadLetterPermanent dead-letters tasks rejected with a permanent error
	// on their first failure.
	DeadLetterPermanent bool `env:"ENGAGE_DEAD_LETTER_PERMANENT" envDefault:"false"`
}

// RetryPolicy builds the policy described by c. permanent classifies
// non-retryable errors and is only consulted when DeadLetterPermanent is set.
func (c Config) RetryPolicy(permanent func(error) bool) RetryPolicy {
	var backoff BackoffStrategy
	switch c.RetryBackoff {
	case BackoffExponential:
		backoff = DefaultBackoffStrategy()
	case BackoffFixed:
		if c.RetryInterval > 0 {
			backoff = FixedBackoff{Interval: c.RetryInterval}
		}
	}

	if !c.DeadLetterPermanent {
		permanent = nil
	}

	if c.MaxAttempts <= 0 && backoff == nil && permanent == nil {
		return UnlimitedRetry{}
	}
	return CappedRetry{
		MaxAttempts: c.MaxAttempts,
		Backoff:     backoff,
		Permanent:   permanent,
	}
}

// DispatcherOptions converts c into options for NewDispatcher.
func (c Config) DispatcherOptions(permanent func(error) bool) []DispatcherOption {
	return []DispatcherOption{
		WithDrainInterval(c.DrainInterval),
		WithMaxConcurrentDeliveries(c.MaxConcurrentDeliveries),
		WithDeliveryTimeout(c.DeliveryTimeout),
		WithRetryPolicy(c.RetryPolicy(permanent)),
	}
}
