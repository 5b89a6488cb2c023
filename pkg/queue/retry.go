package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides when a failed task is attempted again and when the
// dispatcher gives up on it.
type RetryPolicy interface {
	// Ready reports whether task may be attempted at now.
	Ready(task PendingTask, now time.Time) bool

	// Exhausted reports whether task, whose latest attempt failed with
	// cause, should stop being retried. task reflects the attempt just
	// recorded.
	Exhausted(task PendingTask, cause error) bool
}

// UnlimitedRetry retries every failure on the next drain pass, forever.
type UnlimitedRetry struct{}

func (UnlimitedRetry) Ready(PendingTask, time.Time) bool { return true }

func (UnlimitedRetry) Exhausted(PendingTask, error) bool { return false }

// CappedRetry bounds retries by attempt count and spaces them with Backoff.
// Zero MaxAttempts means no cap. A nil Backoff retries on every pass.
// Permanent, when set, classifies errors that must not be retried at all.
type CappedRetry struct {
	MaxAttempts int
	Backoff     BackoffStrategy
	Permanent   func(error) bool
}

func (p CappedRetry) Ready(task PendingTask, now time.Time) bool {
	if p.Backoff == nil || task.LastAttemptedAt == nil || task.Attempts == 0 {
		return true
	}
	next := task.LastAttemptedAt.Add(p.Backoff.NextInterval(task.Attempts))
	return !now.Before(next)
}

func (p CappedRetry) Exhausted(task PendingTask, cause error) bool {
	if cause != nil && p.Permanent != nil && p.Permanent(cause) {
		return true
	}
	return p.MaxAttempts > 0 && task.Attempts >= p.MaxAttempts
}

// BackoffStrategy returns the minimum delay before the next attempt.
// Attempt is the number of failed attempts so far, starting at 1.
type BackoffStrategy interface {
	NextInterval(attempt int) time.Duration
}

// NoBackoff retries immediately.
type NoBackoff struct{}

func (NoBackoff) NextInterval(int) time.Duration { return 0 }

// FixedBackoff waits the same interval after every failure.
type FixedBackoff struct {
	Interval time.Duration
}

func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped at
// MaxInterval. JitterFactor spreads retries of many devices apart.
// Formula: min(InitialInterval * Multiplier^(attempt-1) * (1 ± JitterFactor), MaxInterval)
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = time.Second
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = time.Hour
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}
	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}
	return time.Duration(interval)
}

// DefaultBackoffStrategy is the exponential schedule used when retries are
// configured as "exponential": 5s, 10s, 20s ... up to one hour.
func DefaultBackoffStrategy() BackoffStrategy {
	return ExponentialBackoff{
		InitialInterval: 5 * time.Second,
		MaxInterval:     time.Hour,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}
