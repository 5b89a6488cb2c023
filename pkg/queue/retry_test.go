package queue_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/engagekit/pkg/queue"
)

func TestCappedRetry(t *testing.T) {
	t.Parallel()

	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task := queue.PendingTask{Attempts: 2, LastAttemptedAt: &last}

	t.Run("ready without backoff", func(t *testing.T) {
		t.Parallel()
		assert.True(t, queue.CappedRetry{}.Ready(task, last))
	})

	t.Run("ready honours backoff", func(t *testing.T) {
		t.Parallel()

		p := queue.CappedRetry{Backoff: queue.ExponentialBackoff{InitialInterval: time.Second, Multiplier: 2}}
		// Two failures: 1s * 2^(2-1) = 2s.
		assert.False(t, p.Ready(task, last.Add(1999*time.Millisecond)))
		assert.True(t, p.Ready(task, last.Add(2*time.Second)))
	})

	t.Run("never attempted is always ready", func(t *testing.T) {
		t.Parallel()

		p := queue.CappedRetry{Backoff: queue.FixedBackoff{Interval: time.Hour}}
		assert.True(t, p.Ready(queue.PendingTask{}, last))
	})

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()

		assert.False(t, queue.CappedRetry{}.Exhausted(task, errServer))
		assert.False(t, queue.CappedRetry{MaxAttempts: 3}.Exhausted(task, errServer))
		assert.True(t, queue.CappedRetry{MaxAttempts: 2}.Exhausted(task, errServer))

		permanent := errors.New("bad request")
		p := queue.CappedRetry{Permanent: func(err error) bool { return errors.Is(err, permanent) }}
		assert.True(t, p.Exhausted(task, permanent))
		assert.False(t, p.Exhausted(task, errServer))
	})
}

func TestUnlimitedRetry(t *testing.T) {
	t.Parallel()

	task := queue.PendingTask{Attempts: 1_000_000}
	assert.True(t, queue.UnlimitedRetry{}.Ready(task, time.Now()))
	assert.False(t, queue.UnlimitedRetry{}.Exhausted(task, errServer))
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	t.Run("exponential caps at max", func(t *testing.T) {
		t.Parallel()

		b := queue.ExponentialBackoff{InitialInterval: time.Second, MaxInterval: 10 * time.Second, Multiplier: 2}
		assert.Equal(t, time.Duration(0), b.NextInterval(0))
		assert.Equal(t, time.Second, b.NextInterval(1))
		assert.Equal(t, 4*time.Second, b.NextInterval(3))
		assert.Equal(t, 10*time.Second, b.NextInterval(10))
	})

	t.Run("exponential jitter stays in range", func(t *testing.T) {
		t.Parallel()

		b := queue.ExponentialBackoff{InitialInterval: time.Second, Multiplier: 2, JitterFactor: 0.5}
		for range 100 {
			d := b.NextInterval(2)
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, 3*time.Second)
		}
	})

	t.Run("fixed and none", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, time.Minute, queue.FixedBackoff{Interval: time.Minute}.NextInterval(5))
		assert.Equal(t, time.Duration(0), queue.NoBackoff{}.NextInterval(5))
	})
}

func TestConfig_RetryPolicy(t *testing.T) {
	t.Parallel()

	permanent := func(error) bool { return true }

	assert.Equal(t, queue.UnlimitedRetry{}, queue.Config{RetryBackoff: queue.BackoffNone}.RetryPolicy(permanent))

	p, ok := queue.Config{MaxAttempts: 5}.RetryPolicy(permanent).(queue.CappedRetry)
	assert.True(t, ok)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Nil(t, p.Backoff)
	assert.Nil(t, p.Permanent, "permanent classification is opt-in")

	p, ok = queue.Config{RetryBackoff: queue.BackoffExponential, DeadLetterPermanent: true}.RetryPolicy(permanent).(queue.CappedRetry)
	assert.True(t, ok)
	assert.NotNil(t, p.Backoff)
	assert.NotNil(t, p.Permanent)

	p, ok = queue.Config{RetryBackoff: queue.BackoffFixed, RetryInterval: time.Minute}.RetryPolicy(permanent).(queue.CappedRetry)
	assert.True(t, ok)
	assert.Equal(t, queue.FixedBackoff{Interval: time.Minute}, p.Backoff)
}
