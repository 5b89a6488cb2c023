package collector_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/engagekit/pkg/collector"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	t.Run("opens after threshold and recovers", func(t *testing.T) {
		t.Parallel()

		clk := &clock{now: time.Unix(1700000000, 0)}
		cb := collector.NewCircuitBreaker(3, 2, time.Minute).WithClock(clk.Now)

		var transitions []string
		cb.OnStateChange(func(from, to collector.CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		})

		for range 2 {
			assert.True(t, cb.Allow())
			cb.RecordFailure()
		}
		assert.Equal(t, collector.CircuitClosed, cb.State())

		cb.RecordFailure()
		assert.Equal(t, collector.CircuitOpen, cb.State())
		assert.False(t, cb.Allow())

		clk.Advance(time.Minute + time.Second)
		assert.Equal(t, collector.CircuitHalfOpen, cb.State())
		assert.True(t, cb.Allow())

		cb.RecordSuccess()
		assert.Equal(t, collector.CircuitHalfOpen, cb.State())
		cb.RecordSuccess()
		assert.Equal(t, collector.CircuitClosed, cb.State())

		assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
	})

	t.Run("half-open failure reopens", func(t *testing.T) {
		t.Parallel()

		clk := &clock{now: time.Unix(1700000000, 0)}
		cb := collector.NewCircuitBreaker(1, 1, time.Minute).WithClock(clk.Now)

		cb.RecordFailure()
		clk.Advance(2 * time.Minute)
		assert.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, collector.CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("half-open admits one delivery at a time", func(t *testing.T) {
		t.Parallel()

		clk := &clock{now: time.Unix(1700000000, 0)}
		cb := collector.NewCircuitBreaker(1, 2, time.Minute).WithClock(clk.Now)
		cb.RecordFailure()
		clk.Advance(2 * time.Minute)

		var (
			wg       sync.WaitGroup
			admitted atomic.Int32
		)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if cb.Allow() {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), admitted.Load())
		assert.False(t, cb.Allow())

		cb.RecordSuccess()
		assert.Equal(t, collector.CircuitHalfOpen, cb.State())
		assert.True(t, cb.Allow())
		assert.False(t, cb.Allow())

		cb.Release()
		assert.True(t, cb.Allow())
		cb.RecordSuccess()
		assert.Equal(t, collector.CircuitClosed, cb.State())
		assert.True(t, cb.Allow())
		assert.True(t, cb.Allow())
	})

	t.Run("success resets failure count", func(t *testing.T) {
		t.Parallel()

		cb := collector.NewCircuitBreaker(2, 1, time.Minute)
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.Equal(t, collector.CircuitClosed, cb.State())
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()

		cb := collector.NewCircuitBreaker(1, 1, time.Hour)
		cb.RecordFailure()
		assert.Equal(t, collector.CircuitOpen, cb.State())

		cb.Reset()
		assert.Equal(t, collector.CircuitClosed, cb.State())
		assert.True(t, cb.Allow())
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		cb := collector.NewCircuitBreaker(0, 0, 0)
		for range 4 {
			cb.RecordFailure()
		}
		assert.Equal(t, collector.CircuitClosed, cb.State())
		cb.RecordFailure()
		assert.Equal(t, collector.CircuitOpen, cb.State())
	})

	t.Run("state strings", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "closed", collector.CircuitClosed.String())
		assert.Equal(t, "open", collector.CircuitOpen.String())
		assert.Equal(t, "half-open", collector.CircuitHalfOpen.String())
		assert.Equal(t, "unknown", collector.CircuitState(42).String())
	})
}
