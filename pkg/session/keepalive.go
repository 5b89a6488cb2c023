package session

import (
	"context"
	"sync"
	"time"
)

// keepalive runs a ticker goroutine that can be restarted and stopped.
// stop waits for an in-progress tick to finish.
type keepalive struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (k *keepalive) start(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	k.stop()

	k.mu.Lock()
	defer k.mu.Unlock()

	// The timer outlives the signal that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	k.cancel = cancel
	k.done = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if runCtx.Err() != nil {
					return
				}
				tick(runCtx)
			}
		}
	}()
}

func (k *keepalive) stop() {
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.cancel, k.done = nil, nil
	k.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
