package collector

import (
	"context"
	"errors"

	"github.com/dmitrymomot/engagekit/pkg/queue"
)

// Handler returns a queue handler that delivers tasks of typ. An open
// circuit breaker is reported as queue.ErrDeferred.
func (c *Client) Handler(typ queue.TaskType) queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, task queue.PendingTask) error {
		err := c.Deliver(ctx, typ, task.Payload, task.ID.String())
		if errors.Is(err, ErrCircuitOpen) {
			return errors.Join(queue.ErrDeferred, err)
		}
		return err
	})
}

// Handlers returns a handler for every task type with a collector endpoint.
func (c *Client) Handlers() map[queue.TaskType]queue.Handler {
	out := make(map[queue.TaskType]queue.Handler, len(endpoints))
	for typ := range endpoints {
		out[typ] = c.Handler(typ)
	}
	return out
}
