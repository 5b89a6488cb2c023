package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/engagekit/pkg/kv"
	"github.com/dmitrymomot/engagekit/pkg/queue"
	"github.com/dmitrymomot/engagekit/pkg/telemetry"
)

// Enqueuer is the queue producer the manager writes lifecycle records to.
type Enqueuer interface {
	Enqueue(ctx context.Context, typ queue.TaskType, payload any) (uuid.UUID, error)
}

// TriggerSource supplies the active triggers stamped onto events.
type TriggerSource interface {
	ActiveRefs(ctx context.Context) ([]telemetry.ActiveTriggerRef, error)
}

// PropertiesCollector supplies device and app metadata merged into launch
// events and profile updates.
type PropertiesCollector interface {
	DeviceProperties(ctx context.Context) map[string]any
}

// PropertiesFunc adapts a function to PropertiesCollector.
type PropertiesFunc func(ctx context.Context) map[string]any

func (f PropertiesFunc) DeviceProperties(ctx context.Context) map[string]any {
	return f(ctx)
}

// ErrorHandler receives failures that are logged but not returned, such as
// an event that could not be enqueued during a transition.
type ErrorHandler func(ctx context.Context, op string, err error)

// Option is a functional option for configuring the Manager
type Option func(*Manager)

// WithStore sets where counters and the session descriptor are persisted.
// Defaults to an in-memory store.
func WithStore(store kv.Store) Option {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithTriggerSource sets the source of active triggers for event stamping.
func WithTriggerSource(src TriggerSource) Option {
	return func(m *Manager) {
		m.triggers = src
	}
}

// WithPropertiesCollector sets the device metadata collaborator.
func WithPropertiesCollector(pc PropertiesCollector) Option {
	return func(m *Manager) {
		m.props = pc
	}
}

// WithConfig sets both lifecycle timings.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		if cfg.IdleThreshold > 0 {
			m.config.IdleThreshold = cfg.IdleThreshold
		}
		if cfg.KeepaliveInterval > 0 {
			m.config.KeepaliveInterval = cfg.KeepaliveInterval
		}
	}
}

// WithIdleThreshold sets the idle threshold.
func WithIdleThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.config.IdleThreshold = d
		}
	}
}

// WithKeepaliveInterval sets the keepalive period.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.config.KeepaliveInterval = d
		}
	}
}

// WithNowFunc overrides the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger for the manager
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithErrorHandler registers a handler for swallowed errors.
func WithErrorHandler(h ErrorHandler) Option {
	return func(m *Manager) {
		m.onError = h
	}
}
