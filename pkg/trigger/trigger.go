package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/engagekit/pkg/kv"
	"github.com/dmitrymomot/engagekit/pkg/logger"
	"github.com/dmitrymomot/engagekit/pkg/telemetry"
)

// StoreKey is the kv key holding the persisted trigger list.
const StoreKey = "active_triggers"

var (
	ErrStoreNil   = errors.New("trigger: store cannot be nil")
	ErrEmptyID    = errors.New("trigger: empty trigger id")
	ErrInvalidTTL = errors.New("trigger: ttl must be positive")
)

// ActiveTrigger is a trigger and the moment it stops being active, in
// milliseconds since the Unix epoch.
type ActiveTrigger struct {
	TriggerID string `json:"triggerID"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Expiry returns ExpiresAt as a time.
func (a ActiveTrigger) Expiry() time.Time {
	return time.UnixMilli(a.ExpiresAt)
}

// Tracker maintains the persisted active-trigger list.
type Tracker struct {
	store  kv.Store
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	observers map[*observer]struct{}
}

type observer struct {
	fn func(ActiveTrigger)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNowFunc overrides the clock used for expiry.
func WithNowFunc(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger for the tracker.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func New(store kv.Store, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	t := &Tracker{
		store:     store,
		now:       time.Now,
		logger:    slog.Default(),
		observers: make(map[*observer]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Record appends (id, now+ttl) to the list. Duplicate ids are kept as
// separate entries.
func (t *Tracker) Record(ctx context.Context, id string, ttlSeconds int64) (ActiveTrigger, error) {
	if id == "" {
		return ActiveTrigger{}, ErrEmptyID
	}
	if ttlSeconds <= 0 {
		return ActiveTrigger{}, fmt.Errorf("%w: %d", ErrInvalidTTL, ttlSeconds)
	}

	entry := ActiveTrigger{
		TriggerID: id,
		ExpiresAt: t.now().UnixMilli() + ttlSeconds*1000,
	}

	err := t.store.Update(ctx, StoreKey, func(cur []byte, exists bool) ([]byte, error) {
		list := t.decode(ctx, cur, exists)
		return json.Marshal(append(list, entry))
	})
	if err != nil {
		return ActiveTrigger{}, fmt.Errorf("trigger: record %q: %w", id, err)
	}

	t.logger.DebugContext(ctx, "active trigger recorded",
		logger.Component("trigger"),
		logger.TriggerID(id),
		slog.Time("expires_at", entry.Expiry()))

	t.notify(entry)
	return entry, nil
}

// Active returns the entries whose expiry is still in the future and
// persists exactly that list.
func (t *Tracker) Active(ctx context.Context) ([]ActiveTrigger, error) {
	now := t.now().UnixMilli()

	var active []ActiveTrigger
	err := t.store.Update(ctx, StoreKey, func(cur []byte, exists bool) ([]byte, error) {
		list := t.decode(ctx, cur, exists)
		active = slices.DeleteFunc(list, func(a ActiveTrigger) bool {
			return a.ExpiresAt <= now
		})
		if active == nil {
			active = []ActiveTrigger{}
		}
		return json.Marshal(active)
	})
	if err != nil {
		return nil, fmt.Errorf("trigger: read active list: %w", err)
	}
	return active, nil
}

// IsActive reports whether any unexpired entry has the given id.
func (t *Tracker) IsActive(ctx context.Context, id string) (bool, error) {
	active, err := t.Active(ctx)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(active, func(a ActiveTrigger) bool {
		return a.TriggerID == id
	}), nil
}

// ActiveRefs returns the active list in the shape stamped onto events.
func (t *Tracker) ActiveRefs(ctx context.Context) ([]telemetry.ActiveTriggerRef, error) {
	active, err := t.Active(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]telemetry.ActiveTriggerRef, len(active))
	for i, a := range active {
		refs[i] = telemetry.ActiveTriggerRef{TriggerID: a.TriggerID, ExpiresAt: a.ExpiresAt}
	}
	return refs, nil
}

// OnRecord registers fn to be called after every successful Record. The
// returned function removes the registration.
func (t *Tracker) OnRecord(fn func(ActiveTrigger)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	o := &observer{fn: fn}
	t.mu.Lock()
	t.observers[o] = struct{}{}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, o)
		t.mu.Unlock()
	}
}

func (t *Tracker) notify(a ActiveTrigger) {
	t.mu.RLock()
	fns := make([]func(ActiveTrigger), 0, len(t.observers))
	for o := range t.observers {
		fns = append(fns, o.fn)
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(a)
	}
}

// decode parses the stored list. A corrupt value is logged and treated as
// empty so the next write replaces it.
func (t *Tracker) decode(ctx context.Context, data []byte, exists bool) []ActiveTrigger {
	if !exists || len(data) == 0 {
		return nil
	}
	var list []ActiveTrigger
	if err := json.Unmarshal(data, &list); err != nil {
		t.logger.WarnContext(ctx, "discarding corrupt active trigger list",
			logger.Component("trigger"),
			logger.Error(err))
		return nil
	}
	return list
}
