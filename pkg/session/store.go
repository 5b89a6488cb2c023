package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrymomot/engagekit/pkg/kv"
)

// kv keys owned by the session manager.
const (
	KeySessionCounter = "session_counter"
	KeyFirstLaunch    = "first_launch_at"
	KeyCurrentSession = "current_session"
)

// descriptor is the persisted form of the current session.
type descriptor struct {
	ID         string `json:"id"`
	Number     int64  `json:"number"`
	StartedAt  int64  `json:"startedAt"`
	LastSeenAt int64  `json:"lastSeenAt"`
}

func (d descriptor) session() Session {
	return Session{ID: d.ID, Number: d.Number, StartedAt: time.UnixMilli(d.StartedAt)}
}

// nextSessionNumber atomically increments and returns the persisted counter.
func nextSessionNumber(ctx context.Context, store kv.Store) (int64, error) {
	var next int64
	err := store.Update(ctx, KeySessionCounter, func(cur []byte, exists bool) ([]byte, error) {
		var n int64
		if exists {
			parsed, err := strconv.ParseInt(string(cur), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt session counter %q: %w", cur, err)
			}
			n = parsed
		}
		next = n + 1
		return []byte(strconv.FormatInt(next, 10)), nil
	})
	return next, err
}

// markFirstLaunch records now as the first launch time if none is stored
// and reports whether this call set it.
func markFirstLaunch(ctx context.Context, store kv.Store, now time.Time) (bool, error) {
	first := false
	err := store.Update(ctx, KeyFirstLaunch, func(cur []byte, exists bool) ([]byte, error) {
		if exists {
			return cur, nil
		}
		first = true
		return []byte(strconv.FormatInt(now.UnixMilli(), 10)), nil
	})
	return first, err
}

func loadDescriptor(ctx context.Context, store kv.Store) (descriptor, bool, error) {
	data, err := store.Get(ctx, KeyCurrentSession)
	if errors.Is(err, kv.ErrNotFound) {
		return descriptor{}, false, nil
	}
	if err != nil {
		return descriptor{}, false, err
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return descriptor{}, false, fmt.Errorf("corrupt session descriptor: %w", err)
	}
	return d, true, nil
}

func saveDescriptor(ctx context.Context, store kv.Store, d descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return store.Set(ctx, KeyCurrentSession, data)
}

// touchDescriptor moves lastSeenAt forward for the session with the given id.
func touchDescriptor(ctx context.Context, store kv.Store, id string, at time.Time) error {
	return store.Update(ctx, KeyCurrentSession, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, nil
		}
		var d descriptor
		if err := json.Unmarshal(cur, &d); err != nil || d.ID != id {
			return cur, nil
		}
		if ms := at.UnixMilli(); ms > d.LastSeenAt {
			d.LastSeenAt = ms
		}
		return json.Marshal(d)
	})
}
