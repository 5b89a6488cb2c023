package statemachine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/engagekit/pkg/statemachine"
)

type state string

type event string

const (
	idle    state = "idle"
	running state = "running"
	paused  state = "paused"

	start  event = "start"
	pause  event = "pause"
	resume event = "resume"
	stop   event = "stop"
)

func TestMachine_Fire(t *testing.T) {
	t.Parallel()

	t.Run("basic transitions", func(t *testing.T) {
		t.Parallel()

		sm := statemachine.MustNew[state, event](idle,
			statemachine.WithTransition[state, event](idle, running, start),
			statemachine.WithTransition[state, event](running, paused, pause),
			statemachine.WithTransition[state, event](paused, running, resume),
			statemachine.WithTransition[state, event](running, idle, stop),
		)
		ctx := context.Background()

		assert.Equal(t, idle, sm.Current())
		require.NoError(t, sm.Fire(ctx, start, nil))
		assert.Equal(t, running, sm.Current())
		require.NoError(t, sm.Fire(ctx, pause, nil))
		require.NoError(t, sm.Fire(ctx, resume, nil))
		require.NoError(t, sm.Fire(ctx, stop, nil))
		assert.Equal(t, idle, sm.Current())
	})

	t.Run("no transition available", func(t *testing.T) {
		t.Parallel()

		sm := statemachine.MustNew[state, event](idle,
			statemachine.WithTransition[state, event](idle, running, start))

		err := sm.Fire(context.Background(), pause, nil)
		require.ErrorIs(t, err, statemachine.ErrNoTransition)

		var te *statemachine.TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "idle", te.State)
		assert.Equal(t, "pause", te.Event)
		assert.Equal(t, idle, sm.Current())
	})

	t.Run("guards pick the first passing branch", func(t *testing.T) {
		t.Parallel()

		long := func(_ context.Context, _ state, _ event, data any) bool {
			n, _ := data.(int)
			return n > 10
		}

		var took []string
		record := func(name string) statemachine.Action[state, event] {
			return func(context.Context, state, state, event, any) error {
				took = append(took, name)
				return nil
			}
		}

		sm := statemachine.MustNew[state, event](paused,
			statemachine.WithTransition[state, event](paused, idle, resume,
				statemachine.WithGuard[state, event](long),
				statemachine.WithAction[state, event](record("restart"))),
			statemachine.WithTransition[state, event](paused, running, resume,
				statemachine.WithAction[state, event](record("resume"))),
			statemachine.WithTransition[state, event](running, paused, pause),
			statemachine.WithTransition[state, event](idle, paused, pause),
		)
		ctx := context.Background()

		require.NoError(t, sm.Fire(ctx, resume, 5))
		assert.Equal(t, running, sm.Current())

		require.NoError(t, sm.Fire(ctx, pause, nil))
		require.NoError(t, sm.Fire(ctx, resume, 11))
		assert.Equal(t, idle, sm.Current())
		assert.Equal(t, []string{"resume", "restart"}, took)
	})

	t.Run("rejected by guards", func(t *testing.T) {
		t.Parallel()

		never := func(context.Context, state, event, any) bool { return false }
		sm := statemachine.MustNew[state, event](idle,
			statemachine.WithTransition[state, event](idle, running, start, statemachine.WithGuard[state, event](never)))

		assert.False(t, sm.CanFire(context.Background(), start, nil))
		err := sm.Fire(context.Background(), start, nil)
		assert.ErrorIs(t, err, statemachine.ErrRejected)
		assert.Equal(t, idle, sm.Current())
	})

	t.Run("failing action aborts the transition", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		sm := statemachine.MustNew[state, event](idle,
			statemachine.WithTransition[state, event](idle, running, start,
				statemachine.WithAction[state, event](func(context.Context, state, state, event, any) error { return boom })))

		err := sm.Fire(context.Background(), start, nil)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, idle, sm.Current())
	})

	t.Run("action sees from and to", func(t *testing.T) {
		t.Parallel()

		sm := statemachine.MustNew[state, event](idle,
			statemachine.WithTransition[state, event](idle, running, start,
				statemachine.WithAction[state, event](func(_ context.Context, from, to state, ev event, data any) error {
					assert.Equal(t, idle, from)
					assert.Equal(t, running, to)
					assert.Equal(t, start, ev)
					assert.Equal(t, "payload", data)
					return nil
				})))

		require.NoError(t, sm.Fire(context.Background(), start, "payload"))
	})
}

func TestMachine_Listeners(t *testing.T) {
	t.Parallel()

	type change struct {
		from, to state
		ev       event
	}
	var got []change

	sm := statemachine.MustNew[state, event](idle,
		statemachine.WithTransition[state, event](idle, running, start),
		statemachine.WithTransition[state, event](running, idle, stop),
		statemachine.WithListener[state, event](func(from, to state, ev event) {
			got = append(got, change{from, to, ev})
		}),
	)

	ctx := context.Background()
	require.NoError(t, sm.Fire(ctx, start, nil))
	require.Error(t, sm.Fire(ctx, start, nil))
	require.NoError(t, sm.Fire(ctx, stop, nil))

	assert.Equal(t, []change{{idle, running, start}, {running, idle, stop}}, got)
}

func TestMachine_Reset(t *testing.T) {
	t.Parallel()

	sm := statemachine.MustNew[state, event](idle,
		statemachine.WithTransition[state, event](idle, running, start))
	require.NoError(t, sm.Fire(context.Background(), start, nil))

	sm.Reset()
	assert.Equal(t, idle, sm.Current())
}

func TestMachine_ConcurrentFire(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	transitions := 0
	count := func(context.Context, state, state, event, any) error {
		mu.Lock()
		transitions++
		mu.Unlock()
		return nil
	}

	sm := statemachine.MustNew[state, event](idle,
		statemachine.WithTransition[state, event](idle, running, start, statemachine.WithAction[state, event](count)),
		statemachine.WithTransition[state, event](running, idle, stop, statemachine.WithAction[state, event](count)),
	)

	var (
		wg        sync.WaitGroup
		succeeded sync.Map
	)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sm.Fire(context.Background(), start, nil) == nil {
				succeeded.Store(i, true)
			}
		}()
	}
	wg.Wait()

	n := 0
	succeeded.Range(func(any, any) bool { n++; return true })
	assert.Equal(t, 1, n, "only one start can win from idle")
	assert.Equal(t, 1, transitions)
	assert.Equal(t, running, sm.Current())
}
