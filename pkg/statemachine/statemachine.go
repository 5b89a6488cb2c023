package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Action executes side effects during state transitions. Returning an error prevents the transition.
type Action[S, E comparable] func(ctx context.Context, from, to S, event E, data any) error

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard[S, E comparable] func(ctx context.Context, from S, event E, data any) bool

// Listener is notified after every completed transition.
type Listener[S, E comparable] func(from, to S, event E)

// Transition defines a state change triggered by an event, with optional guards and actions.
type Transition[S, E comparable] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E]  // All must pass for transition to proceed
	Actions []Action[S, E] // Executed in order before state change
}

type key[S, E comparable] struct {
	from  S
	event E
}

// Machine is a thread-safe in-memory state machine.
type Machine[S, E comparable] struct {
	initial     S
	current     S
	transitions map[key[S, E]][]Transition[S, E]
	listeners   []Listener[S, E]
	mu          sync.RWMutex
}

// New creates a new state machine with the given initial state and options.
func New[S, E comparable](initial S, opts ...Option[S, E]) (*Machine[S, E], error) {
	sm := &Machine[S, E]{
		initial:     initial,
		current:     initial,
		transitions: make(map[key[S, E]][]Transition[S, E]),
	}

	for _, opt := range opts {
		if err := opt(sm); err != nil {
			return nil, err
		}
	}

	return sm, nil
}

// MustNew is like New but panics if any option fails to apply.
func MustNew[S, E comparable](initial S, opts ...Option[S, E]) *Machine[S, E] {
	sm, err := New(initial, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return sm
}

func (sm *Machine[S, E]) Current() S {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// AddTransition registers a transition. Transitions sharing from and event
// are tried in registration order.
func (sm *Machine[S, E]) AddTransition(t Transition[S, E]) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	k := key[S, E]{from: t.From, event: t.Event}
	sm.transitions[k] = append(sm.transitions[k], t)
}

// OnTransition registers a listener called after each successful Fire,
// outside the machine's lock.
func (sm *Machine[S, E]) OnTransition(l Listener[S, E]) {
	if l == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, l)
}

// Fire applies event to the current state. Failures to find a transition are
// reported as *TransitionError; a failing action aborts the transition and
// its error is returned wrapped.
func (sm *Machine[S, E]) Fire(ctx context.Context, event E, data any) error {
	sm.mu.Lock()

	from := sm.current
	transitions := sm.transitions[key[S, E]{from: from, event: event}]
	if len(transitions) == 0 {
		sm.mu.Unlock()
		return transitionError(from, event, ErrNoTransition)
	}

	t := sm.selectTransition(ctx, transitions, event, data)
	if t == nil {
		sm.mu.Unlock()
		return transitionError(from, event, ErrRejected)
	}

	for _, action := range t.Actions {
		if err := action(ctx, from, t.To, event, data); err != nil {
			sm.mu.Unlock()
			return fmt.Errorf("action failed: %w", err)
		}
	}

	sm.current = t.To
	listeners := sm.listeners
	sm.mu.Unlock()

	for _, l := range listeners {
		l(from, t.To, event)
	}
	return nil
}

// CanFire reports whether Fire would find a transition whose guards pass.
func (sm *Machine[S, E]) CanFire(ctx context.Context, event E, data any) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	transitions := sm.transitions[key[S, E]{from: sm.current, event: event}]
	return sm.selectTransition(ctx, transitions, event, data) != nil
}

// Reset returns the machine to its initial state without running actions.
func (sm *Machine[S, E]) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.current = sm.initial
}

// First transition with passing guards wins.
func (sm *Machine[S, E]) selectTransition(ctx context.Context, transitions []Transition[S, E], event E, data any) *Transition[S, E] {
	for i, t := range transitions {
		passed := true
		for _, guard := range t.Guards {
			if !guard(ctx, sm.current, event, data) {
				passed = false
				break
			}
		}
		if passed {
			return &transitions[i]
		}
	}
	return nil
}
