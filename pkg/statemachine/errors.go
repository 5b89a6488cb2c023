package statemachine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTransition means nothing is registered for the current state and event.
	ErrNoTransition = errors.New("no transition available")

	// ErrRejected means every candidate transition was blocked by a guard.
	ErrRejected = errors.New("transition rejected by guards")
)

// TransitionError records the state and event of a failed Fire. It unwraps
// to ErrNoTransition or ErrRejected.
type TransitionError struct {
	State string
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("statemachine: %v: state %q, event %q", e.Err, e.State, e.Event)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func transitionError(state, event any, err error) error {
	return &TransitionError{State: fmt.Sprint(state), Event: fmt.Sprint(event), Err: err}
}
