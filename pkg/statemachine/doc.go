// Package statemachine implements a small, generic, thread-safe finite state
// machine with guard-based branching.
//
// States and events are any comparable type, usually a string-based enum.
// Several transitions may share the same (from, event) pair; the first one
// whose guards all pass is taken, so declaration order encodes priority.
// Actions run before the state changes and can abort the transition by
// returning an error.
//
// Fire holds the machine's lock while guards and actions run, so transitions
// are serialized and actions observe a stable current state. Actions must not
// call back into the same machine.
//
// Example:
//
//	type state string
//	type event string
//
//	sm := statemachine.MustNew[state, event]("idle",
//	    statemachine.WithTransition[state, event]("idle", "running", "start"),
//	    statemachine.WithTransition[state, event]("running", "idle", "stop",
//	        statemachine.WithAction[state, event](func(ctx context.Context, from, to state, ev event, data any) error {
//	            return flush(ctx)
//	        }),
//	    ),
//	)
//
//	err := sm.Fire(ctx, "start", nil)
package statemachine
