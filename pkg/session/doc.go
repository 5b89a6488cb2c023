// Package session implements the session lifecycle state machine of the SDK.
//
// A Manager owns the current session descriptor and moves between three
// states:
//
//	NoSession --launch/foreground--> Foreground <--background/foreground--> Background
//
// Entering the foreground after more than the idle threshold in the
// background concludes the current session and starts a new one with the
// next number; a shorter gap resumes the same session. Every transition
// enqueues its lifecycle records (launch events, SESSION_CONCLUDED,
// foreground/background events) into the delivery queue, and a keepalive
// timer enqueues KEEP_ALIVE pings while the app is in the foreground.
//
// Transitions are serialized by the underlying state machine. The session
// counter, the first-launch marker and the current descriptor are persisted
// in a kv.Store, so numbering survives restarts and a session interrupted by
// process death is concluded on the next cold start.
//
// Observers registered with Subscribe receive a Notification after each
// transition completes. They run on the caller's goroutine and may call back
// into the Manager.
package session
