package session

import "time"

// State of the session lifecycle.
type State string

const (
	StateNoSession  State = "no_session"
	StateForeground State = "foreground"
	StateBackground State = "background"
)

// signal drives the lifecycle state machine.
type signal string

const (
	signalLaunch     signal = "launch"
	signalForeground signal = "foreground"
	signalBackground signal = "background"
)

// Session is a snapshot of the current session descriptor.
type Session struct {
	ID        string
	Number    int64
	StartedAt time.Time
}

// NotificationKind identifies what happened.
type NotificationKind string

const (
	SessionStarted   NotificationKind = "session_started"
	SessionConcluded NotificationKind = "session_concluded"
	Foregrounded     NotificationKind = "foregrounded"
	Backgrounded     NotificationKind = "backgrounded"
)

// Notification is delivered to observers after a transition.
// Duration is the session length for SessionConcluded, the background gap
// for Foregrounded, and the foreground span for Backgrounded.
type Notification struct {
	Kind     NotificationKind
	Session  Session
	Duration time.Duration
	At       time.Time
}

// Observer receives lifecycle notifications.
type Observer func(Notification)
