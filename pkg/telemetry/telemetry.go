package telemetry

import (
	"maps"
	"time"
)

// Well-known event names.
const (
	EventAppInstalled  = "CE App Installed"
	EventAppLaunched   = "CE App Launched"
	EventAppForeground = "CE App Foreground"
	EventAppBackground = "CE App Background"
)

// Well-known property keys.
const (
	PropDuration     = "CE Duration"
	PropSessionCount = "CE Session Count"
	PropFirstLaunch  = "CE First Launch Time"
	PropInstalledAt  = "CE Installed Time"
)

// ActiveTriggerRef is an engagement trigger that was live when an event
// occurred. ExpiresAt is milliseconds since the Unix epoch.
type ActiveTriggerRef struct {
	TriggerID string `json:"triggerID"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Event is an analytics event. Session and trigger fields are stamped by the
// session manager at enqueue time.
type Event struct {
	Name           string             `json:"name"`
	Properties     map[string]any     `json:"properties,omitempty"`
	DeviceProps    map[string]any     `json:"deviceProps,omitempty"`
	SessionID      string             `json:"sessionID,omitempty"`
	SessionNumber  int64              `json:"sessionNumber,omitempty"`
	ScreenName     string             `json:"screenName,omitempty"`
	ActiveTriggers []ActiveTriggerRef `json:"activeTriggers"`
	Occurred       time.Time          `json:"occurred"`
}

// NewEvent returns an event with a private copy of props.
func NewEvent(name string, props map[string]any) Event {
	e := Event{Name: name, Properties: map[string]any{}}
	maps.Copy(e.Properties, props)
	return e
}

// WithProperty returns e with key set, copying the property map.
func (e Event) WithProperty(key string, value any) Event {
	props := make(map[string]any, len(e.Properties)+1)
	maps.Copy(props, e.Properties)
	props[key] = value
	e.Properties = props
	return e
}

// ProfileUpdate carries user and device properties.
type ProfileUpdate struct {
	UserData       map[string]any `json:"userData,omitempty"`
	UserProperties map[string]any `json:"userProperties,omitempty"`
	SessionID      string         `json:"sessionID,omitempty"`
	Occurred       time.Time      `json:"occurred"`
}

// SessionConcluded closes a session. Duration is in whole seconds.
type SessionConcluded struct {
	SessionID     string    `json:"sessionID"`
	SessionNumber int64     `json:"sessionNumber"`
	Duration      int64     `json:"duration"`
	Occurred      time.Time `json:"occurred"`
}

// KeepAlive proves a foregrounded session is still active.
type KeepAlive struct {
	SessionID     string    `json:"sessionID"`
	SessionNumber int64     `json:"sessionNumber"`
	Occurred      time.Time `json:"occurred"`
}

// PushToken registers the device's push notification token.
type PushToken struct {
	Token     string    `json:"firebaseToken"`
	SessionID string    `json:"sessionID,omitempty"`
	Occurred  time.Time `json:"occurred"`
}

// Seconds converts d to whole seconds, rounding to the nearest second.
func Seconds(d time.Duration) int64 {
	return int64(d.Round(time.Second) / time.Second)
}
