package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// TaskID records a queue task id. Accepts anything with a String method.
func TaskID(id fmt.Stringer) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.String("task_id", id.String())
}

// TaskType records a queue task type.
func TaskType[T ~string](t T) slog.Attr {
	return slog.String("task_type", string(t))
}

// Attempts records how many failed delivery attempts a task has accumulated.
func Attempts(n int) slog.Attr {
	return slog.Int("attempts", n)
}

func SessionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("session_id", id)
}

func SessionNumber(n int64) slog.Attr {
	return slog.Int64("session_number", n)
}

func TriggerID(id string) slog.Attr {
	return slog.String("trigger_id", id)
}

// Event records an analytics event name.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func StatusCode(code int) slog.Attr {
	if code == 0 {
		return slog.Attr{}
	}
	return slog.Int("status_code", code)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
