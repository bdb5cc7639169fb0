package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error"; nil yields an empty Attr, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the stable user identifier.
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Action(action string) slog.Attr {
	return slog.String("action", action)
}

func PlanID(id string) slog.Attr {
	return slog.String("plan_id", id)
}

// EventID records a billing provider event id.
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// TaskID records a deferred task id; any Stringer (uuid.UUID) or string works.
func TaskID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("task_id", id)
}

func TaskType(t string) slog.Attr {
	return slog.String("task_type", t)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// Group creates a group attribute.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}
