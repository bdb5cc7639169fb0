package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskType names a deferred effect; each type has exactly one Handler.
type TaskType string

// TaskStatus is the lifecycle state of a deferred task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusDone, TaskStatusFailed:
		return true
	}
	return false
}

// Task is a durable scheduled effect. A task moves pending -> processing ->
// done | pending (retry) | failed and is executed at most once per claim.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	Type         TaskType        `json:"type"`
	UserID       string          `json:"user_id"`
	Payload      json.RawMessage `json:"payload"`
	Status       TaskStatus      `json:"status"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	LastError    string          `json:"last_error,omitempty"`
	LockedBy     string          `json:"locked_by,omitempty"`
	LockedUntil  *time.Time      `json:"locked_until,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Exhausted reports whether the task has used all of its attempts.
func (t Task) Exhausted() bool {
	return t.MaxAttempts > 0 && t.Attempts >= t.MaxAttempts
}

// SweepStats summarises one sweep pass.
type SweepStats struct {
	Due     int `json:"due"`
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	// Skipped counts tasks another sweeper claimed first.
	Skipped int `json:"skipped"`
}
