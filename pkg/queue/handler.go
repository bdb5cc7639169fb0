package queue

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Handler executes one task type. Handlers must re-check current state
	// before applying an effect: a task may outlive the condition that
	// scheduled it.
	Handler interface {
		Type() TaskType
		Handle(ctx context.Context, task Task) error
	}

	TaskHandlerFunc[T any] func(ctx context.Context, userID string, payload T) error
)

// NewTaskHandler decodes the task payload into T before calling fn. A payload
// that cannot be decoded is a permanent failure.
func NewTaskHandler[T any](taskType TaskType, fn TaskHandlerFunc[T]) Handler {
	return &typedHandler[T]{taskType: taskType, fn: fn}
}

type typedHandler[T any] struct {
	taskType TaskType
	fn       TaskHandlerFunc[T]
}

func (h *typedHandler[T]) Type() TaskType {
	return h.taskType
}

func (h *typedHandler[T]) Handle(ctx context.Context, task Task) error {
	var payload T
	if len(task.Payload) > 0 && string(task.Payload) != "null" {
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return Permanent(errors.Join(ErrPayloadDecode, err))
		}
	}
	return h.fn(ctx, task.UserID, payload)
}
