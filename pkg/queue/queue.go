package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dietbot/entitlement/pkg/logger"
)

// taskNamespace seeds deterministic task ids derived from dedup keys.
var taskNamespace = uuid.MustParse("5f1d8a0e-6a43-4c1e-9a0b-2f6d3c8e7b41")

// Queue schedules deferred tasks.
type Queue struct {
	storage     Storage
	maxAttempts int
	log         *slog.Logger
	now         func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithDefaultMaxAttempts sets the attempt budget for tasks that don't override it.
func WithDefaultMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithLogger sets the queue logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New returns a Queue scheduling into storage.
func New(storage Storage, opts ...Option) (*Queue, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	q := &Queue{
		storage:     storage,
		maxAttempts: 5,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With(logger.Component("queue"))
	return q, nil
}

type scheduleOptions struct {
	dedupKey    string
	maxAttempts int
}

type ScheduleOption func(*scheduleOptions)

// WithDedupKey derives the task id from the task type and key, so scheduling
// the same key twice yields one task. The second call returns the existing id.
func WithDedupKey(key string) ScheduleOption {
	return func(o *scheduleOptions) { o.dedupKey = key }
}

func WithMaxAttempts(n int) ScheduleOption {
	return func(o *scheduleOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// TaskIDFor returns the id Schedule assigns to a task scheduled with WithDedupKey(key).
func TaskIDFor(taskType TaskType, key string) uuid.UUID {
	return uuid.NewSHA1(taskNamespace, []byte(string(taskType)+":"+key))
}

// Schedule persists a pending task that becomes due at scheduledFor.
func (q *Queue) Schedule(ctx context.Context, taskType TaskType, userID string, payload any, scheduledFor time.Time, opts ...ScheduleOption) (uuid.UUID, error) {
	if taskType == "" {
		return uuid.Nil, ErrInvalidTaskType
	}

	o := scheduleOptions{maxAttempts: q.maxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, errors.Join(ErrPayloadMarshal, err)
	}

	id := uuid.New()
	if o.dedupKey != "" {
		id = TaskIDFor(taskType, o.dedupKey)
	}

	now := q.now()
	task := Task{
		ID:           id,
		Type:         taskType,
		UserID:       userID,
		Payload:      raw,
		Status:       TaskStatusPending,
		ScheduledFor: scheduledFor,
		MaxAttempts:  o.maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := q.storage.Create(ctx, task); err != nil {
		if errors.Is(err, ErrDuplicateTask) && o.dedupKey != "" {
			q.log.DebugContext(ctx, "task already scheduled",
				logger.TaskID(id), logger.TaskType(string(taskType)), logger.UserID(userID))
			return id, nil
		}
		return uuid.Nil, err
	}

	q.log.DebugContext(ctx, "task scheduled",
		logger.TaskID(id),
		logger.TaskType(string(taskType)),
		logger.UserID(userID),
		slog.Time("scheduled_for", scheduledFor))
	return id, nil
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	return q.storage.Get(ctx, id)
}

// ListFailed returns dead-lettered tasks for operator inspection.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.storage.ListFailed(ctx, limit)
}
