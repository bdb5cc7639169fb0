package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dietbot/entitlement/pkg/pg"
)

// PostgresStorage keeps tasks in the deferred_tasks table.
type PostgresStorage struct {
	db pg.Querier
}

func NewPostgresStorage(db pg.Querier) *PostgresStorage {
	return &PostgresStorage{db: db}
}

const taskColumns = `id, task_type, user_id, payload, status, scheduled_for, attempts,
	max_attempts, last_error, locked_by, locked_until, created_at, updated_at, finished_at`

func (s *PostgresStorage) Create(ctx context.Context, task Task) error {
	payload := task.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	status := task.Status
	if status == "" {
		status = TaskStatusPending
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO deferred_tasks (id, task_type, user_id, payload, status, scheduled_for,
			attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		task.ID, string(task.Type), task.UserID, []byte(payload), string(status),
		task.ScheduledFor, task.Attempts, task.MaxAttempts, task.CreatedAt)
	if pg.IsDuplicateKeyError(err) {
		return ErrDuplicateTask
	}
	if err != nil {
		return errors.Join(ErrStorageFailure, err)
	}
	return nil
}

func (s *PostgresStorage) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	rows, err := s.db.Query(ctx, `SELECT `+taskColumns+` FROM deferred_tasks WHERE id = $1`, id)
	if err != nil {
		return Task{}, errors.Join(ErrStorageFailure, err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return Task{}, err
	}
	if len(tasks) == 0 {
		return Task{}, ErrTaskNotFound
	}
	return tasks[0], nil
}

func (s *PostgresStorage) ListDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+` FROM deferred_tasks
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for, created_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Join(ErrStorageFailure, err)
	}
	return collectTasks(rows)
}

// Claim is the compare-and-swap that makes execution exactly-once: only one
// UPDATE can match the pending row.
func (s *PostgresStorage) Claim(ctx context.Context, id uuid.UUID, workerID string, now, leaseUntil time.Time) (Task, bool, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE deferred_tasks
		SET status = 'processing', attempts = attempts + 1,
			locked_by = $2, locked_until = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending' AND scheduled_for <= $4
		RETURNING `+taskColumns, id, workerID, leaseUntil, now)
	if err != nil {
		return Task{}, false, errors.Join(ErrStorageFailure, err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return Task{}, false, err
	}
	if len(tasks) == 0 {
		return Task{}, false, nil
	}
	return tasks[0], true, nil
}

func (s *PostgresStorage) Complete(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	return s.finish(ctx, `
		UPDATE deferred_tasks
		SET status = 'done', locked_by = '', locked_until = NULL, updated_at = $3, finished_at = $3
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`,
		id, workerID, now)
}

func (s *PostgresStorage) Retry(ctx context.Context, id uuid.UUID, workerID string, nextAt time.Time, lastErr string, now time.Time) error {
	return s.finish(ctx, `
		UPDATE deferred_tasks
		SET status = 'pending', scheduled_for = $3, last_error = $4,
			locked_by = '', locked_until = NULL, updated_at = $5
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`,
		id, workerID, nextAt, lastErr, now)
}

func (s *PostgresStorage) Fail(ctx context.Context, id uuid.UUID, workerID string, lastErr string, now time.Time) error {
	return s.finish(ctx, `
		UPDATE deferred_tasks
		SET status = 'failed', last_error = $3,
			locked_by = '', locked_until = NULL, updated_at = $4, finished_at = $4
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`,
		id, workerID, lastErr, now)
}

func (s *PostgresStorage) RecoverStale(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE deferred_tasks
		SET status = 'failed', last_error = $3,
			locked_by = '', locked_until = NULL, updated_at = $1, finished_at = $1
		WHERE id IN (
			SELECT id FROM deferred_tasks
			WHERE status = 'processing' AND locked_until < $1
			ORDER BY locked_until
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns, now, limit, staleLeaseError)
	if err != nil {
		return nil, errors.Join(ErrFailedToRecoverTasks, err)
	}
	return collectTasks(rows)
}

func (s *PostgresStorage) ListFailed(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+` FROM deferred_tasks
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Join(ErrStorageFailure, err)
	}
	return collectTasks(rows)
}

func (s *PostgresStorage) finish(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return errors.Join(ErrFailedToUpdateTask, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Task, error) {
		var (
			t        Task
			taskType string
			status   string
			payload  []byte
		)
		err := row.Scan(&t.ID, &taskType, &t.UserID, &payload, &status, &t.ScheduledFor,
			&t.Attempts, &t.MaxAttempts, &t.LastError, &t.LockedBy, &t.LockedUntil,
			&t.CreatedAt, &t.UpdatedAt, &t.FinishedAt)
		t.Type = TaskType(taskType)
		t.Status = TaskStatus(status)
		t.Payload = json.RawMessage(payload)
		return t, err
	})
	if err != nil {
		return nil, errors.Join(ErrStorageFailure, err)
	}
	return tasks, nil
}
