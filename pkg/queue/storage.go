package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Storage persists deferred tasks. Every state change is a conditional write
// keyed by task id so any number of sweepers can share one store.
type Storage interface {
	// Create inserts a pending task; an existing id yields ErrDuplicateTask.
	Create(ctx context.Context, task Task) error
	Get(ctx context.Context, id uuid.UUID) (Task, error)

	// ListDue returns pending tasks with ScheduledFor <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// Claim moves a due task from pending to processing, increments its
	// attempt count and leases it to workerID until leaseUntil. It reports
	// false when another worker claimed the task first.
	Claim(ctx context.Context, id uuid.UUID, workerID string, now, leaseUntil time.Time) (Task, bool, error)

	// Complete, Retry and Fail require the caller to still hold the lease and
	// return ErrLeaseLost otherwise.
	Complete(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error
	Retry(ctx context.Context, id uuid.UUID, workerID string, nextAt time.Time, lastErr string, now time.Time) error
	Fail(ctx context.Context, id uuid.UUID, workerID string, lastErr string, now time.Time) error

	// RecoverStale fails processing tasks whose lease expired before now and
	// returns them.
	RecoverStale(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// ListFailed returns dead-lettered tasks, most recent first.
	ListFailed(ctx context.Context, limit int) ([]Task, error)
}
const staleLeaseError = "lease expired before the task finished"
