package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage is a process-local Storage for tests and single-instance
// development setups.
type MemoryStorage struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task

	byStatus map[TaskStatus]map[uuid.UUID]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks:    make(map[uuid.UUID]*Task),
		byStatus: make(map[TaskStatus]map[uuid.UUID]struct{}),
	}
}

func (ms *MemoryStorage) Create(_ context.Context, task Task) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return ErrDuplicateTask
	}

	t := cloneTask(task)
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	ms.tasks[t.ID] = &t
	ms.index(t.ID, "", t.Status)
	return nil
}

func (ms *MemoryStorage) Get(_ context.Context, id uuid.UUID) (Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	t, ok := ms.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return cloneTask(*t), nil
}

func (ms *MemoryStorage) ListDue(_ context.Context, now time.Time, limit int) ([]Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var due []Task
	for id := range ms.byStatus[TaskStatusPending] {
		t := ms.tasks[id]
		if !t.ScheduledFor.After(now) {
			due = append(due, cloneTask(*t))
		}
	}
	slices.SortFunc(due, func(a, b Task) int {
		if c := a.ScheduledFor.Compare(b.ScheduledFor); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (ms *MemoryStorage) Claim(_ context.Context, id uuid.UUID, workerID string, now, leaseUntil time.Time) (Task, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[id]
	if !ok {
		return Task{}, false, ErrTaskNotFound
	}
	if t.Status != TaskStatusPending || t.ScheduledFor.After(now) {
		return Task{}, false, nil
	}

	ms.index(id, t.Status, TaskStatusProcessing)
	t.Status = TaskStatusProcessing
	t.Attempts++
	t.LockedBy = workerID
	lease := leaseUntil
	t.LockedUntil = &lease
	t.UpdatedAt = now
	return cloneTask(*t), true, nil
}

func (ms *MemoryStorage) Complete(_ context.Context, id uuid.UUID, workerID string, now time.Time) error {
	return ms.finish(id, workerID, now, func(t *Task) {
		ms.index(id, t.Status, TaskStatusDone)
		t.Status = TaskStatusDone
		finished := now
		t.FinishedAt = &finished
	})
}

func (ms *MemoryStorage) Retry(_ context.Context, id uuid.UUID, workerID string, nextAt time.Time, lastErr string, now time.Time) error {
	return ms.finish(id, workerID, now, func(t *Task) {
		ms.index(id, t.Status, TaskStatusPending)
		t.Status = TaskStatusPending
		t.ScheduledFor = nextAt
		t.LastError = lastErr
	})
}

func (ms *MemoryStorage) Fail(_ context.Context, id uuid.UUID, workerID string, lastErr string, now time.Time) error {
	return ms.finish(id, workerID, now, func(t *Task) {
		ms.index(id, t.Status, TaskStatusFailed)
		t.Status = TaskStatusFailed
		t.LastError = lastErr
		finished := now
		t.FinishedAt = &finished
	})
}

func (ms *MemoryStorage) RecoverStale(_ context.Context, now time.Time, limit int) ([]Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var recovered []Task
	for id := range ms.byStatus[TaskStatusProcessing] {
		if limit > 0 && len(recovered) >= limit {
			break
		}
		t := ms.tasks[id]
		if t.LockedUntil == nil || !t.LockedUntil.Before(now) {
			continue
		}
		ms.index(id, t.Status, TaskStatusFailed)
		t.Status = TaskStatusFailed
		t.LastError = staleLeaseError
		t.LockedBy = ""
		t.LockedUntil = nil
		t.UpdatedAt = now
		finished := now
		t.FinishedAt = &finished
		recovered = append(recovered, cloneTask(*t))
	}
	return recovered, nil
}

func (ms *MemoryStorage) ListFailed(_ context.Context, limit int) ([]Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]Task, 0, len(ms.byStatus[TaskStatusFailed]))
	for id := range ms.byStatus[TaskStatusFailed] {
		out = append(out, cloneTask(*ms.tasks[id]))
	}
	slices.SortFunc(out, func(a, b Task) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// finish applies fn to a task the worker still holds. Caller must not hold mu.
func (ms *MemoryStorage) finish(id uuid.UUID, workerID string, now time.Time, fn func(*Task)) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != TaskStatusProcessing || t.LockedBy != workerID {
		return ErrLeaseLost
	}
	fn(t)
	t.LockedBy = ""
	t.LockedUntil = nil
	t.UpdatedAt = now
	return nil
}

func (ms *MemoryStorage) index(id uuid.UUID, from, to TaskStatus) {
	if from != "" {
		delete(ms.byStatus[from], id)
	}
	if ms.byStatus[to] == nil {
		ms.byStatus[to] = make(map[uuid.UUID]struct{})
	}
	ms.byStatus[to][id] = struct{}{}
}

func cloneTask(t Task) Task {
	t.Payload = slices.Clone(t.Payload)
	if t.LockedUntil != nil {
		v := *t.LockedUntil
		t.LockedUntil = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		t.FinishedAt = &v
	}
	return t
}
