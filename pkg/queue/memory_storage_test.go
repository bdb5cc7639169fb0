package queue_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dietbot/entitlement/pkg/queue"
)

func newTask(scheduledFor time.Time) queue.Task {
	return queue.Task{
		ID:           uuid.New(),
		Type:         "test",
		UserID:       "u1",
		Status:       queue.TaskStatusPending,
		ScheduledFor: scheduledFor,
		MaxAttempts:  3,
		CreatedAt:    scheduledFor,
		UpdatedAt:    scheduledFor,
	}
}

func TestMemoryStorage_CreateDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	task := newTask(time.Now())

	require.NoError(t, s.Create(ctx, task))
	assert.ErrorIs(t, s.Create(ctx, task), queue.ErrDuplicateTask)

	_, err := s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}

func TestMemoryStorage_ListDueOrderAndLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	late := newTask(now.Add(-time.Minute))
	early := newTask(now.Add(-time.Hour))
	future := newTask(now.Add(time.Minute))
	for _, task := range []queue.Task{late, early, future} {
		require.NoError(t, s.Create(ctx, task))
	}

	due, err := s.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	due, err = s.ListDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early.ID, due[0].ID)
}

func TestMemoryStorage_ClaimIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()
	task := newTask(now.Add(-time.Second))
	require.NoError(t, s.Create(ctx, task))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.Claim(ctx, task.ID, "w"+string(rune('a'+i)), now, now.Add(time.Minute))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.LockedUntil)
}

func TestMemoryStorage_ClaimNotDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()
	task := newTask(now.Add(time.Hour))
	require.NoError(t, s.Create(ctx, task))

	_, ok, err := s.Claim(ctx, task.ID, "w", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStorage_FinishRequiresLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()
	task := newTask(now.Add(-time.Second))
	require.NoError(t, s.Create(ctx, task))

	// Not claimed yet.
	assert.ErrorIs(t, s.Complete(ctx, task.ID, "w1", now), queue.ErrLeaseLost)

	_, ok, err := s.Claim(ctx, task.ID, "w1", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, s.Complete(ctx, task.ID, "w2", now), queue.ErrLeaseLost)
	require.NoError(t, s.Complete(ctx, task.ID, "w1", now))
	assert.ErrorIs(t, s.Complete(ctx, task.ID, "w1", now), queue.ErrLeaseLost)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusDone, got.Status)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedUntil)
}

func TestMemoryStorage_RetryReturnsToPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()
	task := newTask(now.Add(-time.Second))
	require.NoError(t, s.Create(ctx, task))

	_, ok, err := s.Claim(ctx, task.ID, "w1", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	next := now.Add(5 * time.Minute)
	require.NoError(t, s.Retry(ctx, task.ID, "w1", next, "temporary", now))

	due, err := s.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ListDue(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "temporary", due[0].LastError)
	assert.Equal(t, 1, due[0].Attempts)
}

func TestMemoryStorage_RecoverStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()
	stale := newTask(now.Add(-time.Hour))
	fresh := newTask(now.Add(-time.Hour))
	require.NoError(t, s.Create(ctx, stale))
	require.NoError(t, s.Create(ctx, fresh))

	_, _, err := s.Claim(ctx, stale.ID, "dead", now.Add(-time.Hour), now.Add(-time.Minute))
	require.NoError(t, err)
	_, _, err = s.Claim(ctx, fresh.ID, "alive", now, now.Add(time.Minute))
	require.NoError(t, err)

	recovered, err := s.RecoverStale(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, stale.ID, recovered[0].ID)
	assert.Equal(t, queue.TaskStatusFailed, recovered[0].Status)

	// The dead worker cannot finish it afterwards.
	assert.ErrorIs(t, s.Complete(ctx, stale.ID, "dead", now), queue.ErrLeaseLost)
	require.NoError(t, s.Complete(ctx, fresh.ID, "alive", now))
}
