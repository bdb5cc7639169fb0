package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dietbot/entitlement/pkg/queue"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (n *recordingNotifier) TaskDeadLettered(_ context.Context, task queue.Task) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, task)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.tasks)
}

func newSweeper(t *testing.T, storage queue.Storage, opts ...queue.SweeperOption) *queue.Sweeper {
	t.Helper()
	opts = append([]queue.SweeperOption{
		queue.WithSweeperLogger(quietLogger),
		queue.WithConfig(queue.Config{RetryBackoff: time.Minute, LeaseTimeout: 10 * time.Minute, BatchSize: 100, MaxConcurrent: 4}),
	}, opts...)
	s, err := queue.NewSweeper(storage, opts...)
	require.NoError(t, err)
	return s
}

func TestSweeper_ExecutesDueTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	storage := queue.NewMemoryStorage()
	q, err := queue.New(storage)
	require.NoError(t, err)

	var got grantPayload
	var gotUser string
	sweeper := newSweeper(t, storage)
	require.NoError(t, sweeper.Register(queue.NewTaskHandler("expire_grant",
		func(_ context.Context, userID string, p grantPayload) error {
			gotUser, got = userID, p
			return nil
		})))

	id, err := q.Schedule(ctx, "expire_grant", "user-9", grantPayload{GrantID: "g-9"}, now.Add(time.Hour))
	require.NoError(t, err)

	stats, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, queue.SweepStats{}, stats, "task is not due yet")

	stats, err = sweeper.Sweep(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Due)
	assert.Equal(t, 1, stats.Done)
	assert.Equal(t, "user-9", gotUser)
	assert.Equal(t, "g-9", got.GrantID)

	task, err := storage.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusDone, task.Status)
	assert.Equal(t, 1, task.Attempts)

	// A redundant sweep does nothing.
	stats, err = sweeper.Sweep(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.Due)
}

func TestSweeper_RetryWithBackoffThenDeadLetter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	storage := queue.NewMemoryStorage()
	q, err := queue.New(storage)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	sweeper := newSweeper(t, storage, queue.WithNotifier(notifier))

	var calls atomic.Int32
	require.NoError(t, sweeper.Register(queue.NewTaskHandler("flaky",
		func(context.Context, string, struct{}) error {
			calls.Add(1)
			return errors.New("provider down")
		})))

	id, err := q.Schedule(ctx, "flaky", "u1", nil, now, queue.WithMaxAttempts(3))
	require.NoError(t, err)

	// Attempt 1 fails, next attempt at now + 1×backoff.
	stats, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	task, err := storage.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.True(t, now.Add(time.Minute).Equal(task.ScheduledFor))
	assert.Equal(t, "provider down", task.LastError)

	// Attempt 2 at +1m fails, next at +1m + 2×backoff.
	second := now.Add(time.Minute)
	stats, err = sweeper.Sweep(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	task, err = storage.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, second.Add(2*time.Minute).Equal(task.ScheduledFor))

	// Attempt 3 exhausts the budget.
	stats, err = sweeper.Sweep(ctx, second.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	task, err = storage.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusFailed, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Contains(t, task.LastError, "provider down")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, notifier.count())

	stats, err = sweeper.Sweep(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.Due)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSweeper_PermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := queue.NewMemoryStorage()
	q, err := queue.New(storage)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	sweeper := newSweeper(t, storage, queue.WithNotifier(notifier))
	require.NoError(t, sweeper.Register(queue.NewTaskHandler("strict",
		func(context.Context, string, struct{}) error {
			return queue.Permanent(errors.New("grant does not exist"))
		})))

	id, err := q.Schedule(ctx, "strict", "u1", nil, now)
	require.NoError(t, err)

	stats, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	task, err := storage.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusFailed, task.Status)
	assert.Equal(t, 1, notifier.count())
}

func TestSweeper_UndecodablePayloadIsPermanent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := queue.NewMemoryStorage()

	task := newTask(now)
	task.Type = "typed"
	task.Payload = []byte(`{"grant_id": 42}`)
	require.NoError(t, storage.Create(ctx, task))

	sweeper := newSweeper(t, storage)
	require.NoError(t, sweeper.Register(queue.NewTaskHandler("typed",
		func(context.Context, string, grantPayload) error { return nil })))

	stats, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestSweeper_UnknownTypeDeadLettered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := queue.NewMemoryStorage()
	q, err := queue.New(storage)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	sweeper := newSweeper(t, storage, queue.WithNotifier(notifier))

	id, err := q.Schedule(ctx, "nobody_handles_this", "u1", nil, now)
	require.NoError(t, err)

	stats, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	task, err := storage.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusFailed, task.Status)
	assert.Contains(t, task.LastError, queue.ErrHandlerNotFound.Error())
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, id, notifier.tasks[0].ID)
}

func TestSweeper_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := queue.NewMemoryStorage()
	q, err := queue.New(storage)
	require.NoError(t, err)

	sweeper := newSweeper(t, storage)
	require.NoError(t, sweeper.Register(queue.NewTaskHandler("panics",
		func(context.Context, string, struct{}) error { panic("nil map") })))

	id, err := q.Schedule(ctx, "panics", "u1", nil, now)
	require.NoError(t, err)

	stats, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	task, err := storage.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusPending, task.Status)
	assert.Contains(t, task.LastError, "nil map")
}

func TestSweeper_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	sweeper := newSweeper(t, queue.NewMemoryStorage())
	h := queue.NewTaskHandler("a", func(context.Context, string, struct{}) error { return nil })
	require.NoError(t, sweeper.Register(h))
	assert.ErrorIs(t, sweeper.Register(h), queue.ErrHandlerAlreadyExists)
}

func TestSweeper_ConcurrentSweepsExecuteOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := queue.NewMemoryStorage()
	q, err := queue.New(storage)
	require.NoError(t, err)

	const tasks = 50
	var mu sync.Mutex
	executed := make(map[string]int)
	handler := queue.NewTaskHandler("once", func(_ context.Context, _ string, p grantPayload) error {
		mu.Lock()
		executed[p.GrantID]++
		mu.Unlock()
		return nil
	})

	for i := range tasks {
		_, err := q.Schedule(ctx, "once", "u", grantPayload{GrantID: uuid.NewString()}, now.Add(-time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	sweepers := make([]*queue.Sweeper, 4)
	for i := range sweepers {
		sweepers[i] = newSweeper(t, storage, queue.WithWorkerID(uuid.NewString()))
		require.NoError(t, sweepers[i].Register(handler))
	}

	var wg sync.WaitGroup
	var done atomic.Int32
	for _, s := range sweepers {
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				stats, err := s.Sweep(ctx, now)
				assert.NoError(t, err)
				done.Add(int32(stats.Done))
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int32(tasks), done.Load())
	require.Len(t, executed, tasks)
	for id, n := range executed {
		assert.Equal(t, 1, n, "task %s executed %d times", id, n)
	}
}

func TestSweeper_RecoverStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := queue.NewMemoryStorage()
	notifier := &recordingNotifier{}
	sweeper := newSweeper(t, storage, queue.WithNotifier(notifier))

	task := newTask(now.Add(-time.Hour))
	require.NoError(t, storage.Create(ctx, task))
	_, ok, err := storage.Claim(ctx, task.ID, "crashed-worker", now.Add(-time.Hour), now.Add(-50*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := sweeper.RecoverStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, notifier.count())

	got, err := storage.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusFailed, got.Status)

	// Recovered tasks are not executed by a later sweep.
	stats, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, stats.Due)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	q, err := queue.New(storage)
	require.NoError(t, err)

	var calls atomic.Int32
	sweeper := newSweeper(t, storage, queue.WithConfig(queue.Config{SweepInterval: 10 * time.Millisecond}))
	require.NoError(t, sweeper.Register(queue.NewTaskHandler("tick",
		func(context.Context, string, struct{}) error {
			calls.Add(1)
			return nil
		})))

	_, err = q.Schedule(context.Background(), "tick", "u", nil, time.Now().Add(-time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}
