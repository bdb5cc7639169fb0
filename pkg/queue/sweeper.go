package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/metrics"
)

// DeadLetterNotifier is told about every task that ends in the failed state.
type DeadLetterNotifier interface {
	TaskDeadLettered(ctx context.Context, task Task) error
}

// Sweeper claims due tasks and runs their handlers. Any number of sweepers
// may share a Storage; the claim compare-and-swap keeps execution single.
type Sweeper struct {
	storage  Storage
	handlers map[TaskType]Handler
	notifier DeadLetterNotifier
	workerID string

	interval      time.Duration
	batchSize     int
	backoff       time.Duration
	leaseTimeout  time.Duration
	maxConcurrent int

	log *slog.Logger
	now func() time.Time
}

type SweeperOption func(*Sweeper)

// WithConfig applies the non-zero values of cfg.
func WithConfig(cfg Config) SweeperOption {
	return func(s *Sweeper) {
		if cfg.SweepInterval > 0 {
			s.interval = cfg.SweepInterval
		}
		if cfg.BatchSize > 0 {
			s.batchSize = cfg.BatchSize
		}
		if cfg.RetryBackoff > 0 {
			s.backoff = cfg.RetryBackoff
		}
		if cfg.LeaseTimeout > 0 {
			s.leaseTimeout = cfg.LeaseTimeout
		}
		if cfg.MaxConcurrent > 0 {
			s.maxConcurrent = cfg.MaxConcurrent
		}
		if cfg.WorkerID != "" {
			s.workerID = cfg.WorkerID
		}
	}
}

func WithNotifier(n DeadLetterNotifier) SweeperOption {
	return func(s *Sweeper) { s.notifier = n }
}

func WithWorkerID(id string) SweeperOption {
	return func(s *Sweeper) {
		if id != "" {
			s.workerID = id
		}
	}
}

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSweeper(storage Storage, opts ...SweeperOption) (*Sweeper, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	s := &Sweeper{
		storage:       storage,
		handlers:      make(map[TaskType]Handler),
		interval:      30 * time.Second,
		batchSize:     100,
		backoff:       time.Minute,
		leaseTimeout:  10 * time.Minute,
		maxConcurrent: 4,
		log:           slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workerID == "" {
		s.workerID = defaultWorkerID()
	}
	s.log = s.log.With(logger.Component("sweeper"), slog.String("worker_id", s.workerID))
	return s, nil
}

// Register adds handlers. Registering a second handler for a type is an error.
func (s *Sweeper) Register(handlers ...Handler) error {
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, exists := s.handlers[h.Type()]; exists {
			return fmt.Errorf("%w: %s", ErrHandlerAlreadyExists, h.Type())
		}
		s.handlers[h.Type()] = h
	}
	return nil
}

// Sweep runs every task due at now once. Losing a claim race is not an error.
// Storage errors on individual tasks are joined into the returned error; the
// remaining tasks are still processed.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	due, err := s.storage.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return SweepStats{}, errors.Join(ErrFailedToListDueTasks, err)
	}

	var (
		mu    sync.Mutex
		stats = SweepStats{Due: len(due)}
		errs  []error
	)
	record := func(outcome string, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeSkipped:
			stats.Skipped++
		case outcomeDone:
			stats.Claimed++
			stats.Done++
		case outcomeRetry:
			stats.Claimed++
			stats.Retried++
		case outcomeFailed:
			stats.Claimed++
			stats.Failed++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(s.maxConcurrent)
	for _, task := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			record(s.process(ctx, task, now))
			return nil
		})
	}
	_ = g.Wait()

	if stats.Claimed > 0 {
		s.log.InfoContext(ctx, "sweep finished",
			slog.Int("due", stats.Due),
			slog.Int("done", stats.Done),
			slog.Int("retried", stats.Retried),
			slog.Int("failed", stats.Failed),
			slog.Int("skipped", stats.Skipped))
	}
	return stats, errors.Join(errs...)
}

const (
	outcomeDone    = "done"
	outcomeRetry   = "retry"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

func (s *Sweeper) process(ctx context.Context, due Task, now time.Time) (string, error) {
	task, claimed, err := s.storage.Claim(ctx, due.ID, s.workerID, now, now.Add(s.leaseTimeout))
	if err != nil {
		return "", fmt.Errorf("claim task %s: %w", due.ID, err)
	}
	if !claimed {
		metrics.TasksProcessed.WithLabelValues(metrics.Label(string(due.Type)), outcomeSkipped).Inc()
		return outcomeSkipped, nil
	}

	log := s.log.With(
		logger.TaskID(task.ID),
		logger.TaskType(string(task.Type)),
		logger.UserID(task.UserID),
		logger.Attempt(task.Attempts))

	outcome, err := s.execute(ctx, log, task, now)
	metrics.TasksProcessed.WithLabelValues(metrics.Label(string(task.Type)), outcome).Inc()
	return outcome, err
}

func (s *Sweeper) execute(ctx context.Context, log *slog.Logger, task Task, now time.Time) (string, error) {
	handler, ok := s.handlers[task.Type]
	if !ok {
		log.ErrorContext(ctx, "no handler registered for task type")
		return s.deadLetter(ctx, log, task, ErrHandlerNotFound, now)
	}

	start := time.Now()
	runErr := s.run(ctx, handler, task)
	if runErr == nil {
		if err := s.storage.Complete(ctx, task.ID, s.workerID, s.now()); err != nil {
			log.WarnContext(ctx, "failed to mark task done", logger.Error(err))
			return outcomeDone, fmt.Errorf("complete task %s: %w", task.ID, err)
		}
		log.InfoContext(ctx, "task completed", logger.Duration(time.Since(start)))
		return outcomeDone, nil
	}

	execErr := errors.Join(ErrTaskExecutionFailed, runErr)
	if IsPermanent(runErr) || task.Exhausted() {
		return s.deadLetter(ctx, log, task, execErr, now)
	}

	nextAt := now.Add(time.Duration(task.Attempts) * s.backoff)
	if err := s.storage.Retry(ctx, task.ID, s.workerID, nextAt, runErr.Error(), s.now()); err != nil {
		log.ErrorContext(ctx, "failed to reschedule task", logger.Error(err))
		return outcomeRetry, fmt.Errorf("retry task %s: %w", task.ID, err)
	}
	log.WarnContext(ctx, "task failed, will retry",
		logger.Error(runErr),
		slog.Time("next_attempt_at", nextAt),
		slog.Int("max_attempts", task.MaxAttempts))
	return outcomeRetry, nil
}

// run executes the handler with a lease-bound timeout that survives
// cancellation of ctx, so shutdown lets in-flight tasks finish.
func (s *Sweeper) run(ctx context.Context, handler Handler, task Task) (err error) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.leaseTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	return handler.Handle(hctx, task)
}

func (s *Sweeper) deadLetter(ctx context.Context, log *slog.Logger, task Task, cause error, now time.Time) (string, error) {
	if err := s.storage.Fail(ctx, task.ID, s.workerID, cause.Error(), s.now()); err != nil {
		log.ErrorContext(ctx, "failed to dead-letter task", logger.Error(err))
		return outcomeFailed, fmt.Errorf("fail task %s: %w", task.ID, err)
	}
	log.ErrorContext(ctx, "task dead-lettered", logger.Error(cause))

	task.Status = TaskStatusFailed
	task.LastError = cause.Error()
	finished := now
	task.FinishedAt = &finished
	s.notify(ctx, task)
	return outcomeFailed, nil
}

// RecoverStale fails tasks whose lease expired. They are never re-executed:
// the handler may have applied its effect before the worker died.
func (s *Sweeper) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	tasks, err := s.storage.RecoverStale(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		s.log.ErrorContext(ctx, "task lease expired, dead-lettered",
			logger.TaskID(t.ID), logger.TaskType(string(t.Type)), logger.UserID(t.UserID))
		metrics.TasksProcessed.WithLabelValues(metrics.Label(string(t.Type)), outcomeFailed).Inc()
		s.notify(ctx, t)
	}
	return len(tasks), nil
}

func (s *Sweeper) notify(ctx context.Context, task Task) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.TaskDeadLettered(ctx, task); err != nil {
		s.log.WarnContext(ctx, "dead-letter notification failed",
			logger.TaskID(task.ID), logger.Error(err))
	}
}

// Run recovers stale leases and sweeps every interval until ctx is done.
// It returns nil on cancellation so it can run inside an errgroup.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "sweeper started",
		slog.Duration("interval", s.interval),
		slog.Int("handlers", len(s.handlers)),
		slog.Int("max_concurrent", s.maxConcurrent))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	now := s.now()
	if _, err := s.RecoverStale(ctx, now); err != nil && ctx.Err() == nil {
		s.log.ErrorContext(ctx, "stale task recovery failed", logger.Error(err))
	}
	if _, err := s.Sweep(ctx, now); err != nil && ctx.Err() == nil {
		s.log.ErrorContext(ctx, "sweep failed", logger.Error(err))
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
