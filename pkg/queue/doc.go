// Package queue is a durable deferred-task queue with exactly-once execution
// across any number of sweeper processes.
//
// The package has three parts:
//
//   - Queue schedules a task for a future time, optionally deduplicated by key
//   - Sweeper periodically claims due tasks and dispatches them to a Handler
//   - Storage persists tasks (MemoryStorage, PostgresStorage)
//
// # Execution model
//
// A sweep lists pending tasks whose scheduled time has passed and, for each,
// performs a conditional update from pending to processing. Only one sweeper's
// update can succeed, so a task is never run twice for the same claim. On
// success the task becomes done. On failure it returns to pending with a
// linear backoff (attempts × RetryBackoff) until MaxAttempts is reached, then
// it is dead-lettered (failed) and the DeadLetterNotifier is told.
//
// A task whose lease expires while processing is failed by RecoverStale rather
// than re-run, because its handler may already have applied the effect.
//
// Handlers must re-check current state before acting: a task scheduled while
// a condition held may run after it stopped holding.
//
// # Usage
//
//	storage := queue.NewPostgresStorage(pool)
//	q, _ := queue.New(storage)
//
//	_, err := q.Schedule(ctx, "expire_grant", userID, payload, expiresAt,
//	    queue.WithDedupKey(grantID.String()))
//
//	sweeper, _ := queue.NewSweeper(storage, queue.WithConfig(cfg))
//	_ = sweeper.Register(queue.NewTaskHandler("expire_grant",
//	    func(ctx context.Context, userID string, p ExpirePayload) error {
//	        return grants.Revoke(ctx, p.GrantID)
//	    }))
//
//	g.Go(func() error { return sweeper.Run(ctx) })
package queue
