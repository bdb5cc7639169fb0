// Package pg is the PostgreSQL bootstrap for the service: pool construction with
// startup retries, goose migrations from an embedded filesystem, transaction helper
// and error classification.
//
// Postgres is the system of record. Every store that needs cross-instance
// correctness (usage counters, subscriptions and the billing event log, grants,
// deferred tasks, referral grants) expresses mutual exclusion as a conditional
// write on a single row; IsDuplicateKeyError is how callers recognise that a
// unique constraint, rather than a fault, rejected their write.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
//		return err
//	}
package pg
