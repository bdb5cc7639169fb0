// Package statemachine provides an immutable, guarded transition table.
//
// A Table holds no current state. Callers keep state in their own records (a
// database row, typically) and ask the table where an event leads from a given
// state. This keeps one table safe to share across goroutines and lets the
// caller persist the result with a conditional write.
//
//	table := statemachine.MustNew(
//		statemachine.WithTransition(StatusNone, EventCheckout, StatusActive),
//		statemachine.WithTransition(StatusActive, EventPaymentFailed, StatusPastDue,
//			statemachine.WithGuard(periodNotStale)),
//	)
//	next, err := table.Resolve(ctx, sub.Status, event.Type, event)
//
// Several transitions may share a (from, event) pair; the first whose guards all
// pass wins. Resolve distinguishes "no transition defined"
// (ErrNoTransitionAvailable) from "every candidate was vetoed by a guard"
// (ErrTransitionRejected, which carries the first guard's reason).
package statemachine
