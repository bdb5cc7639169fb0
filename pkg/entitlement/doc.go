// Package entitlement is the admission gate for metered actions.
//
// Guard.CheckAndReserve resolves the caller's active plan, looks up the daily cap
// and consumes one unit from the usage ledger in a single conditional write. The
// returned Decision is final: there is no separate "record usage" step, so callers
// invoke the AI collaborator only when Decision.Allowed is true, typically via Gate:
//
//	dec, err := guard.Gate(ctx, userID, plan.ActionDailyAnalyses, time.Now(), func(ctx context.Context) error {
//		return analyzer.Analyze(ctx, image)
//	})
//	switch {
//	case errors.Is(err, entitlement.ErrQuotaDenied):
//		// tell the user to upgrade
//	case errors.Is(err, entitlement.ErrUnavailable):
//		// retry later; access was not granted
//	}
//
// Any failure to resolve the plan or reach the ledger fails closed: the decision
// is a denial and the error wraps ErrUnavailable.
package entitlement
