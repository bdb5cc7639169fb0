// Package plan provides the static plan catalog: named tiers with a price and a
// per-action daily cap.
//
// The catalog is immutable after construction and performs no I/O once loaded, so it
// is safe for concurrent use by every request-handling goroutine.
//
// # Actions and limits
//
// Each Plan maps an Action (a metered, AI-backed operation such as an image
// analysis) to a daily cap. The sentinel Unlimited (-1) means the action is never
// counted. An action that a plan does not mention has a cap of zero, i.e. it is not
// part of the plan at all.
//
// # Loading
//
// Plans come from a Source. Two are provided:
//
//	// built-in tiers (free, premium, pro, vip)
//	cat, err := plan.NewCatalog(ctx, plan.NewInMemSource(plan.DefaultPlans()...))
//
//	// operator-maintained file
//	cat, err := plan.NewCatalog(ctx, plan.NewYAMLSource("plans.yaml"))
//
// Exactly one plan must be marked Default; it is the lowest free tier that users fall
// back to when they have no active subscription.
//
// # Price display
//
// FormatPrice renders a Money value for a language tag using golang.org/x/text, e.g.
// for plan listings served to the reporting layer.
package plan
