// Package subscription maintains each user's subscription from billing
// events that may arrive duplicated, late or out of order.
//
// # State machine
//
// A Subscription moves between none, active, past_due and canceled. Events
// are normalized from Stripe or Paddle webhooks (see Provider) or raised
// internally (explicit cancellation, grace expiry). The transition table is
// built with pkg/statemachine:
//
//	none | canceled | active | past_due  --checkout_completed-->  active
//	active | past_due                    --payment_succeeded-->   active
//	active | past_due                    --payment_failed-->      past_due
//	active | past_due                    --subscription_deleted-> canceled
//	active | past_due                    --cancel_requested-->    canceled
//	active | past_due                    --grace_expired-->       canceled
//	active | past_due                    --subscription_updated-> by provider status
//
// # Guarantees
//
// Machine.Apply applies each event id at most once. A repeated id is
// acknowledged as OutcomeDuplicate. An event whose period end is earlier
// than the stored one is OutcomeRejected and leaves state untouched. Writes
// are conditional on the last applied event id, so concurrent instances
// serialize per user without locks; a lost race reloads and re-evaluates.
//
// # Side effects
//
// A failed payment schedules a grace_expiry task; a renewed period schedules
// a renewal_reminder. Temporary grants (Machine.GrantTemporary) schedule an
// expire_grant task. All tasks re-check current state before acting, so a
// cancellation makes pending tasks harmless. Register Machine.TaskHandlers
// on the queue sweeper.
//
// # Effective plan
//
// Machine.ActivePlan is the subscription plan while active or past due,
// otherwise the free plan, raised to the highest-ranked unexpired grant. A
// grant never replaces a paid plan of higher rank, and its expiry only
// removes the grant.
package subscription
