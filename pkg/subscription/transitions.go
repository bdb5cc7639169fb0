package subscription

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dietbot/entitlement/pkg/statemachine"
)

type (
	transitionTable = statemachine.Table[Status, EventType, Event]
	guard           = statemachine.Guard[Status, EventType, Event]
	tableOption     = statemachine.Option[Status, EventType, Event]
)

var entitled = []Status{StatusActive, StatusPastDue}

// transitions is the subscription lifecycle:
//
//	none | canceled | active | past_due --checkout_completed--> active
//	active | past_due --payment_succeeded--> active
//	active | past_due --payment_failed--> past_due
//	active | past_due --subscription_deleted | cancel_requested | grace_expired--> canceled
//	active | past_due --subscription_updated--> by provider status
var transitions = statemachine.MustNew(
	on([]Status{StatusNone, StatusCanceled, StatusActive, StatusPastDue}, EventCheckoutCompleted, StatusActive),
	on(entitled, EventPaymentSucceeded, StatusActive),
	on(entitled, EventPaymentFailed, StatusPastDue),
	on(entitled, EventSubscriptionDeleted, StatusCanceled),
	on(entitled, EventCancelRequested, StatusCanceled),
	on(entitled, EventGraceExpired, StatusCanceled),

	on(entitled, EventSubscriptionUpdated, StatusActive, providerStatusIn("active", "trialing")),
	on(entitled, EventSubscriptionUpdated, StatusPastDue, providerStatusIn("past_due", "unpaid")),
	on(entitled, EventSubscriptionUpdated, StatusCanceled, providerStatusIn("canceled", "cancelled", "incomplete_expired")),
)

func on(froms []Status, event EventType, to Status, guards ...guard) tableOption {
	opts := make([]statemachine.TransitionOption[Status, EventType, Event], 0, len(guards))
	for _, g := range guards {
		opts = append(opts, statemachine.WithGuard(g))
	}
	return statemachine.WithTransitions(froms, event, to, opts...)
}

func providerStatusIn(statuses ...string) guard {
	return func(_ context.Context, _ Status, _ EventType, ev Event) error {
		if slices.Contains(statuses, strings.ToLower(ev.ProviderStatus)) {
			return nil
		}
		return fmt.Errorf("provider status %q is not one of %v", ev.ProviderStatus, statuses)
	}
}

// CanApply reports whether an event of type t has a transition from status s.
// Provider-status guards are not evaluated.
func CanApply(s Status, t EventType) bool {
	return slices.Contains(transitions.Events(s), t)
}
