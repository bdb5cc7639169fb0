package subscription

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrGrantNotFound        = errors.New("entitlement grant not found")

	// ErrDuplicateEvent means the event id was already applied. Apply reports
	// it as OutcomeDuplicate, never as an error.
	ErrDuplicateEvent = errors.New("billing event already applied")
	// ErrTransitionRejected covers stale and out-of-order events and events
	// with no transition from the current status.
	ErrTransitionRejected = errors.New("subscription transition rejected")
	// ErrConflict is returned by Store.Save when the stored last event id no
	// longer matches; the caller reloads and re-evaluates.
	ErrConflict = errors.New("subscription was modified concurrently")

	ErrInvalidEvent         = errors.New("invalid billing event")
	ErrTooManyConflicts     = errors.New("subscription update kept conflicting")
	ErrUnknownProvider      = errors.New("unknown billing provider")
	ErrIgnoredEvent         = errors.New("billing event type is not handled")
	ErrInvalidSignature     = errors.New("webhook signature verification failed")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrMissingUserID        = errors.New("webhook event has no user id")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
	ErrStoreFailure         = errors.New("subscription store failure")
)
