package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions and the billing event log.
type Store interface {
	// Get returns ErrSubscriptionNotFound when the user never subscribed.
	Get(ctx context.Context, userID string) (Subscription, error)

	// HasEvent reports whether eventID was ever applied.
	HasEvent(ctx context.Context, eventID string) (bool, error)

	// Save writes next only if the stored last event id equals prevEventID,
	// or, when prevEventID is empty, only if no subscription exists yet. The
	// event id is recorded in the event log in the same write. A mismatch
	// yields ErrConflict and an already-logged event ErrDuplicateEvent.
	Save(ctx context.Context, next Subscription, prevEventID string, ev Event) error

	Stats(ctx context.Context) (Stats, error)
}

// GrantStore persists temporary entitlement grants.
type GrantStore interface {
	// CreateGrant inserts g unless a grant with the same source and source id
	// exists, in which case the existing grant is returned with created=false.
	CreateGrant(ctx context.Context, g Grant) (grant Grant, created bool, err error)
	GetGrant(ctx context.Context, id uuid.UUID) (Grant, error)
	// ActiveGrants returns unrevoked grants of userID that expire after now.
	ActiveGrants(ctx context.Context, userID string, now time.Time) ([]Grant, error)
	// RevokeGrant sets revoked_at if it is unset and reports whether it did.
	RevokeGrant(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}
