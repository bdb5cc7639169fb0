package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists codes and referral grants.
type Store interface {
	// ReplaceCode deactivates userID's active code and stores code as the new
	// active one in a single write. A code already in use by anyone, or a
	// concurrent replacement for the same user, yields ErrCodeTaken.
	ReplaceCode(ctx context.Context, code Code, now time.Time) error
	GetCode(ctx context.Context, code string) (Code, error)
	ActiveCode(ctx context.Context, userID string) (Code, error)

	// CreateGrant inserts g unless a grant for the same referrer and referee
	// exists, in which case the existing grant is returned with created false.
	CreateGrant(ctx context.Context, g Grant) (Grant, bool, error)
	// CompleteGrant moves a pending grant to completed and reports whether
	// this call made the transition.
	CompleteGrant(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// ReferrerCounts returns all and completed grants for referrerID.
	ReferrerCounts(ctx context.Context, referrerID string) (total, completed int, err error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// RewardLedger credits referral rewards. Credit is idempotent on key and
// reports whether this call did the credit.
type RewardLedger interface {
	Credit(ctx context.Context, userID string, r Reward, key string) (bool, error)
	Balance(ctx context.Context, userID string) (Balance, error)
}
