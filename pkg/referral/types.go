package referral

import (
	"time"

	"github.com/google/uuid"
)

// Code is a referral code owned by a user.
type Code struct {
	Code          string     `json:"code"`
	UserID        string     `json:"user_id"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

type GrantStatus string

const (
	GrantPending   GrantStatus = "pending"
	GrantCompleted GrantStatus = "completed"
)

// Grant records that RefereeID joined with ReferrerID's code.
type Grant struct {
	ID          uuid.UUID   `json:"id"`
	ReferrerID  string      `json:"referrer_id"`
	RefereeID   string      `json:"referee_id"`
	Code        string      `json:"code"`
	Status      GrantStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

type RewardKind string

const (
	RewardReferrer RewardKind = "referrer"
	RewardReferee  RewardKind = "referee"
)

// Reward is credited to one side of a referral.
type Reward struct {
	Kind        RewardKind `json:"kind"`
	Points      int64      `json:"points"`
	CreditCents int64      `json:"credit_cents"`
}

// Balance is the sum of a user's credited rewards.
type Balance struct {
	Points      int64 `json:"points"`
	CreditCents int64 `json:"credit_cents"`
}

// GrantResult describes a successful redemption.
type GrantResult struct {
	Grant          Grant     `json:"grant"`
	ReferrerReward Reward    `json:"referrer_reward"`
	RefereeReward  Reward    `json:"referee_reward"`
	RefereePlan    string    `json:"referee_plan"`
	RefereeUntil   time.Time `json:"referee_until"`
}

// Validation is the answer to "can this code be redeemed".
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

const (
	ReasonUnknownCode  = "unknown_code"
	ReasonInactiveCode = "inactive_code"
)

// Stats summarizes a user's referral activity.
type Stats struct {
	Code               string `json:"code,omitempty"`
	TotalReferrals     int    `json:"total_referrals"`
	CompletedReferrals int    `json:"completed_referrals"`
	PendingReferrals   int    `json:"pending_referrals"`
	Points             int64  `json:"points"`
	CreditCents        int64  `json:"credit_cents"`
}

// LeaderboardEntry is one referrer's row in the leaderboard.
type LeaderboardEntry struct {
	ReferrerID      string    `json:"referrer_id"`
	Referrals       int       `json:"referrals"`
	FirstReferralAt time.Time `json:"first_referral_at"`
	EarningsCents   int64     `json:"earnings_cents"`
}
