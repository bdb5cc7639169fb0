package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/dietbot/entitlement/pkg/plan"
)

// UsageInfo is the read projection of one action's quota for today.
type UsageInfo struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Unlimited bool  `json:"unlimited"`
}

// Snapshot is the per-user quota projection served to reporting.
type Snapshot struct {
	UserID  string                    `json:"user_id"`
	PlanID  string                    `json:"plan_id"`
	Day     string                    `json:"day"`
	Actions map[plan.Action]UsageInfo `json:"actions"`
}

// Remaining reports today's quota for one action without consuming it.
func (g *Guard) Remaining(ctx context.Context, userID string, action plan.Action, now time.Time) (UsageInfo, error) {
	_, limit, err := g.limitFor(ctx, userID, action)
	if err != nil {
		return UsageInfo{}, err
	}
	return g.info(ctx, userID, action, limit, now)
}

// Usage reports today's quota for every known action.
func (g *Guard) Usage(ctx context.Context, userID string, now time.Time) (Snapshot, error) {
	planID, err := g.resolver.ActivePlan(ctx, userID)
	if err != nil {
		return Snapshot{}, errors.Join(ErrUnavailable, err)
	}
	p, err := g.catalog.GetPlan(planID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		UserID:  userID,
		PlanID:  planID,
		Day:     g.ledger.Day(now),
		Actions: make(map[plan.Action]UsageInfo, len(plan.Actions())),
	}
	for _, action := range plan.Actions() {
		info, err := g.info(ctx, userID, action, p.Limit(action), now)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Actions[action] = info
	}
	return snap, nil
}

func (g *Guard) info(ctx context.Context, userID string, action plan.Action, limit int64, now time.Time) (UsageInfo, error) {
	if limit == plan.Unlimited {
		return UsageInfo{Limit: limit, Remaining: plan.Unlimited, Unlimited: true}, nil
	}
	used, err := g.ledger.Used(ctx, userID, action, now)
	if err != nil {
		return UsageInfo{}, errors.Join(ErrUnavailable, err)
	}
	return UsageInfo{Used: used, Limit: limit, Remaining: max(limit-used, 0)}, nil
}
