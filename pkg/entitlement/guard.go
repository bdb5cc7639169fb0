package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/metrics"
	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/usage"
)

// PlanResolver returns the plan currently in effect for a user.
type PlanResolver interface {
	ActivePlan(ctx context.Context, userID string) (string, error)
}

// PlanResolverFunc adapts a function to PlanResolver.
type PlanResolverFunc func(ctx context.Context, userID string) (string, error)

func (f PlanResolverFunc) ActivePlan(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// Decision is the admission result for one metered action.
type Decision struct {
	Allowed   bool        `json:"allowed"`
	Remaining int64       `json:"remaining"` // plan.Unlimited when uncapped
	Limit     int64       `json:"limit"`
	PlanID    string      `json:"plan_id"`
	Action    plan.Action `json:"action"`
}

// Guard composes the plan catalog, the active-plan resolver and the usage ledger.
type Guard struct {
	catalog  *plan.Catalog
	resolver PlanResolver
	ledger   *usage.Ledger
	log      *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGuard(catalog *plan.Catalog, resolver PlanResolver, ledger *usage.Ledger, opts ...Option) *Guard {
	if catalog == nil || resolver == nil || ledger == nil {
		panic("entitlement: catalog, resolver and ledger are required")
	}
	g := &Guard{catalog: catalog, resolver: resolver, ledger: ledger, log: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("entitlement_guard"))
	return g
}

// CheckAndReserve decides whether userID may perform action at now and, when it
// may, records the use in the same step.
func (g *Guard) CheckAndReserve(ctx context.Context, userID string, action plan.Action, now time.Time) (Decision, error) {
	if !action.Valid() {
		return Decision{Action: action}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	planID, limit, err := g.limitFor(ctx, userID, action)
	dec := Decision{Action: action, PlanID: planID, Limit: limit}
	if err != nil {
		g.record(action, "unavailable")
		g.log.ErrorContext(ctx, "plan resolution failed, denying",
			logger.UserID(userID), logger.Action(string(action)), logger.Error(err))
		return dec, err
	}

	res, err := g.ledger.Reserve(ctx, userID, action, limit, now)
	if err != nil {
		g.record(action, "unavailable")
		g.log.ErrorContext(ctx, "usage ledger unavailable, denying",
			logger.UserID(userID), logger.Action(string(action)), logger.Error(err))
		return dec, errors.Join(ErrUnavailable, err)
	}

	dec.Allowed = res.Allowed
	dec.Remaining = res.Remaining
	switch {
	case limit == plan.Unlimited:
		g.record(action, "unlimited")
	case res.Allowed:
		g.record(action, "allowed")
	default:
		g.record(action, "denied")
		g.log.DebugContext(ctx, "quota exhausted",
			logger.UserID(userID), logger.Action(string(action)), logger.PlanID(planID), "limit", limit)
	}
	return dec, nil
}

// Gate runs fn only when CheckAndReserve admits the action. A denial returns
// ErrQuotaDenied; fn's own error is returned as is and the unit stays consumed.
func (g *Guard) Gate(ctx context.Context, userID string, action plan.Action, now time.Time, fn func(ctx context.Context) error) (Decision, error) {
	dec, err := g.CheckAndReserve(ctx, userID, action, now)
	if err != nil {
		return dec, err
	}
	if !dec.Allowed {
		return dec, ErrQuotaDenied
	}
	return dec, fn(ctx)
}

func (g *Guard) limitFor(ctx context.Context, userID string, action plan.Action) (string, int64, error) {
	planID, err := g.resolver.ActivePlan(ctx, userID)
	if err != nil {
		return "", 0, errors.Join(ErrUnavailable, err)
	}
	limit, err := g.catalog.LimitFor(planID, action)
	if err != nil {
		return planID, 0, err
	}
	return planID, limit, nil
}

func (g *Guard) record(action plan.Action, result string) {
	metrics.AdmissionDecisions.WithLabelValues(string(action), result).Inc()
}
