package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/metrics"
	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/queue"
)

// Scheduler schedules deferred tasks; *queue.Queue implements it.
type Scheduler interface {
	Schedule(ctx context.Context, taskType queue.TaskType, userID string, payload any, at time.Time, opts ...queue.ScheduleOption) (uuid.UUID, error)
}

// Messenger delivers a text message to a user over the chat transport.
type Messenger interface {
	Send(ctx context.Context, userID, message string) error
}

// Machine applies billing events to subscriptions. It holds no per-user
// state: every transition is a conditional write against the Store, so any
// number of instances can apply events for the same user.
type Machine struct {
	catalog   *plan.Catalog
	store     Store
	grants    GrantStore
	scheduler Scheduler
	messenger Messenger
	providers map[string]Provider
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithConfig overrides the defaults with the non-zero fields of cfg.
func WithConfig(cfg Config) Option {
	return func(m *Machine) {
		if cfg.GracePeriod > 0 {
			m.cfg.GracePeriod = cfg.GracePeriod
		}
		if cfg.ReminderLead > 0 {
			m.cfg.ReminderLead = cfg.ReminderLead
		}
		if cfg.FreePlan != "" {
			m.cfg.FreePlan = cfg.FreePlan
		}
		if cfg.MaxConflictRetries > 0 {
			m.cfg.MaxConflictRetries = cfg.MaxConflictRetries
		}
	}
}

// WithScheduler enables deferred side effects (grace expiry, renewal
// reminders, grant expiry).
func WithScheduler(s Scheduler) Option {
	return func(m *Machine) { m.scheduler = s }
}

// WithMessenger sets where renewal reminders are sent.
func WithMessenger(msg Messenger) Option {
	return func(m *Machine) { m.messenger = msg }
}

// WithProvider registers a webhook provider under its Name.
func WithProvider(p Provider) Option {
	return func(m *Machine) {
		if p != nil {
			m.providers[p.Name()] = p
		}
	}
}

// WithLogger sets the machine logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides the time source used for internal events and grants.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMachine builds a machine over the catalog and stores. Providers are
// registered through WithProvider.
func NewMachine(catalog *plan.Catalog, store Store, grants GrantStore, opts ...Option) (*Machine, error) {
	if catalog == nil || store == nil || grants == nil {
		return nil, errors.New("subscription: catalog, store and grant store are required")
	}
	m := &Machine{
		catalog:   catalog,
		store:     store,
		grants:    grants,
		providers: make(map[string]Provider),
		cfg: Config{
			GracePeriod:        72 * time.Hour,
			ReminderLead:       72 * time.Hour,
			MaxConflictRetries: 3,
		},
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.FreePlan != "" && !catalog.Has(m.cfg.FreePlan) {
		return nil, fmt.Errorf("%w: free plan %q", plan.ErrPlanNotFound, m.cfg.FreePlan)
	}
	m.log = m.log.With(logger.Component("subscription"))
	return m, nil
}

func (m *Machine) freePlan() string {
	if m.cfg.FreePlan != "" {
		return m.cfg.FreePlan
	}
	return m.catalog.FreePlan().ID
}

// Apply applies ev at most once. Duplicates and stale or impossible
// transitions are reported through Result.Outcome, not as errors. An event
// other than checkout for a user without a subscription yields
// ErrSubscriptionNotFound so the provider redelivers it later.
func (m *Machine) Apply(ctx context.Context, ev Event) (Result, error) {
	if err := ev.validate(); err != nil {
		return Result{}, err
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = m.now()
	}

	log := m.log.With(
		logger.EventID(ev.ID),
		logger.EventType(string(ev.Type)),
		logger.UserID(ev.UserID),
		logger.Provider(ev.Provider))

	for attempt := 0; attempt <= m.cfg.MaxConflictRetries; attempt++ {
		res, err := m.applyOnce(ctx, log, ev)
		if errors.Is(err, ErrConflict) {
			log.DebugContext(ctx, "concurrent subscription update, reloading", logger.Attempt(attempt+1))
			continue
		}
		m.recordEvent(ev, res.Outcome, err)
		return res, err
	}

	m.recordEvent(ev, "", ErrTooManyConflicts)
	return Result{}, ErrTooManyConflicts
}

func (m *Machine) applyOnce(ctx context.Context, log *slog.Logger, ev Event) (Result, error) {
	cur, err := m.store.Get(ctx, ev.UserID)
	exists := err == nil
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		cur = Subscription{UserID: ev.UserID, Status: StatusNone, PlanID: m.freePlan(), BillingCycle: plan.BillingCycleNone}
	case err != nil:
		return Result{}, err
	}

	if exists && cur.LastEventID == ev.ID {
		log.DebugContext(ctx, "duplicate billing event")
		return Result{Outcome: OutcomeDuplicate, Subscription: cur}, nil
	}
	seen, err := m.store.HasEvent(ctx, ev.ID)
	if err != nil {
		return Result{}, err
	}
	if seen {
		log.DebugContext(ctx, "duplicate billing event")
		return Result{Outcome: OutcomeDuplicate, Subscription: cur}, nil
	}

	if !exists && ev.Type != EventCheckoutCompleted {
		return Result{Subscription: cur}, ErrSubscriptionNotFound
	}

	next, reason := m.evaluate(ctx, cur, ev)
	if reason != nil {
		log.WarnContext(ctx, "billing event rejected",
			slog.String("status", string(cur.Status)),
			slog.String("reason", reason.Error()))
		return Result{Outcome: OutcomeRejected, Subscription: cur, Reason: reason.Error()}, nil
	}

	now := m.now()
	next.LastEventID = ev.ID
	next.UpdatedAt = now
	if !exists {
		next.CreatedAt = now
	}

	// Tasks are idempotent by key and re-check state when they run, so
	// scheduling ahead of the write is safe if the write then loses.
	if err := m.scheduleEffects(ctx, cur, next, now); err != nil {
		return Result{Subscription: cur}, err
	}

	var prev string
	if exists {
		prev = cur.LastEventID
	}
	if err := m.store.Save(ctx, next, prev, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			log.DebugContext(ctx, "duplicate billing event")
			return Result{Outcome: OutcomeDuplicate, Subscription: cur}, nil
		}
		return Result{Subscription: cur}, err
	}

	log.InfoContext(ctx, "subscription transitioned",
		slog.String("from", string(cur.Status)),
		slog.String("to", string(next.Status)),
		logger.PlanID(next.PlanID))
	return Result{Outcome: OutcomeApplied, Subscription: next}, nil
}

// evaluate computes the next state or the reason the event must not apply.
func (m *Machine) evaluate(ctx context.Context, cur Subscription, ev Event) (Subscription, error) {
	if !ev.PeriodEnd.IsZero() && !cur.PeriodEnd.IsZero() && ev.PeriodEnd.Before(cur.PeriodEnd) {
		return cur, fmt.Errorf("%w: period end %s is before stored %s",
			ErrTransitionRejected, ev.PeriodEnd.Format(time.RFC3339), cur.PeriodEnd.Format(time.RFC3339))
	}
	if ev.PlanID != "" && !m.catalog.Has(ev.PlanID) {
		return cur, fmt.Errorf("%w: %w: %s", ErrTransitionRejected, plan.ErrPlanNotFound, ev.PlanID)
	}
	if ev.Type == EventCheckoutCompleted && ev.PlanID == "" {
		return cur, fmt.Errorf("%w: checkout without plan", ErrTransitionRejected)
	}

	to, err := transitions.Resolve(ctx, cur.Status, ev.Type, ev)
	if err != nil {
		return cur, errors.Join(ErrTransitionRejected, err)
	}

	next := cur
	next.Status = to
	if ev.Provider != "" && ev.Provider != ProviderInternal {
		next.Provider = ev.Provider
	}
	if ev.ProviderSubID != "" {
		next.ProviderSubID = ev.ProviderSubID
	}
	if ev.ProviderCustomerID != "" {
		next.ProviderCustomerID = ev.ProviderCustomerID
	}

	switch to {
	case StatusActive:
		if ev.PlanID != "" {
			next.PlanID = ev.PlanID
		}
		if ev.BillingCycle != "" {
			next.BillingCycle = ev.BillingCycle
		}
		if !cur.Status.Entitled() {
			next.PeriodStart = ev.OccurredAt
			next.CanceledAt = nil
		}
		extendPeriod(&next, ev)
		next.GraceEndsAt = nil

	case StatusPastDue:
		// A failed charge never pays for the next period.
		if ev.Type == EventSubscriptionUpdated {
			extendPeriod(&next, ev)
		}
		if next.GraceEndsAt == nil {
			graceEnd := ev.OccurredAt.Add(m.cfg.GracePeriod).Truncate(time.Microsecond)
			next.GraceEndsAt = &graceEnd
		}

	case StatusCanceled:
		next.PlanID = m.freePlan()
		next.BillingCycle = plan.BillingCycleNone
		next.GraceEndsAt = nil
		canceledAt := ev.OccurredAt
		next.CanceledAt = &canceledAt
	}
	return next, nil
}

// extendPeriod moves the period forward only; the stored end never decreases.
func extendPeriod(s *Subscription, ev Event) {
	if ev.PeriodEnd.After(s.PeriodEnd) {
		s.PeriodEnd = ev.PeriodEnd
		if !ev.PeriodStart.IsZero() {
			s.PeriodStart = ev.PeriodStart
		}
	}
}

func (m *Machine) scheduleEffects(ctx context.Context, cur, next Subscription, now time.Time) error {
	if m.scheduler == nil {
		return nil
	}

	if next.Status == StatusPastDue && next.GraceEndsAt != nil && cur.GraceEndsAt == nil {
		_, err := m.scheduler.Schedule(ctx, TaskGraceExpiry, next.UserID,
			gracePayload{GraceEndsAt: *next.GraceEndsAt},
			*next.GraceEndsAt,
			queue.WithDedupKey(next.UserID+":"+strconv.FormatInt(next.GraceEndsAt.UnixNano(), 10)))
		if err != nil {
			return fmt.Errorf("schedule grace expiry: %w", err)
		}
	}

	renewed := cur.Status != StatusActive || !cur.PeriodEnd.Equal(next.PeriodEnd)
	if next.Status == StatusActive && renewed && !next.PeriodEnd.IsZero() && m.cfg.ReminderLead > 0 {
		at := next.PeriodEnd.Add(-m.cfg.ReminderLead)
		if at.After(now) {
			_, err := m.scheduler.Schedule(ctx, TaskRenewalReminder, next.UserID,
				reminderPayload{PlanID: next.PlanID, PeriodEnd: next.PeriodEnd},
				at,
				queue.WithDedupKey(next.UserID+":"+strconv.FormatInt(next.PeriodEnd.Unix(), 10)))
			if err != nil {
				return fmt.Errorf("schedule renewal reminder: %w", err)
			}
		}
	}
	return nil
}

func (m *Machine) recordEvent(ev Event, outcome Outcome, err error) {
	result := string(outcome)
	if err != nil {
		result = "error"
	}
	provider := ev.Provider
	if provider == "" {
		provider = ProviderInternal
	}
	metrics.BillingEvents.WithLabelValues(provider, string(ev.Type), result).Inc()
}

// Cancel cancels userID's subscription immediately. Already-scheduled tasks
// see the canceled state when they run and do nothing.
func (m *Machine) Cancel(ctx context.Context, userID string) (Subscription, error) {
	now := m.now()
	res, err := m.Apply(ctx, Event{
		ID:         "cancel:" + userID + ":" + strconv.FormatInt(now.UnixNano(), 10),
		Type:       EventCancelRequested,
		Provider:   ProviderInternal,
		UserID:     userID,
		OccurredAt: now,
	})
	if err != nil {
		return Subscription{}, err
	}
	if res.Outcome == OutcomeRejected {
		return res.Subscription, fmt.Errorf("%w: %s", ErrTransitionRejected, res.Reason)
	}
	return res.Subscription, nil
}

// Get returns the stored subscription or ErrSubscriptionNotFound.
func (m *Machine) Get(ctx context.Context, userID string) (Subscription, error) {
	return m.store.Get(ctx, userID)
}

// ActivePlan returns the plan in effect for userID: the subscription plan
// while entitled, otherwise the free plan, raised to the highest-ranked
// unexpired grant.
func (m *Machine) ActivePlan(ctx context.Context, userID string) (string, error) {
	planID := m.freePlan()

	sub, err := m.store.Get(ctx, userID)
	switch {
	case err == nil:
		if sub.Status.Entitled() && m.catalog.Has(sub.PlanID) {
			planID = sub.PlanID
		}
	case !errors.Is(err, ErrSubscriptionNotFound):
		return "", err
	}

	grants, err := m.grants.ActiveGrants(ctx, userID, m.now())
	if err != nil {
		return "", err
	}
	for _, g := range grants {
		planID = m.catalog.Higher(planID, g.PlanID)
	}
	return planID, nil
}

func (m *Machine) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx)
}

var grantNamespace = uuid.MustParse("0c7a4e52-3b9d-4f61-8d2e-7a5b1c9f0e34")

// GrantTemporary gives userID planID until expiresAt on top of any
// subscription. Calls with the same source and sourceID return the first
// grant. Expiry is scheduled as an expire_grant task.
func (m *Machine) GrantTemporary(ctx context.Context, userID, planID, source, sourceID string, expiresAt time.Time) (Grant, error) {
	if userID == "" || source == "" || sourceID == "" {
		return Grant{}, fmt.Errorf("%w: user, source and source id are required", ErrInvalidEvent)
	}
	if !m.catalog.Has(planID) {
		return Grant{}, fmt.Errorf("%w: %s", plan.ErrPlanNotFound, planID)
	}

	g, created, err := m.grants.CreateGrant(ctx, Grant{
		ID:        uuid.NewSHA1(grantNamespace, []byte(source+":"+sourceID)),
		UserID:    userID,
		PlanID:    planID,
		Source:    source,
		SourceID:  sourceID,
		ExpiresAt: expiresAt,
		CreatedAt: m.now(),
	})
	if err != nil {
		return Grant{}, err
	}

	if m.scheduler != nil {
		if _, err := m.scheduler.Schedule(ctx, TaskExpireGrant, g.UserID,
			expireGrantPayload{GrantID: g.ID}, g.ExpiresAt,
			queue.WithDedupKey(g.ID.String())); err != nil {
			return Grant{}, fmt.Errorf("schedule grant expiry: %w", err)
		}
	}

	if created {
		m.log.InfoContext(ctx, "temporary grant issued",
			logger.UserID(userID),
			logger.PlanID(planID),
			slog.String("source", source),
			slog.Time("expires_at", expiresAt))
	}
	return g, nil
}

// RevokeGrant ends a grant early. It reports false when the grant was
// already revoked.
func (m *Machine) RevokeGrant(ctx context.Context, grantID uuid.UUID) (bool, error) {
	return m.grants.RevokeGrant(ctx, grantID, m.now())
}

// Grants lists the grants in effect for userID.
func (m *Machine) Grants(ctx context.Context, userID string) ([]Grant, error) {
	return m.grants.ActiveGrants(ctx, userID, m.now())
}
