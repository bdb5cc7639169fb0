package subscription_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/queue"
	"github.com/dietbot/entitlement/pkg/subscription"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (r *recordingMessenger) Send(_ context.Context, userID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string][]string)
	}
	r.sent[userID] = append(r.sent[userID], message)
	return nil
}

type fixture struct {
	machine   *subscription.Machine
	store     *subscription.MemoryStore
	tasks     *queue.MemoryStorage
	sweeper   *queue.Sweeper
	messenger *recordingMessenger
	clock     *clock
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...subscription.Option) *fixture {
	t.Helper()

	catalog, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(plan.DefaultPlans()...))
	require.NoError(t, err)

	f := &fixture{
		store:     subscription.NewMemoryStore(),
		tasks:     queue.NewMemoryStorage(),
		messenger: &recordingMessenger{},
		clock:     &clock{now: t0},
	}
	q, err := queue.New(f.tasks, queue.WithClock(f.clock.Now))
	require.NoError(t, err)

	opts = append([]subscription.Option{
		subscription.WithScheduler(q),
		subscription.WithMessenger(f.messenger),
		subscription.WithClock(f.clock.Now),
		subscription.WithLogger(quietLogger),
		subscription.WithConfig(subscription.Config{GracePeriod: 72 * time.Hour, ReminderLead: 72 * time.Hour}),
	}, opts...)
	f.machine, err = subscription.NewMachine(catalog, f.store, f.store, opts...)
	require.NoError(t, err)

	f.sweeper, err = queue.NewSweeper(f.tasks,
		queue.WithSweeperLogger(quietLogger),
		queue.WithSweeperClock(f.clock.Now))
	require.NoError(t, err)
	require.NoError(t, f.sweeper.Register(f.machine.TaskHandlers()...))
	return f
}

func (f *fixture) sweep(t *testing.T) queue.SweepStats {
	t.Helper()
	stats, err := f.sweeper.Sweep(context.Background(), f.clock.Now())
	require.NoError(t, err)
	return stats
}

func checkout(id, userID, planID string, start, end time.Time) subscription.Event {
	return subscription.Event{
		ID:           id,
		Type:         subscription.EventCheckoutCompleted,
		Provider:     "stripe",
		UserID:       userID,
		PlanID:       planID,
		BillingCycle: plan.BillingCycleMonthly,
		PeriodStart:  start,
		PeriodEnd:    end,
		OccurredAt:   start,
	}
}

func paymentSucceeded(id, userID string, start, end time.Time) subscription.Event {
	return subscription.Event{
		ID:          id,
		Type:        subscription.EventPaymentSucceeded,
		Provider:    "stripe",
		UserID:      userID,
		PeriodStart: start,
		PeriodEnd:   end,
		OccurredAt:  start,
	}
}

func TestMachine_CheckoutRedeliveryAndStaleEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	t1 := t0.AddDate(0, 1, 0)
	t2 := t1.AddDate(0, 1, 0)

	res, err := f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t1))
	require.NoError(t, err)
	require.Equal(t, subscription.OutcomeApplied, res.Outcome)
	assert.Equal(t, subscription.StatusActive, res.Subscription.Status)
	assert.Equal(t, plan.Premium, res.Subscription.PlanID)
	assert.True(t, t1.Equal(res.Subscription.PeriodEnd))

	// Redelivery is a no-op.
	res, err = f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t1))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeDuplicate, res.Outcome)

	res, err = f.machine.Apply(ctx, paymentSucceeded("E2", "U", t1, t2))
	require.NoError(t, err)
	require.Equal(t, subscription.OutcomeApplied, res.Outcome)
	assert.True(t, t2.Equal(res.Subscription.PeriodEnd))

	// E0 carries an earlier period end than stored.
	res, err = f.machine.Apply(ctx, paymentSucceeded("E0", "U", t0.AddDate(0, -1, 0), t0))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeRejected, res.Outcome)
	assert.NotEmpty(t, res.Reason)

	sub, err := f.machine.Get(ctx, "U")
	require.NoError(t, err)
	assert.True(t, t2.Equal(sub.PeriodEnd))
	assert.Equal(t, "E2", sub.LastEventID)

	// An older event id redelivered after a newer one is still a duplicate.
	res, err = f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t1))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeDuplicate, res.Outcome)
}

func TestMachine_SameEventTwiceEqualsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	once := newFixture(t)
	twice := newFixture(t)
	ev := checkout("E1", "U", plan.Pro, t0, t0.AddDate(0, 1, 0))

	_, err := once.machine.Apply(ctx, ev)
	require.NoError(t, err)
	_, err = twice.machine.Apply(ctx, ev)
	require.NoError(t, err)
	_, err = twice.machine.Apply(ctx, ev)
	require.NoError(t, err)

	a, err := once.machine.Get(ctx, "U")
	require.NoError(t, err)
	b, err := twice.machine.Get(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMachine_UnknownUserAndInvalidEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.machine.Apply(ctx, paymentSucceeded("E1", "ghost", t0, t0.AddDate(0, 1, 0)))
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

	_, err = f.machine.Apply(ctx, subscription.Event{Type: subscription.EventCheckoutCompleted, UserID: "U"})
	assert.ErrorIs(t, err, subscription.ErrInvalidEvent)

	_, err = f.machine.Apply(ctx, subscription.Event{ID: "x", Type: subscription.EventCheckoutCompleted})
	assert.ErrorIs(t, err, subscription.ErrMissingUserID)

	res, err := f.machine.Apply(ctx, checkout("E2", "U", "platinum", t0, t0.AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeRejected, res.Outcome)

	_, err = f.machine.Get(ctx, "U")
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}

func TestMachine_NoTransitionIsRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t0.AddDate(0, 1, 0)))
	require.NoError(t, err)
	_, err = f.machine.Cancel(ctx, "U")
	require.NoError(t, err)

	res, err := f.machine.Apply(ctx, subscription.Event{
		ID: "E3", Type: subscription.EventPaymentFailed, Provider: "stripe", UserID: "U", OccurredAt: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeRejected, res.Outcome)
	assert.Equal(t, subscription.StatusCanceled, res.Subscription.Status)

	f.clock.Advance(time.Second)
	_, err = f.machine.Cancel(ctx, "U")
	assert.ErrorIs(t, err, subscription.ErrTransitionRejected)
}

func TestMachine_PaymentFailedGraceExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, subscription.WithConfig(subscription.Config{ReminderLead: time.Hour}))

	_, err := f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t0.AddDate(0, 1, 0)))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.machine.Apply(ctx, subscription.Event{
		ID: "E2", Type: subscription.EventPaymentFailed, Provider: "stripe", UserID: "U", OccurredAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, subscription.StatusPastDue, res.Subscription.Status)
	require.NotNil(t, res.Subscription.GraceEndsAt)
	assert.True(t, f.clock.Now().Add(72*time.Hour).Equal(*res.Subscription.GraceEndsAt))

	// Still entitled during the grace window.
	planID, err := f.machine.ActivePlan(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, plan.Premium, planID)

	// A second failure does not extend the window.
	f.clock.Advance(24 * time.Hour)
	res, err = f.machine.Apply(ctx, subscription.Event{
		ID: "E3", Type: subscription.EventPaymentFailed, Provider: "stripe", UserID: "U", OccurredAt: f.clock.Now(),
	})
	require.NoError(t, err)
	assert.True(t, t0.Add(73*time.Hour).Equal(*res.Subscription.GraceEndsAt))

	assert.Zero(t, f.sweep(t).Done, "grace has not ended")

	f.clock.Advance(48 * time.Hour)
	stats := f.sweep(t)
	assert.Equal(t, 1, stats.Done)

	sub, err := f.machine.Get(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, sub.Status)
	assert.Equal(t, plan.Free, sub.PlanID)
	assert.Nil(t, sub.GraceEndsAt)
	assert.NotNil(t, sub.CanceledAt)

	planID, err = f.machine.ActivePlan(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, plan.Free, planID)
}

func TestMachine_RecoveredPaymentMakesGraceTaskNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	t1 := t0.AddDate(0, 1, 0)

	_, err := f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t1))
	require.NoError(t, err)
	_, err = f.machine.Apply(ctx, subscription.Event{
		ID: "E2", Type: subscription.EventPaymentFailed, Provider: "stripe", UserID: "U", OccurredAt: t0,
	})
	require.NoError(t, err)

	res, err := f.machine.Apply(ctx, paymentSucceeded("E3", "U", t1, t1.AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, res.Subscription.Status)
	assert.Nil(t, res.Subscription.GraceEndsAt)

	f.clock.Advance(96 * time.Hour)
	stats := f.sweep(t)
	assert.GreaterOrEqual(t, stats.Done, 1)

	sub, err := f.machine.Get(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, plan.Premium, sub.PlanID)
}

func TestMachine_PaymentFailedKeepsPeriodEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	t1 := t0.AddDate(0, 1, 0)
	t2 := t1.AddDate(0, 1, 0)

	_, err := f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t1))
	require.NoError(t, err)

	// A failed renewal invoice carries the period it tried to pay for.
	failed := subscription.Event{
		ID: "E2", Type: subscription.EventPaymentFailed, Provider: "stripe", UserID: "U",
		PeriodStart: t1, PeriodEnd: t2, OccurredAt: t1,
	}
	res, err := f.machine.Apply(ctx, failed)
	require.NoError(t, err)
	require.Equal(t, subscription.OutcomeApplied, res.Outcome)
	assert.Equal(t, subscription.StatusPastDue, res.Subscription.Status)
	assert.True(t, t1.Equal(res.Subscription.PeriodEnd))
	assert.True(t, t0.Equal(res.Subscription.PeriodStart))

	// The retried charge succeeding is what moves the period.
	res, err = f.machine.Apply(ctx, paymentSucceeded("E3", "U", t1, t2))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, res.Subscription.Status)
	assert.True(t, t2.Equal(res.Subscription.PeriodEnd))
}

func TestMachine_CancelAndResubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	t1 := t0.AddDate(0, 1, 0)

	_, err := f.machine.Apply(ctx, checkout("E1", "U", plan.VIP, t0, t1))
	require.NoError(t, err)

	sub, err := f.machine.Cancel(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, sub.Status)
	assert.Equal(t, plan.Free, sub.PlanID)

	_, err = f.machine.Cancel(ctx, "nobody")
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

	f.clock.Advance(24 * time.Hour)
	res, err := f.machine.Apply(ctx, checkout("E5", "U", plan.Pro, t1, t1.AddDate(0, 1, 0)))
	require.NoError(t, err)
	require.Equal(t, subscription.OutcomeApplied, res.Outcome)
	assert.Equal(t, subscription.StatusActive, res.Subscription.Status)
	assert.Equal(t, plan.Pro, res.Subscription.PlanID)
	assert.Nil(t, res.Subscription.CanceledAt)
}

func TestMachine_SubscriptionUpdatedByProviderStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t0.AddDate(0, 1, 0)))
	require.NoError(t, err)

	updated := func(id, status string) subscription.Event {
		return subscription.Event{
			ID: id, Type: subscription.EventSubscriptionUpdated, Provider: "paddle",
			UserID: "U", ProviderStatus: status, OccurredAt: t0,
		}
	}

	res, err := f.machine.Apply(ctx, updated("E2", "past_due"))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, res.Subscription.Status)

	res, err = f.machine.Apply(ctx, updated("E3", "paused"))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeRejected, res.Outcome)

	res, err = f.machine.Apply(ctx, updated("E4", "active"))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, res.Subscription.Status)

	res, err = f.machine.Apply(ctx, updated("E5", "canceled"))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, res.Subscription.Status)
	assert.Equal(t, plan.Free, res.Subscription.PlanID)
}

func TestMachine_RenewalReminder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	t1 := t0.AddDate(0, 1, 0)

	_, err := f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t1))
	require.NoError(t, err)

	f.clock.Advance(t1.Sub(t0) - 72*time.Hour)
	stats := f.sweep(t)
	assert.Equal(t, 1, stats.Done)

	f.messenger.mu.Lock()
	defer f.messenger.mu.Unlock()
	require.Len(t, f.messenger.sent["U"], 1)
	assert.Contains(t, f.messenger.sent["U"][0], "Premium")
	assert.Contains(t, f.messenger.sent["U"][0], t1.Format("02/01/2006"))
}

func TestMachine_ReminderSkippedAfterCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	t1 := t0.AddDate(0, 1, 0)

	_, err := f.machine.Apply(ctx, checkout("E1", "U", plan.Premium, t0, t1))
	require.NoError(t, err)
	_, err = f.machine.Cancel(ctx, "U")
	require.NoError(t, err)

	f.clock.Advance(t1.Sub(t0))
	f.sweep(t)

	f.messenger.mu.Lock()
	defer f.messenger.mu.Unlock()
	assert.Empty(t, f.messenger.sent["U"])
}

func TestMachine_ConcurrentDistinctEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, subscription.WithConfig(subscription.Config{MaxConflictRetries: 50}))

	_, err := f.machine.Apply(ctx, checkout("E0", "U", plan.Premium, t0, t0.AddDate(0, 1, 0)))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			end := t0.AddDate(0, 1, i+1)
			_, err := f.machine.Apply(ctx, paymentSucceeded("P"+string(rune('a'+i)), "U", end.AddDate(0, -1, 0), end))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sub, err := f.machine.Get(ctx, "U")
	require.NoError(t, err)
	// Arrival order varies but the stored end only moves forward.
	assert.True(t, t0.AddDate(0, 1, n).Equal(sub.PeriodEnd))
	assert.Equal(t, subscription.StatusActive, sub.Status)
}

func TestMachine_ActivePlanWithGrants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	planID, err := f.machine.ActivePlan(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, plan.Free, planID)

	expires := t0.Add(30 * 24 * time.Hour)
	g, err := f.machine.GrantTemporary(ctx, "B", plan.Premium, "referral", "ref-1", expires)
	require.NoError(t, err)

	// Same source id returns the original grant.
	again, err := f.machine.GrantTemporary(ctx, "B", plan.Pro, "referral", "ref-1", expires.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, g.ID, again.ID)
	assert.Equal(t, plan.Premium, again.PlanID)

	planID, err = f.machine.ActivePlan(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, plan.Premium, planID)

	// A higher paid plan wins over the grant and survives its expiry.
	_, err = f.machine.Apply(ctx, checkout("E1", "B", plan.VIP, t0, t0.AddDate(0, 2, 0)))
	require.NoError(t, err)
	planID, err = f.machine.ActivePlan(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, plan.VIP, planID)

	f.clock.Advance(30 * 24 * time.Hour)
	stats := f.sweep(t)
	assert.Equal(t, 1, stats.Done)

	stored, err := f.store.GetGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.RevokedAt)

	planID, err = f.machine.ActivePlan(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, plan.VIP, planID)

	_, err = f.machine.GrantTemporary(ctx, "B", "platinum", "referral", "ref-2", expires)
	assert.ErrorIs(t, err, plan.ErrPlanNotFound)
}

func TestMachine_GrantExpiryFallsBackToFree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	g, err := f.machine.GrantTemporary(ctx, "B", plan.Premium, "referral", "ref-9", t0.Add(time.Hour))
	require.NoError(t, err)

	revoked, err := f.machine.RevokeGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = f.machine.RevokeGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, revoked)

	planID, err := f.machine.ActivePlan(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, plan.Free, planID)

	// The scheduled expiry finds the grant already revoked.
	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.sweep(t).Done)
}

func TestMachine_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	end := t0.AddDate(0, 1, 0)

	for i, u := range []string{"a", "b", "c"} {
		_, err := f.machine.Apply(ctx, checkout("E"+u, u, []string{plan.Premium, plan.Premium, plan.Pro}[i], t0, end))
		require.NoError(t, err)
	}
	_, err := f.machine.Cancel(ctx, "c")
	require.NoError(t, err)

	st, err := f.machine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByStatus[subscription.StatusActive])
	assert.Equal(t, 1, st.ByStatus[subscription.StatusCanceled])
	assert.Equal(t, map[string]int{plan.Premium: 2}, st.EntitledByPlan)
}

type failingStore struct {
	*subscription.MemoryStore
}

func (failingStore) Get(context.Context, string) (subscription.Subscription, error) {
	return subscription.Subscription{}, errors.New("connection refused")
}

func TestMachine_ActivePlanStoreFailure(t *testing.T) {
	t.Parallel()

	catalog, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(plan.DefaultPlans()...))
	require.NoError(t, err)
	mem := subscription.NewMemoryStore()
	m, err := subscription.NewMachine(catalog, failingStore{mem}, mem, subscription.WithLogger(quietLogger))
	require.NoError(t, err)

	_, err = m.ActivePlan(context.Background(), "U")
	assert.Error(t, err)
}
