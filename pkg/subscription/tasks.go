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
	"github.com/dietbot/entitlement/pkg/queue"
)

const (
	TaskExpireGrant     queue.TaskType = "expire_grant"
	TaskGraceExpiry     queue.TaskType = "grace_expiry"
	TaskRenewalReminder queue.TaskType = "renewal_reminder"
)

type expireGrantPayload struct {
	GrantID uuid.UUID `json:"grant_id"`
}

type gracePayload struct {
	GraceEndsAt time.Time `json:"grace_ends_at"`
}

type reminderPayload struct {
	PlanID    string    `json:"plan_id"`
	PeriodEnd time.Time `json:"period_end"`
}

// TaskHandlers returns the deferred task handlers owned by the machine.
func (m *Machine) TaskHandlers() []queue.Handler {
	return []queue.Handler{
		queue.NewTaskHandler(TaskExpireGrant, m.expireGrant),
		queue.NewTaskHandler(TaskGraceExpiry, m.expireGrace),
		queue.NewTaskHandler(TaskRenewalReminder, m.remindRenewal),
	}
}

func (m *Machine) expireGrant(ctx context.Context, userID string, p expireGrantPayload) error {
	g, err := m.grants.GetGrant(ctx, p.GrantID)
	if errors.Is(err, ErrGrantNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return err
	}
	if g.RevokedAt != nil {
		return nil
	}

	revoked, err := m.grants.RevokeGrant(ctx, g.ID, m.now())
	if err != nil {
		return err
	}
	if revoked {
		m.log.InfoContext(ctx, "temporary grant expired",
			logger.UserID(userID), logger.PlanID(g.PlanID), slog.String("grant_id", g.ID.String()))
	}
	return nil
}

// expireGrace cancels a subscription still past due at the end of the grace
// window it was scheduled for. A payment or cancellation in the meantime
// clears or replaces the window and makes this a no-op.
func (m *Machine) expireGrace(ctx context.Context, userID string, p gracePayload) error {
	sub, err := m.store.Get(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != StatusPastDue || sub.GraceEndsAt == nil || !sameInstant(*sub.GraceEndsAt, p.GraceEndsAt) {
		m.log.DebugContext(ctx, "grace expiry no longer applies",
			logger.UserID(userID), "status", sub.Status)
		return nil
	}

	res, err := m.Apply(ctx, Event{
		ID:         "grace_expired:" + userID + ":" + strconv.FormatInt(p.GraceEndsAt.UnixNano(), 10),
		Type:       EventGraceExpired,
		Provider:   ProviderInternal,
		UserID:     userID,
		OccurredAt: m.now(),
	})
	if err != nil {
		return err
	}
	if res.Outcome == OutcomeApplied {
		m.log.InfoContext(ctx, "grace period expired, subscription canceled", logger.UserID(userID))
	}
	return nil
}

func (m *Machine) remindRenewal(ctx context.Context, userID string, p reminderPayload) error {
	if m.messenger == nil {
		return nil
	}
	sub, err := m.store.Get(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != StatusActive || !sameInstant(sub.PeriodEnd, p.PeriodEnd) {
		return nil
	}

	name := sub.PlanID
	if pl, err := m.catalog.GetPlan(sub.PlanID); err == nil {
		name = pl.Name
	}
	msg := fmt.Sprintf("Seu plano %s renova em %s.", name, sub.PeriodEnd.Format("02/01/2006"))
	return m.messenger.Send(ctx, userID, msg)
}

// sameInstant tolerates the microsecond rounding of timestamptz columns.
func sameInstant(a, b time.Time) bool {
	return a.Sub(b).Abs() < time.Millisecond
}
