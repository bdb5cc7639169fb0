package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/dietbot/entitlement/pkg/plan"
)

// Status is the lifecycle state of a user's subscription.
type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Entitled reports whether the paid plan is in effect in this status.
// Past-due subscriptions keep their plan during the grace window.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusPastDue
}

// Subscription is the single per-user subscription record. It is never
// deleted; cancellation moves it to StatusCanceled.
type Subscription struct {
	UserID             string            `json:"user_id"`
	PlanID             string            `json:"plan_id"`
	Status             Status            `json:"status"`
	BillingCycle       plan.BillingCycle `json:"billing_cycle"`
	Provider           string            `json:"provider,omitempty"`
	ProviderSubID      string            `json:"provider_subscription_id,omitempty"`
	ProviderCustomerID string            `json:"provider_customer_id,omitempty"`
	PeriodStart        time.Time         `json:"period_start,omitzero"`
	PeriodEnd          time.Time         `json:"period_end,omitzero"`
	GraceEndsAt        *time.Time        `json:"grace_ends_at,omitempty"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	LastEventID        string            `json:"last_event_id"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// EventType is a normalized billing event type.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"

	// Internal events.
	EventCancelRequested EventType = "cancel_requested"
	EventGraceExpired    EventType = "grace_expired"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCheckoutCompleted, EventPaymentSucceeded, EventPaymentFailed,
		EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventCancelRequested, EventGraceExpired:
		return true
	}
	return false
}

// ProviderInternal marks events raised by this service rather than a billing provider.
const ProviderInternal = "internal"

// Event is a billing event normalized from a provider webhook or raised
// internally. ID is the idempotency key.
type Event struct {
	ID                 string            `json:"id"`
	Type               EventType         `json:"type"`
	Provider           string            `json:"provider"`
	UserID             string            `json:"user_id"`
	PlanID             string            `json:"plan_id,omitempty"`
	BillingCycle       plan.BillingCycle `json:"billing_cycle,omitempty"`
	PeriodStart        time.Time         `json:"period_start,omitzero"`
	PeriodEnd          time.Time         `json:"period_end,omitzero"`
	ProviderSubID      string            `json:"provider_subscription_id,omitempty"`
	ProviderCustomerID string            `json:"provider_customer_id,omitempty"`
	// ProviderStatus is the provider's own subscription status; it drives
	// subscription_updated transitions.
	ProviderStatus string    `json:"provider_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (e Event) validate() error {
	switch {
	case e.ID == "":
		return ErrInvalidEvent
	case !e.Type.Valid():
		return ErrInvalidEvent
	case e.UserID == "":
		return ErrMissingUserID
	}
	return nil
}

// Outcome classifies what Apply did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	// OutcomeIgnored is used for provider events this service does not act on.
	OutcomeIgnored Outcome = "ignored"
)

// Result is returned by Apply. Subscription is the state after the call,
// which is the unchanged state for anything but OutcomeApplied.
type Result struct {
	Outcome      Outcome      `json:"outcome"`
	Subscription Subscription `json:"subscription"`
	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`
}

// Grant is a temporary plan upgrade layered on top of the subscription.
type Grant struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"user_id"`
	PlanID    string     `json:"plan_id"`
	Source    string     `json:"source"`
	SourceID  string     `json:"source_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ActiveAt reports whether the grant is in effect at now.
func (g Grant) ActiveAt(now time.Time) bool {
	return g.RevokedAt == nil && now.Before(g.ExpiresAt)
}

// Stats aggregates subscriptions for operator reporting.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	// EntitledByPlan counts active and past-due subscriptions per plan.
	EntitledByPlan map[string]int `json:"entitled_by_plan"`
}
