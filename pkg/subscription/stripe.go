package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider verifies Stripe webhooks and normalizes checkout, invoice
// and subscription events. The user id is read from metadata["user_id"] or
// the checkout session's client_reference_id.
type StripeProvider struct {
	cfg StripeConfig
}

func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &StripeProvider{cfg: cfg}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (Event, error) {
	se, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                p.cfg.Tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}
	if se.Data == nil {
		return Event{}, fmt.Errorf("%w: event %s has no data", ErrInvalidPayload, se.ID)
	}

	ev := Event{
		ID:         se.ID,
		OccurredAt: unixTime(se.Created),
	}
	raw := se.Data.Raw

	switch string(se.Type) {
	case "checkout.session.completed":
		ev.Type = EventCheckoutCompleted
		err = p.fromCheckout(&ev, raw)
	case "invoice.paid", "invoice.payment_succeeded":
		ev.Type = EventPaymentSucceeded
		err = p.fromInvoice(&ev, raw)
	case "invoice.payment_failed":
		ev.Type = EventPaymentFailed
		err = p.fromInvoice(&ev, raw)
	case "customer.subscription.updated":
		ev.Type = EventSubscriptionUpdated
		err = p.fromSubscription(&ev, raw)
	case "customer.subscription.deleted":
		ev.Type = EventSubscriptionDeleted
		err = p.fromSubscription(&ev, raw)
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, se.Type)
	}
	if err != nil {
		return Event{}, err
	}
	if ev.UserID == "" {
		return Event{}, fmt.Errorf("%w: stripe event %s", ErrMissingUserID, se.ID)
	}
	return ev, nil
}

// stripeRef is an id field that Stripe sends either as a string or as an
// expanded object.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = stripeRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

type stripePrice struct {
	ID        string `json:"id"`
	Recurring *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

func (p *stripePrice) interval() string {
	if p == nil || p.Recurring == nil {
		return ""
	}
	return p.Recurring.Interval
}

type stripeCheckoutSession struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          stripeRef         `json:"customer"`
	Subscription      stripeRef         `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

func (p *StripeProvider) fromCheckout(ev *Event, raw json.RawMessage) error {
	var cs stripeCheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	ev.UserID = cs.Metadata["user_id"]
	if ev.UserID == "" {
		ev.UserID = cs.ClientReferenceID
	}
	ev.PlanID = resolvePlan(p.cfg.PricePlans, cs.Metadata["plan_id"], cs.Metadata["price_id"])
	ev.BillingCycle = billingCycle(cs.Metadata["interval"])
	ev.ProviderSubID = string(cs.Subscription)
	ev.ProviderCustomerID = string(cs.Customer)
	return nil
}

type stripeInvoice struct {
	Customer            stripeRef         `json:"customer"`
	Subscription        stripeRef         `json:"subscription"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef         `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
			Price *stripePrice `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

func (p *StripeProvider) fromInvoice(ev *Event, raw json.RawMessage) error {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}

	meta := inv.Metadata
	subID := string(inv.Subscription)
	if inv.SubscriptionDetails != nil && len(inv.SubscriptionDetails.Metadata) > 0 {
		meta = inv.SubscriptionDetails.Metadata
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if len(inv.Parent.SubscriptionDetails.Metadata) > 0 {
			meta = inv.Parent.SubscriptionDetails.Metadata
		}
		if subID == "" {
			subID = string(inv.Parent.SubscriptionDetails.Subscription)
		}
	}

	ev.UserID = meta["user_id"]
	ev.ProviderSubID = subID
	ev.ProviderCustomerID = string(inv.Customer)

	var priceID string
	if len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		ev.PeriodStart = unixTime(line.Period.Start)
		ev.PeriodEnd = unixTime(line.Period.End)
		if line.Price != nil {
			priceID = line.Price.ID
			ev.BillingCycle = billingCycle(line.Price.interval())
		}
	}
	ev.PlanID = resolvePlan(p.cfg.PricePlans, meta["plan_id"], priceID)
	return nil
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price              *stripePrice `json:"price"`
			CurrentPeriodStart int64        `json:"current_period_start"`
			CurrentPeriodEnd   int64        `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (p *StripeProvider) fromSubscription(ev *Event, raw json.RawMessage) error {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}

	ev.UserID = sub.Metadata["user_id"]
	ev.ProviderSubID = sub.ID
	ev.ProviderCustomerID = string(sub.Customer)
	ev.ProviderStatus = sub.Status

	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	var priceID string
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if end == 0 {
			start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
		if item.Price != nil {
			priceID = item.Price.ID
			ev.BillingCycle = billingCycle(item.Price.interval())
		}
	}
	ev.PeriodStart = unixTime(start)
	ev.PeriodEnd = unixTime(end)
	ev.PlanID = resolvePlan(p.cfg.PricePlans, sub.Metadata["plan_id"], priceID)
	return nil
}
