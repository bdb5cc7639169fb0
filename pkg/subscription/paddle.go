package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleProvider verifies Paddle Billing webhooks and normalizes
// subscription and transaction events. The user id travels in
// custom_data.user_id.
type PaddleProvider struct {
	verifier *paddle.WebhookVerifier
	prices   map[string]string
}

func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &PaddleProvider{
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		prices:   cfg.PricePlans,
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

type paddleNotification struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type paddleEntity struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
	CurrentPeriod  *paddlePeriod  `json:"current_billing_period"`
	BillingPeriod  *paddlePeriod  `json:"billing_period"`
	BillingCycle   *paddleCycle   `json:"billing_cycle"`
	Items          []paddleItem   `json:"items"`
}

type paddleCycle struct {
	Interval string `json:"interval"`
}

type paddleItem struct {
	PriceID string `json:"price_id"`
	Price   *struct {
		ID           string       `json:"id"`
		BillingCycle *paddleCycle `json:"billing_cycle"`
	} `json:"price"`
}

// ParseWebhook verifies the Paddle-Signature header with the SDK verifier.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return Event{}, err
	}
	req.Header.Set("Paddle-Signature", signature)

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}
	if !ok {
		return Event{}, ErrInvalidSignature
	}

	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Event{}, errors.Join(ErrInvalidPayload, err)
	}

	ev := Event{ID: n.EventID, OccurredAt: n.OccurredAt.UTC()}
	switch n.EventType {
	case "subscription.created", "subscription.activated":
		ev.Type = EventCheckoutCompleted
	case "transaction.completed":
		ev.Type = EventPaymentSucceeded
	case "transaction.payment_failed":
		ev.Type = EventPaymentFailed
	case "subscription.updated", "subscription.past_due":
		ev.Type = EventSubscriptionUpdated
	case "subscription.canceled":
		ev.Type = EventSubscriptionDeleted
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, n.EventType)
	}

	var data paddleEntity
	if err := json.Unmarshal(n.Data, &data); err != nil {
		return Event{}, errors.Join(ErrInvalidPayload, err)
	}

	ev.UserID = customString(data.CustomData, "user_id")
	if ev.UserID == "" {
		return Event{}, fmt.Errorf("%w: paddle event %s", ErrMissingUserID, n.EventID)
	}
	ev.ProviderCustomerID = data.CustomerID
	ev.ProviderSubID = data.ID
	if data.SubscriptionID != "" {
		ev.ProviderSubID = data.SubscriptionID
	}
	if ev.Type == EventSubscriptionUpdated || ev.Type == EventSubscriptionDeleted {
		ev.ProviderStatus = data.Status
	}

	period := data.CurrentPeriod
	if period == nil {
		period = data.BillingPeriod
	}
	if period != nil {
		ev.PeriodStart = period.StartsAt.UTC()
		ev.PeriodEnd = period.EndsAt.UTC()
	}

	var priceID string
	if data.BillingCycle != nil {
		ev.BillingCycle = billingCycle(data.BillingCycle.Interval)
	}
	if len(data.Items) > 0 {
		item := data.Items[0]
		priceID = item.PriceID
		if item.Price != nil {
			if priceID == "" {
				priceID = item.Price.ID
			}
			if ev.BillingCycle == "" && item.Price.BillingCycle != nil {
				ev.BillingCycle = billingCycle(item.Price.BillingCycle.Interval)
			}
		}
	}
	ev.PlanID = resolvePlan(p.prices, customString(data.CustomData, "plan_id"), priceID)
	return ev, nil
}

func customString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
