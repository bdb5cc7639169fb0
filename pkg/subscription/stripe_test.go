package subscription_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/subscription"
)

const stripeSecret = "whsec_test_secret"

func newStripe(t *testing.T) *subscription.StripeProvider {
	t.Helper()
	p, err := subscription.NewStripeProvider(subscription.StripeConfig{
		WebhookSecret: stripeSecret,
		PricePlans:    map[string]string{"price_premium": plan.Premium, "price_pro": plan.Pro},
		Tolerance:     5 * time.Minute,
	})
	require.NoError(t, err)
	return p
}

func stripeEvent(t *testing.T, id, typ string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"created":     time.Now().Unix(),
		"api_version": "2025-01-27.acacia",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return b
}

func signStripe(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

func TestNewStripeProvider_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewStripeProvider(subscription.StripeConfig{})
	assert.ErrorIs(t, err, subscription.ErrMissingWebhookSecret)
}

func TestStripeProvider_CheckoutCompleted(t *testing.T) {
	t.Parallel()

	p := newStripe(t)
	payload := stripeEvent(t, "evt_1", "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"client_reference_id": "12345",
		"customer":            "cus_1",
		"subscription":        map[string]any{"id": "sub_1", "object": "subscription"},
		"metadata":            map[string]string{"price_id": "price_pro", "interval": "year"},
	})

	ev, err := p.ParseWebhook(context.Background(), payload, signStripe(payload, stripeSecret))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, subscription.EventCheckoutCompleted, ev.Type)
	assert.Equal(t, "12345", ev.UserID)
	assert.Equal(t, plan.Pro, ev.PlanID)
	assert.Equal(t, plan.BillingCycleAnnual, ev.BillingCycle)
	assert.Equal(t, "sub_1", ev.ProviderSubID)
	assert.Equal(t, "cus_1", ev.ProviderCustomerID)
}

func TestStripeProvider_InvoiceEvents(t *testing.T) {
	t.Parallel()

	p := newStripe(t)
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	invoice := map[string]any{
		"id":       "in_1",
		"customer": "cus_1",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": "sub_1",
				"metadata":     map[string]string{"user_id": "42"},
			},
		},
		"lines": map[string]any{
			"data": []map[string]any{{
				"period": map[string]int64{"start": start.Unix(), "end": end.Unix()},
				"price":  map[string]any{"id": "price_premium", "recurring": map[string]string{"interval": "month"}},
			}},
		},
	}

	tests := []struct {
		typ  string
		want subscription.EventType
	}{
		{"invoice.paid", subscription.EventPaymentSucceeded},
		{"invoice.payment_failed", subscription.EventPaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			t.Parallel()

			payload := stripeEvent(t, "evt_"+tt.typ, tt.typ, invoice)
			ev, err := p.ParseWebhook(context.Background(), payload, signStripe(payload, stripeSecret))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, "42", ev.UserID)
			assert.Equal(t, plan.Premium, ev.PlanID)
			assert.Equal(t, plan.BillingCycleMonthly, ev.BillingCycle)
			assert.True(t, start.Equal(ev.PeriodStart))
			assert.True(t, end.Equal(ev.PeriodEnd))
			assert.Equal(t, "sub_1", ev.ProviderSubID)
		})
	}
}

func TestStripeProvider_SubscriptionUpdated(t *testing.T) {
	t.Parallel()

	p := newStripe(t)
	end := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	payload := stripeEvent(t, "evt_2", "customer.subscription.updated", map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "past_due",
		"metadata": map[string]string{"user_id": "42"},
		"items": map[string]any{
			"data": []map[string]any{{
				"current_period_start": end.AddDate(0, -1, 0).Unix(),
				"current_period_end":   end.Unix(),
				"price":                map[string]any{"id": "price_unknown"},
			}},
		},
	})

	ev, err := p.ParseWebhook(context.Background(), payload, signStripe(payload, stripeSecret))
	require.NoError(t, err)
	assert.Equal(t, subscription.EventSubscriptionUpdated, ev.Type)
	assert.Equal(t, "past_due", ev.ProviderStatus)
	assert.True(t, end.Equal(ev.PeriodEnd))
	assert.Empty(t, ev.PlanID, "unmapped price leaves the plan unset")
}

func TestStripeProvider_Rejections(t *testing.T) {
	t.Parallel()

	p := newStripe(t)
	ctx := context.Background()

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		payload := stripeEvent(t, "evt_3", "invoice.paid", map[string]any{})
		_, err := p.ParseWebhook(ctx, payload, signStripe(payload, "whsec_other"))
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		payload := stripeEvent(t, "evt_4", "invoice.paid", map[string]any{})
		sig := signStripe(payload, stripeSecret)
		tampered := stripeEvent(t, "evt_4", "invoice.paid", map[string]any{"metadata": map[string]string{"user_id": "1"}})
		_, err := p.ParseWebhook(ctx, tampered, sig)
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
	})

	t.Run("ignored type", func(t *testing.T) {
		t.Parallel()
		payload := stripeEvent(t, "evt_5", "customer.created", map[string]any{})
		_, err := p.ParseWebhook(ctx, payload, signStripe(payload, stripeSecret))
		assert.ErrorIs(t, err, subscription.ErrIgnoredEvent)
	})

	t.Run("missing user", func(t *testing.T) {
		t.Parallel()
		payload := stripeEvent(t, "evt_6", "checkout.session.completed", map[string]any{"id": "cs_2"})
		_, err := p.ParseWebhook(ctx, payload, signStripe(payload, stripeSecret))
		assert.ErrorIs(t, err, subscription.ErrMissingUserID)
	})
}

func TestMachine_HandleWebhook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, subscription.WithProvider(newStripe(t)))

	payload := stripeEvent(t, "evt_10", "checkout.session.completed", map[string]any{
		"client_reference_id": "7",
		"metadata":            map[string]string{"plan_id": plan.Premium, "interval": "month"},
	})
	sig := signStripe(payload, stripeSecret)

	res, err := f.machine.HandleWebhook(ctx, "stripe", payload, sig)
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeApplied, res.Outcome)
	assert.Equal(t, "stripe", res.Subscription.Provider)

	res, err = f.machine.HandleWebhook(ctx, "stripe", payload, sig)
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeDuplicate, res.Outcome)

	ignored := stripeEvent(t, "evt_11", "charge.refunded", map[string]any{})
	res, err = f.machine.HandleWebhook(ctx, "stripe", ignored, signStripe(ignored, stripeSecret))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeIgnored, res.Outcome)

	_, err = f.machine.HandleWebhook(ctx, "stripe", payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, subscription.ErrInvalidSignature)

	_, err = f.machine.HandleWebhook(ctx, "braintree", payload, sig)
	assert.ErrorIs(t, err, subscription.ErrUnknownProvider)
}
