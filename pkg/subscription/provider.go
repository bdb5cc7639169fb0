package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/metrics"
	"github.com/dietbot/entitlement/pkg/plan"
)

// Provider verifies and normalizes billing webhooks from one payment provider.
type Provider interface {
	Name() string
	// ParseWebhook verifies signature and returns the normalized event.
	// Event types the service does not act on yield ErrIgnoredEvent.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, error)
}

// HandleWebhook verifies a provider webhook and applies it. Duplicate, stale
// and ignored events succeed so the provider stops redelivering them.
func (m *Machine) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues(metrics.Label(provider)).Observe(time.Since(start).Seconds())
	}()

	p, ok := m.providers[provider]
	if !ok {
		return Result{}, ErrUnknownProvider
	}

	ev, err := p.ParseWebhook(ctx, payload, signature)
	if errors.Is(err, ErrIgnoredEvent) {
		m.log.DebugContext(ctx, "billing webhook ignored", logger.Provider(provider), logger.Error(err))
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		m.log.WarnContext(ctx, "billing webhook rejected", logger.Provider(provider), logger.Error(err))
		return Result{}, err
	}
	ev.Provider = provider

	return m.Apply(ctx, ev)
}

// resolvePlan maps a provider price id to a plan id. An explicit plan id from
// event metadata wins; an unmapped price leaves the plan unchanged.
func resolvePlan(prices map[string]string, metadataPlan, priceID string) string {
	if metadataPlan != "" {
		return metadataPlan
	}
	return prices[priceID]
}

func billingCycle(interval string) plan.BillingCycle {
	switch interval {
	case "month":
		return plan.BillingCycleMonthly
	case "year":
		return plan.BillingCycleAnnual
	}
	return ""
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
