// Package metrics holds the service's Prometheus collectors. They register with
// the default registry on import and are served by promhttp on /metrics.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitlement"

var (
	// AdmissionDecisions counts metered-action decisions by action and result
	// (allowed, denied, unlimited, unavailable).
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "guard",
		Name:      "decisions_total",
		Help:      "Admission decisions for metered actions.",
	}, []string{"action", "result"})

	// BillingEvents counts billing events by provider, type and outcome
	// (applied, duplicate, rejected, error).
	BillingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "billing_events_total",
		Help:      "Billing events processed by outcome.",
	}, []string{"provider", "event_type", "outcome"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// TasksProcessed counts deferred task executions by type and outcome
	// (done, retry, failed, skipped).
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "tasks_processed_total",
		Help:      "Deferred task executions by outcome.",
	}, []string{"task_type", "outcome"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a single sweep pass.",
		Buckets:   prometheus.DefBuckets,
	})

	ReferralRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "referral",
		Name:      "redemptions_total",
		Help:      "Referral redemption attempts by result.",
	}, []string{"result"})

	CountersPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "usage",
		Name:      "counters_pruned_total",
		Help:      "Usage counters removed by retention pruning.",
	})

	LoginThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "loginguard",
		Name:      "throttled_total",
		Help:      "Requests rejected by the login-attempt throttle.",
	})
)

const maxLabelLen = 64

// Label makes an arbitrary string safe to use as a label value.
func Label(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}
