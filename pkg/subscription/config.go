package subscription

import "time"

// Config holds the subscription lifecycle settings.
type Config struct {
	GracePeriod  time.Duration `env:"SUBSCRIPTION_GRACE_PERIOD" envDefault:"72h"`
	ReminderLead time.Duration `env:"SUBSCRIPTION_REMINDER_LEAD" envDefault:"72h"`
	// FreePlan is the plan a canceled subscription falls back to; empty means
	// the catalog's default plan.
	FreePlan string `env:"SUBSCRIPTION_FREE_PLAN"`
	// MaxConflictRetries bounds reload-and-retry on concurrent updates.
	MaxConflictRetries int `env:"SUBSCRIPTION_MAX_CONFLICT_RETRIES" envDefault:"3"`
}

// StripeConfig configures the Stripe webhook provider.
type StripeConfig struct {
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// PricePlans maps Stripe price ids to plan ids, e.g. "price_123:premium,price_456:pro".
	PricePlans map[string]string `env:"STRIPE_PRICE_PLANS" envKeyValSeparator:":"`
	Tolerance  time.Duration     `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// PaddleConfig configures the Paddle webhook provider.
type PaddleConfig struct {
	WebhookSecret string            `env:"PADDLE_WEBHOOK_SECRET"`
	PricePlans    map[string]string `env:"PADDLE_PRICE_PLANS" envKeyValSeparator:":"`
}
