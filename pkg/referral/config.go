package referral

import "time"

// Config holds referral rewards and sharing settings.
type Config struct {
	// GrantPlan is the plan the referee gets for GrantDuration.
	GrantPlan     string        `env:"REFERRAL_GRANT_PLAN" envDefault:"premium"`
	GrantDuration time.Duration `env:"REFERRAL_GRANT_DURATION" envDefault:"720h"`

	ReferrerPoints      int64 `env:"REFERRAL_REFERRER_POINTS" envDefault:"100"`
	ReferrerCreditCents int64 `env:"REFERRAL_REFERRER_CREDIT_CENTS" envDefault:"1000"`
	RefereePoints       int64 `env:"REFERRAL_REFEREE_POINTS" envDefault:"50"`
	RefereeCreditCents  int64 `env:"REFERRAL_REFEREE_CREDIT_CENTS" envDefault:"1000"`

	// ShareURL is the link encoded in the share QR code; {code} is replaced
	// with the user's active code.
	ShareURL string `env:"REFERRAL_SHARE_URL" envDefault:"https://wa.me/?text=Use%20meu%20codigo%20{code}"`
	QRSize   int    `env:"REFERRAL_QR_SIZE" envDefault:"256"`
}

func DefaultConfig() Config {
	return Config{
		GrantPlan:           "premium",
		GrantDuration:       30 * 24 * time.Hour,
		ReferrerPoints:      100,
		ReferrerCreditCents: 1000,
		RefereePoints:       50,
		RefereeCreditCents:  1000,
		ShareURL:            "https://wa.me/?text=Use%20meu%20codigo%20{code}",
		QRSize:              256,
	}
}

func (c Config) referrerReward() Reward {
	return Reward{Kind: RewardReferrer, Points: c.ReferrerPoints, CreditCents: c.ReferrerCreditCents}
}

func (c Config) refereeReward() Reward {
	return Reward{Kind: RewardReferee, Points: c.RefereePoints, CreditCents: c.RefereeCreditCents}
}
