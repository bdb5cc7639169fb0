package plan

// Built-in plan ids.
const (
	Free    = "free"
	Premium = "premium"
	Pro     = "pro"
	VIP     = "vip"
)

// DefaultPlans returns the built-in tiers used when no plans file is configured.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:      Free,
			Name:    "Gratuito",
			Rank:    0,
			Default: true,
			Price:   Money{Amount: 0, Currency: "BRL"},
			Limits: map[Action]int64{
				ActionDailyAnalyses:   3,
				ActionTextAnalyses:    3,
				ActionVoiceCommands:   5,
				ActionDietGenerations: 0,
			},
			Features: []string{"basic_tips"},
		},
		{
			ID:          Premium,
			Name:        "Premium",
			Rank:        10,
			Price:       Money{Amount: 2990, Currency: "BRL"},
			AnnualPrice: Money{Amount: 29900, Currency: "BRL"},
			Limits: map[Action]int64{
				ActionDailyAnalyses:   Unlimited,
				ActionTextAnalyses:    Unlimited,
				ActionVoiceCommands:   Unlimited,
				ActionDietGenerations: 10,
			},
			Features: []string{"custom_diets", "weekly_reports"},
		},
		{
			ID:          Pro,
			Name:        "Pro",
			Rank:        20,
			Price:       Money{Amount: 5990, Currency: "BRL"},
			AnnualPrice: Money{Amount: 59900, Currency: "BRL"},
			Limits: map[Action]int64{
				ActionDailyAnalyses:   Unlimited,
				ActionTextAnalyses:    Unlimited,
				ActionVoiceCommands:   Unlimited,
				ActionDietGenerations: Unlimited,
			},
			Features: []string{"custom_diets", "weekly_reports", "coaching", "advanced_analytics"},
		},
		{
			ID:          VIP,
			Name:        "VIP",
			Rank:        30,
			Price:       Money{Amount: 9990, Currency: "BRL"},
			AnnualPrice: Money{Amount: 99900, Currency: "BRL"},
			Limits: map[Action]int64{
				ActionDailyAnalyses:   Unlimited,
				ActionTextAnalyses:    Unlimited,
				ActionVoiceCommands:   Unlimited,
				ActionDietGenerations: Unlimited,
			},
			Features: []string{"custom_diets", "weekly_reports", "coaching", "advanced_analytics", "monthly_consulting"},
		},
	}
}
