package plan

// Action identifies a metered, rate-limited operation.
type Action string

const (
	ActionDailyAnalyses   Action = "daily_analyses"   // image and meal analyses
	ActionTextAnalyses    Action = "text_analyses"    // free-text meal descriptions
	ActionVoiceCommands   Action = "voice_commands"   // transcribed voice commands
	ActionDietGenerations Action = "diet_generations" // diet and menu generation
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionDailyAnalyses, ActionTextAnalyses, ActionVoiceCommands, ActionDietGenerations:
		return true
	}
	return false
}

// Actions returns all known actions in a stable order.
func Actions() []Action {
	return []Action{ActionDailyAnalyses, ActionTextAnalyses, ActionVoiceCommands, ActionDietGenerations}
}

// Unlimited marks an action as uncapped (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Money represents a monetary amount in the smallest currency unit.
// R$ 29,90 is Amount: 2990, Currency: "BRL".
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
}

// BillingCycle is the renewal frequency of a paid plan.
type BillingCycle string

const (
	BillingCycleNone    BillingCycle = "none"
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleAnnual  BillingCycle = "annual"
)
