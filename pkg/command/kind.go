package command

import "github.com/dietbot/entitlement/pkg/plan"

// Kind is the command variant.
type Kind int

const (
	KindMealDescription Kind = iota
	KindDiet
	KindWeightLoss
	KindMuscleGain
	KindMenu
	KindRecipe
	KindAnalyze
	KindCalories
	KindNutrients
	KindHealth
	KindProgress
	KindHistory
	KindHelp
	KindSettings
	KindGoals
	KindSubscription
	KindUpgrade
	KindReferral
	KindReminder
)

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindMealDescription, KindDiet, KindWeightLoss, KindMuscleGain, KindMenu,
		KindRecipe, KindAnalyze, KindCalories, KindNutrients, KindHealth,
		KindProgress, KindHistory, KindHelp, KindSettings, KindGoals,
		KindSubscription, KindUpgrade, KindReferral, KindReminder,
	}
}

func (k Kind) String() string {
	switch k {
	case KindMealDescription:
		return "meal_description"
	case KindDiet:
		return "diet"
	case KindWeightLoss:
		return "weight_loss"
	case KindMuscleGain:
		return "muscle_gain"
	case KindMenu:
		return "menu"
	case KindRecipe:
		return "recipe"
	case KindAnalyze:
		return "analyze"
	case KindCalories:
		return "calories"
	case KindNutrients:
		return "nutrients"
	case KindHealth:
		return "health"
	case KindProgress:
		return "progress"
	case KindHistory:
		return "history"
	case KindHelp:
		return "help"
	case KindSettings:
		return "settings"
	case KindGoals:
		return "goals"
	case KindSubscription:
		return "subscription"
	case KindUpgrade:
		return "upgrade"
	case KindReferral:
		return "referral"
	case KindReminder:
		return "reminder"
	}
	return "unknown"
}

// MeteredAction returns the plan action a command consumes. Commands that
// only read state or navigate are not metered.
func (k Kind) MeteredAction() (plan.Action, bool) {
	switch k {
	case KindDiet, KindWeightLoss, KindMuscleGain, KindMenu, KindRecipe:
		return plan.ActionDietGenerations, true
	case KindMealDescription, KindAnalyze, KindCalories, KindNutrients, KindHealth:
		return plan.ActionTextAnalyses, true
	case KindProgress, KindHistory, KindHelp, KindSettings, KindGoals,
		KindSubscription, KindUpgrade, KindReferral, KindReminder:
		return "", false
	}
	return "", false
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
