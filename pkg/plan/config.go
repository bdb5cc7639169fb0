package plan

// Config selects where plans are loaded from.
type Config struct {
	File string `env:"PLANS_FILE"` // YAML catalog; empty means DefaultPlans
}
