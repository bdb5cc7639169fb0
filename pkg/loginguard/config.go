package loginguard

import "time"

type Config struct {
	MaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	Window      time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`
	KeyPrefix   string        `env:"LOGIN_KEY_PREFIX" envDefault:"login:"`
}
