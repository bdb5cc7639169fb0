package usage

import (
	"errors"
	"time"
)

// Backends selectable through Config.Backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

type Config struct {
	Backend         string        `env:"USAGE_BACKEND" envDefault:"postgres"`
	Timezone        string        `env:"USAGE_TIMEZONE" envDefault:"America/Sao_Paulo"`
	Retention       time.Duration `env:"USAGE_RETENTION" envDefault:"2160h"`
	PruneInterval   time.Duration `env:"USAGE_PRUNE_INTERVAL" envDefault:"24h"`
	RedisPrefix     string        `env:"USAGE_REDIS_PREFIX" envDefault:"usage:"`
	MongoCollection string        `env:"USAGE_MONGO_COLLECTION" envDefault:"usage_counters"`
}

// Location resolves the reference time zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Join(ErrInvalidTimezone, err)
	}
	return loc, nil
}
