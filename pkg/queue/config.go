package queue

import "time"

// Config holds the deferred task queue settings.
type Config struct {
	SweepInterval time.Duration `env:"QUEUE_SWEEP_INTERVAL" envDefault:"30s"`
	BatchSize     int           `env:"QUEUE_BATCH_SIZE" envDefault:"100"`
	MaxAttempts   int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	RetryBackoff  time.Duration `env:"QUEUE_RETRY_BACKOFF" envDefault:"1m"`
	LeaseTimeout  time.Duration `env:"QUEUE_LEASE_TIMEOUT" envDefault:"10m"`
	MaxConcurrent int           `env:"QUEUE_MAX_CONCURRENT" envDefault:"4"`
	// WorkerID identifies this process in task leases; empty means hostname plus a random suffix.
	WorkerID string `env:"QUEUE_WORKER_ID"`
}
