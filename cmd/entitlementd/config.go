package main

import (
	"fmt"

	"github.com/dietbot/entitlement/pkg/archive"
	"github.com/dietbot/entitlement/pkg/config"
	"github.com/dietbot/entitlement/pkg/httpapi"
	"github.com/dietbot/entitlement/pkg/httpserver"
	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/loginguard"
	"github.com/dietbot/entitlement/pkg/notify"
	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/queue"
	"github.com/dietbot/entitlement/pkg/referral"
	"github.com/dietbot/entitlement/pkg/subscription"
	"github.com/dietbot/entitlement/pkg/usage"
)

// Store backends for subscriptions, tasks and referrals.
const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

type backendConfig struct {
	Store        string `env:"STORE_BACKEND" envDefault:"postgres"`
	LoginBackend string `env:"LOGIN_BACKEND" envDefault:"redis"`
	ArchiveDir   string `env:"ARCHIVE_DIR"`
}

// settings is every env-driven section the daemon reads. Database connection
// settings are loaded separately, only when a backend needs them.
type settings struct {
	Backend      backendConfig
	Log          logger.Config
	HTTP         httpserver.Config
	API          httpapi.Config
	Plans        plan.Config
	Usage        usage.Config
	Queue        queue.Config
	Subscription subscription.Config
	Stripe       subscription.StripeConfig
	Paddle       subscription.PaddleConfig
	Referral     referral.Config
	LoginGuard   loginguard.Config
	Notify       notify.Config
	Archive      archive.S3Config
}

func loadSettings() (settings, error) {
	var s settings
	if err := config.Parse(&s); err != nil {
		return s, err
	}
	switch s.Backend.Store {
	case backendMemory, backendPostgres:
	default:
		return s, fmt.Errorf("unsupported STORE_BACKEND %q", s.Backend.Store)
	}
	switch s.Backend.LoginBackend {
	case backendMemory, backendRedis:
	default:
		return s, fmt.Errorf("unsupported LOGIN_BACKEND %q", s.Backend.LoginBackend)
	}
	return s, nil
}
