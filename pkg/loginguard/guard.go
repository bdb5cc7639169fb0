package loginguard

import (
	"context"
	"log/slog"
	"time"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/metrics"
)

type Guard struct {
	store Store
	cfg   Config
	log   *slog.Logger
}

type Option func(*Guard)

func WithConfig(cfg Config) Option {
	return func(g *Guard) {
		if cfg.MaxAttempts > 0 {
			g.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.Window > 0 {
			g.cfg.Window = cfg.Window
		}
		if cfg.KeyPrefix != "" {
			g.cfg.KeyPrefix = cfg.KeyPrefix
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func New(store Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	g := &Guard{
		store: store,
		cfg:   Config{MaxAttempts: 5, Window: 15 * time.Minute, KeyPrefix: "login:"},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("loginguard"))
	return g, nil
}

// Check returns a *ThrottledError when key has reached the failure limit.
// Store errors are logged and let the attempt through.
func (g *Guard) Check(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	n, ttl, err := g.store.Get(ctx, g.cfg.KeyPrefix+key)
	if err != nil {
		g.log.WarnContext(ctx, "login throttle unavailable", logger.Error(err))
		return nil
	}
	if n >= int64(g.cfg.MaxAttempts) {
		metrics.LoginThrottled.Inc()
		return &ThrottledError{RetryAfter: ttl}
	}
	return nil
}

// Record counts a failure or clears key after a success.
func (g *Guard) Record(ctx context.Context, key string, success bool) error {
	if key == "" {
		return ErrEmptyKey
	}
	if success {
		return g.store.Delete(ctx, g.cfg.KeyPrefix+key)
	}
	n, _, err := g.store.Increment(ctx, g.cfg.KeyPrefix+key, g.cfg.Window)
	if err != nil {
		return err
	}
	if n == int64(g.cfg.MaxAttempts) {
		g.log.WarnContext(ctx, "login attempts exhausted", slog.String("key", key), logger.Duration(g.cfg.Window))
	}
	return nil
}
