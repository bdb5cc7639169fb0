package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dietbot/entitlement/pkg/archive"
	"github.com/dietbot/entitlement/pkg/config"
	"github.com/dietbot/entitlement/pkg/entitlement"
	"github.com/dietbot/entitlement/pkg/httpapi"
	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/loginguard"
	"github.com/dietbot/entitlement/pkg/mongo"
	"github.com/dietbot/entitlement/pkg/notify"
	"github.com/dietbot/entitlement/pkg/pg"
	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/queue"
	"github.com/dietbot/entitlement/pkg/redis"
	"github.com/dietbot/entitlement/pkg/referral"
	"github.com/dietbot/entitlement/pkg/requestid"
	"github.com/dietbot/entitlement/pkg/subscription"
	"github.com/dietbot/entitlement/pkg/usage"
)

// healthTimeout bounds each backend ping made by /health.
const healthTimeout = 2 * time.Second

// app holds the wired components shared by the subcommands.
type app struct {
	cfg settings
	log *slog.Logger

	catalog   *plan.Catalog
	queue     *queue.Queue
	sweeper   *queue.Sweeper
	machine   *subscription.Machine
	guard     *entitlement.Guard
	usage     usage.Store
	loc       *time.Location
	pruner    *usage.Pruner
	referrals *referral.Ledger
	login     *loginguard.Guard

	health  []func(context.Context) error
	closers []func(context.Context) error

	pool  *pgxpool.Pool
	redis *goredis.Client
	mongo *mongodriver.Client
}

func newLogger(cfg logger.Config) *slog.Logger {
	log := logger.NewFromConfig(cfg, logger.WithContextExtractors(requestid.LoggerExtractor()))
	logger.SetAsDefault(log)
	return log
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: newLogger(cfg.Log)}
	if err := a.build(ctx); err != nil {
		a.close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	var src plan.Source
	if a.cfg.Plans.File != "" {
		src = plan.NewYAMLSource(a.cfg.Plans.File)
	} else {
		src = plan.NewInMemSource(plan.DefaultPlans()...)
	}
	catalog, err := plan.NewCatalog(ctx, src)
	if err != nil {
		return err
	}
	a.catalog = catalog

	var (
		taskStorage queue.Storage
		subStore    subscription.Store
		grantStore  subscription.GrantStore
		refStore    referral.Store
		rewards     referral.RewardLedger
	)
	switch a.cfg.Backend.Store {
	case backendPostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return err
		}
		taskStorage = queue.NewPostgresStorage(pool)
		subs := subscription.NewPostgresStore(pool)
		subStore, grantStore = subs, subs
		refStore = referral.NewPostgresStore(pool)
		rewards = referral.NewPostgresRewardLedger(pool)
	default:
		a.log.WarnContext(ctx, "using in-memory stores; state is lost on restart")
		taskStorage = queue.NewMemoryStorage()
		subs := subscription.NewMemoryStore()
		subStore, grantStore = subs, subs
		refStore = referral.NewMemoryStore()
		rewards = referral.NewMemoryRewardLedger()
	}

	if a.queue, err = queue.New(taskStorage,
		queue.WithDefaultMaxAttempts(a.cfg.Queue.MaxAttempts),
		queue.WithLogger(a.log)); err != nil {
		return err
	}

	messenger := notify.NewLogMessenger(a.log)
	machineOpts := []subscription.Option{
		subscription.WithConfig(a.cfg.Subscription),
		subscription.WithScheduler(a.queue),
		subscription.WithMessenger(messenger),
		subscription.WithLogger(a.log),
	}
	if a.cfg.Stripe.WebhookSecret != "" {
		p, err := subscription.NewStripeProvider(a.cfg.Stripe)
		if err != nil {
			return err
		}
		machineOpts = append(machineOpts, subscription.WithProvider(p))
	}
	if a.cfg.Paddle.WebhookSecret != "" {
		p, err := subscription.NewPaddleProvider(a.cfg.Paddle)
		if err != nil {
			return err
		}
		machineOpts = append(machineOpts, subscription.WithProvider(p))
	}
	if a.machine, err = subscription.NewMachine(catalog, subStore, grantStore, machineOpts...); err != nil {
		return err
	}

	var operator notify.Operator = notify.NewLogOperator(a.log)
	if a.cfg.Notify.Enabled() {
		if operator, err = notify.NewPostmarkOperator(a.cfg.Notify); err != nil {
			return err
		}
	}
	if a.sweeper, err = queue.NewSweeper(taskStorage,
		queue.WithConfig(a.cfg.Queue),
		queue.WithNotifier(operator),
		queue.WithSweeperLogger(a.log)); err != nil {
		return err
	}
	if err := a.sweeper.Register(a.machine.TaskHandlers()...); err != nil {
		return err
	}

	if err := a.buildUsage(ctx); err != nil {
		return err
	}
	a.guard = entitlement.NewGuard(catalog, a.machine,
		usage.NewLedger(a.usage, usage.WithLocation(a.loc)),
		entitlement.WithLogger(a.log))

	if a.referrals, err = referral.NewLedger(refStore, rewards, a.machine,
		referral.WithConfig(a.cfg.Referral),
		referral.WithMessenger(messenger),
		referral.WithLogger(a.log)); err != nil {
		return err
	}

	var attempts loginguard.Store = loginguard.NewMemoryStore()
	if a.cfg.Backend.LoginBackend == backendRedis {
		client, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		attempts = loginguard.NewRedisStore(client)
	}
	a.login, err = loginguard.New(attempts, loginguard.WithConfig(a.cfg.LoginGuard), loginguard.WithLogger(a.log))
	return err
}

func (a *app) buildUsage(ctx context.Context) error {
	loc, err := a.cfg.Usage.Location()
	if err != nil {
		return err
	}
	a.loc = loc

	switch a.cfg.Usage.Backend {
	case usage.BackendPostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return err
		}
		a.usage = usage.NewPostgresStore(pool)
	case usage.BackendRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		a.usage = usage.NewRedisStore(client,
			usage.WithRedisPrefix(a.cfg.Usage.RedisPrefix),
			usage.WithRedisRetention(a.cfg.Usage.Retention))
	case usage.BackendMongo:
		client, err := a.mongoClient(ctx)
		if err != nil {
			return err
		}
		var mcfg mongo.Config
		if err := config.Load(&mcfg); err != nil {
			return err
		}
		store := usage.NewMongoStore(client.Database(mcfg.Database).Collection(a.cfg.Usage.MongoCollection))
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		a.usage = store
	case usage.BackendMemory:
		a.usage = usage.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported USAGE_BACKEND %q", a.cfg.Usage.Backend)
	}

	opts := []usage.PrunerOption{
		usage.WithRetention(a.cfg.Usage.Retention),
		usage.WithPruneInterval(a.cfg.Usage.PruneInterval),
		usage.WithPrunerLocation(loc),
		usage.WithPrunerLogger(a.log),
	}
	switch {
	case a.cfg.Archive.Enabled():
		arch, err := archive.NewS3Archiver(ctx, a.cfg.Archive)
		if err != nil {
			return err
		}
		opts = append(opts, usage.WithArchiver(arch))
	case a.cfg.Backend.ArchiveDir != "":
		arch, err := archive.NewDirArchiver(a.cfg.Backend.ArchiveDir)
		if err != nil {
			return err
		}
		opts = append(opts, usage.WithArchiver(arch))
	}
	a.pruner = usage.NewPruner(a.usage, opts...)
	return nil
}

// postgres connects once; later callers share the pool.
func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.health = append(a.health, pg.Healthcheck(pool, healthTimeout))
	a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
	return pool, nil
}

func (a *app) redisClient(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.health = append(a.health, redis.Healthcheck(client, healthTimeout))
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return client, nil
}

func (a *app) mongoClient(ctx context.Context) (*mongodriver.Client, error) {
	if a.mongo != nil {
		return a.mongo, nil
	}
	var cfg mongo.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.mongo = client
	a.health = append(a.health, mongo.Healthcheck(client, healthTimeout))
	a.closers = append(a.closers, client.Disconnect)
	return client, nil
}

func (a *app) api() *httpapi.API {
	return httpapi.New(httpapi.Deps{
		Catalog:       a.catalog,
		Subscriptions: a.machine,
		Entitlements:  a.guard,
		Referrals:     a.referrals,
		Tasks:         a.queue,
		LoginGuard:    a.login,
		HealthChecks:  a.health,
	}, a.cfg.API, httpapi.WithLogger(a.log))
}

// close releases connections in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.ErrorContext(ctx, "shutdown cleanup failed", logger.Error(err))
	}
}
