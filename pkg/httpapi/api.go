package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"github.com/dietbot/entitlement/pkg/entitlement"
	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/loginguard"
	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/queue"
	"github.com/dietbot/entitlement/pkg/referral"
	"github.com/dietbot/entitlement/pkg/requestid"
	"github.com/dietbot/entitlement/pkg/subscription"
)

// Subscriptions is the subscription machine surface; *subscription.Machine implements it.
type Subscriptions interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (subscription.Result, error)
	Get(ctx context.Context, userID string) (subscription.Subscription, error)
	Cancel(ctx context.Context, userID string) (subscription.Subscription, error)
	ActivePlan(ctx context.Context, userID string) (string, error)
	Grants(ctx context.Context, userID string) ([]subscription.Grant, error)
	Stats(ctx context.Context) (subscription.Stats, error)
}

// Entitlements is implemented by *entitlement.Guard.
type Entitlements interface {
	CheckAndReserve(ctx context.Context, userID string, action plan.Action, now time.Time) (entitlement.Decision, error)
	Usage(ctx context.Context, userID string, now time.Time) (entitlement.Snapshot, error)
}

// Referrals is implemented by *referral.Ledger.
type Referrals interface {
	GenerateCode(ctx context.Context, userID string) (referral.Code, error)
	ActiveCode(ctx context.Context, userID string) (referral.Code, error)
	Validate(ctx context.Context, code string) (referral.Validation, error)
	RedeemCode(ctx context.Context, code, newUserID string, now time.Time) (referral.GrantResult, error)
	Stats(ctx context.Context, userID string) (referral.Stats, error)
	Leaderboard(ctx context.Context, limit int) ([]referral.LeaderboardEntry, error)
	ShareLink(ctx context.Context, userID string) (string, error)
	ShareQR(ctx context.Context, userID string, size int) ([]byte, error)
}

// Tasks is implemented by *queue.Queue.
type Tasks interface {
	ListFailed(ctx context.Context, limit int) ([]queue.Task, error)
}

// Deps are the collaborators served by the API. All are required except
// Tasks and HealthChecks.
type Deps struct {
	Catalog       *plan.Catalog
	Subscriptions Subscriptions
	Entitlements  Entitlements
	Referrals     Referrals
	Tasks         Tasks
	LoginGuard    *loginguard.Guard
	HealthChecks  []func(context.Context) error
}

type API struct {
	deps   Deps
	cfg    Config
	locale language.Tag
	log    *slog.Logger
	now    func() time.Time
}

type Option func(*API)

func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

func New(deps Deps, cfg Config, opts ...Option) *API {
	if deps.Catalog == nil || deps.Subscriptions == nil || deps.Entitlements == nil ||
		deps.Referrals == nil || deps.LoginGuard == nil {
		panic("httpapi: catalog, subscriptions, entitlements, referrals and login guard are required")
	}
	if cfg.MaxWebhookBytes <= 0 {
		cfg.MaxWebhookBytes = 1 << 20
	}
	tag, err := language.Parse(cfg.PriceLocale)
	if err != nil {
		tag = language.BrazilianPortuguese
	}
	a := &API{deps: deps, cfg: cfg, locale: tag, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(logger.Component("httpapi"))
	return a
}

// Router builds the chi router.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/{provider}", a.webhook)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(loginguard.Middleware(a.deps.LoginGuard, loginguard.ClientIP, a.authorized))

		v1.Get("/plans", a.listPlans)
		v1.Get("/subscriptions/stats", a.subscriptionStats)
		v1.Get("/tasks/failed", a.failedTasks)

		v1.Route("/users/{userID}", func(u chi.Router) {
			u.Get("/subscription", a.getSubscription)
			u.Post("/subscription/cancel", a.cancelSubscription)
			u.Get("/usage", a.getUsage)
			u.Post("/actions/{action}", a.reserveAction)
			u.Post("/commands", a.handleCommand)

			u.Post("/referral-code", a.generateCode)
			u.Get("/referral-code", a.activeCode)
			u.Get("/referral-code/qr", a.codeQR)
			u.Get("/referral-stats", a.referralStats)
		})

		v1.Post("/referrals/redeem", a.redeem)
		v1.Get("/referrals/leaderboard", a.leaderboard)
		v1.Get("/referrals/codes/{code}", a.validateCode)
	})

	return r
}

func (a *API) authorized(r *http.Request) bool {
	if a.cfg.OperatorToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.OperatorToken)) == 1
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for _, check := range a.deps.HealthChecks {
		if err := check(ctx); err != nil {
			a.log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
