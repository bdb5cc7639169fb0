package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/metrics"
	"github.com/dietbot/entitlement/pkg/subscription"
)

// GrantSource is the source recorded on temporary plan grants issued for
// referrals.
const GrantSource = "referral"

const maxCodeAttempts = 5

// Granter issues temporary plan upgrades; *subscription.Machine implements it.
type Granter interface {
	GrantTemporary(ctx context.Context, userID, planID, source, sourceID string, expiresAt time.Time) (subscription.Grant, error)
}

// Messenger delivers a text message to a user.
type Messenger interface {
	Send(ctx context.Context, userID, message string) error
}

// Ledger issues referral codes and redeems them exactly once per pair.
type Ledger struct {
	store     Store
	rewards   RewardLedger
	granter   Granter
	messenger Messenger
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithConfig overrides the defaults with the non-zero fields of cfg.
func WithConfig(cfg Config) Option {
	return func(l *Ledger) {
		if cfg.GrantPlan != "" {
			l.cfg.GrantPlan = cfg.GrantPlan
		}
		if cfg.GrantDuration > 0 {
			l.cfg.GrantDuration = cfg.GrantDuration
		}
		if cfg.ReferrerPoints > 0 {
			l.cfg.ReferrerPoints = cfg.ReferrerPoints
		}
		if cfg.ReferrerCreditCents > 0 {
			l.cfg.ReferrerCreditCents = cfg.ReferrerCreditCents
		}
		if cfg.RefereePoints > 0 {
			l.cfg.RefereePoints = cfg.RefereePoints
		}
		if cfg.RefereeCreditCents > 0 {
			l.cfg.RefereeCreditCents = cfg.RefereeCreditCents
		}
		if cfg.ShareURL != "" {
			l.cfg.ShareURL = cfg.ShareURL
		}
		if cfg.QRSize > 0 {
			l.cfg.QRSize = cfg.QRSize
		}
	}
}

// WithMessenger enables reward notifications to both users.
func WithMessenger(m Messenger) Option {
	return func(l *Ledger) { l.messenger = m }
}

// WithLogger sets the ledger logger. Nil is ignored.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock overrides the time source used for code creation.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger returns a ledger with the default Config and opts applied.
func NewLedger(store Store, rewards RewardLedger, granter Granter, opts ...Option) (*Ledger, error) {
	if store == nil || rewards == nil || granter == nil {
		return nil, errors.New("referral: store, reward ledger and granter are required")
	}
	l := &Ledger{
		store:   store,
		rewards: rewards,
		granter: granter,
		cfg:     DefaultConfig(),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(logger.Component("referral"))
	return l, nil
}

// GenerateCode issues a new active code for userID and deactivates the
// previous one.
func (l *Ledger) GenerateCode(ctx context.Context, userID string) (Code, error) {
	if userID == "" {
		return Code{}, ErrMissingUserID
	}
	now := l.now()
	for range maxCodeAttempts {
		raw, err := newCode(userID)
		if err != nil {
			return Code{}, errors.Join(ErrCodeGeneration, err)
		}
		code := Code{Code: raw, UserID: userID, Active: true, CreatedAt: now}
		err = l.store.ReplaceCode(ctx, code, now)
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		if err != nil {
			return Code{}, err
		}
		l.log.InfoContext(ctx, "referral code issued", logger.UserID(userID), slog.String("code", raw))
		return code, nil
	}
	return Code{}, ErrCodeGeneration
}

// ActiveCode returns userID's active code or ErrCodeNotFound.
func (l *Ledger) ActiveCode(ctx context.Context, userID string) (Code, error) {
	return l.store.ActiveCode(ctx, userID)
}

func (l *Ledger) Validate(ctx context.Context, code string) (Validation, error) {
	c, err := l.store.GetCode(ctx, NormalizeCode(code))
	if errors.Is(err, ErrCodeNotFound) {
		return Validation{Reason: ReasonUnknownCode}, nil
	}
	if err != nil {
		return Validation{}, err
	}
	if !c.Active {
		return Validation{Reason: ReasonInactiveCode}, nil
	}
	return Validation{Valid: true}, nil
}

var grantNamespace = uuid.MustParse("5b0e8f3a-6c1d-4e27-9a44-2f8d7c3b1e90")

// RedeemCode credits the referral of newUserID by the owner of code.
func (l *Ledger) RedeemCode(ctx context.Context, code, newUserID string, now time.Time) (GrantResult, error) {
	res, err := l.redeem(ctx, code, newUserID, now)
	metrics.ReferralRedemptions.WithLabelValues(redemptionResult(err)).Inc()
	return res, err
}

func (l *Ledger) redeem(ctx context.Context, code, newUserID string, now time.Time) (GrantResult, error) {
	if newUserID == "" {
		return GrantResult{}, ErrMissingUserID
	}
	c, err := l.store.GetCode(ctx, NormalizeCode(code))
	if errors.Is(err, ErrCodeNotFound) {
		return GrantResult{}, ErrInvalidReferralCode
	}
	if err != nil {
		return GrantResult{}, err
	}
	if !c.Active {
		return GrantResult{}, ErrInvalidReferralCode
	}
	if c.UserID == newUserID {
		return GrantResult{}, ErrSelfReferral
	}

	log := l.log.With(slog.String("referrer_id", c.UserID), slog.String("referee_id", newUserID))

	g, created, err := l.store.CreateGrant(ctx, Grant{
		ID:         uuid.NewSHA1(grantNamespace, []byte(c.UserID+":"+newUserID)),
		ReferrerID: c.UserID,
		RefereeID:  newUserID,
		Code:       c.Code,
		Status:     GrantPending,
		CreatedAt:  now,
	})
	if err != nil {
		return GrantResult{}, err
	}
	if g.Status == GrantCompleted {
		return GrantResult{}, ErrDuplicateReferralPair
	}
	if !created {
		log.InfoContext(ctx, "resuming pending referral grant", slog.String("grant_id", g.ID.String()))
	}

	referrerReward, refereeReward := l.cfg.referrerReward(), l.cfg.refereeReward()
	if _, err := l.rewards.Credit(ctx, g.ReferrerID, referrerReward, g.ID.String()+":referrer"); err != nil {
		return GrantResult{}, fmt.Errorf("credit referrer: %w", err)
	}
	if _, err := l.rewards.Credit(ctx, g.RefereeID, refereeReward, g.ID.String()+":referee"); err != nil {
		return GrantResult{}, fmt.Errorf("credit referee: %w", err)
	}

	until := g.CreatedAt.Add(l.cfg.GrantDuration)
	pgrant, err := l.granter.GrantTemporary(ctx, g.RefereeID, l.cfg.GrantPlan, GrantSource, g.ID.String(), until)
	if err != nil {
		return GrantResult{}, fmt.Errorf("grant referee plan: %w", err)
	}

	completed, err := l.store.CompleteGrant(ctx, g.ID, now)
	if err != nil {
		return GrantResult{}, err
	}
	if !completed {
		// Another redeem of the same pair finished first.
		return GrantResult{}, ErrDuplicateReferralPair
	}
	g.Status = GrantCompleted
	completedAt := now
	g.CompletedAt = &completedAt

	log.InfoContext(ctx, "referral redeemed", slog.String("grant_id", g.ID.String()), logger.PlanID(pgrant.PlanID))
	l.notify(ctx, g.ReferrerID, fmt.Sprintf(
		"Sua indicação foi aceita! Você ganhou %d pontos e R$ %s em crédito.",
		referrerReward.Points, cents(referrerReward.CreditCents)))
	l.notify(ctx, g.RefereeID, fmt.Sprintf(
		"Você foi indicado por um amigo e ganhou %d pontos e o plano %s até %s.",
		refereeReward.Points, pgrant.PlanID, pgrant.ExpiresAt.Format("02/01/2006")))

	return GrantResult{
		Grant:          g,
		ReferrerReward: referrerReward,
		RefereeReward:  refereeReward,
		RefereePlan:    pgrant.PlanID,
		RefereeUntil:   pgrant.ExpiresAt,
	}, nil
}

// notify is best effort: the referral is already recorded.
func (l *Ledger) notify(ctx context.Context, userID, msg string) {
	if l.messenger == nil {
		return
	}
	if err := l.messenger.Send(ctx, userID, msg); err != nil {
		l.log.WarnContext(ctx, "referral notification failed", logger.UserID(userID), logger.Error(err))
	}
}

func redemptionResult(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrInvalidReferralCode):
		return "invalid_code"
	case errors.Is(err, ErrSelfReferral):
		return "self_referral"
	case errors.Is(err, ErrDuplicateReferralPair):
		return "duplicate"
	default:
		return "error"
	}
}

func cents(v int64) string {
	return fmt.Sprintf("%d,%02d", v/100, v%100)
}

// Stats summarizes userID's referrals and reward balance.
func (l *Ledger) Stats(ctx context.Context, userID string) (Stats, error) {
	total, completed, err := l.store.ReferrerCounts(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	bal, err := l.rewards.Balance(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		TotalReferrals:     total,
		CompletedReferrals: completed,
		PendingReferrals:   total - completed,
		Points:             bal.Points,
		CreditCents:        bal.CreditCents,
	}
	c, err := l.store.ActiveCode(ctx, userID)
	switch {
	case err == nil:
		st.Code = c.Code
	case !errors.Is(err, ErrCodeNotFound):
		return Stats{}, err
	}
	return st, nil
}

// Leaderboard returns the top referrers. A non-positive limit means 10.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := l.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].EarningsCents = int64(entries[i].Referrals) * l.cfg.ReferrerCreditCents
	}
	return entries, nil
}
