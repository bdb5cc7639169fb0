package referral

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dietbot/entitlement/pkg/pg"
)

// PostgresStore implements Store on referral_codes and referral_grants. The
// partial unique index on active codes keeps one active code per user.
type PostgresStore struct {
	db pg.DB
}

func NewPostgresStore(db pg.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ReplaceCode(ctx context.Context, code Code, now time.Time) error {
	err := pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE referral_codes SET active = FALSE, deactivated_at = $2
			WHERE user_id = $1 AND active`, code.UserID, now); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO referral_codes (code, user_id, active, created_at)
			VALUES ($1, $2, TRUE, $3)`, code.Code, code.UserID, code.CreatedAt)
		return err
	})
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err), pg.IsRetryable(err):
		return ErrCodeTaken
	default:
		return errors.Join(ErrStoreFailure, err)
	}
}

const codeColumns = `code, user_id, active, created_at, deactivated_at`

func scanCode(row pgx.Row) (Code, error) {
	var c Code
	err := row.Scan(&c.Code, &c.UserID, &c.Active, &c.CreatedAt, &c.DeactivatedAt)
	return c, err
}

func (s *PostgresStore) GetCode(ctx context.Context, code string) (Code, error) {
	c, err := scanCode(s.db.QueryRow(ctx, `SELECT `+codeColumns+` FROM referral_codes WHERE code = $1`, code))
	if pg.IsNotFoundError(err) {
		return Code{}, ErrCodeNotFound
	}
	if err != nil {
		return Code{}, errors.Join(ErrStoreFailure, err)
	}
	return c, nil
}

func (s *PostgresStore) ActiveCode(ctx context.Context, userID string) (Code, error) {
	c, err := scanCode(s.db.QueryRow(ctx,
		`SELECT `+codeColumns+` FROM referral_codes WHERE user_id = $1 AND active`, userID))
	if pg.IsNotFoundError(err) {
		return Code{}, ErrCodeNotFound
	}
	if err != nil {
		return Code{}, errors.Join(ErrStoreFailure, err)
	}
	return c, nil
}

const grantColumns = `id, referrer_id, referee_id, code, status, created_at, completed_at`

func scanGrant(row pgx.Row) (Grant, error) {
	var (
		g      Grant
		status string
	)
	err := row.Scan(&g.ID, &g.ReferrerID, &g.RefereeID, &g.Code, &status, &g.CreatedAt, &g.CompletedAt)
	g.Status = GrantStatus(status)
	return g, err
}

func (s *PostgresStore) CreateGrant(ctx context.Context, g Grant) (Grant, bool, error) {
	created, err := scanGrant(s.db.QueryRow(ctx, `
		INSERT INTO referral_grants (id, referrer_id, referee_id, code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (referrer_id, referee_id) DO NOTHING
		RETURNING `+grantColumns,
		g.ID, g.ReferrerID, g.RefereeID, g.Code, string(g.Status), g.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return Grant{}, false, errors.Join(ErrStoreFailure, err)
	}

	existing, err := scanGrant(s.db.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM referral_grants WHERE referrer_id = $1 AND referee_id = $2`,
		g.ReferrerID, g.RefereeID))
	if err != nil {
		return Grant{}, false, errors.Join(ErrStoreFailure, err)
	}
	return existing, false, nil
}

func (s *PostgresStore) CompleteGrant(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE referral_grants SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4`, id, string(GrantCompleted), now, string(GrantPending))
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM referral_grants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	if !exists {
		return false, ErrGrantNotFound
	}
	return false, nil
}

func (s *PostgresStore) ReferrerCounts(ctx context.Context, referrerID string) (int, int, error) {
	var total, completed int
	err := s.db.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE status = 'completed')
		FROM referral_grants WHERE referrer_id = $1`, referrerID).Scan(&total, &completed)
	if err != nil {
		return 0, 0, errors.Join(ErrStoreFailure, err)
	}
	return total, completed, nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT referrer_id, count(*)::int AS referrals, min(created_at) AS first_referral_at
		FROM referral_grants
		WHERE status = 'completed'
		GROUP BY referrer_id
		ORDER BY referrals DESC, first_referral_at ASC, referrer_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LeaderboardEntry, error) {
		var e LeaderboardEntry
		err := row.Scan(&e.ReferrerID, &e.Referrals, &e.FirstReferralAt)
		return e, err
	})
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return out, nil
}

// PostgresRewardLedger implements RewardLedger on referral_rewards. The
// idempotency key is the primary key.
type PostgresRewardLedger struct {
	db pg.Querier
}

func NewPostgresRewardLedger(db pg.Querier) *PostgresRewardLedger {
	return &PostgresRewardLedger{db: db}
}

func (l *PostgresRewardLedger) Credit(ctx context.Context, userID string, r Reward, key string) (bool, error) {
	tag, err := l.db.Exec(ctx, `
		INSERT INTO referral_rewards (idempotency_key, user_id, kind, points, credit_cents)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		key, userID, string(r.Kind), r.Points, r.CreditCents)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresRewardLedger) Balance(ctx context.Context, userID string) (Balance, error) {
	var b Balance
	err := l.db.QueryRow(ctx, `
		SELECT COALESCE(sum(points), 0), COALESCE(sum(credit_cents), 0)
		FROM referral_rewards WHERE user_id = $1`, userID).Scan(&b.Points, &b.CreditCents)
	if err != nil {
		return Balance{}, errors.Join(ErrStoreFailure, err)
	}
	return b, nil
}
