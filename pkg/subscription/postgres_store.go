package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dietbot/entitlement/pkg/pg"
	"github.com/dietbot/entitlement/pkg/plan"
)

// PostgresStore implements Store and GrantStore on the subscriptions,
// billing_events and entitlement_grants tables.
type PostgresStore struct {
	db pg.DB
}

func NewPostgresStore(db pg.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `user_id, plan_id, status, billing_cycle, provider, provider_sub_id,
	provider_customer_id, period_start, period_end, grace_ends_at, canceled_at, last_event_id,
	created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, userID string) (Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return Subscription{}, errors.Join(ErrStoreFailure, err)
	}
	return sub, nil
}

func (s *PostgresStore) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM billing_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	return exists, nil
}

// Save inserts the event log row first: its primary key rejects a redelivered
// event even when last_event_id has moved on. The subscription write is then
// conditional on the previous last_event_id.
func (s *PostgresStore) Save(ctx context.Context, next Subscription, prevEventID string, ev Event) error {
	err := pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO billing_events (event_id, user_id, event_type, provider, applied_at)
			VALUES ($1, $2, $3, $4, $5)`,
			ev.ID, next.UserID, string(ev.Type), ev.Provider, next.UpdatedAt)
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateEvent
		}
		if err != nil {
			return err
		}

		var (
			sql  string
			args []any
		)
		if prevEventID == "" {
			sql = `
			INSERT INTO subscriptions (` + subscriptionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (user_id) DO NOTHING`
			args = []any{
				next.UserID, next.PlanID, string(next.Status), string(next.BillingCycle), next.Provider,
				next.ProviderSubID, next.ProviderCustomerID, nullTime(next.PeriodStart), nullTime(next.PeriodEnd),
				next.GraceEndsAt, next.CanceledAt, next.LastEventID, next.CreatedAt, next.UpdatedAt,
			}
		} else {
			sql = `
			UPDATE subscriptions SET
				plan_id = $2, status = $3, billing_cycle = $4, provider = $5, provider_sub_id = $6,
				provider_customer_id = $7, period_start = $8, period_end = $9, grace_ends_at = $10,
				canceled_at = $11, last_event_id = $12, updated_at = $13
			WHERE user_id = $1 AND last_event_id = $14`
			args = []any{
				next.UserID, next.PlanID, string(next.Status), string(next.BillingCycle), next.Provider,
				next.ProviderSubID, next.ProviderCustomerID, nullTime(next.PeriodStart), nullTime(next.PeriodEnd),
				next.GraceEndsAt, next.CanceledAt, next.LastEventID, next.UpdatedAt, prevEventID,
			}
		}

		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateEvent), errors.Is(err, ErrConflict):
		return err
	case pg.IsRetryable(err):
		return ErrConflict
	default:
		return errors.Join(ErrStoreFailure, err)
	}
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.Query(ctx, `SELECT status, plan_id, count(*) FROM subscriptions GROUP BY status, plan_id`)
	if err != nil {
		return Stats{}, errors.Join(ErrStoreFailure, err)
	}
	defer rows.Close()

	st := Stats{ByStatus: make(map[Status]int), EntitledByPlan: make(map[string]int)}
	for rows.Next() {
		var (
			status, planID string
			n              int
		)
		if err := rows.Scan(&status, &planID, &n); err != nil {
			return Stats{}, errors.Join(ErrStoreFailure, err)
		}
		st.Total += n
		st.ByStatus[Status(status)] += n
		if Status(status).Entitled() {
			st.EntitledByPlan[planID] += n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, errors.Join(ErrStoreFailure, err)
	}
	return st, nil
}

const grantColumns = `id, user_id, plan_id, source, source_id, expires_at, revoked_at, created_at`

func (s *PostgresStore) CreateGrant(ctx context.Context, g Grant) (Grant, bool, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO entitlement_grants (`+grantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7)
		ON CONFLICT (source, source_id) DO NOTHING
		RETURNING `+grantColumns,
		g.ID, g.UserID, g.PlanID, g.Source, g.SourceID, g.ExpiresAt, g.CreatedAt)
	created, err := scanGrant(row)
	if err == nil {
		return created, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return Grant{}, false, errors.Join(ErrStoreFailure, err)
	}

	row = s.db.QueryRow(ctx, `SELECT `+grantColumns+` FROM entitlement_grants WHERE source = $1 AND source_id = $2`,
		g.Source, g.SourceID)
	existing, err := scanGrant(row)
	if err != nil {
		return Grant{}, false, errors.Join(ErrStoreFailure, err)
	}
	return existing, false, nil
}

func (s *PostgresStore) GetGrant(ctx context.Context, id uuid.UUID) (Grant, error) {
	g, err := scanGrant(s.db.QueryRow(ctx, `SELECT `+grantColumns+` FROM entitlement_grants WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return Grant{}, ErrGrantNotFound
	}
	if err != nil {
		return Grant{}, errors.Join(ErrStoreFailure, err)
	}
	return g, nil
}

func (s *PostgresStore) ActiveGrants(ctx context.Context, userID string, now time.Time) ([]Grant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+grantColumns+` FROM entitlement_grants
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY expires_at`, userID, now)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	grants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Grant, error) {
		return scanGrant(row)
	})
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return grants, nil
}

func (s *PostgresStore) RevokeGrant(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE entitlement_grants SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, now)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetGrant(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		sub                    Subscription
		status, cycle          string
		periodStart, periodEnd *time.Time
	)
	err := row.Scan(&sub.UserID, &sub.PlanID, &status, &cycle, &sub.Provider, &sub.ProviderSubID,
		&sub.ProviderCustomerID, &periodStart, &periodEnd, &sub.GraceEndsAt, &sub.CanceledAt,
		&sub.LastEventID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return Subscription{}, err
	}
	sub.Status = Status(status)
	sub.BillingCycle = plan.BillingCycle(cycle)
	if periodStart != nil {
		sub.PeriodStart = *periodStart
	}
	if periodEnd != nil {
		sub.PeriodEnd = *periodEnd
	}
	return sub, nil
}

func scanGrant(row pgx.Row) (Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.UserID, &g.PlanID, &g.Source, &g.SourceID, &g.ExpiresAt, &g.RevokedAt, &g.CreatedAt)
	return g, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
