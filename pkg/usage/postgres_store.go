package usage

import (
	"context"
	"errors"

	"github.com/dietbot/entitlement/pkg/pg"
	"github.com/dietbot/entitlement/pkg/plan"
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB = pg.Querier

// PostgresStore keeps counters in the usage_counters table.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// The WHERE on the conflict branch makes the increment conditional; when it
// fails no row is returned.
const reserveSQL = `
INSERT INTO usage_counters (user_id, action, day, count, updated_at)
VALUES ($1, $2, $3::text::date, 1, now())
ON CONFLICT (user_id, action, day) DO UPDATE
SET count = usage_counters.count + 1, updated_at = now()
WHERE usage_counters.count < $4
RETURNING count`

const countSQL = `
SELECT count FROM usage_counters
WHERE user_id = $1 AND action = $2 AND day = $3::text::date`

func (s *PostgresStore) Reserve(ctx context.Context, key Key, limit int64) (int64, bool, error) {
	if err := key.validate(); err != nil {
		return 0, false, err
	}

	var count int64
	err := s.db.QueryRow(ctx, reserveSQL, key.UserID, string(key.Action), key.Day, limit).Scan(&count)
	switch {
	case err == nil:
		return count, true, nil
	case pg.IsNotFoundError(err):
		count, err = s.Count(ctx, key)
		return count, false, err
	default:
		return 0, false, errors.Join(ErrStoreFailure, err)
	}
}

func (s *PostgresStore) Count(ctx context.Context, key Key) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, countSQL, key.UserID, string(key.Action), key.Day).Scan(&count)
	if pg.IsNotFoundError(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return count, nil
}

func (s *PostgresStore) ListBefore(ctx context.Context, beforeDay string) ([]Counter, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, action, to_char(day, 'YYYY-MM-DD'), count, updated_at
		FROM usage_counters
		WHERE day < $1::text::date
		ORDER BY day, user_id, action`, beforeDay)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []Counter
	for rows.Next() {
		var c Counter
		var action string
		if err := rows.Scan(&c.UserID, &action, &c.Day, &c.Count, &c.UpdatedAt); err != nil {
			return nil, errors.Join(ErrStoreFailure, err)
		}
		c.Action = plan.Action(action)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteBefore(ctx context.Context, beforeDay string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM usage_counters WHERE day < $1::text::date`, beforeDay)
	if err != nil {
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return tag.RowsAffected(), nil
}
