//go:build integration

package usage_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dietbot/entitlement/db/migrations"
	"github.com/dietbot/entitlement/pkg/mongo"
	"github.com/dietbot/entitlement/pkg/pg"
	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/redis"
	"github.com/dietbot/entitlement/pkg/usage"
)

// Run with: go test -tags integration ./pkg/usage/...
// Each backend is skipped unless its connection URL is set.

func requireEnv(t *testing.T, name string) string {
	t.Helper()
	v := os.Getenv(name)
	if v == "" {
		t.Skipf("%s not set", name)
	}
	return v
}

// exerciseStore checks the conditional increment against a live backend.
func exerciseStore(t *testing.T, store usage.Store) {
	t.Helper()
	ctx := context.Background()
	user := uuid.NewString()

	t.Run("boundary under concurrency", func(t *testing.T) {
		key := usage.Key{UserID: user, Action: plan.ActionDailyAnalyses, Day: "2001-01-01"}

		var (
			wg      sync.WaitGroup
			allowed atomic.Int32
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := store.Reserve(ctx, key, 1)
				assert.NoError(t, err)
				if ok {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), allowed.Load())
		n, err := store.Count(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("sequential cap", func(t *testing.T) {
		key := usage.Key{UserID: user, Action: plan.ActionVoiceCommands, Day: "2001-01-02"}
		for want := int64(1); want <= 3; want++ {
			n, ok, err := store.Reserve(ctx, key, 3)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, want, n)
		}
		n, ok, err := store.Reserve(ctx, key, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(3), n)
	})

	t.Run("list and delete before day", func(t *testing.T) {
		old := usage.Key{UserID: user, Action: plan.ActionTextAnalyses, Day: "2000-12-31"}
		_, _, err := store.Reserve(ctx, old, 5)
		require.NoError(t, err)

		counters, err := store.ListBefore(ctx, "2001-01-01")
		require.NoError(t, err)
		var found bool
		for _, c := range counters {
			if c.Key == old {
				found = true
				assert.Equal(t, int64(1), c.Count)
			}
		}
		assert.True(t, found)

		deleted, err := store.DeleteBefore(ctx, "2001-01-01")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, deleted, int64(1))

		n, err := store.Count(ctx, old)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestPostgresStore_Integration(t *testing.T) {
	url := requireEnv(t, "PG_CONN_URL")
	ctx := context.Background()

	cfg := pg.Config{ConnectionString: url, MaxOpenConns: 25, MaxIdleConns: 2, RetryAttempts: 1, MigrationsTable: "schema_migrations"}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pg.Migrate(ctx, pool, migrations.FS, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))))

	exerciseStore(t, usage.NewPostgresStore(pool))
}

func TestRedisStore_Integration(t *testing.T) {
	url := requireEnv(t, "REDIS_URL")

	client, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: url, RetryAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	exerciseStore(t, usage.NewRedisStore(client, usage.WithRedisPrefix("usage-it:"+uuid.NewString()+":")))
}

func TestMongoStore_Integration(t *testing.T) {
	url := requireEnv(t, "MONGODB_URL")
	ctx := context.Background()

	client, err := mongo.Connect(ctx, mongo.Config{ConnectionURL: url, MaxPoolSize: 50, RetryAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	coll := client.Database("entitlement_it").Collection("usage_" + uuid.NewString())
	t.Cleanup(func() { _ = coll.Drop(context.Background()) })

	store := usage.NewMongoStore(coll)
	require.NoError(t, store.EnsureIndexes(ctx))
	exerciseStore(t, store)
}
