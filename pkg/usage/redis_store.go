package usage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dietbot/entitlement/pkg/plan"
)

// reserveScript returns {count, incremented}. The TTL is set on the first
// increment only, so a counter lives for the retention window after its day began.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {current, 0}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {current, 1}
`)

// RedisStore keeps each counter in its own key: <prefix><day>:<action>:<user>.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisRetention sets the key TTL.
func WithRedisRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "usage:", retention: 90 * 24 * time.Hour}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + k.Day + ":" + string(k.Action) + ":" + k.UserID
}

// parseKey is the inverse of key; user ids may contain ':'.
func (s *RedisStore) parseKey(raw string) (Key, bool) {
	rest, ok := strings.CutPrefix(raw, s.prefix)
	if !ok {
		return Key{}, false
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return Key{}, false
	}
	return Key{Day: parts[0], Action: plan.Action(parts[1]), UserID: parts[2]}, true
}

func (s *RedisStore) Reserve(ctx context.Context, key Key, limit int64) (int64, bool, error) {
	if err := key.validate(); err != nil {
		return 0, false, err
	}
	res, err := reserveScript.Run(ctx, s.client, []string{s.key(key)}, limit, s.retention.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, errors.Join(ErrStoreFailure, err)
	}
	if len(res) != 2 {
		return 0, false, errors.Join(ErrStoreFailure, errors.New("unexpected script reply"))
	}
	return res[0], res[1] == 1, nil
}

func (s *RedisStore) Count(ctx context.Context, key Key) (int64, error) {
	n, err := s.client.Get(ctx, s.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return n, nil
}

func (s *RedisStore) scan(ctx context.Context, beforeDay string, fn func(raw string, k Key) error) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()
		k, ok := s.parseKey(raw)
		if !ok || k.Day >= beforeDay {
			continue
		}
		if err := fn(raw, k); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

// ListBefore scans the keyspace; counters already expired by TTL are not returned.
func (s *RedisStore) ListBefore(ctx context.Context, beforeDay string) ([]Counter, error) {
	var out []Counter
	err := s.scan(ctx, beforeDay, func(raw string, k Key) error {
		v, err := s.client.Get(ctx, raw).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return errors.Join(ErrStoreFailure, err)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Join(ErrStoreFailure, err)
		}
		out = append(out, Counter{Key: k, Count: n})
		return nil
	})
	return out, err
}

func (s *RedisStore) DeleteBefore(ctx context.Context, beforeDay string) (int64, error) {
	var n int64
	err := s.scan(ctx, beforeDay, func(raw string, _ Key) error {
		deleted, err := s.client.Del(ctx, raw).Result()
		if err != nil {
			return errors.Join(ErrStoreFailure, err)
		}
		n += deleted
		return nil
	})
	return n, err
}
