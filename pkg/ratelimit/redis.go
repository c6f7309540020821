package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript applies the fixed-window rule atomically.
// KEYS[1] = window key, ARGV[1] = limit, ARGV[2] = window in ms.
// Returns {allowed (0/1), count, ttl ms}.
var admitScript = redis.NewScript(`
local count = redis.call('GET', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if not count or ttl < 0 then
	redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
	return {1, 1, tonumber(ARGV[2])}
end
count = tonumber(count)
if count >= tonumber(ARGV[1]) then
	return {0, count, ttl}
end
count = redis.call('INCR', KEYS[1])
return {1, count, ttl}
`)

// RedisStore keeps windows in Redis so that every replica of the service
// shares one quota per client. Redis key expiry replaces the sweeper.
type RedisStore struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient, now: time.Now}
}

// Admit counts one request against key.
func (s *RedisStore) Admit(ctx context.Context, key string, p Policy) (Decision, error) {
	windowMs := p.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	res, err := admitScript.Run(ctx, s.redis, []string{redisKey(key)}, p.Limit, windowMs).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis admit: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis admit: unexpected reply length %d", len(res))
	}

	w := window{
		count:   int(res[1]),
		resetAt: s.now().Add(time.Duration(res[2]) * time.Millisecond),
	}
	return w.decision(p, res[0] == 1), nil
}

// Peek reports the quota for key without counting a request.
func (s *RedisStore) Peek(ctx context.Context, key string, p Policy) (Decision, error) {
	k := redisKey(key)

	pipe := s.redis.Pipeline()
	countCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Decision{}, fmt.Errorf("redis peek: %w", err)
	}

	now := s.now()
	count, err := countCmd.Int()
	if err == redis.Nil {
		return freshDecision(p, now), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("redis peek count: %w", err)
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		return freshDecision(p, now), nil
	}

	w := window{count: count, resetAt: now.Add(ttl)}
	return w.decision(p, count < p.Limit), nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close implements Store. The Redis client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}

func redisKey(key string) string {
	return RedisKeyPrefix + ":" + key
}
