package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the counter, arms the window on the first hit and
// returns the count with the remaining window in milliseconds.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares counters across instances. Window expiry follows the
// Redis server clock.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore builds a store writing keys under prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	redisKey := s.prefix + ":" + key
	vals, err := hitScript.Run(ctx, s.client, []string{redisKey}, ms).Int64Slice()
	if err != nil {
		return Entry{}, fmt.Errorf("ratelimit: redis hit: %w", err)
	}
	if len(vals) != 2 {
		return Entry{}, fmt.Errorf("ratelimit: redis hit: unexpected reply %v", vals)
	}
	ttl := time.Duration(vals[1]) * time.Millisecond
	return Entry{
		Key:         key,
		WindowStart: now.Add(ttl - window),
		Count:       vals[0],
	}, nil
}
