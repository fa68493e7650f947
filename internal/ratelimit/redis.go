package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript checks the counter before incrementing so a denied request
// leaves the count untouched. The window starts at the first hit. A counter
// that lost its expiry gets a fresh one, otherwise its client stays denied.
//
// KEYS[1] counter key
// ARGV[1] window in milliseconds
// ARGV[2] max requests
// returns {allowed (0|1), count, pttl}
var allowScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur > 0 and redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if cur >= tonumber(ARGV[2]) then
  return {0, cur, redis.call('PTTL', KEYS[1])}
end
cur = redis.call('INCR', KEYS[1])
if cur == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {1, cur, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter shares fixed-window counters across gateway instances.
type RedisLimiter struct {
	rdb       redis.Scripter
	cfg       Config
	keyPrefix string
	now       func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(rdb redis.Scripter, cfg Config, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "rl:relay:"
	}
	return &RedisLimiter{rdb: rdb, cfg: cfg.withDefaults(), keyPrefix: keyPrefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := allowScript.Run(ctx, l.rdb, []string{l.keyPrefix + key},
		l.cfg.Window.Milliseconds(), l.cfg.MaxRequests).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit script: unexpected reply %v", res)
	}

	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		// key without expiry should not happen; treat as a fresh window
		ttl = l.cfg.Window
	}

	return Decision{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
		Limit:   l.cfg.MaxRequests,
		ResetAt: l.now().Add(ttl),
	}, nil
}
