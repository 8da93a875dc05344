package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "ledger:rate_limit"

// RateLimiter counts events per subject inside a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// KEYS[1] counter key, ARGV[1] window in ms. Returns {count, remaining ttl ms}.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter is a fixed-window limiter shared by every ledger-service replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// ConsumeRateLimit records one event for subject and returns the count in the
// current window. A nil limiter, nil client or non-positive limit disables limiting.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key, ok := r.key(scope, subject)
	if !ok {
		return 0, 0, nil
	}

	// windows are at least one second
	window = max(window, time.Second)

	res, err := fixedWindowScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	return int(res[0]), retryAfterSeconds(time.Duration(res[1])*time.Millisecond, window), nil
}

// retryAfterSeconds rounds the remaining window up to whole seconds, never below one.
func retryAfterSeconds(ttl, window time.Duration) int {
	if ttl <= 0 {
		ttl = window
	}
	secs := int((ttl + time.Second - 1) / time.Second)
	return max(secs, 1)
}

func (r *RedisRateLimiter) key(scope, subject string) (string, bool) {
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return "", false
	}
	return r.prefix + ":" + scope + ":" + subject, true
}
