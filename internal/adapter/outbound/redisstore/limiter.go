// Package redisstore implements the rate limiter and anti-replay gate over the
// shared Redis instance. All multi-step operations run as server-evaluated Lua
// scripts so atomicity holds across every gateway instance.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/casf-health/verifier/internal/domain/ratelimit"
)

// opTimeout is the per-command budget for rate-limit and replay operations.
const opTimeout = 200 * time.Millisecond

// incrExpireScript atomically increments the window counter and arms the TTL
// on the first increment. Returns the counter value after the increment.
var incrExpireScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// NewClient builds a Redis client from a redis:// URL with the gateway's
// bounded timeouts applied.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	opts.DialTimeout = opTimeout
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout
	return redis.NewClient(opts), nil
}

// Limiter is the Redis-backed atomic counter-with-TTL rate limiter.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter creates a Limiter over the given client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

var _ ratelimit.Limiter = (*Limiter)(nil)

// CheckAndConsume increments the counter for key and compares it to limit.
// Store failures surface as OutcomeUnavailable with the underlying error;
// the caller owns the fail-closed decision.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, window time.Duration, limit int64) (ratelimit.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := incrExpireScript.Run(ctx, l.rdb, []string{key}, int(window.Seconds())).Int64()
	if err != nil {
		return ratelimit.Result{Outcome: ratelimit.OutcomeUnavailable},
			fmt.Errorf("redisstore: rate limit check: %w", err)
	}
	if count <= limit {
		return ratelimit.Result{Outcome: ratelimit.OutcomeAllowed, Count: count}, nil
	}
	return ratelimit.Result{Outcome: ratelimit.OutcomeExceeded, Count: count}, nil
}

// Ping verifies connectivity for readiness checks.
func (l *Limiter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.rdb.Ping(ctx).Err()
}
