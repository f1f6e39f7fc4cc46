package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/casf-health/verifier/internal/domain/ratelimit"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLimiter_AllowThenExceed(t *testing.T) {
	t.Parallel()

	_, rdb := newTestClient(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	res, err := limiter.CheckAndConsume(ctx, "sms:p1", time.Hour, 1)
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}
	if res.Outcome != ratelimit.OutcomeAllowed || res.Count != 1 {
		t.Errorf("first call = %+v, want allowed count=1", res)
	}

	res, err = limiter.CheckAndConsume(ctx, "sms:p1", time.Hour, 1)
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}
	if res.Outcome != ratelimit.OutcomeExceeded || res.Count != 2 {
		t.Errorf("second call = %+v, want exceeded count=2", res)
	}
}

func TestLimiter_IndependentKeys(t *testing.T) {
	t.Parallel()

	_, rdb := newTestClient(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	if res, _ := limiter.CheckAndConsume(ctx, "sms:p1", time.Hour, 1); res.Outcome != ratelimit.OutcomeAllowed {
		t.Fatalf("p1 first call = %+v", res)
	}
	if res, _ := limiter.CheckAndConsume(ctx, "sms:p2", time.Hour, 1); res.Outcome != ratelimit.OutcomeAllowed {
		t.Errorf("p2 must have its own window: %+v", res)
	}
}

func TestLimiter_WindowExpiry(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestClient(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	_, _ = limiter.CheckAndConsume(ctx, "sms:p1", time.Hour, 1)
	if res, _ := limiter.CheckAndConsume(ctx, "sms:p1", time.Hour, 1); res.Outcome != ratelimit.OutcomeExceeded {
		t.Fatalf("expected exceeded before window expiry, got %+v", res)
	}

	mr.FastForward(time.Hour + time.Second)

	res, err := limiter.CheckAndConsume(ctx, "sms:p1", time.Hour, 1)
	if err != nil {
		t.Fatalf("CheckAndConsume after expiry: %v", err)
	}
	if res.Outcome != ratelimit.OutcomeAllowed || res.Count != 1 {
		t.Errorf("after expiry = %+v, want fresh window", res)
	}
}

func TestLimiter_UnavailableStore(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestClient(t)
	limiter := NewLimiter(rdb)
	mr.Close()

	res, err := limiter.CheckAndConsume(context.Background(), "sms:p1", time.Hour, 1)
	if err == nil {
		t.Fatal("expected error with store down")
	}
	if res.Outcome != ratelimit.OutcomeUnavailable {
		t.Errorf("Outcome = %v, want unavailable", res.Outcome)
	}
}
