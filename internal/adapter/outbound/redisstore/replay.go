package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/casf-health/verifier/internal/domain/canonical"
	"github.com/casf-health/verifier/internal/domain/replay"
)

// ErrFingerprintMismatch is returned by StoreDecision when the stored record
// carries a different fingerprint. The write is refused rather than clobbered;
// this protects against replayed pending keys from a crashed worker.
var ErrFingerprintMismatch = errors.New("redisstore: stored fingerprint differs, refusing to clobber")

// record is the anti-replay value stored under casf:req:<request_id>.
type record struct {
	Fingerprint string          `json:"fingerprint"`
	Status      string          `json:"status"`
	Decision    json.RawMessage `json:"decision,omitempty"`
}

const (
	statusPending = "pending"
	statusDone    = "done"
)

// claimScript implements the claim/read/mismatch protocol in one round trip:
// no record -> write pending claim, return "fresh"; fingerprint differs ->
// "mismatch"; pending -> "concurrent"; otherwise return the done record JSON.
var claimScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
  return 'fresh'
end
local rec = cjson.decode(cur)
if rec.fingerprint ~= ARGV[3] then
  return 'mismatch'
end
if rec.status == 'pending' then
  return 'concurrent'
end
return cur
`)

// storeScript upgrades the record to done, but only when the stored
// fingerprint matches (compare-and-set). Returns 1 on success, 0 on refusal.
var storeScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local rec = cjson.decode(cur)
  if rec.fingerprint ~= ARGV[2] then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
return 1
`)

// Gate is the Redis-backed anti-replay gate.
type Gate struct {
	rdb *redis.Client
}

// NewGate creates a Gate over the given client.
func NewGate(rdb *redis.Client) *Gate {
	return &Gate{rdb: rdb}
}

var _ replay.Gate = (*Gate)(nil)

func replayKey(requestID string) string {
	return fmt.Sprintf("casf:req:%s", requestID)
}

// Check runs the claim protocol for requestID/fingerprint. Store failures
// surface as StatusUnavailable with the underlying error.
func (g *Gate) Check(ctx context.Context, requestID, fingerprint string, ttl time.Duration) (replay.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pending, err := canonical.Marshal(record{Fingerprint: fingerprint, Status: statusPending})
	if err != nil {
		return replay.Result{Status: replay.StatusUnavailable}, err
	}

	res, err := claimScript.Run(ctx, g.rdb,
		[]string{replayKey(requestID)},
		string(pending), int(ttl.Seconds()), fingerprint,
	).Text()
	if err != nil {
		return replay.Result{Status: replay.StatusUnavailable},
			fmt.Errorf("redisstore: replay check: %w", err)
	}

	switch res {
	case "fresh":
		return replay.Result{Status: replay.StatusFresh}, nil
	case "mismatch":
		return replay.Result{Status: replay.StatusMismatch}, nil
	case "concurrent":
		return replay.Result{Status: replay.StatusConcurrent}, nil
	}

	var rec record
	if err := json.Unmarshal([]byte(res), &rec); err != nil {
		return replay.Result{Status: replay.StatusUnavailable},
			fmt.Errorf("redisstore: corrupt replay record: %w", err)
	}
	if rec.Decision == nil {
		// Done record without a decision should not happen; treat it like a
		// pending claim rather than fabricating a cached response.
		return replay.Result{Status: replay.StatusConcurrent}, nil
	}
	return replay.Result{Status: replay.StatusHit, CachedDecision: rec.Decision}, nil
}

// StoreDecision writes the done record with the terminal decision attached,
// guarded by a fingerprint compare-and-set.
func (g *Gate) StoreDecision(ctx context.Context, requestID, fingerprint string, decision json.RawMessage, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	done, err := canonical.Marshal(record{Fingerprint: fingerprint, Status: statusDone, Decision: decision})
	if err != nil {
		return err
	}

	ok, err := storeScript.Run(ctx, g.rdb,
		[]string{replayKey(requestID)},
		string(done), fingerprint, int(ttl.Seconds()),
	).Int64()
	if err != nil {
		return fmt.Errorf("redisstore: store decision: %w", err)
	}
	if ok == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}
