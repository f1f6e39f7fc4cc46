// Package replay defines the anti-replay gate port: a claim/read/mismatch
// protocol that makes retries idempotent while rejecting payload tampering.
package replay

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the observed state of the anti-replay record for a request_id.
type Status int

const (
	// StatusFresh means no record existed; a pending claim was written and the
	// caller owns this turn of the pipeline.
	StatusFresh Status = iota
	// StatusHit means the same fingerprint completed earlier; the cached
	// decision must be returned verbatim.
	StatusHit
	// StatusConcurrent means another pipeline holds the pending claim.
	StatusConcurrent
	// StatusMismatch means the request_id was seen with a different payload.
	StatusMismatch
	// StatusUnavailable means the store could not be reached in time.
	StatusUnavailable
)

// Result is the outcome of a gate check. CachedDecision is only set for
// StatusHit and holds the decision exactly as it was cached, so replays can
// return byte-equal responses.
type Result struct {
	Status         Status
	CachedDecision json.RawMessage
}

// Gate is the anti-replay protocol over the shared key-value store.
type Gate interface {
	// Check runs the claim/read/mismatch protocol for requestID and the
	// canonical payload fingerprint. On first sight it atomically writes a
	// pending claim with the given TTL.
	Check(ctx context.Context, requestID, fingerprint string, ttl time.Duration) (Result, error)

	// StoreDecision upgrades the record to done with the terminal decision
	// attached. The write compares against the stored fingerprint and refuses
	// to clobber a different one.
	StoreDecision(ctx context.Context, requestID, fingerprint string, decision json.RawMessage, ttl time.Duration) error
}
