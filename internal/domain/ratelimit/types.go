// Package ratelimit provides the per-subject atomic rate limiting port.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the result of a rate limit check.
type Outcome int

const (
	// OutcomeAllowed means the counter was consumed and the call may proceed.
	OutcomeAllowed Outcome = iota
	// OutcomeExceeded means the window limit was already reached.
	OutcomeExceeded
	// OutcomeUnavailable means the backing store could not be reached in time.
	// The caller decides fail-closed behavior.
	OutcomeUnavailable
)

// Result carries the outcome and the counter value observed for the window.
type Result struct {
	Outcome Outcome
	Count   int64
}

// Limiter is the interface for atomic counter-with-TTL rate limiting.
//
// Implementations must make the read-increment-expire sequence atomic under
// concurrent calls from multiple gateway instances — a single server-evaluated
// script or equivalent CAS primitive, never a read-modify-write from the client.
type Limiter interface {
	// CheckAndConsume increments the counter for key and reports whether the
	// call is within limit for the window. The first increment in a window
	// arms the TTL.
	CheckAndConsume(ctx context.Context, key string, window time.Duration, limit int64) (Result, error)
}

// SMSKey returns the counter key for the per-patient SMS burst limit.
func SMSKey(patientID string) string {
	return fmt.Sprintf("sms:%s", patientID)
}
