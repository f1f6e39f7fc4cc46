package audit

import (
	"context"
	"time"
)

// Store persists audit events.
// Interface owned by the domain; the Postgres adapter implements it.
type Store interface {
	// Append links draft into the chain and persists it. The whole operation
	// runs under a cross-process serialization primitive so that prev_hash
	// linkage holds across every gateway instance sharing the database.
	// Failures are reported as ErrUnavailable.
	Append(ctx context.Context, draft Draft) (Event, error)

	// EventsBetween returns events with from <= ts < to, in insertion order.
	EventsBetween(ctx context.Context, from, to time.Time) ([]Event, error)

	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
