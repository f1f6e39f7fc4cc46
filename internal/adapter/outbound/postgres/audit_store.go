// Package postgres implements the audit store over a shared Postgres database.
// Appends serialize across all gateway instances via an advisory lock, never a
// process-local mutex, so horizontal scaling keeps the chain consistent.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/casf-health/verifier/internal/domain/audit"
)

// advisoryLockKey serializes all audit writers sharing this database.
// Transaction-scoped: released on COMMIT/ROLLBACK.
const advisoryLockKey = 42

// appendTimeout bounds the whole append transaction.
const appendTimeout = 2 * time.Second

// AuditStore is the Postgres-backed audit.Store.
type AuditStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to Postgres and returns an AuditStore.
func Open(dsn string) (*AuditStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return NewAuditStore(db), nil
}

// NewAuditStore wraps an existing connection pool.
func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db, now: time.Now}
}

var _ audit.Store = (*AuditStore)(nil)

// DB exposes the underlying pool for migrations and readiness checks.
func (s *AuditStore) DB() *sqlx.DB { return s.db }

// Append persists draft under the advisory lock:
// fetch the chain tail, compute the linking hash, insert, commit.
// Timestamps are assigned here, truncated to microseconds so the stored value
// round-trips exactly into chain verification.
func (s *AuditStore) Append(ctx context.Context, draft audit.Draft) (audit.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()

	if draft.TS.IsZero() {
		draft.TS = s.now().UTC().Truncate(time.Microsecond)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return audit.Event{}, unavailable("begin", err)
	}
	// The append is driven to commit or rollback synchronously; rollback is a
	// no-op after a successful commit.
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return audit.Event{}, unavailable("advisory lock", err)
	}

	var prevHash string
	err = tx.GetContext(ctx, &prevHash, `SELECT hash FROM audit_events ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		prevHash = ""
	} else if err != nil {
		return audit.Event{}, unavailable("fetch chain tail", err)
	}

	hash, err := audit.ComputeHash(prevHash, draft)
	if err != nil {
		return audit.Event{}, unavailable("compute hash", err)
	}

	event := audit.Event{
		EventID:   draft.EventID,
		RequestID: draft.RequestID,
		TS:        draft.TS,
		Actor:     draft.Actor,
		Action:    draft.Action,
		Decision:  draft.Decision,
		Payload:   draft.Payload,
		PrevHash:  prevHash,
		Hash:      hash,
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO audit_events
		  (request_id, event_id, ts, actor, action, decision, payload, prev_hash, hash)
		VALUES
		  ($1::uuid, $2::uuid, $3, $4, $5, $6, $7::jsonb, $8, $9)
		RETURNING id`,
		event.RequestID, event.EventID, event.TS, event.Actor, event.Action,
		event.Decision, string(event.Payload), event.PrevHash, event.Hash,
	).Scan(&event.Seq)
	if err != nil {
		return audit.Event{}, unavailable("insert", err)
	}

	if err := tx.Commit(); err != nil {
		return audit.Event{}, unavailable("commit", err)
	}
	return event, nil
}

// EventsBetween returns events with from <= ts < to in insertion order.
func (s *AuditStore) EventsBetween(ctx context.Context, from, to time.Time) ([]audit.Event, error) {
	var events []audit.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, event_id, request_id, ts, actor, action, decision, payload, prev_hash, hash
		  FROM audit_events
		 WHERE ts >= $1 AND ts < $2
		 ORDER BY id ASC`,
		from, to,
	)
	if err != nil {
		return nil, unavailable("query window", err)
	}
	return events, nil
}

// Ping verifies connectivity for readiness checks.
func (s *AuditStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// unavailable maps any storage failure onto the single fatal audit error the
// orchestrator acts on, keeping the cause in the message.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", audit.ErrUnavailable, op, err)
}
