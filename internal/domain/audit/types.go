// Package audit defines the append-only, hash-chained audit trail: the event
// model, the hash-chain contract, and the store port implemented by the
// Postgres adapter.
package audit

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrUnavailable covers every audit store failure mode: connection loss,
// constraint violation, timeout. The orchestrator treats it as fatal and
// rewrites the decision to DENY.
var ErrUnavailable = errors.New("audit store unavailable")

// TimestampLayout is the single fixed UTC textual form used for event
// timestamps, both on the wire and inside the hash input. Microsecond
// precision with an explicit Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in the canonical audit timestamp form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Draft is an audit event before it has been linked into the chain.
// Payload must be valid JSON; it is canonicalized when hashed.
type Draft struct {
	EventID   string
	RequestID string
	TS        time.Time
	Actor     string
	Action    string
	Decision  string
	Payload   json.RawMessage
}

// Event is a persisted, immutable audit record. Seq reflects insertion order;
// PrevHash is "" for the genesis event.
type Event struct {
	Seq       int64           `db:"id" json:"-"`
	EventID   string          `db:"event_id" json:"event_id"`
	RequestID string          `db:"request_id" json:"request_id"`
	TS        time.Time       `db:"ts" json:"ts"`
	Actor     string          `db:"actor" json:"actor"`
	Action    string          `db:"action" json:"action"`
	Decision  string          `db:"decision" json:"decision"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	PrevHash  string          `db:"prev_hash" json:"prev_hash"`
	Hash      string          `db:"hash" json:"hash"`
}

// Draft returns the draft view of a persisted event, used when recomputing
// its hash during chain verification.
func (e Event) Draft() Draft {
	return Draft{
		EventID:   e.EventID,
		RequestID: e.RequestID,
		TS:        e.TS,
		Actor:     e.Actor,
		Action:    e.Action,
		Decision:  e.Decision,
		Payload:   e.Payload,
	}
}
