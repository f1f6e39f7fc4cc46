package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/casf-health/verifier/internal/domain/canonical"
)

// ComputeHash returns the lowercase hex SHA-256 linking hash for a draft:
//
//	sha256(request_id|event_id|ts|actor|action|decision|canonical(payload)|prev_hash)
//
// with "|" joining the fields. prevHash is "" for the genesis event.
// The payload is canonicalized before hashing so that storage round-trips
// (jsonb normalization, whitespace) cannot change the hash input.
func ComputeHash(prevHash string, d Draft) (string, error) {
	payload, err := canonical.Transform(d.Payload)
	if err != nil {
		return "", err
	}
	input := strings.Join([]string{
		d.RequestID,
		d.EventID,
		FormatTimestamp(d.TS),
		d.Actor,
		d.Action,
		d.Decision,
		string(payload),
		prevHash,
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain walks events in insertion order, checking prev_hash linkage and
// recomputing every hash. It returns -1 when the chain is intact, or the index
// of the first broken event. The first event's prev_hash is taken as the
// window anchor, so a slice cut from the middle of the chain still verifies.
func VerifyChain(events []Event) int {
	for i, evt := range events {
		if i > 0 && evt.PrevHash != events[i-1].Hash {
			return i
		}
		h, err := ComputeHash(evt.PrevHash, evt.Draft())
		if err != nil || h != evt.Hash {
			return i
		}
	}
	return -1
}
