package service

import (
	"context"
	"time"

	"github.com/casf-health/verifier/internal/domain/audit"
	"github.com/casf-health/verifier/internal/domain/canonical"
)

// Digest summarizes one UTC day of the audit chain. The digest hash covers
// every other field, so an anchored digest pins the day's events: republishing
// a tampered window cannot produce the same digest.
type Digest struct {
	Date        string `json:"date"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	EventCount  int    `json:"event_count"`
	FirstHash   string `json:"first_hash"`
	LastHash    string `json:"last_hash"`
	ChainValid  bool   `json:"chain_valid"`
	DigestHash  string `json:"digest_hash"`
}

// DigestService exports daily audit digests for external anchoring.
type DigestService struct {
	store audit.Store
}

// NewDigestService creates the exporter over the audit store.
func NewDigestService(store audit.Store) *DigestService {
	return &DigestService{store: store}
}

// Export builds the digest for the UTC day containing date. An empty window
// yields a valid digest with zero events and empty hashes.
func (s *DigestService) Export(ctx context.Context, date time.Time) (Digest, error) {
	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	events, err := s.store.EventsBetween(ctx, from, to)
	if err != nil {
		return Digest{}, err
	}

	d := Digest{
		Date:        from.Format("2006-01-02"),
		WindowStart: audit.FormatTimestamp(from),
		WindowEnd:   audit.FormatTimestamp(to),
		EventCount:  len(events),
		ChainValid:  audit.VerifyChain(events) < 0,
	}
	if len(events) > 0 {
		d.FirstHash = events[0].Hash
		d.LastHash = events[len(events)-1].Hash
	}

	hash, err := canonical.Hash(map[string]any{
		"date":         d.Date,
		"window_start": d.WindowStart,
		"window_end":   d.WindowEnd,
		"event_count":  d.EventCount,
		"first_hash":   d.FirstHash,
		"last_hash":    d.LastHash,
		"chain_valid":  d.ChainValid,
	})
	if err != nil {
		return Digest{}, err
	}
	d.DigestHash = hash
	return d, nil
}
