package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/casf-health/verifier/internal/domain/audit"
)

// digestChain builds a valid n-event chain inside the given UTC day.
func digestChain(t *testing.T, day time.Time, n int) []audit.Event {
	t.Helper()

	events := make([]audit.Event, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		draft := audit.Draft{
			EventID:   fmt.Sprintf("00000000-0000-4000-8000-%012d", i),
			RequestID: fmt.Sprintf("11111111-0000-4000-8000-%012d", i),
			TS:        day.Add(time.Duration(i+1) * time.Hour),
			Actor:     "role:doctor",
			Action:    "twilio.send_sms",
			Decision:  "ALLOW",
			Payload:   json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		}
		h, err := audit.ComputeHash(prev, draft)
		if err != nil {
			t.Fatalf("ComputeHash: %v", err)
		}
		events = append(events, audit.Event{
			Seq:       int64(i + 1),
			EventID:   draft.EventID,
			RequestID: draft.RequestID,
			TS:        draft.TS,
			Actor:     draft.Actor,
			Action:    draft.Action,
			Decision:  draft.Decision,
			Payload:   draft.Payload,
			PrevHash:  prev,
			Hash:      h,
		})
		prev = h
	}
	return events
}

func TestExport_ValidDay(t *testing.T) {
	defer goleak.VerifyNone(t)

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{events: digestChain(t, day, 3)}
	svc := NewDigestService(store)

	d, err := svc.Export(context.Background(), day.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if d.Date != "2026-08-23" {
		t.Errorf("Date = %s", d.Date)
	}
	if !store.from.Equal(day) || !store.to.Equal(day.Add(24*time.Hour)) {
		t.Errorf("window = [%s, %s)", store.from, store.to)
	}
	if d.EventCount != 3 {
		t.Errorf("EventCount = %d", d.EventCount)
	}
	if d.FirstHash != store.events[0].Hash || d.LastHash != store.events[2].Hash {
		t.Errorf("hashes = %s / %s", d.FirstHash, d.LastHash)
	}
	if !d.ChainValid {
		t.Error("ChainValid = false for an intact chain")
	}
	if len(d.DigestHash) != 64 {
		t.Errorf("DigestHash length = %d", len(d.DigestHash))
	}
}

func TestExport_TamperedChain(t *testing.T) {
	defer goleak.VerifyNone(t)

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	events := digestChain(t, day, 3)
	events[1].Decision = "DENY"
	store := &fakeStore{events: events}

	d, err := NewDigestService(store).Export(context.Background(), day)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if d.ChainValid {
		t.Error("ChainValid = true for a tampered chain")
	}
}

func TestExport_EmptyWindow(t *testing.T) {
	defer goleak.VerifyNone(t)

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}

	d, err := NewDigestService(store).Export(context.Background(), day)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if d.EventCount != 0 || d.FirstHash != "" || d.LastHash != "" {
		t.Errorf("empty window digest = %+v", d)
	}
	if !d.ChainValid {
		t.Error("empty window must be valid")
	}
}

func TestExport_DigestBindsFields(t *testing.T) {
	defer goleak.VerifyNone(t)

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	svc := NewDigestService(&fakeStore{events: digestChain(t, day, 2)})

	d1, err := svc.Export(context.Background(), day)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	d2, err := NewDigestService(&fakeStore{events: digestChain(t, day, 3)}).Export(context.Background(), day)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if d1.DigestHash == d2.DigestHash {
		t.Error("different windows must produce different digest hashes")
	}

	d3, err := svc.Export(context.Background(), day)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if d1.DigestHash != d3.DigestHash {
		t.Error("the same window must reproduce the same digest hash")
	}
}

func TestExport_StoreFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &fakeStore{eventsErr: errors.New("connection refused")}
	if _, err := NewDigestService(store).Export(context.Background(), time.Now()); err == nil {
		t.Fatal("Export must propagate store failures")
	}
}
