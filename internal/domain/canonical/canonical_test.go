package canonical

import (
	"bytes"
	"testing"
)

func TestMarshal_KeyOrderIndependent(t *testing.T) {
	t.Parallel()

	a := map[string]any{"b": 1, "a": "x", "c": map[string]any{"z": true, "y": nil}}
	b := map[string]any{"c": map[string]any{"y": nil, "z": true}, "a": "x", "b": 1}

	ca, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal(a): %v", err)
	}
	cb, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal(b): %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Errorf("canonical forms differ: %s vs %s", ca, cb)
	}
}

func TestMarshal_SortedCompact(t *testing.T) {
	t.Parallel()

	got, err := Marshal(map[string]any{"z": 1, "a": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"a":2,"z":1}`
	if string(got) != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}
}

func TestTransform_NormalizesWhitespace(t *testing.T) {
	t.Parallel()

	got, err := Transform([]byte("{\n  \"b\": 2,\n  \"a\": 1\n}"))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if string(got) != `{"a":1,"b":2}` {
		t.Errorf("Transform = %s", got)
	}
}

func TestHash_StableAcrossEquivalentInputs(t *testing.T) {
	t.Parallel()

	h1, err := Hash(map[string]any{"k": []any{1, 2, 3}, "s": "v"})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(map[string]any{"s": "v", "k": []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hashes differ: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}
