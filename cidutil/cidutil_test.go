package cidutil

import "testing"

func TestString_DeterministicAndRaw(t *testing.T) {
	payload := []byte(`{"tag":"_lk.testsuite.dummy"}`)
	a := String(payload)
	b := String(append([]byte(nil), payload...))
	if a == "" {
		t.Fatalf("expected non-empty CID")
	}
	if a != b {
		t.Fatalf("CID not deterministic: %s vs %s", a, b)
	}
	id, err := Sum(payload)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if id.Version() != 1 {
		t.Fatalf("expected CIDv1, got v%d", id.Version())
	}
	if id.Prefix().Codec != 0x55 {
		t.Fatalf("expected raw codec, got 0x%x", id.Prefix().Codec)
	}
}

func TestMatches(t *testing.T) {
	payload := []byte("event bytes")
	id := String(payload)
	if !Matches(id, payload) {
		t.Fatalf("expected match")
	}
	if Matches(id, []byte("other bytes")) {
		t.Fatalf("expected mismatch for different payload")
	}
	if Matches("not-a-cid", payload) {
		t.Fatalf("expected mismatch for undecodable CID")
	}
}
