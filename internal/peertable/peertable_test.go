package peertable

import (
	"testing"
	"time"
)

func TestUpsertSetsInitialReputation(t *testing.T) {
	tbl := New()
	now := time.Now()
	tbl.Upsert("127.0.0.1:40321", []byte("onion-key-bytes"), []byte("identity-key-bytes"), now)

	key, ok := tbl.TryGetPeerKey("127.0.0.1:40321")
	if !ok {
		t.Fatalf("expected peer to be authenticated")
	}
	if string(key) != "onion-key-bytes" {
		t.Fatalf("unexpected onion key: %q", key)
	}
	p, ok := tbl.Get("127.0.0.1:40321")
	if !ok {
		t.Fatalf("expected peer entry")
	}
	if p.Reputation != initialReputation {
		t.Fatalf("expected reputation %d, got %d", initialReputation, p.Reputation)
	}
}

func TestUpsertPreservesReputationOnRehandshake(t *testing.T) {
	tbl := New()
	now := time.Now()
	tbl.Upsert("127.0.0.1:1", []byte("a"), []byte("b"), now)
	later := now.Add(time.Minute)
	tbl.Upsert("127.0.0.1:1", []byte("a2"), []byte("b2"), later)
	got, _ := tbl.Get("127.0.0.1:1")
	if got.Reputation != initialReputation {
		t.Fatalf("expected reputation to remain %d, got %d", initialReputation, got.Reputation)
	}
	if !got.LastSeen.Equal(later) {
		t.Fatalf("expected last_seen updated to %v, got %v", later, got.LastSeen)
	}
}

func TestUnauthenticatedPeerHasNoKey(t *testing.T) {
	tbl := New()
	tbl.Touch("127.0.0.1:2", time.Now())
	if tbl.IsAuthenticated("127.0.0.1:2") {
		t.Fatalf("expected unauthenticated peer")
	}
	if _, ok := tbl.TryGetPeerKey("127.0.0.1:2"); ok {
		t.Fatalf("expected no key for unauthenticated peer")
	}
}
