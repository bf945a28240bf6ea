package handshake

import (
	"testing"
	"time"

	"github.com/shadowmesh/core/internal/identity"
	"github.com/shadowmesh/core/internal/peertable"
)

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Load(t.TempDir())
	if err != nil {
		t.Fatalf("identity.Load: %v", err)
	}
	return id
}

func TestHandshakeRoundTripAndRegisters(t *testing.T) {
	id := newTestIdentity(t)
	peers := peertable.New()
	h := New(peers, 60*time.Second)

	now := time.UnixMilli(1700000000000)
	h.Now = func() time.Time { return now }

	payload := Build(id, now)
	if err := h.HandleIncoming("127.0.0.1:40321", payload); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	key, ok := peers.TryGetPeerKey("127.0.0.1:40321")
	if !ok {
		t.Fatal("expected authenticated peer")
	}
	if string(key) != string(id.OnionKey.Public()) {
		t.Fatalf("onion key mismatch")
	}
	peer, _ := peers.Get("127.0.0.1:40321")
	if peer.Reputation != 50 {
		t.Fatalf("expected initial reputation 50, got %d", peer.Reputation)
	}
}

func TestHandshakeRejectsStaleTimestamp(t *testing.T) {
	id := newTestIdentity(t)
	peers := peertable.New()
	h := New(peers, 60*time.Second)

	buildAt := time.UnixMilli(1700000000000)
	payload := Build(id, buildAt)

	h.Now = func() time.Time { return buildAt.Add(65 * time.Second) }
	if err := h.HandleIncoming("127.0.0.1:1", payload); err != ErrStaleHandshake {
		t.Fatalf("expected ErrStaleHandshake, got %v", err)
	}
}

func TestHandshakeRejectsTamperedSignature(t *testing.T) {
	id := newTestIdentity(t)
	peers := peertable.New()
	h := New(peers, 60*time.Second)

	now := time.UnixMilli(1700000000000)
	h.Now = func() time.Time { return now }
	payload := Build(id, now)
	payload[len(payload)-1] ^= 0xFF

	if err := h.HandleIncoming("127.0.0.1:1", payload); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
