// Package peertable implements the authenticated peer registry of spec §3:
// a concurrent map from network endpoint to last-seen time, reputation,
// and (once handshaken) the peer's onion and identity keys. The
// per-key-atomic-upsert discipline mirrors the teacher's
// internal/peer/store.go, simplified to the fields spec.md actually names.
package peertable

import (
	"sync"
	"time"
)

// Peer is one entry of the peer table.
type Peer struct {
	Endpoint    string
	LastSeen    time.Time
	Reputation  uint8
	OnionKey    []byte // nil until a valid handshake has been observed
	IdentityKey []byte // nil until a valid handshake has been observed
}

// Authenticated reports whether the peer has completed a handshake.
func (p Peer) Authenticated() bool {
	return p.OnionKey != nil && p.IdentityKey != nil
}

const initialReputation = 50

// Table is a concurrent endpoint-keyed peer registry.
type Table struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

// New creates an empty peer table.
func New() *Table {
	return &Table{peers: make(map[string]*Peer)}
}

// Upsert records a completed handshake from endpoint, setting reputation
// to 50 on first sight and updating last_seen unconditionally (spec §4.3).
func (t *Table) Upsert(endpoint string, onionKey, identityKey []byte, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[endpoint]
	if !ok {
		p = &Peer{Endpoint: endpoint, Reputation: initialReputation}
		t.peers[endpoint] = p
	}
	p.OnionKey = append([]byte(nil), onionKey...)
	p.IdentityKey = append([]byte(nil), identityKey...)
	p.LastSeen = now
}

// Touch updates last_seen for endpoint on any observed traffic, without
// requiring authentication.
func (t *Table) Touch(endpoint string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[endpoint]
	if !ok {
		p = &Peer{Endpoint: endpoint, Reputation: initialReputation}
		t.peers[endpoint] = p
	}
	p.LastSeen = now
}

// TryGetPeerKey returns the authenticated onion key for endpoint, if any.
func (t *Table) TryGetPeerKey(endpoint string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[endpoint]
	if !ok || !p.Authenticated() {
		return nil, false
	}
	return append([]byte(nil), p.OnionKey...), true
}

// Get returns a copy of the peer entry for endpoint.
func (t *Table) Get(endpoint string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[endpoint]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// IsAuthenticated reports whether endpoint has completed a valid
// handshake.
func (t *Table) IsAuthenticated(endpoint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[endpoint]
	return ok && p.Authenticated()
}
