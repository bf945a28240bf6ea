// Package mutablerecord implements the signed, sequence-numbered
// owner-keyed value store of spec §4.11: a signature over
// big-endian sequence || value, verified against the declared owner, with
// monotonic sequence enforcement per owner. The bounded local store uses
// an LRU cache (hashicorp/golang-lru) rather than an unbounded map, so a
// node that serves PUT_VALUE for many distinct owners cannot be driven to
// unbounded memory growth.
package mutablerecord

import (
	"crypto/ed25519"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shadowmesh/core/internal/wire"
)

// ErrInvalidSignature is returned when a record's signature does not
// verify against its declared owner.
var ErrInvalidSignature = errors.New("mutablerecord: invalid signature")

// Record is a signed, sequence-numbered owner-keyed value.
type Record struct {
	Owner     ed25519.PublicKey
	Sequence  uint64
	Value     []byte
	Signature []byte
}

// Sign produces a Record by signing sequence||value with priv.
func Sign(priv ed25519.PrivateKey, sequence uint64, value []byte) Record {
	payload := wire.SignaturePayload(sequence, value)
	sig := ed25519.Sign(priv, payload)
	return Record{
		Owner:     priv.Public().(ed25519.PublicKey),
		Sequence:  sequence,
		Value:     value,
		Signature: sig,
	}
}

// Verify checks that r's signature is valid for its declared owner.
func Verify(r Record) bool {
	if len(r.Owner) != ed25519.PublicKeySize {
		return false
	}
	payload := wire.SignaturePayload(r.Sequence, r.Value)
	return ed25519.Verify(r.Owner, payload, r.Signature)
}

const defaultCapacity = 4096

// Store retains, per owner, only the highest-sequence validly-signed
// record observed (spec §3, §4.6).
type Store struct {
	cache *lru.Cache[string, Record]
}

// NewStore creates a bounded per-owner mutable-record store.
func NewStore(capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, err := lru.New[string, Record](capacity)
	if err != nil {
		return nil, err
	}
	return &Store{cache: c}, nil
}

func ownerKey(owner ed25519.PublicKey) string {
	return string(owner)
}

// Put verifies r and installs it if r.Sequence exceeds (or ties, as a
// no-op) any record already held for r.Owner. Invalid signatures or
// stale sequences are dropped silently, per spec §4.6.
func (s *Store) Put(r Record) bool {
	if !Verify(r) {
		return false
	}
	key := ownerKey(r.Owner)
	if existing, ok := s.cache.Get(key); ok {
		if r.Sequence <= existing.Sequence {
			return false
		}
	}
	s.cache.Add(key, r)
	return true
}

// Get returns the highest-sequence record held for owner, if any.
func (s *Store) Get(owner ed25519.PublicKey) (Record, bool) {
	return s.cache.Get(ownerKey(owner))
}
