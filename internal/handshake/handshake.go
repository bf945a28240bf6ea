// Package handshake implements the handshake handler of spec §4.3:
// validating an inbound Ed25519-signed identity+onion-key binding, stale
// clock rejection, and peer-table registration on success. It mirrors the
// teacher's internal/proto/handshake.go verification shape (parse, check
// a bound, verify a signature) adapted to the wire layout spec.md
// actually defines.
package handshake

import (
	"errors"
	"time"

	"github.com/shadowmesh/core/internal/cryptocore"
	"github.com/shadowmesh/core/internal/identity"
	"github.com/shadowmesh/core/internal/peertable"
	"github.com/shadowmesh/core/internal/wire"
)

// ErrStaleHandshake is returned when the handshake's timestamp differs
// from current wall clock by more than the configured skew allowance.
var ErrStaleHandshake = errors.New("handshake: stale timestamp")

// ErrInvalidSignature is returned when the signed prefix does not verify
// against the declared identity key.
var ErrInvalidSignature = errors.New("handshake: invalid signature")

// Handler validates incoming handshake packets and registers
// authenticated peers, per spec §4.3.
type Handler struct {
	Peers     *peertable.Table
	ClockSkew time.Duration
	Now       func() time.Time // overridable for tests; defaults to time.Now
}

// New creates a handshake handler backed by peers, rejecting any
// handshake whose timestamp drifts from wall clock by more than
// clockSkew (spec default 60s, §6).
func New(peers *peertable.Table, clockSkew time.Duration) *Handler {
	return &Handler{Peers: peers, ClockSkew: clockSkew, Now: time.Now}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// HandleIncoming parses and validates a 136-byte handshake payload from
// originEndpoint. On success it upserts the peer table and returns nil;
// there is no reply (spec §4.3 — successful handshake is an observable
// side effect only).
func (h *Handler) HandleIncoming(originEndpoint string, payload []byte) error {
	parsed, err := wire.DecodeHandshake(payload)
	if err != nil {
		return err
	}

	now := h.now()
	skewMs := int64(h.ClockSkew / time.Millisecond)
	delta := now.UnixMilli() - parsed.TimestampMs
	if delta < 0 {
		delta = -delta
	}
	if delta > skewMs {
		return ErrStaleHandshake
	}

	if !cryptocore.Verify(parsed.IdentityKey[:], parsed.SignablePrefix(), parsed.Signature[:]) {
		return ErrInvalidSignature
	}

	h.Peers.Upsert(originEndpoint, parsed.OnionKey[:], parsed.IdentityKey[:], now)
	return nil
}

// Build constructs an outgoing handshake payload asserting id's identity
// and onion public keys at the current timestamp, signed by id's identity
// private key (spec §4.3 "outgoing handshake").
func Build(id *identity.Identity, now time.Time) []byte {
	hs := wire.Handshake{TimestampMs: now.UnixMilli()}
	copy(hs.IdentityKey[:], id.IdentityPub)
	copy(hs.OnionKey[:], id.OnionKey.Public())
	sig := cryptocore.Sign(id.IdentityPriv, hs.SignablePrefix())
	copy(hs.Signature[:], sig)
	return hs.Encode()
}
