package wire

import (
	"encoding/binary"
)

// HandshakePayloadSize is the fixed size of a handshake payload:
// identity_key(32) | onion_key(32) | timestamp_ms(8) | signature(64).
const HandshakePayloadSize = 32 + 32 + 8 + 64

// SignablePrefixSize is the portion of the handshake payload covered by
// the signature: identity_key | onion_key | timestamp_ms.
const SignablePrefixSize = 32 + 32 + 8

// Handshake is the parsed form of a §4.1 handshake payload.
type Handshake struct {
	IdentityKey [32]byte
	OnionKey    [32]byte
	TimestampMs int64
	Signature   [64]byte
}

// SignablePrefix returns the 72-byte prefix the identity key signs.
func (h Handshake) SignablePrefix() []byte {
	buf := make([]byte, SignablePrefixSize)
	copy(buf[0:32], h.IdentityKey[:])
	copy(buf[32:64], h.OnionKey[:])
	binary.BigEndian.PutUint64(buf[64:72], uint64(h.TimestampMs))
	return buf
}

// Encode serializes the handshake into its 136-byte wire form.
func (h Handshake) Encode() []byte {
	buf := make([]byte, HandshakePayloadSize)
	copy(buf[0:72], h.SignablePrefix())
	copy(buf[72:136], h.Signature[:])
	return buf
}

// DecodeHandshake parses a 136-byte handshake payload.
func DecodeHandshake(payload []byte) (Handshake, error) {
	if len(payload) != HandshakePayloadSize {
		return Handshake{}, ErrMalformedFrame
	}
	var h Handshake
	copy(h.IdentityKey[:], payload[0:32])
	copy(h.OnionKey[:], payload[32:64])
	h.TimestampMs = int64(binary.BigEndian.Uint64(payload[64:72]))
	copy(h.Signature[:], payload[72:136])
	return h, nil
}
