// Package wire implements the fixed 16-byte packet header and the typed
// payload codecs described in spec §4.1: handshake, FIND_NODE response,
// and mutable-record serialization. Header.Encode writes into a
// caller-supplied buffer and the payload encoders return freshly allocated
// slices, all deterministically; decoders reject truncated or implausible
// input with MalformedFrame.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/shadowmesh/core/internal/cryptocore"
)

// ErrMalformedFrame is returned whenever a decoder sees truncated input or
// a declared length that cannot possibly be satisfied by the remaining
// bytes.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// ErrChecksumMismatch is returned when a payload's recomputed CRC32 does
// not match the header's declared checksum.
var ErrChecksumMismatch = errors.New("wire: checksum mismatch")

// Message type codes (spec §4.1).
const (
	TypeHandshake       byte = 0x01
	TypeOnionLayer      byte = 0x02
	TypeFindNodeReq     byte = 0x03
	TypeFindNodeResp    byte = 0x04
	TypeStoreReq        byte = 0x05
	TypeStoreResp       byte = 0x06
	TypeFetchReq        byte = 0x07
	TypeFetchResp       byte = 0x08
	TypeFetchNotFound   byte = 0x09 // SPEC_FULL addition resolving §9 Open Question 2
	TypePutValue        byte = 0x10
	TypeGetValueReq     byte = 0x11
	TypeGetValueResp    byte = 0x12
)

// HeaderSize is the fixed size in bytes of every wire header.
const HeaderSize = 16

// ProtocolVersion is the only version this implementation understands.
const ProtocolVersion byte = 1

// Header is the fixed 16-byte frame prefix: version, flags, message type,
// reserved, request id, payload length, checksum.
type Header struct {
	Version       byte
	Flags         byte
	MessageType   byte
	Reserved      byte
	RequestID     uint32
	PayloadLength uint32
	Checksum      uint32
}

// Encode writes the header's 16 bytes into dst, which must be at least
// HeaderSize bytes long.
func (h Header) Encode(dst []byte) error {
	if len(dst) < HeaderSize {
		return ErrMalformedFrame
	}
	dst[0] = h.Version
	dst[1] = h.Flags
	dst[2] = h.MessageType
	dst[3] = h.Reserved
	binary.BigEndian.PutUint32(dst[4:8], h.RequestID)
	binary.BigEndian.PutUint32(dst[8:12], h.PayloadLength)
	binary.BigEndian.PutUint32(dst[12:16], h.Checksum)
	return nil
}

// DecodeHeader parses the first HeaderSize bytes of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrMalformedFrame
	}
	return Header{
		Version:       src[0],
		Flags:         src[1],
		MessageType:   src[2],
		Reserved:      src[3],
		RequestID:     binary.BigEndian.Uint32(src[4:8]),
		PayloadLength: binary.BigEndian.Uint32(src[8:12]),
		Checksum:      binary.BigEndian.Uint32(src[12:16]),
	}, nil
}

// NewHeader builds a header for payload, computing its CRC32 checksum.
func NewHeader(messageType byte, requestID uint32, payload []byte) Header {
	return Header{
		Version:       ProtocolVersion,
		Flags:         0,
		MessageType:   messageType,
		Reserved:      0,
		RequestID:     requestID,
		PayloadLength: uint32(len(payload)),
		Checksum:      cryptocore.CRC32(payload),
	}
}

// EncodeFrame produces a full header+payload frame ready to hand to the
// transport collaborator.
func EncodeFrame(messageType byte, requestID uint32, payload []byte) []byte {
	hdr := NewHeader(messageType, requestID, payload)
	out := make([]byte, HeaderSize+len(payload))
	_ = hdr.Encode(out[:HeaderSize])
	copy(out[HeaderSize:], payload)
	return out
}

// Verify checks that payload's length matches the header's declared
// length and that its CRC32 matches the declared checksum.
func (h Header) Verify(payload []byte) error {
	if uint32(len(payload)) != h.PayloadLength {
		return ErrMalformedFrame
	}
	if cryptocore.CRC32(payload) != h.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}
