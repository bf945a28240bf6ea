package wire

import (
	"bytes"
	"encoding/hex"
	"net"
	"testing"
)

func TestHeaderRoundTripWithCRC32(t *testing.T) {
	payload := []byte{0x10, 0x20, 0x30, 0x40}
	hdr := NewHeader(TypeHandshake, 0x12345678, payload)
	buf := make([]byte, HeaderSize)
	if err := hdr.Encode(buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want, err := hex.DecodeString("01000100123456780000000400000000")
	if err != nil {
		t.Fatal(err)
	}
	// checksum is filled in after we know it, so patch the trailing 4 bytes.
	copy(want[12:16], buf[12:16])
	if !bytes.Equal(buf, want) {
		t.Fatalf("header bytes mismatch:\n got  %x\n want %x", buf, want)
	}
	if hdr.Checksum != 0x3D4B1F52 {
		t.Fatalf("checksum mismatch: got %#x want %#x", hdr.Checksum, 0x3D4B1F52)
	}

	parsed, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if parsed != hdr {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, hdr)
	}
	if err := parsed.Verify(payload); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestHeaderVerifyDetectsTamper(t *testing.T) {
	payload := []byte("payload")
	hdr := NewHeader(TypeOnionLayer, 7, payload)
	if err := hdr.Verify([]byte("payloaX")); err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if err := hdr.Verify([]byte("short")); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var h Handshake
	for i := range h.IdentityKey {
		h.IdentityKey[i] = byte(i)
	}
	for i := range h.OnionKey {
		h.OnionKey[i] = byte(64 + i)
	}
	h.TimestampMs = 1700000000000
	for i := range h.Signature {
		h.Signature[i] = byte(200 + i)
	}
	encoded := h.Encode()
	if len(encoded) != HandshakePayloadSize {
		t.Fatalf("expected %d bytes, got %d", HandshakePayloadSize, len(encoded))
	}
	parsed, err := DecodeHandshake(encoded)
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch")
	}
	if len(h.SignablePrefix()) != SignablePrefixSize {
		t.Fatalf("expected signable prefix of %d bytes", SignablePrefixSize)
	}
}

func TestFindNodeResponseRoundTrip(t *testing.T) {
	var id [32]byte
	id[0] = 0xAB
	contacts := []ContactRecord{
		{NodeID: id, IP: net.ParseIP("127.0.0.1").To4(), Port: 12345},
	}
	encoded, err := EncodeFindNodeResponse(contacts)
	if err != nil {
		t.Fatalf("EncodeFindNodeResponse: %v", err)
	}
	decoded, err := DecodeFindNodeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeFindNodeResponse: %v", err)
	}
	if len(decoded) != 1 || decoded[0].NodeID != id || decoded[0].Port != 12345 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if !decoded[0].IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("ip mismatch: %v", decoded[0].IP)
	}
}

func TestMutableRecordRoundTrip(t *testing.T) {
	var owner [32]byte
	owner[0] = 1
	var sig [64]byte
	sig[0] = 2
	value := []byte("profile-manifest-digest")
	encoded, err := EncodeMutableRecord(owner, 42, sig, value)
	if err != nil {
		t.Fatalf("EncodeMutableRecord: %v", err)
	}
	decoded, err := DecodeMutableRecord(encoded)
	if err != nil {
		t.Fatalf("DecodeMutableRecord: %v", err)
	}
	if decoded.Owner != owner || decoded.Sequence != 42 || decoded.Signature != sig {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if !bytes.Equal(decoded.Value, value) {
		t.Fatalf("value mismatch: got %q want %q", decoded.Value, value)
	}
}

func TestDecodeMutableRecordTruncated(t *testing.T) {
	if _, err := DecodeMutableRecord(make([]byte, 10)); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}
