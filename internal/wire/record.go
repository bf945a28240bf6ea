package wire

import "encoding/binary"

// EncodeMutableRecord serializes a mutable record as
// owner_pub(32) | sequence(8 BE) | signature(64) | value_len(2 BE) | value.
func EncodeMutableRecord(owner [32]byte, sequence uint64, signature [64]byte, value []byte) ([]byte, error) {
	if len(value) > 0xFFFF {
		return nil, ErrMalformedFrame
	}
	buf := make([]byte, 32+8+64+2+len(value))
	copy(buf[0:32], owner[:])
	binary.BigEndian.PutUint64(buf[32:40], sequence)
	copy(buf[40:104], signature[:])
	binary.BigEndian.PutUint16(buf[104:106], uint16(len(value)))
	copy(buf[106:], value)
	return buf, nil
}

// DecodedMutableRecord is the parsed form of a mutable-record wire payload.
type DecodedMutableRecord struct {
	Owner     [32]byte
	Sequence  uint64
	Signature [64]byte
	Value     []byte
}

// DecodeMutableRecord parses the payload produced by EncodeMutableRecord.
func DecodeMutableRecord(payload []byte) (DecodedMutableRecord, error) {
	if len(payload) < 32+8+64+2 {
		return DecodedMutableRecord{}, ErrMalformedFrame
	}
	var rec DecodedMutableRecord
	copy(rec.Owner[:], payload[0:32])
	rec.Sequence = binary.BigEndian.Uint64(payload[32:40])
	copy(rec.Signature[:], payload[40:104])
	valueLen := int(binary.BigEndian.Uint16(payload[104:106]))
	if len(payload) != 106+valueLen {
		return DecodedMutableRecord{}, ErrMalformedFrame
	}
	rec.Value = append([]byte(nil), payload[106:]...)
	return rec, nil
}

// SignaturePayload returns the sequence||value bytes the owner's Ed25519
// key signs.
func SignaturePayload(sequence uint64, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[0:8], sequence)
	copy(buf[8:], value)
	return buf
}
