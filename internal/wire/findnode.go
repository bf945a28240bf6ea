package wire

import (
	"encoding/binary"
	"net"
)

// ContactRecord is one entry of a FIND_NODE response: node_id(32) |
// ip_len(1) | ip(ip_len) | port(2, BE).
type ContactRecord struct {
	NodeID [32]byte
	IP     net.IP
	Port   uint16
}

// EncodeFindNodeResponse serializes up to 255 contacts as
// count(1) | count x ContactRecord.
func EncodeFindNodeResponse(contacts []ContactRecord) ([]byte, error) {
	if len(contacts) > 255 {
		return nil, ErrMalformedFrame
	}
	size := 1
	for _, c := range contacts {
		size += 32 + 1 + len(c.IP) + 2
	}
	buf := make([]byte, size)
	buf[0] = byte(len(contacts))
	off := 1
	for _, c := range contacts {
		copy(buf[off:off+32], c.NodeID[:])
		off += 32
		buf[off] = byte(len(c.IP))
		off++
		copy(buf[off:off+len(c.IP)], c.IP)
		off += len(c.IP)
		binary.BigEndian.PutUint16(buf[off:off+2], c.Port)
		off += 2
	}
	return buf, nil
}

// DecodeFindNodeResponse parses the payload produced by
// EncodeFindNodeResponse.
func DecodeFindNodeResponse(payload []byte) ([]ContactRecord, error) {
	if len(payload) < 1 {
		return nil, ErrMalformedFrame
	}
	count := int(payload[0])
	off := 1
	out := make([]ContactRecord, 0, count)
	for i := 0; i < count; i++ {
		if off+32+1 > len(payload) {
			return nil, ErrMalformedFrame
		}
		var rec ContactRecord
		copy(rec.NodeID[:], payload[off:off+32])
		off += 32
		ipLen := int(payload[off])
		off++
		if off+ipLen+2 > len(payload) {
			return nil, ErrMalformedFrame
		}
		rec.IP = append(net.IP(nil), payload[off:off+ipLen]...)
		off += ipLen
		rec.Port = binary.BigEndian.Uint16(payload[off : off+2])
		off += 2
		out = append(out, rec)
	}
	return out, nil
}
