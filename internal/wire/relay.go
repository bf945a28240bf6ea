package wire

import "encoding/binary"

// RelayTarget is the decoded next-hop endpoint carried in a relay-command
// onion layer: next_ip_len(1) | next_ip | next_port(2, BE) | inner_payload.
type RelayTarget struct {
	IP      []byte
	Port    uint16
	Payload []byte
}

// DecodeRelayTarget parses the body of a relay-command onion layer
// (everything after the 0x01 command byte).
func DecodeRelayTarget(body []byte) (RelayTarget, error) {
	if len(body) < 1 {
		return RelayTarget{}, ErrMalformedFrame
	}
	ipLen := int(body[0])
	if len(body) < 1+ipLen+2 {
		return RelayTarget{}, ErrMalformedFrame
	}
	ip := append([]byte(nil), body[1:1+ipLen]...)
	port := binary.BigEndian.Uint16(body[1+ipLen : 1+ipLen+2])
	payload := append([]byte(nil), body[1+ipLen+2:]...)
	return RelayTarget{IP: ip, Port: port, Payload: payload}, nil
}

// EncodeRelayLayer builds the plaintext of an intermediate-hop onion
// layer: command(0x01) | next_ip_len(1) | next_ip | next_port(2 BE) | inner.
func EncodeRelayLayer(nextIP []byte, nextPort uint16, inner []byte) []byte {
	buf := make([]byte, 1+1+len(nextIP)+2+len(inner))
	buf[0] = 0x01
	buf[1] = byte(len(nextIP))
	off := 2
	copy(buf[off:off+len(nextIP)], nextIP)
	off += len(nextIP)
	binary.BigEndian.PutUint16(buf[off:off+2], nextPort)
	off += 2
	copy(buf[off:], inner)
	return buf
}

// EncodeTerminalLayer builds the plaintext of the innermost onion layer:
// command(0x00) | final_message.
func EncodeTerminalLayer(finalMessage []byte) []byte {
	buf := make([]byte, 1+len(finalMessage))
	buf[0] = 0x00
	copy(buf[1:], finalMessage)
	return buf
}

const (
	// OnionCommandTerminal marks the innermost onion layer.
	OnionCommandTerminal byte = 0x00
	// OnionCommandRelay marks an intermediate onion layer.
	OnionCommandRelay byte = 0x01
)
