// Package onion implements the layered source-routed anonymity transport
// of spec §4.4 and §4.5: per-hop session-key derivation from an ephemeral
// X25519 public key, single-layer ChaCha20-Poly1305 peeling, and the
// client-side reverse-order packet builder. Session keys are derived fresh
// per layer and discarded immediately after use — no state survives a
// single peel, mirroring the teacher's ephemeral-key lifecycle in
// internal/crypto/crypto.go's Ephemeral.Destroy.
package onion

import (
	"errors"

	"github.com/shadowmesh/core/internal/cryptocore"
	"github.com/shadowmesh/core/internal/wire"
)

// ErrMalformedOnion is returned when a received onion payload is too
// short to contain an ephemeral key and an AEAD record.
var ErrMalformedOnion = errors.New("onion: malformed onion payload")

// ErrDecryptFailure is returned when the AEAD layer fails to
// authenticate.
var ErrDecryptFailure = errors.New("onion: decrypt failure")

const minLayerSize = 32 + cryptocore.Overhead

// Peeled is the result of successfully decrypting one onion layer.
type Peeled struct {
	Terminal bool
	// Message is the final delivered plaintext, set only when Terminal.
	Message []byte
	// Relay fields, set only when !Terminal.
	NextIP      []byte
	NextPort    uint16
	InnerOnion  []byte // sender_ephemeral || encrypted_layer for the next hop
}

// Peel decrypts one onion layer addressed to this node using its onion
// private key. payload is sender_ephemeral_public(32) || encrypted_layer
// per spec §4.4. For a relay layer, Peel itself prepends senderEphemeral
// to the decrypted inner payload, so Peeled.InnerOnion can be forwarded
// unchanged as the next hop's onion payload; this resolves spec §9 Open
// Question 1 with the relay, not the builder, propagating the original
// client ephemeral. senderEphemeral is also returned to the caller.
func Peel(onionPriv *cryptocore.X25519KeyPair, payload []byte) (Peeled, []byte, error) {
	if len(payload) < minLayerSize {
		return Peeled{}, nil, ErrMalformedOnion
	}
	senderEphemeral := payload[:32]
	encryptedLayer := payload[32:]

	shared, err := onionPriv.ECDH(senderEphemeral)
	if err != nil {
		return Peeled{}, nil, ErrMalformedOnion
	}
	sessionKey, err := cryptocore.DeriveSessionKey(shared)
	if err != nil {
		return Peeled{}, nil, err
	}

	plaintext, err := cryptocore.Open(sessionKey, encryptedLayer, nil)
	if err != nil {
		return Peeled{}, nil, ErrDecryptFailure
	}
	if len(plaintext) < 1 {
		return Peeled{}, nil, ErrMalformedOnion
	}

	switch plaintext[0] {
	case wire.OnionCommandTerminal:
		return Peeled{Terminal: true, Message: plaintext[1:]}, senderEphemeral, nil
	case wire.OnionCommandRelay:
		target, err := wire.DecodeRelayTarget(plaintext[1:])
		if err != nil {
			return Peeled{}, nil, ErrMalformedOnion
		}
		// The builder reuses one client ephemeral across every layer; the
		// relay must prepend it to the forwarded inner payload so the
		// next hop can derive its own session key (spec §9 Open
		// Question 1, resolved as option (a)).
		innerOnion := make([]byte, 32+len(target.Payload))
		copy(innerOnion[:32], senderEphemeral)
		copy(innerOnion[32:], target.Payload)
		return Peeled{
			Terminal:   false,
			NextIP:     target.IP,
			NextPort:   target.Port,
			InnerOnion: innerOnion,
		}, senderEphemeral, nil
	default:
		return Peeled{}, nil, ErrMalformedOnion
	}
}

// Hop describes one relay in a client-constructed onion route.
type Hop struct {
	IP        []byte
	Port      uint16
	PublicKey []byte // the hop's X25519 public key
}

// Build constructs a source-routed onion packet for route, to be placed
// after a header and sent to the first hop. clientEphemeral is reused for
// every layer; the caller must prepend clientEphemeral.Public() before
// framing the returned bytes (spec §4.5).
func Build(clientEphemeral *cryptocore.X25519KeyPair, route []Hop, finalMessage []byte) ([]byte, error) {
	if len(route) == 0 {
		return nil, errors.New("onion: empty route")
	}
	current := wire.EncodeTerminalLayer(finalMessage)
	for i := len(route) - 1; i >= 0; i-- {
		hop := route[i]
		shared, err := clientEphemeral.ECDH(hop.PublicKey)
		if err != nil {
			return nil, err
		}
		sessionKey, err := cryptocore.DeriveSessionKey(shared)
		if err != nil {
			return nil, err
		}

		var layerContent []byte
		if i == len(route)-1 {
			layerContent = current
		} else {
			next := route[i+1]
			layerContent = wire.EncodeRelayLayer(next.IP, next.Port, current)
		}

		record, err := cryptocore.Seal(sessionKey, layerContent, nil)
		if err != nil {
			return nil, err
		}
		current = record
	}
	return current, nil
}

// BuildFramed is a convenience wrapper returning the full
// client_ephemeral_public || onion bytes a caller places directly as an
// onion-layer payload (spec §4.5 final step).
func BuildFramed(clientEphemeral *cryptocore.X25519KeyPair, route []Hop, finalMessage []byte) ([]byte, error) {
	onionBytes, err := Build(clientEphemeral, route, finalMessage)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 32+len(onionBytes))
	copy(out[:32], clientEphemeral.Public())
	copy(out[32:], onionBytes)
	return out, nil
}

// expectedGrowth returns the number of bytes an onion grows for an
// intermediate hop whose next-hop IP is ipLen bytes long, useful for tests
// validating the invariant in spec §4.5 / §8.
func expectedGrowth(ipLen int) int {
	return cryptocore.Overhead + 1 + 1 + ipLen + 2
}
