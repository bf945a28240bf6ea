package onion

import (
	"bytes"
	"testing"

	"github.com/shadowmesh/core/internal/cryptocore"
)

func TestSingleHopOnion(t *testing.T) {
	hopPriv, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	clientEphemeral, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	route := []Hop{{IP: []byte{127, 0, 0, 1}, Port: 20000, PublicKey: hopPriv.Public()}}
	finalMessage := []byte("hello onion")

	framed, err := BuildFramed(clientEphemeral, route, finalMessage)
	if err != nil {
		t.Fatalf("BuildFramed: %v", err)
	}

	// framed = client_ephemeral(32) || onion bytes, which is exactly the
	// sender_ephemeral_public || encrypted_layer shape Peel expects.
	peeled, _, err := Peel(hopPriv, framed)
	if err != nil {
		t.Fatalf("Peel: %v", err)
	}
	if !peeled.Terminal {
		t.Fatal("expected terminal layer")
	}
	if len(peeled.Message) != len(finalMessage) {
		t.Fatalf("expected message length %d, got %d", len(finalMessage), len(peeled.Message))
	}
	if !bytes.Equal(peeled.Message, finalMessage) {
		t.Fatalf("message mismatch: got %q want %q", peeled.Message, finalMessage)
	}
}

func TestThreeHopOnionPeeling(t *testing.T) {
	var hops []Hop
	var privs []*cryptocore.X25519KeyPair
	ports := []uint16{20000, 20001, 20002}
	for _, port := range ports {
		priv, err := cryptocore.GenerateX25519()
		if err != nil {
			t.Fatalf("GenerateX25519: %v", err)
		}
		privs = append(privs, priv)
		hops = append(hops, Hop{IP: []byte{127, 0, 0, 1}, Port: port, PublicKey: priv.Public()})
	}
	clientEphemeral, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	finalMessage := []byte("final content for multi-hop")

	onionBytes, err := Build(clientEphemeral, hops, finalMessage)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Hop 0 receives client_ephemeral || onionBytes.
	current := append(append([]byte(nil), clientEphemeral.Public()...), onionBytes...)

	for i := 0; i < len(hops); i++ {
		peeled, senderEphemeral, err := Peel(privs[i], current)
		if err != nil {
			t.Fatalf("hop %d Peel: %v", i, err)
		}
		if i < len(hops)-1 {
			if peeled.Terminal {
				t.Fatalf("hop %d: expected relay layer, got terminal", i)
			}
			if peeled.NextPort != ports[i+1] {
				t.Fatalf("hop %d: expected next port %d, got %d", i, ports[i+1], peeled.NextPort)
			}
			if !bytes.Equal(peeled.NextIP, []byte{127, 0, 0, 1}) {
				t.Fatalf("hop %d: next ip mismatch", i)
			}
			if !bytes.Equal(senderEphemeral, clientEphemeral.Public()) {
				t.Fatalf("hop %d: sender ephemeral mismatch", i)
			}
			current = peeled.InnerOnion
		} else {
			if !peeled.Terminal {
				t.Fatal("final hop: expected terminal layer")
			}
			if !bytes.Equal(peeled.Message, finalMessage) {
				t.Fatalf("final message mismatch: got %q want %q", peeled.Message, finalMessage)
			}
		}
	}
}

func TestOnionGrowthInvariant(t *testing.T) {
	hopPriv, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	secondPriv, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	clientEphemeral, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	ip := []byte{127, 0, 0, 1}
	route := []Hop{
		{IP: ip, Port: 20000, PublicKey: hopPriv.Public()},
		{IP: ip, Port: 20001, PublicKey: secondPriv.Public()},
	}
	finalMessage := []byte("payload")

	onionBytes, err := Build(clientEphemeral, route, finalMessage)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	expected := len(finalMessage) + cryptocore.Overhead + 1 // terminal layer
	expected += expectedGrowth(len(ip)) // one intermediate layer
	if len(onionBytes) != expected {
		t.Fatalf("expected onion length %d, got %d", expected, len(onionBytes))
	}
}

func TestPeelRejectsTruncatedPayload(t *testing.T) {
	hopPriv, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	if _, _, err := Peel(hopPriv, make([]byte, 10)); err != ErrMalformedOnion {
		t.Fatalf("expected ErrMalformedOnion, got %v", err)
	}
}

func TestPeelRejectsTamperedCiphertext(t *testing.T) {
	hopPriv, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	clientEphemeral, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	route := []Hop{{IP: []byte{127, 0, 0, 1}, Port: 20000, PublicKey: hopPriv.Public()}}
	framed, err := BuildFramed(clientEphemeral, route, []byte("x"))
	if err != nil {
		t.Fatalf("BuildFramed: %v", err)
	}
	framed[len(framed)-1] ^= 0xFF

	if _, _, err := Peel(hopPriv, framed); err != ErrDecryptFailure {
		t.Fatalf("expected ErrDecryptFailure, got %v", err)
	}
}
