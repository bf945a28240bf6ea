// Package identity manages per-node cryptographic material: the 256-bit
// node ID, the long-lived Ed25519 identity key, the ephemeral X25519 onion
// key, and the in-memory ChaCha20-Poly1305 storage key (spec §3). The
// identity key is the only one persisted across restarts, matching the
// teacher's own LoadKeypair/SaveKeypair convention in
// internal/crypto/crypto.go and internal/node/node.go.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/shadowmesh/core/internal/cryptocore"
)

const identityKeyFile = "identity.key"

// NodeID is a 256-bit opaque node identifier. Total order is defined by
// lexicographic byte comparison.
type NodeID [32]byte

// Less implements the total order over node IDs.
func (id NodeID) Less(other NodeID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// XOR computes the XOR distance between two node IDs.
func (id NodeID) XOR(other NodeID) NodeID {
	var out NodeID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// LessDistance reports whether distance a is strictly less than distance
// b, where both are XOR results (as returned by XOR) interpreted as
// 256-bit unsigned integers.
func LessDistance(a, b NodeID) bool {
	return a.Less(b)
}

// Identity bundles a node's long-lived signing key, its ephemeral onion
// key, its derived node ID, and its at-rest storage key.
type Identity struct {
	ID            NodeID
	IdentityPub   ed25519.PublicKey
	IdentityPriv  ed25519.PrivateKey
	OnionKey      *cryptocore.X25519KeyPair
	StorageKey    []byte
}

// Load reads the identity key from <dataDir>/identity.key, generating and
// persisting a fresh one if missing (spec §6 filesystem layout). A fresh
// onion keypair and storage key are generated every time, since both are
// ephemeral for the lifetime of the process (spec §3).
func Load(dataDir string) (*Identity, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, identityKeyFile)
	priv, err := loadOrCreateIdentityKey(path)
	if err != nil {
		return nil, err
	}
	pub := priv.Public().(ed25519.PublicKey)

	onionKey, err := cryptocore.GenerateX25519()
	if err != nil {
		return nil, err
	}
	storageKey := make([]byte, cryptocore.KeySize)
	if _, err := rand.Read(storageKey); err != nil {
		return nil, err
	}

	return &Identity{
		ID:           DeriveNodeID(pub),
		IdentityPub:  pub,
		IdentityPriv: priv,
		OnionKey:     onionKey,
		StorageKey:   storageKey,
	}, nil
}

func loadOrCreateIdentityKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != ed25519.SeedSize {
			return nil, os.ErrInvalid
		}
		return ed25519.NewKeyFromSeed(raw), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, seed, 0600); err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// DeriveNodeID computes a node's 256-bit ID. For the local node this is
// the SHA-256 of the identity public key; remote authenticated peers are
// identified the same way the DHT FIND_NODE handler does: SHA-256 of the
// asserted onion key (spec §4.6).
func DeriveNodeID(identityPub ed25519.PublicKey) NodeID {
	return NodeID(cryptocore.SHA256(identityPub))
}

// DeriveNodeIDFromOnionKey computes the node ID the DHT FIND_NODE handler
// assigns to a peer based on its onion key, per spec §4.6.
func DeriveNodeIDFromOnionKey(onionPub []byte) NodeID {
	return NodeID(cryptocore.SHA256(onionPub))
}
