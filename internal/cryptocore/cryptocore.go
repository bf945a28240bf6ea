// Package cryptocore implements the fixed cryptographic suite shared by
// every other component: Ed25519 signing, X25519 key agreement, HKDF-SHA256
// derivation, ChaCha20-Poly1305 AEAD, SHA-256 digesting and IEEE CRC32.
package cryptocore

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"hash/crc32"
	"io"

	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	NonceSize = chacha20poly1305.NonceSize // 12
	TagSize   = 16
	KeySize   = chacha20poly1305.KeySize // 32
	Overhead  = NonceSize + TagSize       // 28
)

var (
	ErrBadKeySize   = errors.New("cryptocore: bad key size")
	ErrBadNonceSize = errors.New("cryptocore: bad nonce size")
)

// SHA256 returns the 32-byte digest of data, using the CPU-accelerated
// implementation where available.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// CRC32 computes the IEEE polynomial CRC32 of data, matching the checksum
// field of the wire header.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// GenerateIdentityKey creates a fresh long-lived Ed25519 signing keypair.
func GenerateIdentityKey() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign produces a detached Ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify checks a detached Ed25519 signature.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// X25519KeyPair is an ephemeral or long-lived Diffie-Hellman keypair on
// Curve25519.
type X25519KeyPair struct {
	priv *ecdh.PrivateKey
}

// GenerateX25519 creates a fresh X25519 keypair.
func GenerateX25519() (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &X25519KeyPair{priv: priv}, nil
}

// Public returns the 32-byte public key.
func (k *X25519KeyPair) Public() []byte {
	return k.priv.PublicKey().Bytes()
}

// ECDH performs X25519 agreement against a peer's 32-byte public key.
func (k *X25519KeyPair) ECDH(peerPub []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(peerPub)
	if err != nil {
		return nil, err
	}
	return k.priv.ECDH(pub)
}

// DeriveSessionKey runs the X25519 shared secret through HKDF-SHA256 with
// an empty salt and empty info, yielding a 32-byte ChaCha20-Poly1305 key, as
// specified for every onion layer (§4.4, §4.5).
func DeriveSessionKey(sharedSecret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, sharedSecret, nil, nil)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with ChaCha20-Poly1305 under key using a freshly
// generated random 12-byte nonce, returning nonce||ciphertext||tag laid out
// contiguously as the spec's on-wire/on-disk AEAD record.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, aad)
	return out, nil
}

// Open decrypts a nonce||ciphertext||tag record produced by Seal.
func Open(key, record, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	if len(record) < NonceSize+TagSize {
		return nil, ErrBadNonceSize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := record[:NonceSize]
	ciphertext := record[NonceSize:]
	return aead.Open(nil, nonce, ciphertext, aad)
}

// SealWithNonce encrypts plaintext under an explicit 12-byte nonce. Used by
// the onion builder, which must control nonce placement per layer.
func SealWithNonce(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	if len(nonce) != NonceSize {
		return nil, ErrBadNonceSize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// RandomNonce returns a fresh random 12-byte AEAD nonce.
func RandomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
