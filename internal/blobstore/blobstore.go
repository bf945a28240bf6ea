// Package blobstore implements the content-addressed, AEAD-encrypted,
// atomic local blob store of spec §4.9. Every file is named by the
// lowercase hex SHA-256 of its plaintext and holds
// nonce(12) | ciphertext | tag(16). Writes go through a temporary path and
// an atomic rename so a file present at the final path is always fully
// written and authenticated, matching the teacher's own
// write-temp-then-rename discipline in internal/store/store.go.
package blobstore

import (
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/shadowmesh/core/internal/cryptocore"
)

// ErrBlobNotFound is returned when a digest has no corresponding blob.
var ErrBlobNotFound = errors.New("blobstore: blob not found")

// ErrBlobTooLarge is returned by readers that enforce a size ceiling.
var ErrBlobTooLarge = errors.New("blobstore: blob too large")

// Store is a content-addressed encrypted blob directory.
type Store struct {
	dir string
	key []byte
}

// New opens (creating if necessary) a blob store rooted at dir, encrypting
// and decrypting with storageKey.
func New(dir string, storageKey []byte) (*Store, error) {
	if len(storageKey) != cryptocore.KeySize {
		return nil, cryptocore.ErrBadKeySize
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Store{dir: dir, key: storageKey}, nil
}

func (s *Store) pathFor(digest [32]byte) string {
	return filepath.Join(s.dir, hex.EncodeToString(digest[:]))
}

// Store computes the SHA-256 digest of plaintext, encrypts it, and writes
// it atomically to storage_dir/hex(digest). Storing the same plaintext
// twice is idempotent: both calls return the same digest and only one
// file exists on disk.
func (s *Store) Store(plaintext []byte) ([32]byte, error) {
	digest := cryptocore.SHA256(plaintext)
	finalPath := s.pathFor(digest)
	if _, err := os.Stat(finalPath); err == nil {
		return digest, nil
	}

	record, err := cryptocore.Seal(s.key, plaintext, nil)
	if err != nil {
		return digest, err
	}

	tmpPath := finalPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return digest, err
	}
	if _, err := f.Write(record); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return digest, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return digest, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return digest, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		// Another writer may have already won the race.
		if _, statErr := os.Stat(finalPath); statErr == nil {
			return digest, nil
		}
		return digest, err
	}
	return digest, nil
}

// HasBlob reports whether a blob exists for digest.
func (s *Store) HasBlob(digest [32]byte) bool {
	_, err := os.Stat(s.pathFor(digest))
	return err == nil
}

// GetBlobSize returns the plaintext size of the stored blob, or ok=false
// if absent.
func (s *Store) GetBlobSize(digest [32]byte) (int64, bool) {
	info, err := os.Stat(s.pathFor(digest))
	if err != nil {
		return 0, false
	}
	size := info.Size() - int64(cryptocore.Overhead)
	if size < 0 {
		return 0, false
	}
	return size, true
}

// RetrieveBytes reads and decrypts a whole blob into memory. Intended for
// small blobs such as manifests (spec §4.9); returns ok=false on absence
// or authentication failure, never an exception to the caller.
func (s *Store) RetrieveBytes(digest [32]byte) ([]byte, bool) {
	raw, err := os.ReadFile(s.pathFor(digest))
	if err != nil {
		return nil, false
	}
	plaintext, err := cryptocore.Open(s.key, raw, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// RetrieveToBuffer decrypts directly into dest, returning the number of
// bytes written, or 0 if the blob is absent, fails authentication, or does
// not fit in dest.
func (s *Store) RetrieveToBuffer(digest [32]byte, dest []byte) int {
	plaintext, ok := s.RetrieveBytes(digest)
	if !ok || len(plaintext) > len(dest) {
		return 0
	}
	copy(dest, plaintext)
	return len(plaintext)
}

// RetrieveToStream decrypts a blob and writes its plaintext into w. The
// MVP contract performs a whole-file decrypt rather than streaming
// chunked AEAD (spec §9 Open Question 4); this is acceptable here because
// the file ingestor never stores blobs larger than one 256 KiB chunk.
func (s *Store) RetrieveToStream(digest [32]byte, w io.Writer) error {
	plaintext, ok := s.RetrieveBytes(digest)
	if !ok {
		return ErrBlobNotFound
	}
	_, err := w.Write(plaintext)
	return err
}
