// Package ingest implements the file chunker and reassembler of spec
// §4.10: 256 KiB chunking into the blob store with DHT propagation, a
// small JSON manifest enumerating chunk digests in order, and reassembly
// that falls back to a DHT lookup/FETCH when a chunk is not held locally.
// The manifest shape mirrors the teacher's plain encoding/json structs in
// internal/proto (tagged structs, no custom marshaler) rather than a
// bespoke binary format.
package ingest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	"github.com/shadowmesh/core/internal/blobstore"
	"github.com/shadowmesh/core/internal/dht"
	"github.com/shadowmesh/core/internal/identity"
)

// ErrChunkUnavailable is returned when a manifest's chunk cannot be
// located locally or via any DHT-discovered holder (spec §4.10).
var ErrChunkUnavailable = errors.New("ingest: chunk unavailable")

// ErrManifestParse is returned when manifest bytes are not valid JSON in
// the expected shape.
var ErrManifestParse = errors.New("ingest: manifest parse error")

// ChunkSize is the fixed chunk size in bytes (spec §4.10, §6).
const ChunkSize = 262144

// Manifest is the JSON object enumerating a file's ordered chunk digests
// (spec §3).
type Manifest struct {
	FileName    string   `json:"file_name"`
	ContentType string   `json:"content_type"`
	TotalSize   int64    `json:"total_size"`
	Chunks      []string `json:"chunks"`
}

// Service ingests and reassembles files through a blob store and DHT
// service.
type Service struct {
	Blobs *blobstore.Store
	DHT   *dht.Service
}

// New creates a file ingestor/reassembler bound to blobs and d.
func New(blobs *blobstore.Store, d *dht.Service) *Service {
	return &Service{Blobs: blobs, DHT: d}
}

// Ingest reads stream in 256 KiB chunks, storing and DHT-propagating each,
// then assembles and stores a JSON manifest, returning its hex digest
// (spec §4.10).
func (s *Service) Ingest(ctx context.Context, stream io.Reader, fileName, contentType string) (string, error) {
	manifest := Manifest{FileName: fileName, ContentType: contentType}
	buf := make([]byte, ChunkSize)

	for {
		n, err := io.ReadFull(stream, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			digest, storeErr := s.DHT.StoreChunk(ctx, chunk)
			if storeErr != nil {
				return "", storeErr
			}
			manifest.Chunks = append(manifest.Chunks, hex.EncodeToString(digest[:]))
			manifest.TotalSize += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	encoded, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}
	digest, err := s.DHT.StoreChunk(ctx, encoded)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest[:]), nil
}

// Reassemble decodes the manifest identified by manifestHex, then writes
// each chunk's plaintext to output in order, falling back to a DHT
// lookup and FETCH when a chunk is not held locally (spec §4.10).
func (s *Service) Reassemble(ctx context.Context, manifestHex string, output io.Writer) error {
	manifestDigestBytes, err := hex.DecodeString(manifestHex)
	if err != nil || len(manifestDigestBytes) != 32 {
		return ErrManifestParse
	}
	var manifestDigest [32]byte
	copy(manifestDigest[:], manifestDigestBytes)

	manifestBytes, ok := s.Blobs.RetrieveBytes(manifestDigest)
	if !ok {
		return blobstore.ErrBlobNotFound
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return ErrManifestParse
	}

	for _, chunkHex := range manifest.Chunks {
		chunkBytes, err := hex.DecodeString(chunkHex)
		if err != nil || len(chunkBytes) != 32 {
			return ErrManifestParse
		}
		var digest [32]byte
		copy(digest[:], chunkBytes)

		if err := s.Blobs.RetrieveToStream(digest, output); err == nil {
			continue
		}

		plaintext, err := s.fetchRemote(ctx, digest)
		if err != nil {
			return ErrChunkUnavailable
		}
		if _, storeErr := s.Blobs.Store(plaintext); storeErr != nil {
			return storeErr
		}
		if _, err := output.Write(plaintext); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) fetchRemote(ctx context.Context, digest [32]byte) ([]byte, error) {
	holders := s.DHT.LookupNode(ctx, identity.NodeID(digest))
	for _, h := range holders {
		plaintext, err := s.DHT.FetchChunk(h.Endpoint, digest)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrChunkUnavailable
}
