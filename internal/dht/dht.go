// Package dht implements the Kademlia-style distributed hash table of
// spec §4.6: FIND_NODE/STORE/FETCH request handlers, the iterative
// parallel lookup, PUT_VALUE/GET_VALUE for signed mutable records, and
// bootstrap. The alpha-way parallel fan-out during a lookup round is
// grounded on the teacher's own concurrent fan-out idiom (launch a
// goroutine per outstanding RPC, collect on a channel) seen in
// internal/daemon/connman.go, generalized here with golang.org/x/sync/
// errgroup instead of a bare WaitGroup since the DHT service is the one
// component issuing requests that can fail independently per spec §7.
package dht

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shadowmesh/core/internal/blobstore"
	"github.com/shadowmesh/core/internal/bufpool"
	"github.com/shadowmesh/core/internal/config"
	"github.com/shadowmesh/core/internal/cryptocore"
	"github.com/shadowmesh/core/internal/identity"
	"github.com/shadowmesh/core/internal/ledger"
	"github.com/shadowmesh/core/internal/mutablerecord"
	"github.com/shadowmesh/core/internal/peertable"
	"github.com/shadowmesh/core/internal/routing"
	"github.com/shadowmesh/core/internal/transport"
	"github.com/shadowmesh/core/internal/wire"
)

// ErrNoResponse is returned by a remote call that absorbed a per-peer
// failure (timeout, malformed reply); callers performing a lookup treat
// this as "this candidate contributed nothing" rather than a hard error
// (spec §7).
var ErrNoResponse = errors.New("dht: no response")

// Service bundles every piece of state the DHT handlers and client-side
// lookups touch: the routing table, peer table, request ledger, blob
// store, local mutable-record store, and the outbound queues shared with
// the rest of the dispatcher.
type Service struct {
	Local   identity.NodeID
	Routing *routing.Table
	Peers   *peertable.Table
	Ledger  *ledger.Ledger
	Blobs   *blobstore.Store
	Records *mutablerecord.Store
	Queues  *transport.Queues
	Pool    *bufpool.Pool
	Config  config.Settings
	Log     *zap.Logger
}

// New creates a DHT service. log may be nil, in which case a no-op
// logger is used.
func New(local identity.NodeID, rt *routing.Table, peers *peertable.Table, led *ledger.Ledger, blobs *blobstore.Store, records *mutablerecord.Store, q *transport.Queues, pool *bufpool.Pool, cfg config.Settings, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Local: local, Routing: rt, Peers: peers, Ledger: led,
		Blobs: blobs, Records: records, Queues: q, Pool: pool,
		Config: cfg, Log: log,
	}
}

func (s *Service) sendRequest(endpoint string, msgType byte, payload []byte, timeout time.Duration) ([]byte, error) {
	id := s.Ledger.NextID()
	wait := s.Ledger.Register(id, timeout)
	framed := wire.EncodeFrame(msgType, id, payload)
	transport.SendFrame(s.Queues, s.Pool, endpoint, framed)
	return wait()
}

func (s *Service) sendFireAndForget(endpoint string, msgType byte, payload []byte) {
	framed := wire.EncodeFrame(msgType, 0, payload)
	transport.SendFrame(s.Queues, s.Pool, endpoint, framed)
}

// --------------------------------------------------------------------
// Server-side handlers, invoked by the dispatcher per spec §4.2.
// --------------------------------------------------------------------

// HandleFindNodeRequest answers a FIND_NODE request (type 0x03) with up
// to K contacts closest to the requested target, and opportunistically
// adds the origin to the routing table if it is an authenticated peer
// (spec §4.6).
func (s *Service) HandleFindNodeRequest(origin string, requestID uint32, payload []byte) error {
	if len(payload) != 32 {
		return wire.ErrMalformedFrame
	}
	var target identity.NodeID
	copy(target[:], payload)

	if onionKey, ok := s.Peers.TryGetPeerKey(origin); ok {
		nodeID := identity.DeriveNodeIDFromOnionKey(onionKey)
		s.Routing.AddContact(routing.Contact{NodeID: nodeID, Endpoint: origin, LastSeen: time.Now()})
	}

	closest := s.Routing.FindClosest(target, s.Config.K)
	records := make([]wire.ContactRecord, 0, len(closest))
	for _, c := range closest {
		ip, port, ok := routing.ParseEndpoint(c.Endpoint)
		if !ok {
			continue
		}
		records = append(records, wire.ContactRecord{NodeID: [32]byte(c.NodeID), IP: ip, Port: port})
	}
	encoded, err := wire.EncodeFindNodeResponse(records)
	if err != nil {
		return err
	}
	framed := wire.EncodeFrame(wire.TypeFindNodeResp, requestID, encoded)
	transport.SendFrame(s.Queues, s.Pool, origin, framed)
	return nil
}

// HandleStoreRequest stores payload verbatim as plaintext and, unless the
// request was fire-and-forget (request id 0), replies with the digest
// (spec §4.6).
func (s *Service) HandleStoreRequest(origin string, requestID uint32, payload []byte) error {
	digest, err := s.Blobs.Store(payload)
	if err != nil {
		return err
	}
	if requestID == 0 {
		return nil
	}
	framed := wire.EncodeFrame(wire.TypeStoreResp, requestID, digest[:])
	transport.SendFrame(s.Queues, s.Pool, origin, framed)
	return nil
}

// HandleFetchRequest replies with the plaintext for the requested digest,
// or the SPEC_FULL FETCH_NOT_FOUND opcode (resolving spec §9 Open
// Question 2) when absent or over the configured size ceiling.
func (s *Service) HandleFetchRequest(origin string, requestID uint32, payload []byte) error {
	if len(payload) != 32 {
		return wire.ErrMalformedFrame
	}
	var digest [32]byte
	copy(digest[:], payload)

	size, ok := s.Blobs.GetBlobSize(digest)
	if !ok || size > int64(s.Config.FetchMaxPayloadBytes) {
		framed := wire.EncodeFrame(wire.TypeFetchNotFound, requestID, nil)
		transport.SendFrame(s.Queues, s.Pool, origin, framed)
		return nil
	}
	plaintext, ok := s.Blobs.RetrieveBytes(digest)
	if !ok {
		framed := wire.EncodeFrame(wire.TypeFetchNotFound, requestID, nil)
		transport.SendFrame(s.Queues, s.Pool, origin, framed)
		return nil
	}
	framed := wire.EncodeFrame(wire.TypeFetchResp, requestID, plaintext)
	transport.SendFrame(s.Queues, s.Pool, origin, framed)
	return nil
}

// HandlePutValue verifies and installs a fire-and-forget PUT_VALUE
// record, dropping it silently on any validation failure (spec §4.6).
func (s *Service) HandlePutValue(payload []byte) error {
	decoded, err := wire.DecodeMutableRecord(payload)
	if err != nil {
		return err
	}
	rec := mutablerecord.Record{
		Owner:     ed25519.PublicKey(append([]byte(nil), decoded.Owner[:]...)),
		Sequence:  decoded.Sequence,
		Value:     decoded.Value,
		Signature: append([]byte(nil), decoded.Signature[:]...),
	}
	s.Records.Put(rec)
	return nil
}

// HandleGetValueRequest replies with the highest-sequence record held for
// the requested owner, or an empty payload if none is held.
func (s *Service) HandleGetValueRequest(origin string, requestID uint32, payload []byte) error {
	if len(payload) != ed25519.PublicKeySize {
		return wire.ErrMalformedFrame
	}
	owner := ed25519.PublicKey(payload)
	var respPayload []byte
	if rec, ok := s.Records.Get(owner); ok {
		var ownerArr [32]byte
		copy(ownerArr[:], rec.Owner)
		var sigArr [64]byte
		copy(sigArr[:], rec.Signature)
		encoded, err := wire.EncodeMutableRecord(ownerArr, rec.Sequence, sigArr, rec.Value)
		if err != nil {
			return err
		}
		respPayload = encoded
	}
	framed := wire.EncodeFrame(wire.TypeGetValueResp, requestID, respPayload)
	transport.SendFrame(s.Queues, s.Pool, origin, framed)
	return nil
}

// --------------------------------------------------------------------
// Client-side remote calls and the iterative lookup, per spec §4.6.
// --------------------------------------------------------------------

func (s *Service) findNode(endpoint string, target identity.NodeID) ([]routing.Contact, error) {
	resp, err := s.sendRequest(endpoint, wire.TypeFindNodeReq, target[:], s.Config.FindNodeTimeout)
	if err != nil {
		return nil, ErrNoResponse
	}
	records, err := wire.DecodeFindNodeResponse(resp)
	if err != nil {
		return nil, ErrNoResponse
	}
	contacts := make([]routing.Contact, 0, len(records))
	for _, r := range records {
		ep := endpointString(r.IP, r.Port)
		if ep == "" {
			continue
		}
		contacts = append(contacts, routing.Contact{NodeID: identity.NodeID(r.NodeID), Endpoint: ep, LastSeen: time.Now()})
	}
	return contacts, nil
}

// PingEndpoint issues a FIND_NODE-self probe to endpoint through the
// request ledger and reports whether it answered before the configured
// timeout, resolving spec §9 Open Question 3's bucket-full ping policy.
// It is meant to be assigned to routing.Table.PingHead.
func (s *Service) PingEndpoint(endpoint string) bool {
	_, err := s.findNode(endpoint, s.Local)
	return err == nil
}

func endpointString(ip []byte, port uint16) string {
	c, ok := routing.FormatEndpoint(ip, port)
	if !ok {
		return ""
	}
	return c
}

// LookupNode performs the iterative parallel Kademlia lookup of spec
// §4.6: seed with the K closest known contacts, repeatedly issue
// FIND_NODE to the alpha closest unvisited candidates in parallel,
// absorb results into the shortlist, and stop once an iteration adds
// nothing new or every candidate has been visited.
func (s *Service) LookupNode(ctx context.Context, target identity.NodeID) []routing.Contact {
	shortlist := s.Routing.FindClosest(target, s.Config.K)
	visited := make(map[string]bool)

	for {
		batch := pickUnvisited(shortlist, visited, s.Config.Alpha, target)
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			visited[c.Endpoint] = true
		}

		resultsCh := make(chan []routing.Contact, len(batch))
		g, _ := errgroup.WithContext(ctx)
		for _, c := range batch {
			c := c
			g.Go(func() error {
				contacts, err := s.findNode(c.Endpoint, target)
				if err != nil {
					return nil // per-candidate failures are absorbed, spec §7
				}
				resultsCh <- contacts
				return nil
			})
		}
		_ = g.Wait()
		close(resultsCh)

		added := false
		seen := make(map[identity.NodeID]bool, len(shortlist))
		for _, c := range shortlist {
			seen[c.NodeID] = true
		}
		for contacts := range resultsCh {
			for _, nc := range contacts {
				if nc.NodeID == s.Local || seen[nc.NodeID] {
					continue
				}
				seen[nc.NodeID] = true
				shortlist = append(shortlist, nc)
				added = true
			}
		}

		sortByDistance(shortlist, target)
		if len(shortlist) > s.Config.K {
			shortlist = shortlist[:s.Config.K]
		}
		if !added {
			break
		}
	}
	return shortlist
}

func pickUnvisited(shortlist []routing.Contact, visited map[string]bool, alpha int, target identity.NodeID) []routing.Contact {
	candidates := make([]routing.Contact, 0, len(shortlist))
	for _, c := range shortlist {
		if !visited[c.Endpoint] {
			candidates = append(candidates, c)
		}
	}
	sortByDistance(candidates, target)
	if len(candidates) > alpha {
		candidates = candidates[:alpha]
	}
	return candidates
}

func sortByDistance(contacts []routing.Contact, target identity.NodeID) {
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].NodeID.XOR(target).Less(contacts[j].NodeID.XOR(target))
	})
}

// Bootstrap seeds the routing table from a single externally-known
// contact endpoint and then runs a self-lookup to populate it, per spec
// §4.6.
func (s *Service) Bootstrap(ctx context.Context, seedEndpoint string) error {
	contacts, err := s.findNode(seedEndpoint, s.Local)
	if err != nil {
		return err
	}
	for _, c := range contacts {
		s.Routing.AddContact(c)
	}
	s.LookupNode(ctx, s.Local)
	return nil
}

// StoreChunk stores plaintext via STORE fire-and-forget requests to the
// replication-count closest nodes to its own digest, used by the file
// ingestor (spec §4.10).
func (s *Service) StoreChunk(ctx context.Context, plaintext []byte) ([32]byte, error) {
	digest, err := s.Blobs.Store(plaintext)
	if err != nil {
		return digest, err
	}
	targets := s.LookupNode(ctx, identity.NodeID(digest))
	n := s.Config.Replication
	if len(targets) < n {
		n = len(targets)
	}
	for _, c := range targets[:n] {
		s.sendFireAndForget(c.Endpoint, wire.TypeStoreReq, plaintext)
	}
	return digest, nil
}

// FetchChunk issues a FETCH request to endpoint for digest, returning the
// plaintext on success. A reply whose SHA-256 does not match digest,
// including the empty FETCH_NOT_FOUND reply, counts as not found.
func (s *Service) FetchChunk(endpoint string, digest [32]byte) ([]byte, error) {
	resp, err := s.sendRequest(endpoint, wire.TypeFetchReq, digest[:], s.Config.FetchTimeout)
	if err != nil {
		return nil, blobstore.ErrBlobNotFound
	}
	if cryptocore.SHA256(resp) != digest {
		return nil, blobstore.ErrBlobNotFound
	}
	return resp, nil
}

// PutValue publishes rec to the DHT: targets the replication-for-records
// closest nodes to SHA-256(owner public key) and sends PUT_VALUE
// fire-and-forget to each (spec §4.6).
func (s *Service) PutValue(ctx context.Context, rec mutablerecord.Record) error {
	if !mutablerecord.Verify(rec) {
		return mutablerecord.ErrInvalidSignature
	}
	target := identity.NodeID(cryptocore.SHA256(rec.Owner))
	targets := s.LookupNode(ctx, target)
	n := s.Config.DHTReplicationForRecords
	if len(targets) < n {
		n = len(targets)
	}
	var ownerArr [32]byte
	copy(ownerArr[:], rec.Owner)
	var sigArr [64]byte
	copy(sigArr[:], rec.Signature)
	payload, err := wire.EncodeMutableRecord(ownerArr, rec.Sequence, sigArr, rec.Value)
	if err != nil {
		return err
	}
	for _, c := range targets[:n] {
		s.sendFireAndForget(c.Endpoint, wire.TypePutValue, payload)
	}
	return nil
}

// GetValue looks up the nodes closest to the owner's derived target ID
// and queries each sequentially, returning the highest-sequence
// validly-signed record observed (spec §4.6).
func (s *Service) GetValue(ctx context.Context, owner ed25519.PublicKey) (mutablerecord.Record, bool) {
	target := identity.NodeID(cryptocore.SHA256(owner))
	candidates := s.LookupNode(ctx, target)

	var best mutablerecord.Record
	found := false
	for _, c := range candidates {
		resp, err := s.sendRequest(c.Endpoint, wire.TypeGetValueReq, owner, s.Config.GetValueTimeout)
		if err != nil || len(resp) == 0 {
			continue
		}
		decoded, err := wire.DecodeMutableRecord(resp)
		if err != nil {
			continue
		}
		rec := mutablerecord.Record{
			Owner:     ed25519.PublicKey(append([]byte(nil), decoded.Owner[:]...)),
			Sequence:  decoded.Sequence,
			Value:     decoded.Value,
			Signature: append([]byte(nil), decoded.Signature[:]...),
		}
		if !mutablerecord.Verify(rec) {
			continue
		}
		if !found || rec.Sequence > best.Sequence {
			best = rec
			found = true
		}
	}
	return best, found
}
