// Package routing implements the Kademlia-style routing table of spec
// §4.7: 256 ordered k-buckets (k=20) over XOR distance, LRU within each
// bucket. The LRU discipline (move-to-tail on sight, evict head when full)
// mirrors the container/list-backed cache the teacher uses for its
// hello-signature cache (internal/node/hello_sig_cache.go) and its peer
// store's eviction order (internal/peer/store.go), generalized here to a
// per-bucket list instead of a single global one.
package routing

import (
	"container/list"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shadowmesh/core/internal/identity"
)

// BucketSize is k, the maximum contacts held per bucket.
const BucketSize = 20

// NumBuckets is the number of k-buckets (one per bit of a node ID).
const NumBuckets = 256

// Contact is one entry of the routing table: a node ID, its endpoint, and
// the last time traffic from it was observed.
type Contact struct {
	NodeID   identity.NodeID
	Endpoint string
	LastSeen time.Time
}

type bucket struct {
	mu      sync.Mutex
	order   *list.List // front = most-recently-seen, back = least
	byID    map[identity.NodeID]*list.Element
}

func newBucket() *bucket {
	return &bucket{order: list.New(), byID: make(map[identity.NodeID]*list.Element)}
}

// Table is the full 256-bucket Kademlia routing table for one local node.
type Table struct {
	localID identity.NodeID
	buckets [NumBuckets]*bucket

	// PingHead, if set, is used to resolve bucket-full contention per
	// spec §4.7 / §9 Open Question 3: it pings the bucket's oldest
	// contact and reports whether it is still alive.
	PingHead func(endpoint string) bool
}

// New creates a routing table for the node identified by localID.
func New(localID identity.NodeID) *Table {
	t := &Table{localID: localID}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// bucketIndex returns the position of the most significant differing bit
// between localID and candidate, clamped to 255 on exact equality (which
// AddContact rejects before reaching here, but FindClosest may still ask).
func bucketIndex(localID, candidate identity.NodeID) int {
	xor := localID.XOR(candidate)
	for bytePos, b := range xor {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				idx := bytePos*8 + bit
				if idx > 255 {
					return 255
				}
				return idx
			}
		}
	}
	return 255
}

// AddContact inserts or refreshes a contact per spec §4.7. A contact
// matching the local node ID is a no-op. When the target bucket is full,
// the configured ping-the-head policy decides whether to evict the head
// (no response) or discard the newcomer (head responds); with no
// PingHead configured, the newcomer is discarded, matching the MVP
// interim behavior the spec explicitly permits (§4.7, §9 Open Question 3).
func (t *Table) AddContact(c Contact) {
	if c.NodeID == t.localID {
		return
	}
	idx := bucketIndex(t.localID, c.NodeID)
	b := t.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.byID[c.NodeID]; ok {
		ent := el.Value.(*Contact)
		ent.Endpoint = c.Endpoint
		ent.LastSeen = c.LastSeen
		b.order.MoveToFront(el)
		return
	}

	if b.order.Len() < BucketSize {
		ent := c
		el := b.order.PushFront(&ent)
		b.byID[c.NodeID] = el
		return
	}

	back := b.order.Back()
	head := back.Value.(*Contact)
	if t.PingHead != nil && t.PingHead(head.Endpoint) {
		// Head is alive: refresh it to the front and discard the newcomer.
		b.order.MoveToFront(back)
		head.LastSeen = c.LastSeen
		return
	}
	// Head is unreachable (or no ping policy configured, matching the
	// spec's permitted MVP behavior of discarding the newcomer) — with a
	// configured PingHead that returned false, evict the head instead.
	if t.PingHead != nil {
		delete(b.byID, head.NodeID)
		b.order.Remove(back)
		ent := c
		el := b.order.PushFront(&ent)
		b.byID[c.NodeID] = el
	}
}

// FindClosest returns up to n contacts across all buckets, sorted by
// ascending XOR distance to target, with no duplicates.
func (t *Table) FindClosest(target identity.NodeID, n int) []Contact {
	all := make([]Contact, 0, NumBuckets*BucketSize)
	for _, b := range t.buckets {
		b.mu.Lock()
		for el := b.order.Front(); el != nil; el = el.Next() {
			all = append(all, *el.Value.(*Contact))
		}
		b.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool {
		di := all[i].NodeID.XOR(target)
		dj := all[j].NodeID.XOR(target)
		return di.Less(dj)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Remove deletes a contact from its bucket, if present.
func (t *Table) Remove(id identity.NodeID) {
	idx := bucketIndex(t.localID, id)
	b := t.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.byID[id]; ok {
		b.order.Remove(el)
		delete(b.byID, id)
	}
}

// FormatEndpoint joins an IP and port, as decoded from a wire
// ContactRecord, into a host:port endpoint string.
func FormatEndpoint(ip net.IP, port uint16) (string, bool) {
	if len(ip) == 0 {
		return "", false
	}
	return net.JoinHostPort(ip.String(), strconv.FormatUint(uint64(port), 10)), true
}

// ParseEndpoint splits a host:port endpoint string into an IP and port
// suitable for wire.ContactRecord, returning ok=false if unparseable.
func ParseEndpoint(endpoint string) (ip net.IP, port uint16, ok bool) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, 0, false
	}
	parsedIP := net.ParseIP(host)
	if parsedIP == nil {
		return nil, 0, false
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, false
	}
	return parsedIP, uint16(p), true
}
