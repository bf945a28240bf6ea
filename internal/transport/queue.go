// Package transport defines the narrow boundary between the protocol core
// and the QUIC transport collaborator (out of scope per spec §1): the
// incoming/outgoing packet queues of spec §6 and the thin adapter that
// frames core messages onto quic-go connections. That adapter (quic.go)
// holds only a minimal listener, a fixed development TLS certificate and
// a one-shot dialer; no connection pool is implemented.
package transport

import (
	"github.com/shadowmesh/core/internal/bufpool"
	"github.com/shadowmesh/core/internal/wire"
)

// QueueCapacity is the bounded capacity of both the incoming and outgoing
// packet queues (spec §6): producers block when full.
const QueueCapacity = 2000

// IncomingPacket is one element of the incoming-packet queue, produced by
// the transport collaborator and consumed by the dispatcher. Header
// carries the already-decoded fixed header (version, flags, message
// type, request id, payload length, checksum); the dispatcher still
// verifies the checksum against Payload itself (spec §4.2).
type IncomingPacket struct {
	OriginEndpoint string
	Header         wire.Header
	Payload        []byte
	BackingBuffer  []byte // returned to Pool after handling, if non-nil
}

// OutgoingMessage is one element of the outgoing-message queue, produced
// by the core and consumed by the transport collaborator, which releases
// BackingBuffer after transmission.
type OutgoingMessage struct {
	TargetEndpoint string
	FramedBytes    []byte
	BackingBuffer  []byte
}

// Queues bundles the two bounded channels connecting the core to the
// transport collaborator, matching the capacity and block-on-full
// semantics of spec §6.
type Queues struct {
	Incoming chan IncomingPacket
	Outgoing chan OutgoingMessage
}

// NewQueues allocates both queues at the spec-mandated capacity.
func NewQueues() *Queues {
	return &Queues{
		Incoming: make(chan IncomingPacket, QueueCapacity),
		Outgoing: make(chan OutgoingMessage, QueueCapacity),
	}
}

// SendFrame rents a fresh buffer from pool, copies framed into it, and
// enqueues it as an outgoing message addressed to targetEndpoint. Handlers
// that forward a packet onward must go through this path rather than
// reusing the dispatcher's incoming buffer (spec §4.2, §5 buffer-pool
// discipline): buffer ownership transfers to the transport collaborator,
// which releases it back to pool after transmission.
func SendFrame(q *Queues, pool *bufpool.Pool, targetEndpoint string, framed []byte) {
	buf := pool.Rent(len(framed))
	copy(buf, framed)
	q.Outgoing <- OutgoingMessage{
		TargetEndpoint: targetEndpoint,
		FramedBytes:    buf,
		BackingBuffer:  buf,
	}
}

// ReleaseOutgoing returns an outgoing message's backing buffer to pool
// after transmission; called by the transport collaborator.
func ReleaseOutgoing(pool *bufpool.Pool, msg OutgoingMessage) {
	if msg.BackingBuffer != nil {
		pool.Release(msg.BackingBuffer)
	}
}
