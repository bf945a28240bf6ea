// Package dispatch implements the central packet dispatcher of spec
// §4.2: read from the incoming queue, verify the payload's checksum
// against the declared header, route by message type to the matching
// handler, and always release the packet's backing buffer afterward even
// when the handler returns an error. The dispatcher is single-consumer on
// the incoming queue and awaits each packet's handling before pulling the
// next, matching the teacher's own single-goroutine receive-pipeline
// shape in internal/daemon/recv_pipeline_test.go (one packet handled to
// completion before the next is read off the channel).
package dispatch

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/shadowmesh/core/internal/bufpool"
	"github.com/shadowmesh/core/internal/dht"
	"github.com/shadowmesh/core/internal/handshake"
	"github.com/shadowmesh/core/internal/identity"
	"github.com/shadowmesh/core/internal/ledger"
	"github.com/shadowmesh/core/internal/logging"
	"github.com/shadowmesh/core/internal/onion"
	"github.com/shadowmesh/core/internal/routing"
	"github.com/shadowmesh/core/internal/transport"
	"github.com/shadowmesh/core/internal/wire"
)

// TerminalHandler receives a fully-peeled onion message addressed to this
// node. Wiring it to anything beyond logging is out of scope (spec §1);
// the profile/messaging layer that interprets Message is an external
// collaborator.
type TerminalHandler func(originEndpoint string, message []byte)

// Dispatcher is the packet-dispatcher state machine of spec §4.2.
type Dispatcher struct {
	Identity   *identity.Identity
	Handshake  *handshake.Handler
	DHT        *dht.Service
	Ledger     *ledger.Ledger
	Pool       *bufpool.Pool
	Queues     *transport.Queues
	Log        *zap.Logger
	OnTerminal TerminalHandler
}

// New constructs a Dispatcher wiring every handler it routes to. log may
// be nil, in which case a no-op logger is used.
func New(id *identity.Identity, hs *handshake.Handler, d *dht.Service, led *ledger.Ledger, pool *bufpool.Pool, q *transport.Queues, log *zap.Logger, onTerminal TerminalHandler) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		Identity: id, Handshake: hs, DHT: d, Ledger: led,
		Pool: pool, Queues: q, Log: log, OnTerminal: onTerminal,
	}
}

// Run drains the incoming queue until ctx is cancelled or the queue is
// closed, handling each packet to completion before pulling the next
// (spec §4.2, §5).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-d.Queues.Incoming:
			if !ok {
				return
			}
			d.handlePacket(pkt)
		}
	}
}

// handlePacket verifies and routes one packet, always releasing its
// backing buffer afterward regardless of handler outcome (spec §4.2).
func (d *Dispatcher) handlePacket(pkt transport.IncomingPacket) {
	defer func() {
		if pkt.BackingBuffer != nil {
			d.Pool.Release(pkt.BackingBuffer)
		}
	}()

	fields := logging.PacketFields(pkt.Header.MessageType, pkt.OriginEndpoint)

	if err := pkt.Header.Verify(pkt.Payload); err != nil {
		d.Log.Warn("dropping packet: header verification failed", append(fields, zap.Error(err))...)
		return
	}

	if err := d.route(pkt); err != nil {
		d.Log.Warn("handler returned error", append(fields, zap.Error(err))...)
	}
}

func (d *Dispatcher) route(pkt transport.IncomingPacket) error {
	switch pkt.Header.MessageType {
	case wire.TypeHandshake:
		return d.Handshake.HandleIncoming(pkt.OriginEndpoint, pkt.Payload)

	case wire.TypeOnionLayer:
		return d.handleOnion(pkt)

	case wire.TypeFindNodeReq:
		return d.DHT.HandleFindNodeRequest(pkt.OriginEndpoint, pkt.Header.RequestID, pkt.Payload)

	case wire.TypeStoreReq:
		return d.DHT.HandleStoreRequest(pkt.OriginEndpoint, pkt.Header.RequestID, pkt.Payload)

	case wire.TypeFetchReq:
		return d.DHT.HandleFetchRequest(pkt.OriginEndpoint, pkt.Header.RequestID, pkt.Payload)

	case wire.TypePutValue:
		return d.DHT.HandlePutValue(pkt.Payload)

	case wire.TypeGetValueReq:
		return d.DHT.HandleGetValueRequest(pkt.OriginEndpoint, pkt.Header.RequestID, pkt.Payload)

	// Response-typed messages try the request ledger first; an unknown
	// or late/duplicate request id is logged and dropped (spec §4.8).
	case wire.TypeFindNodeResp, wire.TypeStoreResp, wire.TypeFetchResp,
		wire.TypeFetchNotFound, wire.TypeGetValueResp:
		if !d.Ledger.Complete(pkt.Header.RequestID, pkt.Payload) {
			d.Log.Warn("response with unknown request id",
				zap.Uint8("packet_type", pkt.Header.MessageType),
				zap.Uint32("request_id", pkt.Header.RequestID),
				zap.String("origin_endpoint", pkt.OriginEndpoint))
		}
		return nil

	default:
		d.Log.Warn("unrecognized message type",
			zap.Uint8("packet_type", pkt.Header.MessageType),
			zap.String("origin_endpoint", pkt.OriginEndpoint))
		return nil
	}
}

// handleOnion peels one onion layer addressed to this node and either
// surfaces the terminal message or relays the inner payload to the next
// hop, per spec §4.4.
func (d *Dispatcher) handleOnion(pkt transport.IncomingPacket) error {
	peeled, _, err := onion.Peel(d.Identity.OnionKey, pkt.Payload)
	if err != nil {
		return err
	}

	if peeled.Terminal {
		if d.OnTerminal != nil {
			d.OnTerminal(pkt.OriginEndpoint, peeled.Message)
		}
		return nil
	}

	nextEndpoint, ok := routing.FormatEndpoint(net.IP(peeled.NextIP), peeled.NextPort)
	if !ok {
		return onion.ErrMalformedOnion
	}
	framed := wire.EncodeFrame(wire.TypeOnionLayer, 0, peeled.InnerOnion)
	transport.SendFrame(d.Queues, d.Pool, nextEndpoint, framed)
	return nil
}
