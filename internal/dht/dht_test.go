package dht

import (
	"testing"
	"time"

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

func newTestService(t *testing.T) (*Service, identity.NodeID) {
	t.Helper()
	var local identity.NodeID
	local[0] = 0xAA

	blobs, err := blobstore.New(t.TempDir(), make([]byte, cryptocore.KeySize))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	records, err := mutablerecord.NewStore(0)
	if err != nil {
		t.Fatalf("mutablerecord.NewStore: %v", err)
	}
	cfg := config.Default(t.TempDir())
	svc := New(local, routing.New(local), peertable.New(), ledger.New(), blobs, records, transport.NewQueues(), bufpool.New(), cfg, nil)
	return svc, local
}

func TestFindNodeHandlerRespondsToRequest(t *testing.T) {
	svc, _ := newTestService(t)

	var contactID identity.NodeID
	contactID[0] = 0x01
	svc.Routing.AddContact(routing.Contact{NodeID: contactID, Endpoint: "127.0.0.1:12345", LastSeen: time.Now()})

	var target identity.NodeID
	copy(target[:], contactID[:])

	if err := svc.HandleFindNodeRequest("127.0.0.1:40000", 0, target[:]); err != nil {
		t.Fatalf("HandleFindNodeRequest: %v", err)
	}

	select {
	case out := <-svc.Queues.Outgoing:
		hdr, err := wire.DecodeHeader(out.FramedBytes[:wire.HeaderSize])
		if err != nil {
			t.Fatalf("DecodeHeader: %v", err)
		}
		if hdr.MessageType != wire.TypeFindNodeResp {
			t.Fatalf("expected TypeFindNodeResp, got %#x", hdr.MessageType)
		}
	default:
		t.Fatal("expected an outgoing message")
	}
}

func TestStoreAndFetchHandlerRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	plaintext := []byte("chunk contents")

	if err := svc.HandleStoreRequest("127.0.0.1:1", 7, plaintext); err != nil {
		t.Fatalf("HandleStoreRequest: %v", err)
	}
	digest := cryptocore.SHA256(plaintext)

	out := <-svc.Queues.Outgoing
	hdr, err := wire.DecodeHeader(out.FramedBytes[:wire.HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.MessageType != wire.TypeStoreResp {
		t.Fatalf("expected TypeStoreResp, got %#x", hdr.MessageType)
	}
	gotDigest := out.FramedBytes[wire.HeaderSize:]
	if string(gotDigest) != string(digest[:]) {
		t.Fatalf("digest mismatch")
	}

	if err := svc.HandleFetchRequest("127.0.0.1:1", 9, digest[:]); err != nil {
		t.Fatalf("HandleFetchRequest: %v", err)
	}
	out = <-svc.Queues.Outgoing
	hdr, err = wire.DecodeHeader(out.FramedBytes[:wire.HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.MessageType != wire.TypeFetchResp {
		t.Fatalf("expected TypeFetchResp, got %#x", hdr.MessageType)
	}
	if string(out.FramedBytes[wire.HeaderSize:]) != string(plaintext) {
		t.Fatalf("plaintext mismatch")
	}
}

func TestFetchHandlerNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	var digest [32]byte
	digest[0] = 0xFF
	if err := svc.HandleFetchRequest("127.0.0.1:1", 5, digest[:]); err != nil {
		t.Fatalf("HandleFetchRequest: %v", err)
	}
	out := <-svc.Queues.Outgoing
	hdr, err := wire.DecodeHeader(out.FramedBytes[:wire.HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.MessageType != wire.TypeFetchNotFound {
		t.Fatalf("expected TypeFetchNotFound, got %#x", hdr.MessageType)
	}
}

func TestPutValueAndGetValueHandlerRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	pub, priv, err := cryptocore.GenerateIdentityKey()
	if err != nil {
		t.Fatalf("GenerateIdentityKey: %v", err)
	}
	rec := mutablerecord.Sign(priv, 3, []byte("manifest-digest"))

	var ownerArr [32]byte
	copy(ownerArr[:], rec.Owner)
	var sigArr [64]byte
	copy(sigArr[:], rec.Signature)
	payload, err := wire.EncodeMutableRecord(ownerArr, rec.Sequence, sigArr, rec.Value)
	if err != nil {
		t.Fatalf("EncodeMutableRecord: %v", err)
	}

	if err := svc.HandlePutValue(payload); err != nil {
		t.Fatalf("HandlePutValue: %v", err)
	}

	if err := svc.HandleGetValueRequest("127.0.0.1:1", 11, pub); err != nil {
		t.Fatalf("HandleGetValueRequest: %v", err)
	}
	out := <-svc.Queues.Outgoing
	hdr, err := wire.DecodeHeader(out.FramedBytes[:wire.HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.MessageType != wire.TypeGetValueResp {
		t.Fatalf("expected TypeGetValueResp, got %#x", hdr.MessageType)
	}
	decoded, err := wire.DecodeMutableRecord(out.FramedBytes[wire.HeaderSize:])
	if err != nil {
		t.Fatalf("DecodeMutableRecord: %v", err)
	}
	if decoded.Sequence != 3 || string(decoded.Value) != "manifest-digest" {
		t.Fatalf("record mismatch: %+v", decoded)
	}
}

func TestPingEndpointReportsLiveness(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Config.FindNodeTimeout = 50 * time.Millisecond

	go func() {
		out := <-svc.Queues.Outgoing
		hdr, err := wire.DecodeHeader(out.FramedBytes[:wire.HeaderSize])
		if err != nil {
			t.Errorf("DecodeHeader: %v", err)
			return
		}
		encoded, err := wire.EncodeFindNodeResponse(nil)
		if err != nil {
			t.Errorf("EncodeFindNodeResponse: %v", err)
			return
		}
		svc.Ledger.Complete(hdr.RequestID, encoded)
	}()

	if !svc.PingEndpoint("127.0.0.1:1") {
		t.Fatal("expected PingEndpoint to report liveness on a timely response")
	}
}

func TestPingEndpointReportsDeathOnTimeout(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Config.FindNodeTimeout = 10 * time.Millisecond

	resultCh := make(chan bool, 1)
	go func() { resultCh <- svc.PingEndpoint("127.0.0.1:1") }()
	<-svc.Queues.Outgoing // drain the probe; nothing ever completes it

	if alive := <-resultCh; alive {
		t.Fatal("expected PingEndpoint to report death when the probe times out")
	}
}

func TestPutValueRejectsInvalidSignature(t *testing.T) {
	svc, _ := newTestService(t)
	_, priv, err := cryptocore.GenerateIdentityKey()
	if err != nil {
		t.Fatalf("GenerateIdentityKey: %v", err)
	}
	rec := mutablerecord.Sign(priv, 1, []byte("v"))
	rec.Signature[0] ^= 0xFF

	err = svc.PutValue(nil, rec)
	if err != mutablerecord.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
