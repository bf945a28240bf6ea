// This file adapts the QUIC transport collaborator (out of scope per
// spec §1) onto the core's incoming/outgoing packet queues. It is
// intentionally thin: listener accept loop, stream read into a header +
// payload IncomingPacket, and an outgoing-queue drain loop that dials and
// writes framed bytes. Connection pooling, NAT traversal, and certificate
// provisioning belong to the transport collaborator proper; this adapter
// exists only so the core has something concrete to run against, grounded
// on the teacher's internal/network/quic.go dev-TLS listen/dial shape.
package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"io"
	"math/big"
	"time"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/shadowmesh/core/internal/bufpool"
	"github.com/shadowmesh/core/internal/wire"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func devCert() (tls.Certificate, *x509.Certificate, error) {
	seed := sha256.Sum256([]byte("shadowmesh-dev-quic-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, cert, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"shadowmesh"}}, nil
}

func clientTLSConfig() (*tls.Config, error) {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"shadowmesh"}}, nil
}

// Listen accepts QUIC connections on addr and pushes every decoded frame
// onto q.Incoming as an IncomingPacket, renting its backing buffer from
// pool (spec §6, §9 buffer-pool discipline).
func Listen(ctx context.Context, addr string, q *Queues, pool *bufpool.Pool, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			return err
		}
		go acceptStreams(ctx, conn, q, pool, log)
	}
}

func acceptStreams(ctx context.Context, conn quic.Connection, q *Queues, pool *bufpool.Pool, log *zap.Logger) {
	origin := conn.RemoteAddr().String()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func(s quic.Stream) {
			defer s.Close()
			data, err := io.ReadAll(s)
			if err != nil || len(data) < wire.HeaderSize {
				return
			}
			hdr, err := wire.DecodeHeader(data[:wire.HeaderSize])
			if err != nil {
				log.Warn("dropping frame with malformed header", zap.String("origin_endpoint", origin))
				return
			}
			payload := data[wire.HeaderSize:]
			buf := pool.Rent(len(payload))
			copy(buf, payload)
			q.Incoming <- IncomingPacket{
				OriginEndpoint: origin,
				Header:         hdr,
				Payload:        buf,
				BackingBuffer:  buf,
			}
		}(stream)
	}
}

// RunOutgoingLoop drains q.Outgoing until ctx is cancelled, dialing
// target addresses and writing each framed message on a fresh stream.
// Matches the teacher's one-shot dial-write-close Send in
// internal/network/quic.go; a production transport would pool
// connections instead.
func RunOutgoingLoop(ctx context.Context, q *Queues, pool *bufpool.Pool, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	tlsConf, err := clientTLSConfig()
	if err != nil {
		log.Error("client TLS config failed", zap.Error(err))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.Outgoing:
			if !ok {
				return
			}
			go deliver(ctx, msg, tlsConf, pool, log)
		}
	}
}

func deliver(ctx context.Context, msg OutgoingMessage, tlsConf *tls.Config, pool *bufpool.Pool, log *zap.Logger) {
	defer ReleaseOutgoing(pool, msg)
	conn, err := quic.DialAddr(ctx, msg.TargetEndpoint, tlsConf, nil)
	if err != nil {
		log.Warn("dial failed", zap.String("target_endpoint", msg.TargetEndpoint), zap.Error(err))
		return
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		log.Warn("open stream failed", zap.String("target_endpoint", msg.TargetEndpoint), zap.Error(err))
		return
	}
	if _, err := stream.Write(msg.FramedBytes); err != nil {
		log.Warn("write failed", zap.String("target_endpoint", msg.TargetEndpoint), zap.Error(err))
	}
	_ = stream.Close()
}
