// Command shadowmesh-node wires the protocol core's components together
// and runs the dispatcher against a QUIC transport collaborator. Argument
// parsing and process bootstrap are explicitly out of scope for the core
// (spec §1); this file is the thin glue the core needs to actually run,
// following the teacher's flag.NewFlagSet / run(args, stdout, stderr)
// shape in cmd/web4-node/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shadowmesh/core/internal/blobstore"
	"github.com/shadowmesh/core/internal/bufpool"
	"github.com/shadowmesh/core/internal/config"
	"github.com/shadowmesh/core/internal/dht"
	"github.com/shadowmesh/core/internal/dispatch"
	"github.com/shadowmesh/core/internal/handshake"
	"github.com/shadowmesh/core/internal/identity"
	"github.com/shadowmesh/core/internal/ledger"
	"github.com/shadowmesh/core/internal/logging"
	"github.com/shadowmesh/core/internal/mutablerecord"
	"github.com/shadowmesh/core/internal/peertable"
	"github.com/shadowmesh/core/internal/routing"
	"github.com/shadowmesh/core/internal/transport"
	"github.com/shadowmesh/core/internal/wire"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shadowmesh-node", flag.ContinueOnError)
	fs.SetOutput(stderr)
	port := fs.Uint("port", 0, "transport listening port")
	seedPort := fs.Uint("seed-port", 0, "bootstrap peer port on 127.0.0.1")
	debug := fs.Bool("debug", false, "enable verbose development logging")
	dataDir := fs.String("data-dir", "", "on-disk state directory (default: process base directory)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *port == 0 {
		fmt.Fprintln(stderr, "missing --port")
		return 1
	}

	base := *dataDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(stderr, "getwd: %v\n", err)
			return 1
		}
		base = wd
	}
	base = filepath.Clean(base)

	log, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer log.Sync()

	cfg := config.Default(base)
	cfg.Port = uint16(*port)
	cfg.SeedPort = uint16(*seedPort)
	cfg.Debug = *debug

	node, err := newNode(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "node init failed: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(stdout, "shadowmesh-node listening on port %d, node_id=%x\n", cfg.Port, node.Identity.ID)
	if err := node.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	return 0
}

// node bundles every wired component for one running instance, per spec
// §5 "Global state": the blob-store directory, key files, peer table,
// routing table, request ledger, and node identity are all initialized
// once here and torn down on graceful shutdown.
type node struct {
	Identity   *identity.Identity
	Config     config.Settings
	Peers      *peertable.Table
	Routing    *routing.Table
	Ledger     *ledger.Ledger
	Blobs      *blobstore.Store
	Records    *mutablerecord.Store
	Pool       *bufpool.Pool
	Queues     *transport.Queues
	DHT        *dht.Service
	Handshake  *handshake.Handler
	Dispatcher *dispatch.Dispatcher
	Log        *zap.Logger
}

func newNode(cfg config.Settings, log *zap.Logger) (*node, error) {
	id, err := identity.Load(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.New(filepath.Join(cfg.DataDir, "blobs"), id.StorageKey)
	if err != nil {
		return nil, err
	}
	records, err := mutablerecord.NewStore(0)
	if err != nil {
		return nil, err
	}

	peers := peertable.New()
	rt := routing.New(id.ID)
	led := ledger.New()
	pool := bufpool.New()
	queues := transport.NewQueues()

	dhtSvc := dht.New(id.ID, rt, peers, led, blobs, records, queues, pool, cfg, log)
	rt.PingHead = dhtSvc.PingEndpoint
	hs := handshake.New(peers, cfg.HandshakeClockSkew)

	disp := dispatch.New(id, hs, dhtSvc, led, pool, queues, log, func(origin string, message []byte) {
		log.Info("terminal onion message delivered", zap.String("origin_endpoint", origin), zap.Int("bytes", len(message)))
	})

	return &node{
		Identity: id, Config: cfg, Peers: peers, Routing: rt, Ledger: led,
		Blobs: blobs, Records: records, Pool: pool, Queues: queues,
		DHT: dhtSvc, Handshake: hs, Dispatcher: disp, Log: log,
	}, nil
}

// Run starts the transport collaborator and the dispatcher loop, issues
// an outgoing handshake to any configured seed peer, and bootstraps the
// DHT once that peer is known (spec §4.6 "Bootstrap").
func (n *node) Run(ctx context.Context) error {
	listenAddr := fmt.Sprintf(":%d", n.Config.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := transport.Listen(ctx, listenAddr, n.Queues, n.Pool, n.Log); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	go transport.RunOutgoingLoop(ctx, n.Queues, n.Pool, n.Log)

	if n.Config.SeedPort != 0 {
		go n.bootstrapFromSeed(ctx)
	}

	go n.Dispatcher.Run(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (n *node) bootstrapFromSeed(ctx context.Context) {
	seedEndpoint := fmt.Sprintf("127.0.0.1:%d", n.Config.SeedPort)
	time.Sleep(200 * time.Millisecond) // let the listener come up first

	payload := handshake.Build(n.Identity, time.Now())
	framed := wire.EncodeFrame(wire.TypeHandshake, 0, payload)
	transport.SendFrame(n.Queues, n.Pool, seedEndpoint, framed)

	if err := n.DHT.Bootstrap(ctx, seedEndpoint); err != nil {
		n.Log.Warn("dht bootstrap failed", zap.String("seed_endpoint", seedEndpoint), zap.Error(err))
	}
}
