// Command meshd runs one peer of the sourcemesh overlay: a libp2p
// host, the HyParView membership/gossip stack, the replication
// engine, and the scheduler core loop that ties them together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/sourcemesh/meshd/internal/config"
	"github.com/sourcemesh/meshd/internal/node"
	"github.com/sourcemesh/meshd/internal/telemetry"
	"github.com/sourcemesh/meshd/pkg/discovery"
	"github.com/sourcemesh/meshd/pkg/scheduler"
	"github.com/sourcemesh/meshd/pkg/signer"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/transport"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0" -o meshd ./cmd/meshd
var version = "dev"

const (
	eventQueueCapacity = 256
	coreQueueCapacity  = 256
	coreMaxWorkers     = 16
)

func main() {
	configPath := flag.String("config", "", "path to node.yaml (built-in defaults if unset)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal("load config: %v", err)
		}
		cfg = loaded
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		fatal("%v", err)
	}
}

func run(cfg config.NodeConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// On-disk key persistence and SSH-agent integration are out of
	// scope (spec.md Non-goals): a fresh Ed25519 identity is minted
	// every run, the one case signer.InMemory actually signs for.
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return fmt.Errorf("meshd: generate identity: %w", err)
	}
	s, err := signer.NewInMemory(priv)
	if err != nil {
		return fmt.Errorf("meshd: build signer: %w", err)
	}
	logger.Info("meshd: starting", "peer_id", s.PublicKey().String(), "version", version, "listen_addr", cfg.ListenAddr)

	host, err := transport.NewHost(priv, []string{cfg.ListenAddr})
	if err != nil {
		return fmt.Errorf("meshd: start transport: %w", err)
	}
	defer host.Close()

	kdht, err := dht.New(ctx, host.Libp2pHost(), dht.Mode(dht.ModeAutoServer))
	if err != nil {
		return fmt.Errorf("meshd: start dht: %w", err)
	}

	st := store.NewMemStore()
	metrics := telemetry.New(version, runtime.Version())

	n := node.New(logger, cfg, s, host, st, metrics, func() []urn.Urn {
		return node.TrackedURNs(context.Background(), st)
	})

	events := scheduler.NewEventBus(eventQueueCapacity)
	core := scheduler.NewCore(n, n, events, coreMaxWorkers, coreQueueCapacity, n.Timers())
	n.Serve(ctx, core)

	go logEvents(ctx, logger, events)

	rendezvous := cfg.Discovery.Rendezvous
	if rendezvous == "" {
		rendezvous = "sourcemesh/" + cfg.Network
	}
	disc := discovery.New(host.Libp2pHost(), kdht, discovery.Config{
		Rendezvous:     rendezvous,
		BootstrapPeers: cfg.Discovery.BootstrapPeers,
		MDNSEnabled:    cfg.Discovery.MDNSEnabled,
	})
	go pumpDiscovery(ctx, core, disc)
	go func() {
		if err := disc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("meshd: discovery stopped", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, logger, metrics, cfg.Metrics.ListenAddress)
	}

	logger.Info("meshd: running", "active", cfg.Membership.MaxActive, "passive", cfg.Membership.MaxPassive)
	err = core.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("meshd: shutting down")
		return nil
	}
	return err
}

// pumpDiscovery relays discovered candidates into the scheduler core
// as Discovery notifications, translating discovery's own Candidate
// shape into scheduler.PeerAddrs.
func pumpDiscovery(ctx context.Context, core *scheduler.Core, disc *discovery.Discovery) {
	for candidate := range disc.Notifications() {
		d := scheduler.Discovery{Peer: scheduler.PeerAddrs{ID: candidate.ID, ListenAddrs: candidate.ListenAddrs}}
		if err := core.SubmitDiscovery(ctx, d); err != nil {
			return
		}
	}
}

// logEvents drains the scheduler's upstream event bus so gossip and
// membership transitions are observable without a separate consumer;
// SPEC_FULL.md's ambient logging surface has no dedicated UI, so the
// structured log is the only sink.
func logEvents(ctx context.Context, logger *slog.Logger, events *scheduler.EventBus) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events.Out():
			if !ok {
				return
			}
			switch v := ev.(type) {
			case scheduler.Lagged:
				logger.Warn("meshd: event bus dropped entries", "count", v.N)
			case scheduler.Event:
				logger.Debug("meshd: event", "kind", v.Kind, "payload", v.Payload)
			}
		}
	}
}

func serveMetrics(ctx context.Context, logger *slog.Logger, metrics *telemetry.Metrics, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("meshd: serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("meshd: metrics server stopped", "error", err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "meshd: "+format+"\n", args...)
	os.Exit(1)
}
