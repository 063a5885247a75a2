// Package discovery feeds external PeerId+address candidates into
// membership's Join path (spec.md §4.8 scheduler input): a kad-dht
// routing discovery for WAN bootstrap, and zeroconf mDNS for LAN,
// exactly as the teacher's DiscoveryConfig distinguishes the two.
package discovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// MDNSServiceName is the DNS-SD service type used for LAN discovery.
// Fixed for every mesh node; network isolation is a transport-identity
// concern (pkg/transport), not an mDNS service-name concern.
const MDNSServiceName = "_sourcemesh._udp"

const (
	// mdnsBrowseInterval controls how often the LAN is re-browsed.
	mdnsBrowseInterval = 30 * time.Second
	// mdnsBrowseTimeout bounds each browse round.
	mdnsBrowseTimeout = 10 * time.Second
	// peerstoreTTL is how long a browse-discovered address is kept
	// before it must be rediscovered.
	peerstoreTTL = 10 * time.Minute
)

// Candidate is one discovered peer, offered to the scheduler as a
// Discovery notification (scheduler.Discovery wraps the same shape).
type Candidate struct {
	ID          peerid.PeerId
	ListenAddrs []string
}

// Config controls which discovery mechanisms run and how often.
type Config struct {
	Rendezvous       string
	BootstrapPeers   []string
	MDNSEnabled      bool
	AnnounceInterval time.Duration
}

// Discovery runs the configured mechanisms and publishes Candidates on
// a single channel. Candidates may repeat; callers (the scheduler) are
// expected to de-duplicate against the current membership view.
type Discovery struct {
	h    host.Host
	kdht *dht.IpfsDHT
	cfg  Config

	out    chan Candidate
	server *zeroconf.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Discovery bound to h. It does not start anything; call
// Run to begin bootstrapping and browsing.
func New(h host.Host, kdht *dht.IpfsDHT, cfg Config) *Discovery {
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = 5 * time.Minute
	}
	return &Discovery{
		h:    h,
		kdht: kdht,
		cfg:  cfg,
		out:  make(chan Candidate, 64),
	}
}

// Notifications returns the channel Candidates are published on. The
// channel is closed when Run's context is cancelled and all
// background goroutines have stopped.
func (d *Discovery) Notifications() <-chan Candidate { return d.out }

// Run bootstraps the DHT, advertises and periodically rediscovers
// peers under the rendezvous string, and (if enabled) browses mDNS for
// LAN peers. Blocks until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	if err := d.bootstrap(d.ctx); err != nil {
		return err
	}

	routingDiscovery := drouting.NewRoutingDiscovery(d.kdht)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.advertiseLoop(d.ctx, routingDiscovery)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.findPeersLoop(d.ctx, routingDiscovery)
	}()

	if d.cfg.MDNSEnabled {
		if err := d.startMDNS(d.ctx); err != nil {
			slog.Warn("discovery: mdns start failed", "error", err)
		} else {
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.browseMDNS(d.ctx)
			}()
		}
	}

	<-d.ctx.Done()
	d.wg.Wait()
	if d.server != nil {
		d.server.Shutdown()
	}
	close(d.out)
	return d.ctx.Err()
}

func (d *Discovery) bootstrap(ctx context.Context) error {
	if err := d.kdht.Bootstrap(ctx); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, addr := range d.cfg.BootstrapPeers {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			slog.Warn("discovery: invalid bootstrap peer", "addr", addr, "error", err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(pi peer.AddrInfo) {
			defer wg.Done()
			if err := d.h.Connect(ctx, pi); err != nil {
				slog.Debug("discovery: bootstrap connect failed", "peer", pi.ID, "error", err)
			}
		}(*pi)
	}
	wg.Wait()
	return nil
}

func (d *Discovery) advertiseLoop(ctx context.Context, rd *drouting.RoutingDiscovery) {
	ticker := time.NewTicker(d.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		if _, err := rd.Advertise(ctx, d.cfg.Rendezvous); err != nil {
			slog.Debug("discovery: advertise failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Discovery) findPeersLoop(ctx context.Context, rd *drouting.RoutingDiscovery) {
	ticker := time.NewTicker(d.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		d.findPeersOnce(ctx, rd)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Discovery) findPeersOnce(ctx context.Context, rd *drouting.RoutingDiscovery) {
	findCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	peerCh, err := rd.FindPeers(findCtx, d.cfg.Rendezvous)
	if err != nil {
		slog.Debug("discovery: find peers failed", "error", err)
		return
	}
	for pi := range peerCh {
		if pi.ID == d.h.ID() {
			continue
		}
		d.publish(pi)
	}
}

// startMDNS registers this peer's service with zeroconf, advertising
// its dial addresses as TXT records (libp2p's dnsaddr= convention, so
// other mesh nodes and plain libp2p mDNS listeners can both parse them).
func (d *Discovery) startMDNS(ctx context.Context) error {
	addrs, err := d.h.Network().InterfaceListenAddresses()
	if err != nil {
		return err
	}
	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: d.h.ID(), Addrs: addrs})
	if err != nil {
		return err
	}
	var txts []string
	for _, a := range p2pAddrs {
		txts = append(txts, "dnsaddr="+a.String())
	}
	instance := d.h.ID().String()
	server, err := zeroconf.RegisterProxy(instance, MDNSServiceName, "local", 4001, instance, nil, txts, nil)
	if err != nil {
		return err
	}
	d.server = server
	return nil
}

// browseMDNS periodically browses the LAN for other mesh nodes'
// zeroconf advertisements, decoding their dnsaddr= TXT records and
// publishing each as a Candidate.
func (d *Discovery) browseMDNS(ctx context.Context) {
	ticker := time.NewTicker(mdnsBrowseInterval)
	defer ticker.Stop()
	d.runBrowse(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runBrowse(ctx)
		}
	}
}

func (d *Discovery) runBrowse(ctx context.Context) {
	browseCtx, cancel := context.WithTimeout(ctx, mdnsBrowseTimeout)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		if err := zeroconf.Browse(browseCtx, MDNSServiceName, "local", entries); err != nil {
			slog.Debug("discovery: mdns browse failed", "error", err)
		}
	}()
	for entry := range entries {
		for _, txt := range entry.Text {
			addr, ok := strings.CutPrefix(txt, "dnsaddr=")
			if !ok {
				continue
			}
			maddr, err := ma.NewMultiaddr(addr)
			if err != nil {
				continue
			}
			pi, err := peer.AddrInfoFromP2pAddr(maddr)
			if err != nil || pi.ID == d.h.ID() {
				continue
			}
			d.h.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstoreTTL)
			d.publish(*pi)
		}
	}
}

func (d *Discovery) publish(pi peer.AddrInfo) {
	pub := d.h.Peerstore().PubKey(pi.ID)
	if pub == nil {
		// No cached public key for this peer yet (address-only
		// advertisement); nothing to turn into a PeerId until a
		// handshake resolves it.
		return
	}
	id, err := peerid.FromPublicKey(pub)
	if err != nil {
		return
	}
	addrs := make([]string, 0, len(pi.Addrs))
	for _, a := range pi.Addrs {
		addrs = append(addrs, a.String())
	}
	select {
	case d.out <- Candidate{ID: id, ListenAddrs: addrs}:
	case <-d.ctx.Done():
	default:
		slog.Debug("discovery: candidate channel full, dropping", "peer", pi.ID)
	}
}
