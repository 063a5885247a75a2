// Package node wires the independently-testable pkg/* subsystems
// (object store, identity verifier, replication engine, gossip,
// membership, scheduler, transport, discovery, interrogation) into one
// running process: the scheduler.Handler/Dispatcher implementation
// cmd/meshd's main loop drives, per SPEC_FULL.md §0.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcemesh/meshd/internal/config"
	"github.com/sourcemesh/meshd/internal/telemetry"
	"github.com/sourcemesh/meshd/pkg/gossip"
	"github.com/sourcemesh/meshd/pkg/interrogate"
	"github.com/sourcemesh/meshd/pkg/membership"
	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/replication"
	"github.com/sourcemesh/meshd/pkg/scheduler"
	"github.com/sourcemesh/meshd/pkg/signer"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/transport"
	"github.com/sourcemesh/meshd/pkg/urn"
	"github.com/sourcemesh/meshd/pkg/wire"
	"golang.org/x/time/rate"
)

// dispatchTimeout bounds every individual Tock's network round trip,
// so a single unresponsive peer can never pin down a worker-pool slot
// indefinitely.
const dispatchTimeout = 15 * time.Second

// Node owns every long-lived subsystem one running peer needs and
// implements scheduler.Handler and scheduler.Dispatcher over them.
// Protocol decisions (membership.Protocol, gossip.Apply) only ever run
// from HandleInbound/HandleTimer/HandleCommand/HandleDiscovery, on the
// scheduler's single core goroutine; Dispatch, which does the actual
// network I/O, only ever runs from the worker pool.
type Node struct {
	log    *slog.Logger
	self   peerid.PeerId
	signer signer.Signer

	host *transport.Host
	cfg  config.NodeConfig

	store store.Store

	view    *membership.View
	proto   *membership.Protocol
	members membershipMembership

	gossipStorage *gossipStorage
	limiter       *gossip.RateLimiter
	dedup         *gossip.Dedup

	repl      *replication.Engine
	replSrv   *replication.Server
	interrSrv *interrogate.Server

	metrics *telemetry.Metrics
}

// New builds a Node. self is derived from s; host must already be
// listening.
func New(log *slog.Logger, cfg config.NodeConfig, s signer.Signer, host *transport.Host, st store.Store, metrics *telemetry.Metrics, trackedUrns func() []urn.Urn) *Node {
	self := s.PublicKey()
	view := membership.NewView(self, cfg.Membership.MaxActive, cfg.Membership.MaxPassive)
	selfInfo := membership.PeerInfo{ID: self, ListenAddrs: []string{cfg.ListenAddr}}

	n := &Node{
		log:     log,
		self:    self,
		signer:  s,
		host:    host,
		cfg:     cfg,
		store:   st,
		view:    view,
		proto:   membership.NewProtocol(view, selfInfo, 0),
		members: membershipMembership{view: view},
		limiter: gossip.NewRateLimiter(
			rate.Limit(cfg.RateLimits.Errors), int(cfg.RateLimits.Errors),
			rate.Limit(cfg.RateLimits.WantsPerPeer), int(cfg.RateLimits.WantsPerPeer),
		),
		dedup:     gossip.NewDedup(0),
		replSrv:   &replication.Server{Store: st},
		interrSrv: &interrogate.Server{Advertisement: interrogate.Advertisement{ListenAddrs: []string{cfg.ListenAddr}, Capabilities: []string{"git", "gossip", "membership"}}, LocalUrns: trackedUrns},
		metrics:   metrics,
	}

	replCfg := replication.DefaultConfig()
	replCfg.MaxBytes = cfg.Replication.MaxPackBytes
	replCfg.MaxIndexerThreads = cfg.Replication.MaxIndexerThreads
	replCfg.SlotWaitTimeout = cfg.Replication.FetchSlotWaitTimeout
	n.repl = replication.NewEngine(st, self, replCfg, n.openSource)

	n.gossipStorage = newGossipStorage(n.onGossipApplied)
	return n
}

// Self returns the node's own identity.
func (n *Node) Self() peerid.PeerId { return n.self }

// Timers returns the periodic inputs the scheduler.Core multiplexes:
// membership's shuffle/tickle/promotion sweeps, spec.md §4.7/§4.8.
func (n *Node) Timers() []scheduler.Timer {
	return []scheduler.Timer{
		{Name: "membership.shuffle", Interval: 30 * time.Second},
		{Name: "membership.tickle", Interval: 10 * time.Second},
		{Name: "membership.promote", Interval: 20 * time.Second},
	}
}

// HandleTimer fires one of Timers' periodic sweeps.
func (n *Node) HandleTimer(_ context.Context, name string) []scheduler.Tock {
	var tocks []membership.Tock
	switch name {
	case "membership.shuffle":
		tocks = n.proto.PeriodicShuffle()
	case "membership.tickle":
		tocks = n.proto.PeriodicTickle()
	case "membership.promote":
		tocks = n.proto.PeriodicRandomPromotion()
	}
	return adaptMembershipTocks(tocks)
}

// HandleDiscovery turns a newly discovered candidate into a Join
// attempt, per SPEC_FULL.md §2: the discovery layer feeds
// membership's Join path rather than joining the view directly.
func (n *Node) HandleDiscovery(_ context.Context, d scheduler.Discovery) []scheduler.Tock {
	if d.Peer.ID.Equal(n.self) || n.view.IsKnown(d.Peer.ID) {
		return nil
	}
	join := &membership.Join{Peer: membership.PeerInfo{ID: n.self, ListenAddrs: []string{n.cfg.ListenAddr}}}
	return []scheduler.Tock{{
		Kind:    scheduler.AttemptSend,
		To:      d.Peer.ID,
		ToInfo:  scheduler.PeerAddrs{ID: d.Peer.ID, ListenAddrs: d.Peer.ListenAddrs},
		Message: join,
	}}
}

// HandleCommand turns a downstream request into Tocks: CommandConnect
// sends our own Join to a chosen peer, CommandAnnounce broadcasts a
// gossip.Have, CommandInterrogate/CommandQuery ask a peer's
// interrogation RPC (answered asynchronously by Dispatch; the result
// is logged there, since Handler itself must not block on I/O).
func (n *Node) HandleCommand(_ context.Context, cmd scheduler.Command) []scheduler.Tock {
	switch cmd.Kind {
	case scheduler.CommandConnect:
		join := &membership.Join{Peer: membership.PeerInfo{ID: n.self, ListenAddrs: []string{n.cfg.ListenAddr}}}
		return []scheduler.Tock{{Kind: scheduler.AttemptSend, To: cmd.To, ToInfo: cmd.ToInfo, Message: join}}

	case scheduler.CommandAnnounce:
		payload, ok := cmd.Payload.(gossip.Payload)
		if !ok {
			n.log.Warn("node: announce command missing a gossip.Payload", "to", cmd.To)
			return nil
		}
		have := &gossip.Have{Origin: gossip.PeerInfo{ID: n.self, ListenAddrs: []string{n.cfg.ListenAddr}}, Payload: payload}
		var tocks []scheduler.Tock
		for _, member := range n.members.Members(nil) {
			tocks = append(tocks, scheduler.Tock{Kind: scheduler.SendConnected, To: member, Message: have})
		}
		return tocks

	case scheduler.CommandInterrogate, scheduler.CommandQuery:
		return []scheduler.Tock{{Kind: scheduler.AttemptSend, To: cmd.To, ToInfo: cmd.ToInfo, Message: &commandInterrogate{cmd: cmd}}}

	default:
		return nil
	}
}

// HandleInbound processes one decoded message received from a peer:
// membership and gossip messages drive their respective protocol
// state machines; everything else (interrogation, git-transport
// requests) is answered directly on its own stream by Serve's
// handlers and never reaches the core loop.
func (n *Node) HandleInbound(ctx context.Context, in scheduler.Inbound) ([]scheduler.Tock, []scheduler.Event) {
	switch msg := in.Message.(type) {
	case *membership.Join:
		transitions, tocks := n.proto.HandleJoin(*msg)
		return adaptMembershipTocks(tocks), membershipEvents(transitions)
	case *membership.ForwardJoin:
		transitions, tocks := n.proto.HandleForwardJoin(*msg, in.From)
		return adaptMembershipTocks(tocks), membershipEvents(transitions)
	case *membership.Neighbour:
		transitions, tocks := n.proto.HandleNeighbour(*msg)
		return adaptMembershipTocks(tocks), membershipEvents(transitions)
	case *membership.Disconnect:
		transitions, tocks := n.proto.HandleDisconnect(*msg, in.From)
		return adaptMembershipTocks(tocks), membershipEvents(transitions)
	case *membership.Shuffle:
		transitions, tocks := n.proto.HandleShuffle(*msg, in.From)
		return adaptMembershipTocks(tocks), membershipEvents(transitions)
	case *membership.ShuffleReply:
		transitions := n.proto.HandleShuffleReply(*msg)
		return nil, membershipEvents(transitions)
	case *membership.Tickle:
		return nil, nil

	case *gossip.Have:
		if n.dedup.Seen('h', msg.Payload) {
			return nil, nil
		}
		event, tocks, err := gossip.Apply(ctx, n.members, n.gossipStorage, n.limiter, gossip.PeerInfo{ID: n.self, ListenAddrs: []string{n.cfg.ListenAddr}}, in.From, msg)
		return n.finishGossip(event, tocks, err)
	case *gossip.Want:
		if n.dedup.Seen('w', msg.Payload) {
			return nil, nil
		}
		event, tocks, err := gossip.Apply(ctx, n.members, n.gossipStorage, n.limiter, gossip.PeerInfo{ID: n.self, ListenAddrs: []string{n.cfg.ListenAddr}}, in.From, msg)
		return n.finishGossip(event, tocks, err)

	default:
		n.log.Debug("node: unhandled inbound message", "type", fmt.Sprintf("%T", msg), "from", in.From)
		return nil, nil
	}
}

func (n *Node) finishGossip(event *gossip.Event, tocks []gossip.Tock, err error) ([]scheduler.Tock, []scheduler.Event) {
	if err != nil {
		n.log.Debug("node: gossip message rejected", "error", err)
		return nil, nil
	}
	out := make([]scheduler.Tock, len(tocks))
	for i, t := range tocks {
		out[i] = scheduler.FromGossip(t)
	}
	if event == nil {
		return out, nil
	}
	if n.metrics != nil {
		n.metrics.GossipMessagesTotal.WithLabelValues("have", event.Outcome.String()).Inc()
	}
	return out, []scheduler.Event{{Kind: scheduler.GossipEvent, Payload: *event}}
}

func adaptMembershipTocks(tocks []membership.Tock) []scheduler.Tock {
	if len(tocks) == 0 {
		return nil
	}
	out := make([]scheduler.Tock, len(tocks))
	for i, t := range tocks {
		out[i] = scheduler.FromMembership(t)
	}
	return out
}

func membershipEvents(transitions []membership.Transition) []scheduler.Event {
	if len(transitions) == 0 {
		return nil
	}
	out := make([]scheduler.Event, len(transitions))
	for i, t := range transitions {
		out[i] = scheduler.Event{Kind: scheduler.MembershipEvent, Payload: t}
	}
	return out
}

// onGossipApplied is gossipStorage's callback: a newly-applied
// announcement is worth replicating. It must not block the core
// goroutine that invoked Put synchronously, so the actual fetch runs
// in its own goroutine, bounded by its own timeout.
func (n *Node) onGossipApplied(payload gossip.Payload, origin peerid.PeerId) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Replication.FetchSlotWaitTimeout+30*time.Second)
		defer cancel()

		source, err := n.openSource(ctx, origin)
		if err != nil {
			n.log.Warn("node: opening replication source failed", "remote", origin, "error", err)
			return
		}
		report, err := n.repl.Replicate(ctx, source, payload.URN)
		outcome := "error"
		if err == nil {
			outcome = "applied"
		}
		if n.metrics != nil {
			n.metrics.ReplicationOutcomesTotal.WithLabelValues(outcome).Inc()
		}
		if err != nil {
			n.log.Warn("node: replication failed", "urn", payload.URN, "remote", origin, "error", err)
			return
		}
		n.log.Info("node: replication applied", "urn", payload.URN, "remote", origin, "refs", len(report.Refs))
	}()
}

// openSource dials remote and negotiates the git-transport
// sub-protocol, wrapping the resulting stream as a
// replication.RemoteSource. It is also used as the Engine's
// SourceFactory for Phase F recursion into a remote's own tracks.
func (n *Node) openSource(ctx context.Context, remote peerid.PeerId) (replication.RemoteSource, error) {
	stream, err := n.host.OpenStream(ctx, remote, wire.ProtocolGit)
	if err != nil {
		return nil, fmt.Errorf("node: open git-transport stream to %s: %w", remote, err)
	}
	return &replication.WireSource{Stream: stream, RemoteID: remote}, nil
}

// refsNamespacesPrefix is the store-level root every project's ref
// tree lives under (refname.OwnedRef.String()'s own prefix, repeated
// here because refname keeps its copy unexported).
const refsNamespacesPrefix = "refs/namespaces/"

// TrackedURNs enumerates the projects this store holds an identity
// root for, by scanning for refs/rad/id leaves. It is passed to
// interrogate.Server as LocalUrns so GetUrns reflects the locally
// tracked set without a separate index.
func TrackedURNs(ctx context.Context, st store.Store) []urn.Urn {
	iter, err := st.ScanRefs(ctx, refsNamespacesPrefix)
	if err != nil {
		return nil
	}
	var out []urn.Urn
	for {
		entry, ok := iter.Next()
		if !ok {
			break
		}
		rest, ok := strings.CutPrefix(entry.Name, refsNamespacesPrefix)
		if !ok {
			continue
		}
		rootStr, leaf, ok := strings.Cut(rest, "/")
		if !ok || leaf != "refs/rad/id" {
			continue
		}
		root, err := oid.Parse(rootStr)
		if err != nil {
			continue
		}
		u, err := urn.New(root, "")
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}
