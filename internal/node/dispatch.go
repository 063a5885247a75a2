package node

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"

	"github.com/sourcemesh/meshd/pkg/gossip"
	"github.com/sourcemesh/meshd/pkg/interrogate"
	"github.com/sourcemesh/meshd/pkg/membership"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/scheduler"
	"github.com/sourcemesh/meshd/pkg/wire"
)

// commandInterrogate carries a CommandInterrogate/CommandQuery request
// through a Tock to Dispatch: the scheduler.Handler side can only
// decide what to ask, never perform the request/response round trip
// itself, since Handler callbacks run on the core goroutine and must
// never block on network I/O.
type commandInterrogate struct {
	cmd scheduler.Command
}

// Dispatch performs the I/O for one Tock, run from the scheduler's
// worker pool (never the core goroutine). It implements
// scheduler.Dispatcher.
func (n *Node) Dispatch(tock scheduler.Tock) error {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if tock.Kind == scheduler.Disconnect {
		id, err := tock.To.ToLibp2p()
		if err != nil {
			return fmt.Errorf("node: dispatch disconnect: %w", err)
		}
		return n.host.Libp2pHost().Network().ClosePeer(id)
	}

	if req, ok := tock.Message.(*commandInterrogate); ok {
		return n.dispatchInterrogate(ctx, req)
	}

	if tock.Kind == scheduler.AttemptSend {
		n.rememberAddrs(tock.To, tock.ToInfo.ListenAddrs)
	}

	proto, env, err := n.encode(tock.Message)
	if err != nil {
		return fmt.Errorf("node: dispatch: %w", err)
	}

	stream, err := n.host.OpenStream(ctx, tock.To, proto)
	if err != nil {
		return fmt.Errorf("node: dispatch: open stream to %s: %w", tock.To, err)
	}
	defer stream.Close()
	return wire.WriteFrame(stream, env)
}

// encode picks the sub-protocol and envelope shape for a membership or
// gossip message, the only two kinds a Tock ever carries directly
// (everything else is routed through dispatchInterrogate/replication's
// own WireSource).
func (n *Node) encode(msg any) (wire.Protocol, any, error) {
	switch msg.(type) {
	case *membership.Join, *membership.ForwardJoin, *membership.Neighbour,
		*membership.Disconnect, *membership.Shuffle, *membership.ShuffleReply, *membership.Tickle:
		env, err := encodeMembership(msg)
		return wire.ProtocolMembership, env, err
	case *gossip.Have, *gossip.Want:
		env, err := encodeGossip(msg)
		return wire.ProtocolGossip, env, err
	default:
		return "", nil, fmt.Errorf("unsupported tock message %T", msg)
	}
}

// rememberAddrs registers a candidate's dial hints with the libp2p
// peerstore before OpenStream tries to reach it; malformed addresses
// are skipped rather than failing the whole dial attempt. A short TTL
// is used since these hints come from gossip/discovery, not a
// long-lived configuration.
func (n *Node) rememberAddrs(to peerid.PeerId, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	id, err := to.ToLibp2p()
	if err != nil {
		return
	}
	parsed := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if ma, err := multiaddr.NewMultiaddr(a); err == nil {
			parsed = append(parsed, ma)
		}
	}
	n.host.Libp2pHost().Peerstore().AddAddrs(id, parsed, peerstore.TempAddrTTL)
}

// dispatchInterrogate performs the request/response round trip a
// CommandInterrogate/CommandQuery asked for. Its result is only
// logged: HandleCommand already returned control to the core loop
// when the Tock was produced, so there is no synchronous caller left
// to hand an answer back to (DESIGN.md's resolution of the open
// question on request/response-shaped downstream commands).
func (n *Node) dispatchInterrogate(ctx context.Context, req *commandInterrogate) error {
	stream, err := n.host.OpenStream(ctx, req.cmd.To, wire.ProtocolInterrogation)
	if err != nil {
		return fmt.Errorf("node: interrogate %s: %w", req.cmd.To, err)
	}

	kind := interrogate.MethodGetAdvertisement
	if k, ok := req.cmd.Payload.(interrogate.MethodKind); ok {
		kind = k
	}

	resp, err := interrogate.Call(stream, interrogate.Request{Kind: kind})
	if err != nil {
		return fmt.Errorf("node: interrogate %s: %w", req.cmd.To, err)
	}
	n.log.Info("node: interrogation answered", "from", req.cmd.To, "kind", kind, "response", resp)
	return nil
}
