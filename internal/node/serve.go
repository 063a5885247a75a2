package node

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/scheduler"
	"github.com/sourcemesh/meshd/pkg/transport"
	"github.com/sourcemesh/meshd/pkg/wire"
)

// Serve registers every sub-protocol this node answers, dispatching
// each inbound stream after wire.Multiplexer negotiates which one the
// remote asked for. It must be called before Core.Run starts, since
// the libp2p host begins accepting streams as soon as it's listening.
func (n *Node) Serve(ctx context.Context, core *scheduler.Core) {
	mux := wire.NewMultiplexer()
	mux.Handle(wire.ProtocolMembership, n.serveEnvelope(core, decodeMembershipEnvelope))
	mux.Handle(wire.ProtocolGossip, n.serveEnvelope(core, decodeGossipEnvelope))
	mux.Handle(wire.ProtocolInterrogation, n.serveInterrogation())
	mux.Handle(wire.ProtocolGit, n.serveGit())

	n.host.Libp2pHost().SetStreamHandler(protocol.ID(transport.ProtocolID), func(s network.Stream) {
		if err := mux.Serve(ctx, s); err != nil {
			n.log.Debug("node: stream serve failed", "error", err)
		}
	})
}

// remotePeerID recovers the PeerId of a stream's remote end: libp2p
// only hands us a peer.ID, so the corresponding PeerId is recovered
// from the host's peerstore, per peerid's "no raw peer.ID-only
// constructor" design.
func (n *Node) remotePeerID(s network.Stream) (peerid.PeerId, error) {
	remote := s.Conn().RemotePeer()
	pub := n.host.Libp2pHost().Peerstore().PubKey(remote)
	if pub == nil {
		return peerid.PeerId{}, fmt.Errorf("node: no public key on record for peer %s", remote)
	}
	return peerid.FromPublicKey(pub)
}

// decodeMembershipEnvelope and decodeGossipEnvelope adapt the CBOR
// tagged-union envelopes of wire.go into the bare message types
// Node.HandleInbound type-switches on.
func decodeMembershipEnvelope(stream io.Reader) (any, error) {
	var env membershipEnvelope
	if err := wire.ReadFrame(stream, &env); err != nil {
		return nil, err
	}
	return env.unwrap()
}

func decodeGossipEnvelope(stream io.Reader) (any, error) {
	var env gossipEnvelope
	if err := wire.ReadFrame(stream, &env); err != nil {
		return nil, err
	}
	return env.unwrap()
}

// serveEnvelope builds a wire.Handler that decodes one envelope frame
// with decode, recovers the sender's PeerId, and submits it to core as
// an Inbound — used for both the membership and gossip sub-protocols,
// which share the same one-frame-per-stream shape.
func (n *Node) serveEnvelope(core *scheduler.Core, decode func(io.Reader) (any, error)) wire.Handler {
	return func(ctx context.Context, _ wire.Protocol, stream io.ReadWriteCloser) error {
		defer stream.Close()
		msg, err := decode(stream)
		if err != nil {
			return fmt.Errorf("node: decode envelope: %w", err)
		}
		netStream, ok := stream.(network.Stream)
		if !ok {
			return fmt.Errorf("node: stream handler invoked on a non-libp2p stream")
		}
		from, err := n.remotePeerID(netStream)
		if err != nil {
			return fmt.Errorf("node: identify remote: %w", err)
		}
		return core.SubmitInbound(ctx, scheduler.Inbound{From: from, Message: msg})
	}
}

func (n *Node) serveInterrogation() wire.Handler {
	return func(ctx context.Context, _ wire.Protocol, stream io.ReadWriteCloser) error {
		var remoteAddr net.Addr
		if netStream, ok := stream.(network.Stream); ok {
			if a, err := manet.ToNetAddr(netStream.Conn().RemoteMultiaddr()); err == nil {
				remoteAddr = a
			}
		}
		return n.interrSrv.Handle(ctx, stream, remoteAddr)
	}
}

func (n *Node) serveGit() wire.Handler {
	return func(ctx context.Context, _ wire.Protocol, stream io.ReadWriteCloser) error {
		return n.replSrv.Handle(ctx, stream)
	}
}
