package transport

import (
	"context"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"

	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/wire"
)

// ProtocolID is the single libp2p protocol every sub-protocol stream
// (membership, gossip, interrogation, git) is opened under. The
// sub-protocol itself is then chosen on the open stream by
// multistream-select with the string IDs of pkg/wire/upgrade.go
// (wire.SelectOutbound); there is no one-byte upgrade tag.
const ProtocolID = "/sourcemesh/1.0.0"

// Host wraps a libp2p host built with TCP and QUIC transports, the
// same pair the teacher's Network wires in pkg/p2pnet/network.go
// (minus the teacher's optional websocket/relay transports, which
// spec.md's Non-goals exclude).
type Host struct {
	h host.Host
}

// NewHost starts a libp2p host identified by priv, listening on the
// given multiaddr strings.
func NewHost(priv crypto.PrivKey, listenAddrs []string) (*Host, error) {
	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
	}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddrs...))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, &Error{Kind: KindIo, Op: "new-host", Err: err}
	}
	return &Host{h: h}, nil
}

// Libp2pHost returns the underlying libp2p host for callers (gossip,
// membership, interrogation) that need to register stream handlers
// directly.
func (h *Host) Libp2pHost() host.Host { return h.h }

// PeerId returns this host's identity.
func (h *Host) PeerId() (peerid.PeerId, error) {
	return peerid.FromPublicKey(h.h.Peerstore().PubKey(h.h.ID()))
}

// OpenStream opens a stream to remote and negotiates the sub-protocol
// via multistream-select (wire.SelectOutbound) before returning it to
// the caller.
func (h *Host) OpenStream(ctx context.Context, remote peerid.PeerId, p wire.Protocol) (network.Stream, error) {
	libp2pID, err := remote.ToLibp2p()
	if err != nil {
		return nil, &Error{Kind: KindIo, Op: "open-stream", Err: err}
	}
	s, err := h.h.NewStream(ctx, libp2pID, ProtocolID)
	if err != nil {
		return nil, &Error{Kind: KindIo, Op: "open-stream", Err: err}
	}
	if err := wire.SelectOutbound(s, p); err != nil {
		return nil, &Error{Kind: KindUpgradeUnsupported, Op: "open-stream", Err: err}
	}
	return s, nil
}

// Close shuts the host down.
func (h *Host) Close() error {
	if err := h.h.Close(); err != nil {
		return &Error{Kind: KindIo, Op: "close", Err: err}
	}
	return nil
}
