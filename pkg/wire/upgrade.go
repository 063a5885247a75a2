package wire

import (
	"context"
	"fmt"
	"io"

	"github.com/multiformats/go-multistream"
)

// Protocol names the sub-protocol a freshly opened stream negotiates
// via multistream-select, matching spec.md §4.9's upgrade tags.
type Protocol string

const (
	ProtocolMembership    Protocol = "/mesh/membership/1.0.0"
	ProtocolGossip        Protocol = "/mesh/gossip/1.0.0"
	ProtocolInterrogation Protocol = "/mesh/interrogate/1.0.0"
	ProtocolGit           Protocol = "/mesh/git/2"
	ProtocolRequestPull   Protocol = "/mesh/request-pull/1.0.0"
)

// AllProtocols is the set an inbound multistream listener advertises.
var AllProtocols = []Protocol{
	ProtocolMembership, ProtocolGossip, ProtocolInterrogation, ProtocolGit, ProtocolRequestPull,
}

// Handler processes one negotiated stream of a given protocol.
type Handler func(ctx context.Context, proto Protocol, stream io.ReadWriteCloser) error

// Multiplexer dispatches inbound streams to per-protocol handlers
// after multistream-select negotiation, and dials outbound streams
// with a chosen protocol pre-selected. It is the upgrade-tag
// dispatcher spec.md describes: "the tag is checked before
// dispatching and an unsupported tag produces a hard close."
type Multiplexer struct {
	mux      *multistream.MultistreamMuxer[string]
	handlers map[Protocol]Handler
}

// NewMultiplexer builds a Multiplexer with no handlers registered.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		mux:      multistream.NewMultistreamMuxer[string](),
		handlers: make(map[Protocol]Handler),
	}
}

// Handle registers h to serve proto, advertising it during negotiation.
func (m *Multiplexer) Handle(proto Protocol, h Handler) {
	m.handlers[proto] = h
	m.mux.AddHandler(string(proto), nil)
}

// Serve negotiates the protocol for an inbound stream and dispatches
// to its handler. An unsupported or failed negotiation closes stream
// and returns an error — the "hard close" spec.md requires.
func (m *Multiplexer) Serve(ctx context.Context, stream io.ReadWriteCloser) error {
	selected, _, err := m.mux.Negotiate(stream)
	if err != nil {
		stream.Close()
		return fmt.Errorf("wire: negotiate protocol: %w", err)
	}
	h, ok := m.handlers[Protocol(selected)]
	if !ok {
		stream.Close()
		return fmt.Errorf("wire: no handler registered for negotiated protocol %q", selected)
	}
	return h(ctx, Protocol(selected), stream)
}

// SelectOutbound performs client-side multistream-select, proposing
// proto on a freshly dialed stream.
func SelectOutbound(stream io.ReadWriteCloser, proto Protocol) error {
	if err := multistream.SelectProtoOrFail(string(proto), stream); err != nil {
		stream.Close()
		return fmt.Errorf("wire: select protocol %q: %w", proto, err)
	}
	return nil
}
