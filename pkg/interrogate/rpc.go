// Package interrogate implements the request/response RPC of spec.md
// §6 ("Wire: interrogation RPC"): GetAdvertisement, EchoAddr, and
// GetUrns, carried as CBOR frames over a stream negotiated with
// wire.ProtocolInterrogation, plus the Xor16 filter GetUrns answers
// with (xor16.go).
package interrogate

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/urn"
	"github.com/sourcemesh/meshd/pkg/wire"
)

// MethodKind names which of the three RPCs a Request carries.
type MethodKind uint8

const (
	MethodGetAdvertisement MethodKind = iota
	MethodEchoAddr
	MethodGetUrns
)

// Request is the single envelope every interrogation call sends; only
// Kind's corresponding field is meaningful.
type Request struct {
	Kind MethodKind `cbor:"0,keyasint"`
}

// Advertisement answers GetAdvertisement: the responder's listen
// addresses and declared capabilities.
type Advertisement struct {
	ListenAddrs  []string `cbor:"0,keyasint"`
	Capabilities []string `cbor:"1,keyasint"`
}

// YourAddr answers EchoAddr: the socket address the responder
// observed the request arriving from, letting a caller behind NAT
// learn its own externally visible address.
type YourAddr struct {
	SocketAddr string `cbor:"0,keyasint"`
}

// Urns answers GetUrns: an approximate-membership filter over the
// responder's locally known URNs.
type Urns struct {
	Filter Xor16 `cbor:"0,keyasint"`
}

// Response is the single envelope every RPC answer is framed in.
// Exactly one of Advertisement, Addr, or Urns is set, matching
// Request.Kind; Err is set instead on failure.
type Response struct {
	Advertisement *Advertisement `cbor:"0,keyasint,omitempty"`
	Addr          *YourAddr      `cbor:"1,keyasint,omitempty"`
	Urns          *Urns          `cbor:"2,keyasint,omitempty"`
	Err           string         `cbor:"3,keyasint,omitempty"`
}

// Server answers interrogation requests over streams the transport
// layer hands it after negotiating wire.ProtocolInterrogation.
type Server struct {
	// Advertisement is returned verbatim for GetAdvertisement.
	Advertisement Advertisement
	// LocalUrns enumerates the URNs to build a GetUrns filter from,
	// lazily (called once per request so the filter always reflects
	// the current tracked set).
	LocalUrns func() []urn.Urn
}

// Handle answers one request read from stream, using remoteAddr as
// the observed peer address for EchoAddr. It is a wire.Handler once
// bound with protocol/stream context by the caller's multiplexer.
func (s *Server) Handle(ctx context.Context, stream io.ReadWriteCloser, remoteAddr net.Addr) error {
	defer stream.Close()
	var req Request
	if err := wire.ReadFrame(stream, &req); err != nil {
		return fmt.Errorf("interrogate: read request: %w", err)
	}

	resp := s.answer(req, remoteAddr)
	if err := wire.WriteFrame(stream, &resp); err != nil {
		return fmt.Errorf("interrogate: write response: %w", err)
	}
	return nil
}

func (s *Server) answer(req Request, remoteAddr net.Addr) Response {
	switch req.Kind {
	case MethodGetAdvertisement:
		adv := s.Advertisement
		return Response{Advertisement: &adv}
	case MethodEchoAddr:
		addr := ""
		if remoteAddr != nil {
			addr = remoteAddr.String()
		}
		return Response{Addr: &YourAddr{SocketAddr: addr}}
	case MethodGetUrns:
		var urns []urn.Urn
		if s.LocalUrns != nil {
			urns = s.LocalUrns()
		}
		keys := make([]uint64, len(urns))
		for i, u := range urns {
			keys[i] = UrnKey(u)
		}
		filter, err := BuildXor16(keys)
		if err != nil {
			return Response{Err: err.Error()}
		}
		return Response{Urns: &Urns{Filter: *filter}}
	default:
		return Response{Err: fmt.Sprintf("interrogate: unknown method %d", req.Kind)}
	}
}

// Call sends one request over stream and waits for the matching
// response.
func Call(stream io.ReadWriteCloser, req Request) (Response, error) {
	defer stream.Close()
	if err := wire.WriteFrame(stream, &req); err != nil {
		return Response{}, fmt.Errorf("interrogate: write request: %w", err)
	}
	var resp Response
	if err := wire.ReadFrame(stream, &resp); err != nil {
		return Response{}, fmt.Errorf("interrogate: read response: %w", err)
	}
	if resp.Err != "" {
		return Response{}, fmt.Errorf("interrogate: remote error: %s", resp.Err)
	}
	return resp, nil
}

// UrnKey derives the 64-bit key a Xor16 filter hashes a Urn under:
// the first 8 bytes of the root object-id's digest, big-endian,
// matching original_source/librad/src/identities/xor.rs's xor_hash
// (first 8 bytes of the git oid).
func UrnKey(u urn.Urn) uint64 {
	return oidKey(u.Root)
}

func oidKey(o oid.Oid) uint64 {
	b := o.Bytes()
	// The CID bytes end in the 32-byte BLAKE3 digest; the prefix before
	// it (version, codec, hash code, length) is the same for every
	// commit Oid and would leave only four distinguishing bytes.
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.BigEndian.Uint64(buf[:])
}
