// Package signer models the signing capability used to author identity
// commits and signed-refs manifests, per DESIGN NOTES §9 "Deep
// polymorphism over signer types": a single interface with the
// capability set {public_key(), sign_async(bytes)}, with InMemory,
// AgentBacked, and Remote variants. On-disk key storage and SSH-agent
// protocol handling are out of scope (spec.md Non-goals); AgentBacked
// and Remote exist so callers can be written against the interface
// without committing to InMemory, but only InMemory signs.
package signer

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// Signer is the capability every identity-commit author and signed-refs
// publisher depends on.
type Signer interface {
	// PublicKey returns the identity this signer authenticates as.
	PublicKey() peerid.PeerId
	// SignAsync signs bytes, returning a detached signature. It is
	// "async" in name to match the source's capability (DESIGN NOTES
	// §9); callers should pass a context they're willing to have
	// cancel a remote-signer round trip.
	SignAsync(ctx context.Context, data []byte) ([]byte, error)
}

// InMemory signs with an Ed25519 private key held in process memory.
type InMemory struct {
	priv crypto.PrivKey
	id   peerid.PeerId
}

// NewInMemory wraps a libp2p private key as a Signer.
func NewInMemory(priv crypto.PrivKey) (*InMemory, error) {
	id, err := peerid.FromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("signer: derive peer id: %w", err)
	}
	return &InMemory{priv: priv, id: id}, nil
}

func (s *InMemory) PublicKey() peerid.PeerId { return s.id }

func (s *InMemory) SignAsync(_ context.Context, data []byte) ([]byte, error) {
	sig, err := s.priv.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	return sig, nil
}

// ErrNotImplemented is returned by the stub variants below: their
// construction is wired (so call sites can select a signer kind from
// config) but the underlying delegate protocol is out of scope.
var ErrNotImplemented = fmt.Errorf("signer: delegate signing not implemented in this build")

// AgentBacked represents a signer whose private key lives behind an
// SSH-agent-style socket. Only construction and identity lookup are
// implemented here; the agent wire protocol is out of scope per
// spec.md's Non-goals ("SSH-agent integration").
type AgentBacked struct {
	id         peerid.PeerId
	socketPath string
}

// NewAgentBacked records the identity an agent-backed signer will
// claim to sign for, and the socket it would dial. SignAsync is
// unimplemented.
func NewAgentBacked(id peerid.PeerId, socketPath string) *AgentBacked {
	return &AgentBacked{id: id, socketPath: socketPath}
}

func (s *AgentBacked) PublicKey() peerid.PeerId { return s.id }

func (s *AgentBacked) SignAsync(context.Context, []byte) ([]byte, error) {
	return nil, ErrNotImplemented
}

// Remote represents a signer reached over an out-of-process RPC (e.g. a
// hardware token or remote custody service). Out of scope for the same
// reason as AgentBacked.
type Remote struct {
	id       peerid.PeerId
	endpoint string
}

// NewRemote records the identity and endpoint a remote signer would use.
func NewRemote(id peerid.PeerId, endpoint string) *Remote {
	return &Remote{id: id, endpoint: endpoint}
}

func (s *Remote) PublicKey() peerid.PeerId { return s.id }

func (s *Remote) SignAsync(context.Context, []byte) ([]byte, error) {
	return nil, ErrNotImplemented
}

// Verify checks a detached signature against a PeerId's public key.
func Verify(id peerid.PeerId, data, sig []byte) (bool, error) {
	ok, err := id.PublicKey().Verify(data, sig)
	if err != nil {
		return false, fmt.Errorf("signer: verify: %w", err)
	}
	return ok, nil
}

var (
	_ Signer = (*InMemory)(nil)
	_ Signer = (*AgentBacked)(nil)
	_ Signer = (*Remote)(nil)
)
