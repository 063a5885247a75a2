// Package peerid implements PeerId: the stable, process-wide identity of
// a mesh peer, derived from an Ed25519 public key (spec.md §3 "PeerId").
package peerid

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multibase"
)

// versionByte is prefixed to the raw public key before multibase
// encoding, so the textual form can be versioned without an ambiguous
// migration later (spec.md: "version byte 0, then z-base32").
const versionByte = 0x00

// PeerId is a 32-byte Ed25519 public key with a canonical textual
// encoding. It is stable for the lifetime of the signing key.
type PeerId struct {
	pub crypto.PubKey
	raw [32]byte
}

// ErrInvalidKeyType is returned when a key is not Ed25519.
var ErrInvalidKeyType = fmt.Errorf("peerid: only Ed25519 keys are supported")

// FromPublicKey builds a PeerId from a libp2p public key. Only Ed25519
// keys are accepted, per spec.md's "32-byte Ed25519 public key".
func FromPublicKey(pub crypto.PubKey) (PeerId, error) {
	if pub.Type() != crypto.Ed25519 {
		return PeerId{}, ErrInvalidKeyType
	}
	raw, err := pub.Raw()
	if err != nil {
		return PeerId{}, fmt.Errorf("peerid: extract raw key: %w", err)
	}
	if len(raw) != 32 {
		return PeerId{}, fmt.Errorf("peerid: unexpected key length %d", len(raw))
	}
	var arr [32]byte
	copy(arr[:], raw)
	return PeerId{pub: pub, raw: arr}, nil
}

// FromPrivateKey derives the PeerId owned by a private signing key.
func FromPrivateKey(priv crypto.PrivKey) (PeerId, error) {
	return FromPublicKey(priv.GetPublic())
}

// PublicKey returns the underlying libp2p public key.
func (p PeerId) PublicKey() crypto.PubKey { return p.pub }

// Bytes returns the raw 32-byte Ed25519 public key.
func (p PeerId) Bytes() [32]byte { return p.raw }

// IsZero reports whether p is the zero value (no key set).
func (p PeerId) IsZero() bool { return p.pub == nil }

// Equal reports whether two PeerIds are the same key.
func (p PeerId) Equal(other PeerId) bool {
	return p.raw == other.raw
}

// String returns the canonical textual encoding: version byte 0
// followed by the raw key, multibase-encoded as base32 (lowercase,
// no padding) — the z-base32 analogue spec.md names.
func (p PeerId) String() string {
	if p.IsZero() {
		return ""
	}
	buf := make([]byte, 0, 1+len(p.raw))
	buf = append(buf, versionByte)
	buf = append(buf, p.raw[:]...)
	enc, err := multibase.Encode(multibase.Base32, buf)
	if err != nil {
		// multibase.Encode only fails for an unknown base; Base32 is
		// always registered, so this is unreachable in practice.
		return ""
	}
	return enc
}

// Parse decodes the textual form produced by String. Satisfies the
// round-trip law in spec.md §8: Parse(p.String()) == p.
func Parse(s string) (PeerId, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return PeerId{}, fmt.Errorf("peerid: decode %q: %w", s, err)
	}
	if len(data) != 1+32 {
		return PeerId{}, fmt.Errorf("peerid: wrong length %d", len(data))
	}
	if data[0] != versionByte {
		return PeerId{}, fmt.Errorf("peerid: unsupported version byte %d", data[0])
	}
	pub, err := crypto.UnmarshalEd25519PublicKey(data[1:])
	if err != nil {
		return PeerId{}, fmt.Errorf("peerid: unmarshal key: %w", err)
	}
	return FromPublicKey(pub)
}

// ToLibp2p converts to the libp2p core peer.ID used by the transport
// and discovery layers.
func (p PeerId) ToLibp2p() (libp2ppeer.ID, error) {
	id, err := libp2ppeer.IDFromPublicKey(p.pub)
	if err != nil {
		return "", fmt.Errorf("peerid: to libp2p: %w", err)
	}
	return id, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p PeerId) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PeerId) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalCBOR implements cbor.Marshaler. PeerId's fields are
// unexported (the libp2p PubKey interface should never be serialized
// directly), so it must opt into the wire byte-string form explicitly
// rather than rely on struct reflection.
func (p PeerId) MarshalCBOR() ([]byte, error) {
	return cborMode.Marshal(p.raw[:])
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *PeerId) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("peerid: decode cbor: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("peerid: wrong cbor key length %d", len(raw))
	}
	pub, err := crypto.UnmarshalEd25519PublicKey(raw)
	if err != nil {
		return fmt.Errorf("peerid: unmarshal cbor key: %w", err)
	}
	parsed, err := FromPublicKey(pub)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

var cborMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("peerid: build cbor encoder: %v", err))
	}
	return m
}()
