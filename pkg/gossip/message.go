// Package gossip implements the Have/Want broadcast protocol of
// spec.md §4.6: unsolicited-message rejection, the local-storage
// apply/forward contract, per-origin rate limiting, and a
// deduplication cache ahead of the storage hook (SPEC_FULL §3).
package gossip

import (
	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// PeerInfo is the minimal peer descriptor gossip messages carry:
// enough to identify and reach the origin (spec.md §3, "PeerInfo").
type PeerInfo struct {
	ID          peerid.PeerId `cbor:"id"`
	ListenAddrs []string      `cbor:"listen_addrs,omitempty"`
}

// Payload is the subject of a Have/Want: a project revision, and
// optionally which peer originally published it.
type Payload struct {
	URN      urn.Urn        `cbor:"urn"`
	Rev      oid.Oid        `cbor:"rev"`
	OriginID *peerid.PeerId `cbor:"origin_id,omitempty"`
}

// Have announces "I have this project at this tip."
type Have struct {
	Origin  PeerInfo `cbor:"origin"`
	Payload Payload  `cbor:"payload"`
}

// Want asks "does anyone have this?"
type Want struct {
	Origin  PeerInfo `cbor:"origin"`
	Payload Payload  `cbor:"payload"`
}

func (p Payload) key() string {
	rev := p.Rev.String()
	return p.URN.String() + "@" + rev
}
