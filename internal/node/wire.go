package node

import (
	"fmt"

	"github.com/sourcemesh/meshd/pkg/gossip"
	"github.com/sourcemesh/meshd/pkg/membership"
)

// membershipKind tags which field of a membershipEnvelope is set.
type membershipKind uint8

const (
	kindJoin membershipKind = iota
	kindForwardJoin
	kindNeighbour
	kindDisconnect
	kindShuffle
	kindShuffleReply
	kindTickle
)

// membershipEnvelope is the single CBOR frame shape every membership
// sub-protocol stream carries, the same tagged-union style
// pkg/interrogate's Request/Response use.
type membershipEnvelope struct {
	Kind         membershipKind             `cbor:"0,keyasint"`
	Join         *membership.Join         `cbor:"1,keyasint,omitempty"`
	ForwardJoin  *membership.ForwardJoin  `cbor:"2,keyasint,omitempty"`
	Neighbour    *membership.Neighbour    `cbor:"3,keyasint,omitempty"`
	Disconnect   *membership.Disconnect   `cbor:"4,keyasint,omitempty"`
	Shuffle      *membership.Shuffle      `cbor:"5,keyasint,omitempty"`
	ShuffleReply *membership.ShuffleReply `cbor:"6,keyasint,omitempty"`
	Tickle       *membership.Tickle       `cbor:"7,keyasint,omitempty"`
}

func encodeMembership(msg any) (*membershipEnvelope, error) {
	switch m := msg.(type) {
	case *membership.Join:
		return &membershipEnvelope{Kind: kindJoin, Join: m}, nil
	case *membership.ForwardJoin:
		return &membershipEnvelope{Kind: kindForwardJoin, ForwardJoin: m}, nil
	case *membership.Neighbour:
		return &membershipEnvelope{Kind: kindNeighbour, Neighbour: m}, nil
	case *membership.Disconnect:
		return &membershipEnvelope{Kind: kindDisconnect, Disconnect: m}, nil
	case *membership.Shuffle:
		return &membershipEnvelope{Kind: kindShuffle, Shuffle: m}, nil
	case *membership.ShuffleReply:
		return &membershipEnvelope{Kind: kindShuffleReply, ShuffleReply: m}, nil
	case *membership.Tickle:
		return &membershipEnvelope{Kind: kindTickle, Tickle: m}, nil
	default:
		return nil, fmt.Errorf("node: unsupported membership message %T", msg)
	}
}

func (e *membershipEnvelope) unwrap() (any, error) {
	switch e.Kind {
	case kindJoin:
		return e.Join, nil
	case kindForwardJoin:
		return e.ForwardJoin, nil
	case kindNeighbour:
		return e.Neighbour, nil
	case kindDisconnect:
		return e.Disconnect, nil
	case kindShuffle:
		return e.Shuffle, nil
	case kindShuffleReply:
		return e.ShuffleReply, nil
	case kindTickle:
		return e.Tickle, nil
	default:
		return nil, fmt.Errorf("node: unknown membership envelope kind %d", e.Kind)
	}
}

// gossipKind tags which field of a gossipEnvelope is set.
type gossipKind uint8

const (
	kindHave gossipKind = iota
	kindWant
)

// gossipEnvelope is the single CBOR frame shape every gossip stream
// carries.
type gossipEnvelope struct {
	Kind gossipKind   `cbor:"0,keyasint"`
	Have *gossip.Have `cbor:"1,keyasint,omitempty"`
	Want *gossip.Want `cbor:"2,keyasint,omitempty"`
}

func encodeGossip(msg any) (*gossipEnvelope, error) {
	switch m := msg.(type) {
	case *gossip.Have:
		return &gossipEnvelope{Kind: kindHave, Have: m}, nil
	case *gossip.Want:
		return &gossipEnvelope{Kind: kindWant, Want: m}, nil
	default:
		return nil, fmt.Errorf("node: unsupported gossip message %T", msg)
	}
}

func (e *gossipEnvelope) unwrap() (any, error) {
	switch e.Kind {
	case kindHave:
		return e.Have, nil
	case kindWant:
		return e.Want, nil
	default:
		return nil, fmt.Errorf("node: unknown gossip envelope kind %d", e.Kind)
	}
}
