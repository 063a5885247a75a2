// Package tracking implements the per-(project, peer) tracking graph
// of spec.md §4.4: whether and how the local peer should replicate
// another peer's view of a project, persisted as ordinary objects in
// the ref namespace so track/untrack are atomic store operations.
package tracking

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// DataPolicy governs whether ref data beyond the identity tip may be
// pulled for a tracked peer.
type DataPolicy int

const (
	DataDeny DataPolicy = iota
	DataAllow
)

// CobKind names a category of collaborative object. The CRDT layer
// itself is out of scope (spec.md Non-goals); this is the narrow slice
// tracking and replication need to decide what to pull.
type CobKind string

// CobPolicyMode selects how a CobPolicy resolves.
type CobPolicyMode int

const (
	CobAllowAll CobPolicyMode = iota
	CobDenyAll
	CobPerID
)

// CobPolicy is the per-type collaborative-object policy of spec.md §3.
type CobPolicy struct {
	Mode CobPolicyMode
	// PerID applies only when Mode == CobPerID: true entries are
	// allowed, false (or absent) entries are denied.
	PerID map[CobKind]bool
}

func (p CobPolicy) Allows(kind CobKind) bool {
	switch p.Mode {
	case CobAllowAll:
		return true
	case CobDenyAll:
		return false
	case CobPerID:
		return p.PerID[kind]
	default:
		return false
	}
}

// Entry is a tracking-graph entry for a project. Peer nil is the
// wildcard default entry applied when no peer-specific entry exists.
type Entry struct {
	Project    urn.Urn
	Peer       *peerid.PeerId
	DataPolicy DataPolicy
	Cobs       CobPolicy
}

// wire is the CBOR-serialized form of an Entry, minus Project/Peer
// (those are implied by the ref path it's stored under).
type wire struct {
	DataPolicy DataPolicy       `cbor:"data_policy"`
	CobMode    CobPolicyMode    `cbor:"cob_mode"`
	CobPerID   map[string]bool  `cbor:"cob_per_id,omitempty"`
}

func encodeEntry(e Entry) ([]byte, error) {
	w := wire{DataPolicy: e.DataPolicy, CobMode: e.Cobs.Mode}
	if e.Cobs.Mode == CobPerID {
		w.CobPerID = make(map[string]bool, len(e.Cobs.PerID))
		for k, v := range e.Cobs.PerID {
			w.CobPerID[string(k)] = v
		}
	}
	out, err := cbor.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("tracking: encode entry: %w", err)
	}
	return out, nil
}

func decodeEntry(data []byte) (DataPolicy, CobPolicy, error) {
	var w wire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return 0, CobPolicy{}, fmt.Errorf("tracking: decode entry: %w", err)
	}
	cobs := CobPolicy{Mode: w.CobMode}
	if w.CobMode == CobPerID {
		cobs.PerID = make(map[CobKind]bool, len(w.CobPerID))
		for k, v := range w.CobPerID {
			cobs.PerID[CobKind(k)] = v
		}
	}
	return w.DataPolicy, cobs, nil
}

// TrackPrecondition selects the store precondition track's write is
// guarded by.
type TrackPrecondition int

const (
	TrackAny TrackPrecondition = iota
	TrackMustExist
	TrackMustNotExist
)

// UntrackPrecondition selects the store precondition untrack's write
// is guarded by.
type UntrackPrecondition int

const (
	UntrackAny UntrackPrecondition = iota
	UntrackMustExist
)
