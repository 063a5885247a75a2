// Package signedrefs implements the per-(project, peer) signed
// manifest described in spec.md §4.3: the canonical CBOR encoding of a
// peer's published refs plus tracked remotes, signed, and updated
// against the object store under a compare-and-swap precondition.
package signedrefs

import (
	"context"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/refname"
	"github.com/sourcemesh/meshd/pkg/signer"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// payload is the part of the manifest the signature covers: refs and
// remotes, but not the signature itself (spec.md §6, "Wire: signed-refs
// object format").
type payload struct {
	Refs    map[string]oid.Oid `cbor:"refs"`
	Remotes []peerid.PeerId    `cbor:"remotes"`
}

// Manifest is the full signed-refs object.
type Manifest struct {
	Refs      map[string]oid.Oid
	Remotes   []peerid.PeerId
	Signature []byte
}

var canonicalMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("signedrefs: build canonical CBOR encoder: %v", err))
	}
	return m
}()

func (m Manifest) canonicalPayloadBytes() ([]byte, error) {
	remotes := append([]peerid.PeerId(nil), m.Remotes...)
	sort.Slice(remotes, func(i, j int) bool { return remotes[i].String() < remotes[j].String() })
	return canonicalMode.Marshal(payload{Refs: m.Refs, Remotes: remotes})
}

// Sign produces a Manifest for the given refs/remotes, signed by s.
func Sign(ctx context.Context, s signer.Signer, refs map[string]oid.Oid, remotes []peerid.PeerId) (Manifest, error) {
	m := Manifest{Refs: refs, Remotes: remotes}
	body, err := m.canonicalPayloadBytes()
	if err != nil {
		return Manifest{}, fmt.Errorf("signedrefs: encode payload: %w", err)
	}
	sig, err := s.SignAsync(ctx, body)
	if err != nil {
		return Manifest{}, fmt.Errorf("signedrefs: sign: %w", err)
	}
	m.Signature = sig
	return m, nil
}

// VerifyManifest checks that the manifest's signature was produced by
// owner over its own refs/remotes.
func VerifyManifest(m Manifest, owner peerid.PeerId) (bool, error) {
	body, err := m.canonicalPayloadBytes()
	if err != nil {
		return false, fmt.Errorf("signedrefs: encode payload: %w", err)
	}
	return signer.Verify(owner, body, m.Signature)
}

// wire is the CBOR-serialized manifest stored as the signed_refs object.
type wire struct {
	Refs      map[string]oid.Oid `cbor:"refs"`
	Remotes   []peerid.PeerId    `cbor:"remotes"`
	Signature []byte             `cbor:"signature"`
}

// Encode renders m as the CBOR object bytes written to the store.
func Encode(m Manifest) ([]byte, error) {
	out, err := canonicalMode.Marshal(wire{Refs: m.Refs, Remotes: m.Remotes, Signature: m.Signature})
	if err != nil {
		return nil, fmt.Errorf("signedrefs: encode manifest: %w", err)
	}
	return out, nil
}

// Decode parses the CBOR object bytes read back from the store.
func Decode(data []byte) (Manifest, error) {
	var w wire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Manifest{}, fmt.Errorf("signedrefs: decode manifest: %w", err)
	}
	return Manifest{Refs: w.Refs, Remotes: w.Remotes, Signature: w.Signature}, nil
}

// UpdateOutcome reports the result of Update.
type UpdateOutcome int

const (
	// Updated means the new manifest was written and is now current.
	Updated UpdateOutcome = iota
	// ConcurrentlyModified means another writer changed signed_refs
	// between this caller's read of the current tip and its Update
	// call; the caller may retry. This is the racing-writers
	// interpretation spec.md's Open Question resolves in favor of —
	// see DESIGN.md.
	ConcurrentlyModified
	// Unchanged means the computed manifest is byte-identical to what
	// is already published; no write was necessary.
	Unchanged
)

// Update (re)computes the signed-refs manifest for a project from
// refs/remotes and publishes it to the store's refs/rad/signed_refs
// leaf under a must-equal-current precondition (spec.md §4.3).
//
// expectedCurrent is the oid the caller observed for signed_refs
// before computing refs/remotes (absent for "never published"); it is
// the CAS anchor. If the ref has moved since, Update reports
// ConcurrentlyModified without writing anything.
func Update(ctx context.Context, st store.Store, s signer.Signer, project urn.Urn,
	expectedCurrent *oid.Oid, refs map[string]oid.Oid, remotes []peerid.PeerId) (UpdateOutcome, oid.Oid, error) {

	ref, err := refname.NewOwnedRef(project, refname.LeafSignedRefs)
	if err != nil {
		return 0, oid.Oid{}, fmt.Errorf("signedrefs: %w", err)
	}

	liveCur, exists, err := st.FindRef(ctx, ref.String())
	if err != nil {
		return 0, oid.Oid{}, fmt.Errorf("signedrefs: find current ref: %w", err)
	}
	if (expectedCurrent == nil) != !exists || (expectedCurrent != nil && !expectedCurrent.Equal(liveCur)) {
		return ConcurrentlyModified, oid.Oid{}, nil
	}

	if exists {
		curBytes, err := currentManifestBytes(ctx, st, liveCur)
		if err != nil {
			return 0, oid.Oid{}, err
		}
		curManifest, err := Decode(curBytes)
		if err != nil {
			return 0, oid.Oid{}, fmt.Errorf("signedrefs: decode current manifest: %w", err)
		}
		if manifestsEqual(curManifest, refs, remotes) {
			return Unchanged, liveCur, nil
		}
	}

	manifest, err := Sign(ctx, s, refs, remotes)
	if err != nil {
		return 0, oid.Oid{}, err
	}
	body, err := Encode(manifest)
	if err != nil {
		return 0, oid.Oid{}, err
	}
	newOid, err := st.WriteObject(ctx, oid.KindBlob, body)
	if err != nil {
		return 0, oid.Oid{}, fmt.Errorf("signedrefs: write manifest object: %w", err)
	}

	var prev store.Precondition
	if exists {
		prev = store.MustEqualPrecondition(liveCur)
	} else {
		prev = store.MustNotExistPrecondition()
	}

	res, err := st.Update(ctx, store.Batch{Updates: []store.RefUpdate{
		{Namespace: ref.Namespace(), Name: ref.String(), New: &newOid, Previous: prev},
	}})
	if err != nil {
		return 0, oid.Oid{}, fmt.Errorf("signedrefs: update ref: %w", err)
	}
	if !res.Applied {
		return ConcurrentlyModified, oid.Oid{}, nil
	}
	return Updated, newOid, nil
}

func currentManifestBytes(ctx context.Context, st store.Store, id oid.Oid) ([]byte, error) {
	// The Store interface exposes WriteObject/HasObject but not a
	// direct object read; signedrefs needs one, so it is declared
	// locally via an optional interface rather than widening Store
	// for every caller.
	reader, ok := st.(ObjectReader)
	if !ok {
		return nil, fmt.Errorf("signedrefs: store does not support object reads")
	}
	data, err := reader.ReadObject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("signedrefs: read manifest object: %w", err)
	}
	return data, nil
}

// ObjectReader is an optional Store capability for reading back object
// bytes by oid. store.MemStore implements it.
type ObjectReader interface {
	ReadObject(ctx context.Context, id oid.Oid) ([]byte, error)
}

func manifestsEqual(cur Manifest, refs map[string]oid.Oid, remotes []peerid.PeerId) bool {
	if len(cur.Refs) != len(refs) {
		return false
	}
	for name, id := range refs {
		curID, ok := cur.Refs[name]
		if !ok || !curID.Equal(id) {
			return false
		}
	}
	if len(cur.Remotes) != len(remotes) {
		return false
	}
	curSet := make(map[string]bool, len(cur.Remotes))
	for _, r := range cur.Remotes {
		curSet[r.String()] = true
	}
	for _, r := range remotes {
		if !curSet[r.String()] {
			return false
		}
	}
	return true
}
