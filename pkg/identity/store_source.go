package identity

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/store"
)

// commitWire is the CBOR encoding of a Commit as written to the object
// store: the document's tree bytes wrapped with Parent and Signatures,
// the way signedrefs.wire wraps a Manifest. Tree() is recomputed from
// TreeBytes on read rather than stored, matching Commit's own
// constraint that Tree is always derived.
type commitWire struct {
	Parent     *oid.Oid        `cbor:"parent"`
	TreeBytes  []byte          `cbor:"tree_bytes"`
	Signatures []signatureWire `cbor:"signatures"`
}

type signatureWire struct {
	Key peerid.PeerId `cbor:"key"`
	Sig []byte        `cbor:"sig"`
}

var commitCBORMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("identity: build canonical CBOR encoder: %v", err))
	}
	return m
}()

// EncodeCommit renders c as the CBOR object bytes written to the store
// under oid.KindCommit.
func EncodeCommit(c Commit) ([]byte, error) {
	sigs := make([]signatureWire, len(c.Signatures))
	for i, s := range c.Signatures {
		sigs[i] = signatureWire{Key: s.Key, Sig: s.Sig}
	}
	out, err := commitCBORMode.Marshal(commitWire{Parent: c.Parent, TreeBytes: c.TreeBytes, Signatures: sigs})
	if err != nil {
		return nil, fmt.Errorf("identity: encode commit: %w", err)
	}
	return out, nil
}

// DecodeCommit parses the CBOR object bytes read back from the store.
// The commit's own Oid is not part of the wire encoding — it is the
// content address the caller looked it up by.
func DecodeCommit(id oid.Oid, data []byte) (Commit, error) {
	var w commitWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Commit{}, &Error{Kind: KindParseError, At: id.String(), Err: err}
	}
	sigs := make([]Signature, len(w.Signatures))
	for i, s := range w.Signatures {
		sigs[i] = Signature{Key: s.Key, Sig: s.Sig}
	}
	return Commit{Oid: id, Parent: w.Parent, TreeBytes: w.TreeBytes, Signatures: sigs}, nil
}

// StoreSource adapts a store.Store (with its optional ObjectReader
// capability) into an identity.Source, so Verify can walk history
// persisted by replication's Phase A peek.
type StoreSource struct {
	reader interface {
		ReadObject(ctx context.Context, id oid.Oid) ([]byte, error)
	}
}

// NewStoreSource builds a StoreSource over st, which must implement the
// same ReadObject capability signedrefs.ObjectReader names.
func NewStoreSource(st store.Store) (StoreSource, error) {
	reader, ok := st.(interface {
		ReadObject(ctx context.Context, id oid.Oid) ([]byte, error)
	})
	if !ok {
		return StoreSource{}, fmt.Errorf("identity: store does not support object reads")
	}
	return StoreSource{reader: reader}, nil
}

func (s StoreSource) Commit(ctx context.Context, id oid.Oid) (Commit, error) {
	data, err := s.reader.ReadObject(ctx, id)
	if err != nil {
		return Commit{}, &Error{Kind: KindDanglingParent, At: id.String(), Err: err}
	}
	return DecodeCommit(id, data)
}
