package identity

import (
	"context"
	"fmt"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// Signature is one signed-trailer entry on a Commit: a claim by Key
// that it signed the commit's tree bytes.
type Signature struct {
	Key peerid.PeerId
	Sig []byte
}

// Commit is one revision of an identity's history. Parent is nil only
// for the root commit.
type Commit struct {
	Oid        oid.Oid
	Parent     *oid.Oid
	TreeBytes  []byte
	Signatures []Signature
}

// Tree returns the content-id of the commit's document bytes — the
// value delegation signatures are computed over, and what a child
// commit's Document.Replaces must equal.
func (c Commit) Tree() (oid.Oid, error) {
	return oid.Of(oid.KindTree, c.TreeBytes)
}

// Source resolves identity commits by oid. A replicated object store
// satisfies this directly; tests can supply an in-memory map.
type Source interface {
	Commit(ctx context.Context, id oid.Oid) (Commit, error)
}

// MapSource is a Source backed by an in-memory map, used by tests and
// by small single-process deployments that keep identity history
// resident.
type MapSource map[oid.Oid]Commit

func (m MapSource) Commit(_ context.Context, id oid.Oid) (Commit, error) {
	c, ok := m[id]
	if !ok {
		return Commit{}, fmt.Errorf("identity: commit %s not found", id)
	}
	return c, nil
}

// Resolver resolves a nested-identity Urn to the commit oid currently
// adopted for it locally — the "revision currently resolved" spec.md
// §4.2 step 3 refers to for indirect delegations. It returns false when
// the URN has no known resolution.
type Resolver func(u urn.Urn) (oid.Oid, bool)
