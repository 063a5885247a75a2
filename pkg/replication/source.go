package replication

import (
	"context"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// ObjectRecord is one object the remote side sent, ready to write into
// the local object database.
type ObjectRecord struct {
	ID   oid.Oid
	Kind oid.Kind
	Data []byte
}

// Advertisement is what a remote offers during Phase A peek: the tips
// of its refs/rad/id, refs/rad/self, refs/rad/signed_refs, and every
// refs/rad/ids/<urn> it chooses to advertise. Any field may be absent
// (nil) — a remote need not carry every leaf.
type Advertisement struct {
	IdentityTip   *oid.Oid
	SelfTip       *oid.Oid
	SignedRefsTip *oid.Oid
	NestedIdentities map[string]oid.Oid // urn string -> refs/rad/ids/<urn> tip
}

// FetchResult is the outcome of one bounded object fetch.
type FetchResult struct {
	Objects   []ObjectRecord
	BytesRead int64
}

// RemoteSource is the git-transport session replication drives: one
// peek (advertised tips plus their reachable objects, byte-budgeted)
// and one bounded body fetch per phase. Production callers implement
// this over the rad:// git transport; tests supply an in-memory fake.
type RemoteSource interface {
	// Remote identifies who this session talks to.
	Remote() peerid.PeerId

	// Peek returns the remote's advertised tips and every object
	// reachable from them (identity history, the self and
	// signed_refs blobs), stopping and reporting KindByteBudgetExceeded
	// if maxBytes is exceeded before the advertised set is fully sent.
	Peek(ctx context.Context, project urn.Urn, maxBytes int64) (Advertisement, FetchResult, error)

	// Fetch retrieves exactly the requested wants, bounded by
	// maxBytes, reporting KindByteBudgetExceeded on overrun and
	// KindCancelled if ctx is done mid-transfer.
	Fetch(ctx context.Context, wants []oid.Oid, maxBytes int64) (FetchResult, error)
}
