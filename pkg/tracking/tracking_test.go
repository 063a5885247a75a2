package tracking

import (
	"context"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/urn"
)

func sampleProject(t *testing.T) urn.Urn {
	t.Helper()
	root, err := oid.Of(oid.KindCommit, []byte("project"))
	if err != nil {
		t.Fatalf("oid.Of() error = %v", err)
	}
	u, err := urn.New(root, "")
	if err != nil {
		t.Fatalf("urn.New() error = %v", err)
	}
	return u
}

func samplePeer(t *testing.T) peerid.PeerId {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	id, err := peerid.FromPrivateKey(priv)
	if err != nil {
		t.Fatalf("FromPrivateKey() error = %v", err)
	}
	return id
}

func TestTrackThenIsTracked(t *testing.T) {
	st := store.NewMemStore()
	project := sampleProject(t)
	peer := samplePeer(t)
	ctx := context.Background()

	if err := Track(ctx, st, project, &peer, TrackAny, DataAllow, CobPolicy{Mode: CobAllowAll}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	tracked, entry, err := IsTracked(ctx, st, project, peer)
	if err != nil {
		t.Fatalf("IsTracked() error = %v", err)
	}
	if !tracked {
		t.Fatal("IsTracked() = false, want true")
	}
	if entry.DataPolicy != DataAllow {
		t.Fatalf("DataPolicy = %v, want DataAllow", entry.DataPolicy)
	}
}

func TestUntrackedPeerFallsBackToWildcard(t *testing.T) {
	st := store.NewMemStore()
	project := sampleProject(t)
	peer := samplePeer(t)
	ctx := context.Background()

	if err := Track(ctx, st, project, nil, TrackAny, DataDeny, CobPolicy{Mode: CobDenyAll}); err != nil {
		t.Fatalf("Track(wildcard) error = %v", err)
	}

	tracked, entry, err := IsTracked(ctx, st, project, peer)
	if err != nil {
		t.Fatalf("IsTracked() error = %v", err)
	}
	if !tracked {
		t.Fatal("IsTracked() = false, want true via wildcard fallback")
	}
	if entry.DataPolicy != DataDeny {
		t.Fatalf("DataPolicy = %v, want DataDeny (wildcard)", entry.DataPolicy)
	}
}

func TestPeerEntryOverridesWildcard(t *testing.T) {
	st := store.NewMemStore()
	project := sampleProject(t)
	peer := samplePeer(t)
	ctx := context.Background()

	if err := Track(ctx, st, project, nil, TrackAny, DataDeny, CobPolicy{Mode: CobDenyAll}); err != nil {
		t.Fatalf("Track(wildcard) error = %v", err)
	}
	if err := Track(ctx, st, project, &peer, TrackAny, DataAllow, CobPolicy{Mode: CobAllowAll}); err != nil {
		t.Fatalf("Track(peer) error = %v", err)
	}

	_, entry, err := IsTracked(ctx, st, project, peer)
	if err != nil {
		t.Fatalf("IsTracked() error = %v", err)
	}
	if entry.DataPolicy != DataAllow {
		t.Fatalf("DataPolicy = %v, want DataAllow (peer entry should win)", entry.DataPolicy)
	}
}

func TestUntrackRemovesEntry(t *testing.T) {
	st := store.NewMemStore()
	project := sampleProject(t)
	peer := samplePeer(t)
	ctx := context.Background()

	if err := Track(ctx, st, project, &peer, TrackAny, DataAllow, CobPolicy{Mode: CobAllowAll}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := Untrack(ctx, st, project, &peer, UntrackMustExist); err != nil {
		t.Fatalf("Untrack() error = %v", err)
	}

	tracked, _, err := IsTracked(ctx, st, project, peer)
	if err != nil {
		t.Fatalf("IsTracked() error = %v", err)
	}
	if tracked {
		t.Fatal("IsTracked() = true after Untrack, want false")
	}
}

func TestUntrackMustExistFailsWhenAbsent(t *testing.T) {
	st := store.NewMemStore()
	project := sampleProject(t)
	peer := samplePeer(t)

	if err := Untrack(context.Background(), st, project, &peer, UntrackMustExist); err == nil {
		t.Fatal("expected error untracking a never-tracked peer with MustExist")
	}
}

func TestTrackedPeersListsExplicit(t *testing.T) {
	st := store.NewMemStore()
	project := sampleProject(t)
	peerA := samplePeer(t)
	peerB := samplePeer(t)
	ctx := context.Background()

	if err := Track(ctx, st, project, nil, TrackAny, DataDeny, CobPolicy{Mode: CobDenyAll}); err != nil {
		t.Fatalf("Track(wildcard) error = %v", err)
	}
	if err := Track(ctx, st, project, &peerA, TrackAny, DataAllow, CobPolicy{Mode: CobAllowAll}); err != nil {
		t.Fatalf("Track(a) error = %v", err)
	}
	if err := Track(ctx, st, project, &peerB, TrackAny, DataAllow, CobPolicy{Mode: CobAllowAll}); err != nil {
		t.Fatalf("Track(b) error = %v", err)
	}

	peers, err := TrackedPeers(ctx, st, project)
	if err != nil {
		t.Fatalf("TrackedPeers() error = %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("TrackedPeers() = %d entries, want 2 (wildcard excluded)", len(peers))
	}
}

func TestBatchTrackUntrackAtomic(t *testing.T) {
	st := store.NewMemStore()
	project := sampleProject(t)
	peerA := samplePeer(t)
	peerB := samplePeer(t)
	ctx := context.Background()

	if err := Track(ctx, st, project, &peerA, TrackAny, DataAllow, CobPolicy{Mode: CobAllowAll}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	err := Batch(ctx, st, []Action{
		{Project: project, Peer: &peerA, Untrack: true},
		{Project: project, Peer: &peerB, Data: DataAllow, Cobs: CobPolicy{Mode: CobAllowAll}},
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}

	trackedA, _, _ := IsTracked(ctx, st, project, peerA)
	if trackedA {
		t.Fatal("peerA should be untracked after batch")
	}
	trackedB, _, _ := IsTracked(ctx, st, project, peerB)
	if !trackedB {
		t.Fatal("peerB should be tracked after batch")
	}
}
