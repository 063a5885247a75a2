package signedrefs

import (
	"context"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/signer"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/urn"
)

func newSigner(t *testing.T) *signer.InMemory {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	s, err := signer.NewInMemory(priv)
	if err != nil {
		t.Fatalf("NewInMemory() error = %v", err)
	}
	return s
}

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

func TestSignAndVerifyManifest(t *testing.T) {
	s := newSigner(t)
	headOid, _ := oid.Of(oid.KindCommit, []byte("head"))
	refs := map[string]oid.Oid{"refs/heads/main": headOid}

	m, err := Sign(context.Background(), s, refs, nil)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	ok, err := VerifyManifest(m, s.PublicKey())
	if err != nil {
		t.Fatalf("VerifyManifest() error = %v", err)
	}
	if !ok {
		t.Fatal("VerifyManifest() = false, want true")
	}

	other := newSigner(t)
	ok, err = VerifyManifest(m, other.PublicKey())
	if err != nil {
		t.Fatalf("VerifyManifest() error = %v", err)
	}
	if ok {
		t.Fatal("VerifyManifest() = true for wrong key, want false")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := newSigner(t)
	headOid, _ := oid.Of(oid.KindCommit, []byte("head"))
	remotePeer := newSigner(t).PublicKey()
	m, err := Sign(context.Background(), s, map[string]oid.Oid{"refs/heads/main": headOid}, []peerid.PeerId{remotePeer})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	body, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ok, err := VerifyManifest(decoded, s.PublicKey())
	if err != nil {
		t.Fatalf("VerifyManifest() error = %v", err)
	}
	if !ok {
		t.Fatal("VerifyManifest() on round-tripped manifest = false")
	}
	if len(decoded.Remotes) != 1 || !decoded.Remotes[0].Equal(remotePeer) {
		t.Fatalf("Remotes = %+v", decoded.Remotes)
	}
}

func TestUpdatePublishesFirstManifest(t *testing.T) {
	st := store.NewMemStore()
	s := newSigner(t)
	project := sampleProject(t)
	headOid, _ := oid.Of(oid.KindCommit, []byte("head"))

	outcome, newRef, err := Update(context.Background(), st, s, project, nil,
		map[string]oid.Oid{"refs/heads/main": headOid}, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if outcome != Updated {
		t.Fatalf("outcome = %v, want Updated", outcome)
	}
	if newRef.IsNil() {
		t.Fatal("Update() returned nil oid on success")
	}
}

func TestUpdateConcurrentModificationDetected(t *testing.T) {
	st := store.NewMemStore()
	s := newSigner(t)
	project := sampleProject(t)
	headOid, _ := oid.Of(oid.KindCommit, []byte("head"))

	_, _, err := Update(context.Background(), st, s, project, nil,
		map[string]oid.Oid{"refs/heads/main": headOid}, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// A caller who observed "not yet published" (expectedCurrent=nil)
	// tries to publish after someone else already has.
	outcome, _, err := Update(context.Background(), st, s, project, nil,
		map[string]oid.Oid{"refs/heads/main": headOid, "refs/heads/extra": headOid}, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if outcome != ConcurrentlyModified {
		t.Fatalf("outcome = %v, want ConcurrentlyModified", outcome)
	}
}

func TestUpdateUnchangedWhenManifestIdentical(t *testing.T) {
	st := store.NewMemStore()
	s := newSigner(t)
	project := sampleProject(t)
	headOid, _ := oid.Of(oid.KindCommit, []byte("head"))
	refs := map[string]oid.Oid{"refs/heads/main": headOid}

	_, firstOid, err := Update(context.Background(), st, s, project, nil, refs, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	outcome, secondOid, err := Update(context.Background(), st, s, project, &firstOid, refs, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if outcome != Unchanged {
		t.Fatalf("outcome = %v, want Unchanged", outcome)
	}
	if !secondOid.Equal(firstOid) {
		t.Fatalf("Unchanged should report the existing oid, got %v want %v", secondOid, firstOid)
	}
}
