package gossip

import (
	"context"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/time/rate"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

func newPeerID(t *testing.T) peerid.PeerId {
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

func samplePayload(t *testing.T) Payload {
	t.Helper()
	root, err := oid.Of(oid.KindBlob, []byte("root"))
	if err != nil {
		t.Fatalf("oid.Of() error = %v", err)
	}
	u, err := urn.New(root, "rad/id")
	if err != nil {
		t.Fatalf("urn.New() error = %v", err)
	}
	rev, err := oid.Of(oid.KindBlob, []byte("rev-1"))
	if err != nil {
		t.Fatalf("oid.Of() error = %v", err)
	}
	return Payload{URN: u, Rev: rev}
}

// fakeMembership treats a fixed peer set as always active.
type fakeMembership struct {
	peers []peerid.PeerId
}

func (m *fakeMembership) Members(exclude *peerid.PeerId) []peerid.PeerId {
	out := make([]peerid.PeerId, 0, len(m.peers))
	for _, p := range m.peers {
		if exclude != nil && p.Equal(*exclude) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (m *fakeMembership) IsMember(peer peerid.PeerId) bool {
	for _, p := range m.peers {
		if p.Equal(peer) {
			return true
		}
	}
	return false
}

type fakeStorage struct {
	putOutcome   PutOutcome
	putReturn    Payload
	hasPutReturn bool
	ask          bool
	putCalls     int
	askCalls     int
}

func (s *fakeStorage) Put(ctx context.Context, origin peerid.PeerId, payload Payload) (PutOutcome, Payload) {
	s.putCalls++
	if !s.hasPutReturn {
		return s.putOutcome, payload
	}
	return s.putOutcome, s.putReturn
}

func (s *fakeStorage) Ask(ctx context.Context, payload Payload) bool {
	s.askCalls++
	return s.ask
}

func TestApplyRejectsUnsolicited(t *testing.T) {
	remote := newPeerID(t)
	membership := &fakeMembership{} // remote not in active set
	storage := &fakeStorage{putOutcome: Applied}
	msg := &Have{Origin: PeerInfo{ID: remote}, Payload: samplePayload(t)}

	_, _, err := Apply(context.Background(), membership, storage, nil, PeerInfo{}, remote, msg)
	if err == nil {
		t.Fatal("expected UnsolicitedError")
	}
	if _, ok := err.(*UnsolicitedError); !ok {
		t.Fatalf("expected *UnsolicitedError, got %T", err)
	}
}

func TestApplyHaveAppliedBroadcastsToOthersExcludingSender(t *testing.T) {
	remote := newPeerID(t)
	peerA := newPeerID(t)
	peerB := newPeerID(t)
	self := newPeerID(t)
	// The local peer is never a member of its own view.
	membership := &fakeMembership{peers: []peerid.PeerId{remote, peerA, peerB}}
	storage := &fakeStorage{putOutcome: Applied}
	payload := samplePayload(t)
	msg := &Have{Origin: PeerInfo{ID: remote}, Payload: payload}

	event, tocks, err := Apply(context.Background(), membership, storage, nil, PeerInfo{ID: self}, remote, msg)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if event == nil || event.Outcome != Applied {
		t.Fatalf("expected Applied event, got %+v", event)
	}
	if len(tocks) != 2 {
		t.Fatalf("expected 2 tocks (excluding remote), got %d", len(tocks))
	}
	for _, tk := range tocks {
		if tk.To.Equal(remote) {
			t.Fatal("broadcast must exclude the sender")
		}
		if tk.Kind != SendConnected {
			t.Fatalf("expected SendConnected, got %v", tk.Kind)
		}
	}
}

func TestApplyHaveStaleDrops(t *testing.T) {
	remote := newPeerID(t)
	membership := &fakeMembership{peers: []peerid.PeerId{remote}}
	storage := &fakeStorage{putOutcome: Stale}
	msg := &Have{Origin: PeerInfo{ID: remote}, Payload: samplePayload(t)}

	event, tocks, err := Apply(context.Background(), membership, storage, nil, PeerInfo{}, remote, msg)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if event.Outcome != Stale {
		t.Fatalf("expected Stale event, got %+v", event)
	}
	if len(tocks) != 0 {
		t.Fatalf("expected no tocks for Stale, got %d", len(tocks))
	}
}

func TestApplyHaveErrorForwardsAndRequestsRetransmission(t *testing.T) {
	remote := newPeerID(t)
	other := newPeerID(t)
	membership := &fakeMembership{peers: []peerid.PeerId{remote, other}}
	storage := &fakeStorage{putOutcome: PutError}
	limiter := NewRateLimiter(rate.Inf, 10, rate.Inf, 10)
	msg := &Have{Origin: PeerInfo{ID: remote}, Payload: samplePayload(t)}

	_, tocks, err := Apply(context.Background(), membership, storage, limiter, PeerInfo{}, remote, msg)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	// One forward of the original Have, one Want broadcast to all members (including remote).
	var haveCount, wantCount int
	for _, tk := range tocks {
		switch tk.Message.(type) {
		case *Have:
			haveCount++
		case *Want:
			wantCount++
		}
	}
	if haveCount != 1 {
		t.Fatalf("expected 1 forwarded Have, got %d", haveCount)
	}
	if wantCount != 2 {
		t.Fatalf("expected Want broadcast to both members, got %d", wantCount)
	}
}

func TestApplyHaveErrorSkipsWantWhenRateLimited(t *testing.T) {
	remote := newPeerID(t)
	membership := &fakeMembership{peers: []peerid.PeerId{remote}}
	storage := &fakeStorage{putOutcome: PutError}
	limiter := NewRateLimiter(0, 0, rate.Inf, 10) // errorLimiter always breached
	msg := &Have{Origin: PeerInfo{ID: remote}, Payload: samplePayload(t)}

	_, tocks, err := Apply(context.Background(), membership, storage, limiter, PeerInfo{}, remote, msg)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	for _, tk := range tocks {
		if _, ok := tk.Message.(*Want); ok {
			t.Fatal("expected no Want when error rate limit is breached")
		}
	}
}

func TestApplyWantAnsweredLocallyRepliesDirect(t *testing.T) {
	remote := newPeerID(t)
	self := newPeerID(t)
	membership := &fakeMembership{peers: []peerid.PeerId{remote, self}}
	storage := &fakeStorage{ask: true}
	payload := samplePayload(t)
	msg := &Want{Origin: PeerInfo{ID: remote}, Payload: payload}

	event, tocks, err := Apply(context.Background(), membership, storage, nil, PeerInfo{ID: self}, remote, msg)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if event != nil {
		t.Fatalf("expected no upstream event for Want, got %+v", event)
	}
	if len(tocks) != 1 || tocks[0].Kind != SendConnected || !tocks[0].To.Equal(remote) {
		t.Fatalf("expected single SendConnected reply to remote, got %+v", tocks)
	}
	if _, ok := tocks[0].Message.(*Have); !ok {
		t.Fatalf("expected Have reply, got %T", tocks[0].Message)
	}
}

func TestApplyWantForwardedOriginUsesAttemptSend(t *testing.T) {
	remote := newPeerID(t)
	origin := newPeerID(t)
	self := newPeerID(t)
	membership := &fakeMembership{peers: []peerid.PeerId{remote, origin, self}}
	storage := &fakeStorage{ask: true}
	payload := samplePayload(t)
	// remote forwarded this Want on origin's behalf.
	msg := &Want{Origin: PeerInfo{ID: origin}, Payload: payload}

	_, tocks, err := Apply(context.Background(), membership, storage, nil, PeerInfo{ID: self}, remote, msg)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(tocks) != 1 || tocks[0].Kind != AttemptSend || !tocks[0].To.Equal(origin) {
		t.Fatalf("expected single AttemptSend to origin, got %+v", tocks)
	}
}

func TestApplyWantNotFoundForwardsToMembers(t *testing.T) {
	remote := newPeerID(t)
	other := newPeerID(t)
	membership := &fakeMembership{peers: []peerid.PeerId{remote, other}}
	storage := &fakeStorage{ask: false}
	msg := &Want{Origin: PeerInfo{ID: remote}, Payload: samplePayload(t)}

	_, tocks, err := Apply(context.Background(), membership, storage, nil, PeerInfo{}, remote, msg)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(tocks) != 1 || !tocks[0].To.Equal(other) {
		t.Fatalf("expected forward to the one other member, got %+v", tocks)
	}
}

func TestApplyWantRateLimitedAnswersNothing(t *testing.T) {
	remote := newPeerID(t)
	membership := &fakeMembership{peers: []peerid.PeerId{remote}}
	storage := &fakeStorage{ask: true}
	limiter := NewRateLimiter(rate.Inf, 10, 0, 0) // wantLimiter always breached
	msg := &Want{Origin: PeerInfo{ID: remote}, Payload: samplePayload(t)}

	_, tocks, err := Apply(context.Background(), membership, storage, limiter, PeerInfo{}, remote, msg)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(tocks) != 0 {
		t.Fatalf("expected no tocks when want rate limit breached, got %d", len(tocks))
	}
	if storage.askCalls != 0 {
		t.Fatalf("expected Ask not to be called when rate limited, got %d calls", storage.askCalls)
	}
}

func TestDedupSuppressesRepeat(t *testing.T) {
	d := NewDedup(16)
	p := samplePayload(t)
	if d.Seen('h', p) {
		t.Fatal("first sighting should not be reported as seen")
	}
	if !d.Seen('h', p) {
		t.Fatal("second sighting should be reported as seen")
	}
	if d.Seen('w', p) {
		t.Fatal("a different kind for the same payload should not be seen")
	}
}
