package node

import (
	"context"
	"sync"

	"github.com/sourcemesh/meshd/pkg/gossip"
	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
)

// gossipStorage is the gossip.LocalStorage hook: it remembers the
// latest tip this node has heard announced per project URN and tells
// the node's replication scheduling when a new one arrives.
//
// oid carries no total order a peer-to-peer node can cheaply compare
// without fetching (spec.md leaves "superseded" undefined at the
// gossip layer), so this hook only distinguishes an exact repeat
// (Uninteresting) from anything else (Applied); the replication
// engine's own Verify phase is what actually accepts or rejects the
// announced tip once fetched.
type gossipStorage struct {
	mu    sync.Mutex
	known map[string]oid.Oid

	onApplied func(payload gossip.Payload, origin peerid.PeerId)
}

func newGossipStorage(onApplied func(payload gossip.Payload, origin peerid.PeerId)) *gossipStorage {
	return &gossipStorage{known: make(map[string]oid.Oid), onApplied: onApplied}
}

func (s *gossipStorage) Put(_ context.Context, origin peerid.PeerId, payload gossip.Payload) (gossip.PutOutcome, gossip.Payload) {
	key := payload.URN.String()

	s.mu.Lock()
	cur, ok := s.known[key]
	if ok && cur.Equal(payload.Rev) {
		s.mu.Unlock()
		return gossip.Uninteresting, payload
	}
	s.known[key] = payload.Rev
	s.mu.Unlock()

	if s.onApplied != nil {
		s.onApplied(payload, origin)
	}
	return gossip.Applied, payload
}

func (s *gossipStorage) Ask(_ context.Context, payload gossip.Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.known[payload.URN.String()]
	return ok && cur.Equal(payload.Rev)
}
