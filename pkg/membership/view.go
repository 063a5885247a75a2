// Package membership implements the HyParView-style partial view of
// spec.md §4.7: two bounded peer sets, active and passive, and the
// Join/ForwardJoin/Neighbour/Shuffle/ShuffleReply/Disconnect message
// handling that moves peers between them.
package membership

import (
	"math/rand"
	"sync"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// TransitionKind names what happened to a peer in the view.
type TransitionKind int

const (
	Promoted TransitionKind = iota
	Demoted
	Evicted
)

func (k TransitionKind) String() string {
	switch k {
	case Promoted:
		return "promoted"
	case Demoted:
		return "demoted"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Transition is one membership change produced by a View mutation,
// published upstream for observers (spec.md §4.7).
type Transition struct {
	Kind TransitionKind
	Peer PeerInfo
}

// PeerInfo is what the view remembers about a peer: its id and known
// listen addresses.
type PeerInfo struct {
	ID          peerid.PeerId
	ListenAddrs []string
}

// View holds the active and passive sets for one local peer. It is
// safe for concurrent use.
type View struct {
	localID    peerid.PeerId
	maxActive  int
	maxPassive int

	mu      sync.Mutex
	active  map[string]PeerInfo
	passive map[string]PeerInfo
	rng     *rand.Rand
}

// NewView builds an empty View bounded by maxActive/maxPassive.
func NewView(localID peerid.PeerId, maxActive, maxPassive int) *View {
	return &View{
		localID:    localID,
		maxActive:  maxActive,
		maxPassive: maxPassive,
		active:     make(map[string]PeerInfo),
		passive:    make(map[string]PeerInfo),
		rng:        rand.New(rand.NewSource(1)),
	}
}

// NumActive returns the current active-set size.
func (v *View) NumActive() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}

// NumPassive returns the current passive-set size.
func (v *View) NumPassive() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.passive)
}

// IsActiveFull reports whether the active set is at capacity.
func (v *View) IsActiveFull() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active) >= v.maxActive
}

// IsActive reports whether peer is currently in the active set.
func (v *View) IsActive(peer peerid.PeerId) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.active[peer.String()]
	return ok
}

// IsPassive reports whether peer is currently in the passive set.
func (v *View) IsPassive(peer peerid.PeerId) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.passive[peer.String()]
	return ok
}

// IsKnown reports whether peer is in either set.
func (v *View) IsKnown(peer peerid.PeerId) bool {
	return v.IsActive(peer) || v.IsPassive(peer)
}

// Active returns a snapshot of the active set.
func (v *View) Active() []PeerInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]PeerInfo, 0, len(v.active))
	for _, p := range v.active {
		out = append(out, p)
	}
	return out
}

// Passive returns a snapshot of the passive set.
func (v *View) Passive() []PeerInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]PeerInfo, 0, len(v.passive))
	for _, p := range v.passive {
		out = append(out, p)
	}
	return out
}

// AddActive promotes info into the active set ("addNodeActiveView"),
// demoting a random incumbent first if full, and evicting info from
// the passive set if it was there. A no-op for the local peer or a
// peer already active.
func (v *View) AddActive(info PeerInfo) []Transition {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := info.ID.String()
	if info.ID.Equal(v.localID) {
		return nil
	}
	if _, ok := v.active[key]; ok {
		return nil
	}

	var transitions []Transition
	if len(v.active) >= v.maxActive {
		transitions = append(transitions, v.demoteRandomLocked()...)
	}
	if _, ok := v.passive[key]; ok {
		delete(v.passive, key)
	}

	v.active[key] = info
	return append([]Transition{{Kind: Promoted, Peer: info}}, transitions...)
}

// AddPassive merges info into the passive set ("addNodePassiveView"),
// evicting a uniformly random incumbent first if full. Recency of use
// is not tracked, so the evicted peer is not the least recently used
// one. A no-op for the local peer or a peer already active (active
// supersedes passive).
func (v *View) AddPassive(info PeerInfo) []Transition {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := info.ID.String()
	if info.ID.Equal(v.localID) {
		return nil
	}
	if _, ok := v.active[key]; ok {
		return nil
	}

	var transitions []Transition
	if _, ok := v.passive[key]; !ok && len(v.passive) >= v.maxPassive {
		transitions = v.evictRandomLocked()
	}
	v.passive[key] = info
	return transitions
}

// Demote moves peer from active to passive ("dropRandomElementFromActiveView"
// when called via DemoteRandom), publishing Demoted then any Evicted
// transition the passive-set insertion produces.
func (v *View) Demote(peer peerid.PeerId) []Transition {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.demoteLocked(peer)
}

func (v *View) demoteLocked(peer peerid.PeerId) []Transition {
	key := peer.String()
	info, ok := v.active[key]
	if !ok {
		return nil
	}
	delete(v.active, key)

	transitions := []Transition{{Kind: Demoted, Peer: info}}
	var evicted []Transition
	if _, ok := v.passive[key]; !ok && len(v.passive) >= v.maxPassive {
		evicted = v.evictRandomLocked()
	}
	v.passive[key] = info
	return append(transitions, evicted...)
}

// DemoteRandom demotes one randomly chosen active peer, if any.
func (v *View) DemoteRandom() []Transition {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.demoteRandomLocked()
}

func (v *View) demoteRandomLocked() []Transition {
	peer, ok := v.randomKeyLocked(v.active)
	if !ok {
		return nil
	}
	return v.demoteLocked(peer)
}

// Evict removes peer from the passive set outright.
func (v *View) Evict(peer peerid.PeerId) []Transition {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.evictLocked(peer)
}

func (v *View) evictLocked(peer peerid.PeerId) []Transition {
	key := peer.String()
	info, ok := v.passive[key]
	if !ok {
		return nil
	}
	delete(v.passive, key)
	return []Transition{{Kind: Evicted, Peer: info}}
}

func (v *View) evictRandomLocked() []Transition {
	peer, ok := v.randomKeyLocked(v.passive)
	if !ok {
		return nil
	}
	return v.evictLocked(peer)
}

func (v *View) randomKeyLocked(set map[string]PeerInfo) (peerid.PeerId, bool) {
	if len(set) == 0 {
		return peerid.PeerId{}, false
	}
	n := v.rng.Intn(len(set))
	i := 0
	for _, info := range set {
		if i == n {
			return info.ID, true
		}
		i++
	}
	return peerid.PeerId{}, false
}
