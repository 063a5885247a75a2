package membership

import (
	"math/rand"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// Tickle is a content-free keepalive on an active connection; it
// never changes membership state (spec.md §4.7).
type Tickle struct{}

// Protocol drives one local peer's View through the message
// exchanges and periodic timers of spec.md §4.7. It is not safe for
// concurrent use from multiple goroutines without external
// synchronization beyond what View itself provides, since handler
// calls are expected to run on the scheduler's single-threaded core.
type Protocol struct {
	view          *View
	self          PeerInfo
	shuffleSample int
	forwardTTL    int
	rng           *rand.Rand
}

// NewProtocol builds a Protocol over view. shuffleSample bounds how
// many peers a Shuffle carries; 0 uses a small default.
func NewProtocol(view *View, self PeerInfo, shuffleSample int) *Protocol {
	if shuffleSample <= 0 {
		shuffleSample = 4
	}
	return &Protocol{
		view:          view,
		self:          self,
		shuffleSample: shuffleSample,
		forwardTTL:    defaultForwardJoinTTL,
		rng:           rand.New(rand.NewSource(1)),
	}
}

// HandleJoin processes an inbound Join: the sender is added to the
// active set (demoting a random incumbent if full), and a
// ForwardJoin is fanned out to every other active peer so the
// overlay learns about the newcomer.
func (p *Protocol) HandleJoin(msg Join) ([]Transition, []Tock) {
	transitions := p.view.AddActive(msg.Peer)

	var tocks []Tock
	for _, peer := range p.view.Active() {
		if peer.ID.Equal(msg.Peer.ID) {
			continue
		}
		tocks = append(tocks, Tock{
			Kind: SendConnected,
			To:   peer.ID,
			Message: &ForwardJoin{
				Peer: msg.Peer,
				TTL:  p.forwardTTL,
			},
		})
	}
	return transitions, tocks
}

// HandleForwardJoin processes a propagated Join. At TTL exhaustion,
// or with small random probability to diversify the active set
// before TTL reaches zero, the forwarded peer is promoted locally;
// otherwise it is forwarded on to one random active peer (excluding
// the sender) with TTL decremented.
func (p *Protocol) HandleForwardJoin(msg ForwardJoin, from peerid.PeerId) ([]Transition, []Tock) {
	if msg.Peer.ID.Equal(p.self.ID) {
		return nil, nil
	}

	promote := msg.TTL <= 0
	if !promote && p.view.NumActive() > 0 {
		promote = p.rng.Intn(p.view.NumActive()) == 0
	}
	if promote {
		return p.view.AddActive(msg.Peer), nil
	}

	candidates := p.view.Active()
	next := pickExcluding(p.rng, candidates, from)
	if next == nil {
		return nil, nil
	}
	return nil, []Tock{{
		Kind: SendConnected,
		To:   next.ID,
		Message: &ForwardJoin{
			Peer: msg.Peer,
			TTL:  msg.TTL - 1,
		},
	}}
}

// HandleNeighbour processes a promotion request: accepted by adding
// the sender to active if there is room, otherwise rejected with a
// Disconnect carrying a passive-set alternative.
func (p *Protocol) HandleNeighbour(msg Neighbour) ([]Transition, []Tock) {
	if !p.view.IsActiveFull() {
		return p.view.AddActive(msg.Peer), nil
	}

	var alt *PeerInfo
	if passive := p.view.Passive(); len(passive) > 0 {
		chosen := passive[p.rng.Intn(len(passive))]
		alt = &chosen
	}
	return nil, []Tock{{
		Kind:    SendConnected,
		To:      msg.Peer.ID,
		Message: &Disconnect{Alternative: alt},
	}}
}

// HandleDisconnect processes a remote-initiated active-set drop: from
// is demoted to passive locally, and if an alternative was suggested
// a Neighbour request is attempted against it.
func (p *Protocol) HandleDisconnect(msg Disconnect, from peerid.PeerId) ([]Transition, []Tock) {
	transitions := p.view.Demote(from)
	if msg.Alternative == nil {
		return transitions, nil
	}
	return transitions, []Tock{{
		Kind:    AttemptSend,
		To:      msg.Alternative.ID,
		ToInfo:  *msg.Alternative,
		Message: &Neighbour{Peer: p.self},
	}}
}

// HandleShuffle merges the sender's sample into the local passive
// set and replies with a sample of the local view.
func (p *Protocol) HandleShuffle(msg Shuffle, from peerid.PeerId) ([]Transition, []Tock) {
	var transitions []Transition
	for _, peer := range msg.Peers {
		transitions = append(transitions, p.view.AddPassive(peer)...)
	}
	reply := &ShuffleReply{Peers: p.sample()}
	return transitions, []Tock{{Kind: SendConnected, To: from, Message: reply}}
}

// HandleShuffleReply merges a shuffle partner's sample into the local
// passive set.
func (p *Protocol) HandleShuffleReply(msg ShuffleReply) []Transition {
	var transitions []Transition
	for _, peer := range msg.Peers {
		transitions = append(transitions, p.view.AddPassive(peer)...)
	}
	return transitions
}

// PeriodicShuffle sends a random sample of the local view to a random
// active peer, per the periodic Shuffle of spec.md §4.7.
func (p *Protocol) PeriodicShuffle() []Tock {
	active := p.view.Active()
	if len(active) == 0 {
		return nil
	}
	target := active[p.rng.Intn(len(active))]
	return []Tock{{
		Kind: SendConnected,
		To:   target.ID,
		Message: &Shuffle{
			Origin: p.self,
			Peers:  p.sample(),
			TTL:    p.forwardTTL,
		},
	}}
}

// PeriodicTickle sends a content-free keepalive to every active peer.
func (p *Protocol) PeriodicTickle() []Tock {
	active := p.view.Active()
	tocks := make([]Tock, 0, len(active))
	for _, peer := range active {
		tocks = append(tocks, Tock{Kind: SendConnected, To: peer.ID, Message: &Tickle{}})
	}
	return tocks
}

// PeriodicRandomPromotion, if active is below capacity, proposes
// promoting one random passive peer by sending it a Neighbour.
func (p *Protocol) PeriodicRandomPromotion() []Tock {
	if p.view.IsActiveFull() {
		return nil
	}
	passive := p.view.Passive()
	if len(passive) == 0 {
		return nil
	}
	target := passive[p.rng.Intn(len(passive))]
	return []Tock{{
		Kind:    AttemptSend,
		To:      target.ID,
		ToInfo:  target,
		Message: &Neighbour{Peer: p.self},
	}}
}

// sample draws up to shuffleSample peers from the union of active and
// passive sets to send in a Shuffle/ShuffleReply.
func (p *Protocol) sample() []PeerInfo {
	all := append(p.view.Active(), p.view.Passive()...)
	if len(all) <= p.shuffleSample {
		return all
	}
	p.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:p.shuffleSample]
}

func pickExcluding(rng *rand.Rand, peers []PeerInfo, exclude peerid.PeerId) *PeerInfo {
	filtered := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		if !p.ID.Equal(exclude) {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	chosen := filtered[rng.Intn(len(filtered))]
	return &chosen
}
