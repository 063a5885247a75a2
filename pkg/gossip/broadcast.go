package gossip

import (
	"context"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// Membership is the slice of the active membership view that
// broadcast processing needs: who to fan a message out to, and
// whether a remote is currently a legitimate sender.
type Membership interface {
	// Members lists the active set, excluding exclude if non-nil.
	Members(exclude *peerid.PeerId) []peerid.PeerId
	// IsMember reports whether peer is in the active set.
	IsMember(peer peerid.PeerId) bool
}

// Event is published upstream for every processed Have, regardless
// of outcome, so observers (metrics, UIs) can see gossip traffic.
type Event struct {
	Provider PeerInfo
	Payload  Payload
	Outcome  PutOutcome
}

// Apply runs the processing contract of spec.md §4.6 for one inbound
// message from remoteID: it rejects unsolicited senders, applies
// Haves against storage and decides whether to re-broadcast, forward,
// or drop, and answers or forwards Wants subject to rate limiting.
// self identifies the local peer for messages this node originates.
//
// It returns the upstream event to publish (nil for a processed Want)
// and the Tocks the scheduler should dispatch.
func Apply(
	ctx context.Context,
	membership Membership,
	storage LocalStorage,
	limiter *RateLimiter,
	self PeerInfo,
	remoteID peerid.PeerId,
	msg any,
) (*Event, []Tock, error) {
	if !membership.IsMember(remoteID) {
		return nil, nil, &UnsolicitedError{RemoteID: remoteID}
	}

	switch m := msg.(type) {
	case *Have:
		return applyHave(ctx, membership, storage, limiter, self, remoteID, *m)
	case *Want:
		tocks := applyWant(ctx, membership, storage, limiter, self, remoteID, *m)
		return nil, tocks, nil
	default:
		return nil, nil, nil
	}
}

func broadcast(membership Membership, exclude *peerid.PeerId, msg any) []Tock {
	members := membership.Members(exclude)
	tocks := make([]Tock, 0, len(members))
	for _, to := range members {
		tocks = append(tocks, Tock{Kind: SendConnected, To: to, Message: msg})
	}
	return tocks
}

func applyHave(
	ctx context.Context,
	membership Membership,
	storage LocalStorage,
	limiter *RateLimiter,
	self PeerInfo,
	remoteID peerid.PeerId,
	have Have,
) (*Event, []Tock, error) {
	outcome, applied := storage.Put(ctx, have.Origin.ID, have.Payload)
	event := &Event{Provider: have.Origin, Payload: have.Payload, Outcome: outcome}

	var tocks []Tock
	switch outcome {
	case Applied:
		tocks = broadcast(membership, &remoteID, &Have{Origin: self, Payload: applied})

	case PutError:
		// Forward regardless: the failure is local, not a defect in
		// what was broadcast.
		tocks = broadcast(membership, &remoteID, &Have{Origin: have.Origin, Payload: have.Payload})
		if limiter == nil || !limiter.ErrorsBreached() {
			tocks = append(tocks, broadcast(membership, nil, &Want{Origin: self, Payload: have.Payload})...)
		}

	case Uninteresting:
		tocks = broadcast(membership, &remoteID, &Have{Origin: have.Origin, Payload: have.Payload})

	case Stale:
		// Drop: a newer or equal value is already known locally.
	}

	return event, tocks, nil
}

func applyWant(
	ctx context.Context,
	membership Membership,
	storage LocalStorage,
	limiter *RateLimiter,
	self PeerInfo,
	remoteID peerid.PeerId,
	want Want,
) []Tock {
	if limiter != nil && limiter.WantsBreached(want.Origin.ID) {
		return nil
	}

	if !storage.Ask(ctx, want.Payload) {
		return broadcast(membership, &remoteID, &Want{Origin: want.Origin, Payload: want.Payload})
	}

	reply := &Have{Origin: self, Payload: want.Payload}
	if want.Origin.ID.Equal(remoteID) {
		return []Tock{{Kind: SendConnected, To: remoteID, Message: reply}}
	}
	// The origin isn't who sent us the Want (it was forwarded);
	// we may not have a live connection to it.
	return []Tock{{Kind: AttemptSend, To: want.Origin.ID, ToInfo: want.Origin, Message: reply}}
}
