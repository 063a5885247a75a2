package gossip

import (
	"context"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// PutOutcome reports what applying a Have's payload did to local
// storage, per spec.md §4.6.
type PutOutcome int

const (
	// Applied means the payload advanced local state; the payload Put
	// returns alongside it (possibly narrower) is what is re-broadcast.
	Applied PutOutcome = iota
	// Uninteresting means the payload was valid but already known;
	// forward it unmodified without re-broadcasting our own state.
	Uninteresting
	// Stale means the payload is superseded by what we already have;
	// drop it.
	Stale
	// PutError means applying the payload failed locally. The
	// message is still forwarded — the failure is ours, not the
	// network's — and a Want may be issued to request retransmission.
	PutError
)

func (o PutOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Uninteresting:
		return "uninteresting"
	case Stale:
		return "stale"
	case PutError:
		return "error"
	default:
		return "unknown"
	}
}

// LocalStorage is the hook gossip processing drives: applying
// announced payloads and answering Want queries from local state.
type LocalStorage interface {
	// Put applies an announced payload, originating from origin.
	// On Applied it may return a narrower payload than was given
	// (e.g. a fast-forwarded tip) to be re-broadcast in its place.
	Put(ctx context.Context, origin peerid.PeerId, payload Payload) (PutOutcome, Payload)
	// Ask reports whether the payload (or something newer for the
	// same URN) is available locally, to answer a Want.
	Ask(ctx context.Context, payload Payload) bool
}
