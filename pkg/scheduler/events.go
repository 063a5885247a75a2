package scheduler

import (
	"log/slog"
	"sync"
)

// EventKind classifies an upstream event for observers (metrics, UIs).
type EventKind int

const (
	EndpointEvent EventKind = iota
	GossipEvent
	MembershipEvent
)

// Event is one notification published upstream, e.g. a gossip.Event
// or a membership.Transition wrapped with its kind.
type Event struct {
	Kind    EventKind
	Payload any
}

// Lagged is delivered on the event channel in place of events that
// were dropped because a consumer fell behind — spec.md §4.8/§5:
// "slow consumers cause Lagged(n) to be reported, never backpressure
// onto the core."
type Lagged struct {
	N int
}

// EventBus is a bounded, non-blocking fan-out of Events to a single
// consumer. Publish never blocks the core loop: when the channel is
// full, the oldest buffered event is dropped and replaced with a
// running Lagged count.
type EventBus struct {
	out chan any // Event or Lagged

	mu     sync.Mutex
	lagged int
}

// NewEventBus builds an EventBus with the given channel capacity.
func NewEventBus(capacity int) *EventBus {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventBus{out: make(chan any, capacity)}
}

// Out is the channel consumers read from.
func (b *EventBus) Out() <-chan any { return b.out }

// Publish enqueues ev, never blocking the caller. It is intended to be
// called only from the scheduler's single core goroutine, so there is
// never more than one concurrent writer. If a prior call dropped
// entries, a Lagged value is emitted ahead of ev first; if the
// channel is currently full, the oldest buffered entry is dropped to
// make room and the loss is counted for the next Lagged report.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	pending := b.lagged
	b.mu.Unlock()

	if pending > 0 {
		select {
		case b.out <- Lagged{N: pending}:
			b.mu.Lock()
			b.lagged = 0
			b.mu.Unlock()
		default:
		}
	}

	select {
	case b.out <- ev:
		return
	default:
	}

	select {
	case <-b.out:
	default:
	}
	select {
	case b.out <- ev:
	default:
	}
	b.mu.Lock()
	b.lagged++
	b.mu.Unlock()
	slog.Warn("scheduler: event bus dropped an entry", "lagged", b.lagged)
}
