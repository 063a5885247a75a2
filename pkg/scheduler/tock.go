// Package scheduler implements the single-threaded cooperative core
// loop of spec.md §4.8: it consumes inbound messages, timers,
// downstream commands, and discovery notifications, and turns them
// into Tocks dispatched to a bounded worker pool — never blocking
// inline on I/O.
package scheduler

import "github.com/sourcemesh/meshd/pkg/peerid"

// TockKind names the scheduler action a Tock asks a worker to perform.
type TockKind int

const (
	// SendConnected writes Message on an existing stream to To; if
	// none exists, the worker drops it silently.
	SendConnected TockKind = iota
	// AttemptSend dials To if necessary (using ToInfo's addresses),
	// then sends Message.
	AttemptSend
	// Disconnect tears down the connection to To.
	Disconnect
)

func (k TockKind) String() string {
	switch k {
	case SendConnected:
		return "send_connected"
	case AttemptSend:
		return "attempt_send"
	case Disconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// PeerAddrs is the dial-hint shape Tock.ToInfo carries for AttemptSend;
// it mirrors gossip.PeerInfo/membership.PeerInfo without depending on
// either package.
type PeerAddrs struct {
	ID          peerid.PeerId
	ListenAddrs []string
}

// Tock is one outbound action produced by processing an event,
// handed to the worker pool for dispatch — the canonical shape named
// in spec.md §4.8. Protocol packages (gossip, membership) produce
// their own domain Tock types; FromGossip/FromMembership adapt them.
type Tock struct {
	Kind    TockKind
	To      peerid.PeerId
	ToInfo  PeerAddrs
	Message any
}

// Dispatcher performs the actual I/O for one Tock. Implementations
// live in the transport layer; the scheduler only sequences calls to
// it from worker goroutines, never from the core loop itself.
type Dispatcher interface {
	Dispatch(tock Tock) error
}
