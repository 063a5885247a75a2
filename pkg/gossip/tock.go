package gossip

import "github.com/sourcemesh/meshd/pkg/peerid"

// TockKind identifies the action a Tock asks the scheduler to perform.
type TockKind int

const (
	// SendConnected delivers Message to a peer already in the active
	// membership view; the scheduler drops it silently if the
	// connection has meanwhile gone away.
	SendConnected TockKind = iota
	// AttemptSend delivers Message to a peer that may not currently
	// be connected; the scheduler may dial out or drop.
	AttemptSend
)

// Tock is one outbound action produced by processing an inbound
// message, handed to the scheduler's worker pool for dispatch.
type Tock struct {
	Kind TockKind
	To   peerid.PeerId
	// ToInfo carries dial hints for AttemptSend; zero for SendConnected.
	ToInfo  PeerInfo
	Message any // *Have or *Want
}
