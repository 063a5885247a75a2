package gossip

import "github.com/sourcemesh/meshd/pkg/peerid"

// UnsolicitedError is returned when a message arrives from a peer
// that is not (or no longer) part of the active membership view —
// spec.md §4.6's first check on any inbound message.
type UnsolicitedError struct {
	RemoteID peerid.PeerId
}

func (e *UnsolicitedError) Error() string {
	return "gossip: unsolicited message from " + e.RemoteID.String()
}
