package membership

import "github.com/sourcemesh/meshd/pkg/peerid"

// TockKind identifies the scheduler action a Tock asks for.
type TockKind int

const (
	SendConnected TockKind = iota
	AttemptSend
	TockDisconnect
)

// Tock is one outbound action produced by handling a membership
// message or firing a periodic timer, handed to the scheduler.
type Tock struct {
	Kind    TockKind
	To      peerid.PeerId
	ToInfo  PeerInfo
	Message any // *Join, *ForwardJoin, *Neighbour, *Disconnect, *Shuffle, *ShuffleReply
}
