package membership

import "github.com/sourcemesh/meshd/pkg/peerid"

const defaultForwardJoinTTL = 6

// Join announces that the sender wishes to join the overlay through
// the receiver.
type Join struct {
	Peer PeerInfo `cbor:"peer"`
}

// ForwardJoin propagates a Join through the overlay; TTL decrements
// at each hop, and receivers occasionally promote peer to active
// before TTL reaches zero to diversify the active set.
type ForwardJoin struct {
	Peer PeerInfo `cbor:"peer"`
	TTL  int      `cbor:"ttl"`
}

// Neighbour requests promotion into the receiver's active set.
type Neighbour struct {
	Peer PeerInfo `cbor:"peer"`
}

// Disconnect notifies that the sender is dropping the receiver from
// its active set, optionally suggesting an Alternative passive peer.
type Disconnect struct {
	Alternative *PeerInfo `cbor:"alternative,omitempty"`
}

// Shuffle carries a random sample of the sender's known peers for the
// receiver to merge into its passive set.
type Shuffle struct {
	Origin PeerInfo   `cbor:"origin"`
	Peers  []PeerInfo `cbor:"peers"`
	TTL    int        `cbor:"ttl"`
}

// ShuffleReply answers a Shuffle with a sample of the replier's own
// view, so both sides' passive sets gain diversity.
type ShuffleReply struct {
	Peers []PeerInfo `cbor:"peers"`
}
