package membership

import (
	"testing"
)

func TestHandleJoinPromotesAndFansOutForwardJoin(t *testing.T) {
	local := newPeerID(t)
	existing := PeerInfo{ID: newPeerID(t)}
	view := NewView(local, 5, 5)
	view.AddActive(existing)

	p := NewProtocol(view, PeerInfo{ID: local}, 2)
	joiner := PeerInfo{ID: newPeerID(t)}

	transitions, tocks := p.HandleJoin(Join{Peer: joiner})
	if len(transitions) != 1 || transitions[0].Kind != Promoted {
		t.Fatalf("expected single Promoted transition, got %+v", transitions)
	}
	if !view.IsActive(joiner.ID) {
		t.Fatal("expected joiner to be active after Join")
	}
	if len(tocks) != 1 {
		t.Fatalf("expected ForwardJoin fanned out to the one other active peer, got %d", len(tocks))
	}
	if tocks[0].Kind != SendConnected || !tocks[0].To.Equal(existing.ID) {
		t.Fatalf("expected ForwardJoin to existing active peer, got %+v", tocks[0])
	}
	if fj, ok := tocks[0].Message.(*ForwardJoin); !ok || !fj.Peer.ID.Equal(joiner.ID) {
		t.Fatalf("expected ForwardJoin carrying the joiner, got %+v", tocks[0].Message)
	}
}

func TestHandleForwardJoinPromotesAtTTLZero(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 5, 5)
	p := NewProtocol(view, PeerInfo{ID: local}, 2)
	peer := PeerInfo{ID: newPeerID(t)}
	sender := newPeerID(t)

	transitions, tocks := p.HandleForwardJoin(ForwardJoin{Peer: peer, TTL: 0}, sender)
	if len(transitions) != 1 || transitions[0].Kind != Promoted {
		t.Fatalf("expected promotion at TTL=0, got %+v", transitions)
	}
	if !view.IsActive(peer.ID) {
		t.Fatal("expected peer active after TTL=0 ForwardJoin")
	}
	if tocks != nil {
		t.Fatalf("expected no further forwarding at TTL=0, got %+v", tocks)
	}
}

func TestHandleForwardJoinIgnoresSelf(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 5, 5)
	p := NewProtocol(view, PeerInfo{ID: local}, 2)

	transitions, tocks := p.HandleForwardJoin(ForwardJoin{Peer: PeerInfo{ID: local}, TTL: 3}, newPeerID(t))
	if transitions != nil || tocks != nil {
		t.Fatalf("expected no-op when ForwardJoin names the local peer, got %+v / %+v", transitions, tocks)
	}
}

func TestHandleNeighbourAcceptsWhenRoom(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 3, 3)
	p := NewProtocol(view, PeerInfo{ID: local}, 2)
	requester := PeerInfo{ID: newPeerID(t)}

	transitions, tocks := p.HandleNeighbour(Neighbour{Peer: requester})
	if len(transitions) != 1 || transitions[0].Kind != Promoted {
		t.Fatalf("expected Promoted transition, got %+v", transitions)
	}
	if tocks != nil {
		t.Fatalf("expected no Disconnect reply when accepted, got %+v", tocks)
	}
	if !view.IsActive(requester.ID) {
		t.Fatal("expected requester active after accepted Neighbour")
	}
}

func TestHandleNeighbourRejectsWhenFull(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 1, 3)
	view.AddActive(PeerInfo{ID: newPeerID(t)})
	view.AddPassive(PeerInfo{ID: newPeerID(t)})
	p := NewProtocol(view, PeerInfo{ID: local}, 2)
	requester := PeerInfo{ID: newPeerID(t)}

	transitions, tocks := p.HandleNeighbour(Neighbour{Peer: requester})
	if transitions != nil {
		t.Fatalf("expected no transitions on rejection, got %+v", transitions)
	}
	if len(tocks) != 1 || tocks[0].Kind != SendConnected {
		t.Fatalf("expected a single Disconnect reply, got %+v", tocks)
	}
	disc, ok := tocks[0].Message.(*Disconnect)
	if !ok {
		t.Fatalf("expected *Disconnect message, got %T", tocks[0].Message)
	}
	if disc.Alternative == nil {
		t.Fatal("expected an alternative to be suggested from the passive set")
	}
}

func TestHandleDisconnectDemotesAndTriesAlternative(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 3, 3)
	from := PeerInfo{ID: newPeerID(t)}
	view.AddActive(from)
	p := NewProtocol(view, PeerInfo{ID: local}, 2)
	alt := PeerInfo{ID: newPeerID(t)}

	transitions, tocks := p.HandleDisconnect(Disconnect{Alternative: &alt}, from.ID)
	if len(transitions) != 1 || transitions[0].Kind != Demoted {
		t.Fatalf("expected Demoted transition, got %+v", transitions)
	}
	if view.IsActive(from.ID) || !view.IsPassive(from.ID) {
		t.Fatal("expected peer moved to passive after Disconnect")
	}
	if len(tocks) != 1 || tocks[0].Kind != AttemptSend || !tocks[0].To.Equal(alt.ID) {
		t.Fatalf("expected AttemptSend Neighbour to alternative, got %+v", tocks)
	}
}

func TestHandleShuffleMergesIntoPassiveAndReplies(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 5, 5)
	p := NewProtocol(view, PeerInfo{ID: local}, 4)
	sender := newPeerID(t)
	sample := []PeerInfo{{ID: newPeerID(t)}, {ID: newPeerID(t)}}

	_, tocks := p.HandleShuffle(Shuffle{Origin: PeerInfo{ID: sender}, Peers: sample, TTL: 3}, sender)
	for _, peer := range sample {
		if !view.IsPassive(peer.ID) {
			t.Fatalf("expected %s merged into passive set", peer.ID)
		}
	}
	if len(tocks) != 1 || tocks[0].Kind != SendConnected || !tocks[0].To.Equal(sender) {
		t.Fatalf("expected a single ShuffleReply to sender, got %+v", tocks)
	}
	if _, ok := tocks[0].Message.(*ShuffleReply); !ok {
		t.Fatalf("expected *ShuffleReply, got %T", tocks[0].Message)
	}
}

func TestPeriodicRandomPromotionSkipsWhenActiveFull(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 1, 3)
	view.AddActive(PeerInfo{ID: newPeerID(t)})
	view.AddPassive(PeerInfo{ID: newPeerID(t)})
	p := NewProtocol(view, PeerInfo{ID: local}, 2)

	if tocks := p.PeriodicRandomPromotion(); tocks != nil {
		t.Fatalf("expected no promotion attempt when active is full, got %+v", tocks)
	}
}

func TestPeriodicRandomPromotionProposesNeighbour(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 3, 3)
	passivePeer := PeerInfo{ID: newPeerID(t)}
	view.AddPassive(passivePeer)
	p := NewProtocol(view, PeerInfo{ID: local}, 2)

	tocks := p.PeriodicRandomPromotion()
	if len(tocks) != 1 || tocks[0].Kind != AttemptSend || !tocks[0].To.Equal(passivePeer.ID) {
		t.Fatalf("expected AttemptSend Neighbour to the passive peer, got %+v", tocks)
	}
}

func TestPeriodicTickleTargetsAllActive(t *testing.T) {
	local := newPeerID(t)
	view := NewView(local, 5, 5)
	view.AddActive(PeerInfo{ID: newPeerID(t)})
	view.AddActive(PeerInfo{ID: newPeerID(t)})
	p := NewProtocol(view, PeerInfo{ID: local}, 2)

	tocks := p.PeriodicTickle()
	if len(tocks) != 2 {
		t.Fatalf("expected one Tickle per active peer, got %d", len(tocks))
	}
	for _, tk := range tocks {
		if _, ok := tk.Message.(*Tickle); !ok {
			t.Fatalf("expected *Tickle message, got %T", tk.Message)
		}
	}
}
