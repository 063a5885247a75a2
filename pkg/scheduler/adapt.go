package scheduler

import (
	"github.com/sourcemesh/meshd/pkg/gossip"
	"github.com/sourcemesh/meshd/pkg/membership"
)

// FromGossip adapts a gossip.Tock into the canonical Tock shape.
func FromGossip(t gossip.Tock) Tock {
	kind := SendConnected
	if t.Kind == gossip.AttemptSend {
		kind = AttemptSend
	}
	return Tock{
		Kind:    kind,
		To:      t.To,
		ToInfo:  PeerAddrs{ID: t.ToInfo.ID, ListenAddrs: t.ToInfo.ListenAddrs},
		Message: t.Message,
	}
}

// FromMembership adapts a membership.Tock into the canonical Tock shape.
func FromMembership(t membership.Tock) Tock {
	var kind TockKind
	switch t.Kind {
	case membership.SendConnected:
		kind = SendConnected
	case membership.AttemptSend:
		kind = AttemptSend
	case membership.TockDisconnect:
		kind = Disconnect
	}
	return Tock{
		Kind:    kind,
		To:      t.To,
		ToInfo:  PeerAddrs{ID: t.ToInfo.ID, ListenAddrs: t.ToInfo.ListenAddrs},
		Message: t.Message,
	}
}
