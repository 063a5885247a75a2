package node

import (
	"github.com/sourcemesh/meshd/pkg/membership"
	"github.com/sourcemesh/meshd/pkg/peerid"
)

// membershipMembership adapts a membership.View into the narrow
// gossip.Membership slice broadcast processing needs.
type membershipMembership struct {
	view *membership.View
}

func (m membershipMembership) Members(exclude *peerid.PeerId) []peerid.PeerId {
	active := m.view.Active()
	out := make([]peerid.PeerId, 0, len(active))
	for _, p := range active {
		if exclude != nil && p.ID.Equal(*exclude) {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}

func (m membershipMembership) IsMember(peer peerid.PeerId) bool {
	return m.view.IsActive(peer)
}
