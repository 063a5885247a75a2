package tracking

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/refname"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/urn"
)

func refFor(project urn.Urn, peer *peerid.PeerId) (refname.OwnedRef, error) {
	return refname.NewOwnedRef(project, refname.TrackingLeaf(peer))
}

func precondition(kind TrackPrecondition, exists bool, cur oid.Oid) store.Precondition {
	switch kind {
	case TrackMustExist:
		return store.MustEqualPrecondition(cur)
	case TrackMustNotExist:
		return store.MustNotExistPrecondition()
	default:
		return store.AnyPrecondition()
	}
}

// Track creates or updates a tracking entry for (project, peer), per
// spec.md §4.4. peer nil writes the project's wildcard default entry.
func Track(ctx context.Context, st store.Store, project urn.Urn, peer *peerid.PeerId,
	policy TrackPrecondition, data DataPolicy, cobs CobPolicy) error {

	ref, err := refFor(project, peer)
	if err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	cur, exists, err := st.FindRef(ctx, ref.String())
	if err != nil {
		return fmt.Errorf("tracking: find current entry: %w", err)
	}
	if policy == TrackMustExist && !exists {
		return fmt.Errorf("tracking: no existing entry for %s", ref.String())
	}
	if policy == TrackMustNotExist && exists {
		return fmt.Errorf("tracking: entry for %s already exists", ref.String())
	}

	body, err := encodeEntry(Entry{Project: project, Peer: peer, DataPolicy: data, Cobs: cobs})
	if err != nil {
		return err
	}
	newOid, err := st.WriteObject(ctx, oid.KindBlob, body)
	if err != nil {
		return fmt.Errorf("tracking: write entry object: %w", err)
	}

	res, err := st.Update(ctx, store.Batch{Updates: []store.RefUpdate{
		{Namespace: ref.Namespace(), Name: ref.String(), New: &newOid, Previous: precondition(policy, exists, cur)},
	}})
	if err != nil {
		return fmt.Errorf("tracking: update ref: %w", err)
	}
	if !res.Applied {
		return fmt.Errorf("tracking: precondition failed for %s", ref.String())
	}
	return nil
}

// Untrack removes a tracking entry, per spec.md §4.4. It removes only
// the entry: ref data already mirrored for the peer under
// refs/namespaces/.../refs/remotes/ is not pruned and stays in place.
func Untrack(ctx context.Context, st store.Store, project urn.Urn, peer *peerid.PeerId, policy UntrackPrecondition) error {
	ref, err := refFor(project, peer)
	if err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	cur, exists, err := st.FindRef(ctx, ref.String())
	if err != nil {
		return fmt.Errorf("tracking: find current entry: %w", err)
	}
	if !exists {
		if policy == UntrackMustExist {
			return fmt.Errorf("tracking: no existing entry for %s", ref.String())
		}
		return nil
	}

	previous := store.AnyPrecondition()
	if policy == UntrackMustExist {
		previous = store.MustEqualPrecondition(cur)
	}
	res, err := st.Update(ctx, store.Batch{Updates: []store.RefUpdate{
		{Namespace: ref.Namespace(), Name: ref.String(), New: nil, Previous: previous},
	}})
	if err != nil {
		return fmt.Errorf("tracking: update ref: %w", err)
	}
	if !res.Applied {
		return fmt.Errorf("tracking: failed to remove entry for %s", ref.String())
	}
	return nil
}

// Action is one entry of a batch track/untrack transaction.
type Action struct {
	Project urn.Urn
	Peer    *peerid.PeerId
	Untrack bool // false: track (policy always Any within a batch); true: untrack
	Data    DataPolicy
	Cobs    CobPolicy
}

// Batch applies a list of track/untrack actions atomically via the
// store's Update (spec.md §4.4, "A batch form that applies a list of
// track/untrack actions atomically").
func Batch(ctx context.Context, st store.Store, actions []Action) error {
	updates := make([]store.RefUpdate, 0, len(actions))
	// Object writes must happen before the batch Update call (Update
	// only touches refs), so track actions' entry objects are written
	// up front; their content-addressed nature makes this safe even if
	// the subsequent Update is rejected.
	for _, a := range actions {
		ref, err := refFor(a.Project, a.Peer)
		if err != nil {
			return fmt.Errorf("tracking: %w", err)
		}
		if a.Untrack {
			updates = append(updates, store.RefUpdate{
				Namespace: ref.Namespace(), Name: ref.String(), New: nil, Previous: store.AnyPrecondition(),
			})
			continue
		}
		body, err := encodeEntry(Entry{Project: a.Project, Peer: a.Peer, DataPolicy: a.Data, Cobs: a.Cobs})
		if err != nil {
			return err
		}
		newOid, err := st.WriteObject(ctx, oid.KindBlob, body)
		if err != nil {
			return fmt.Errorf("tracking: write entry object: %w", err)
		}
		updates = append(updates, store.RefUpdate{
			Namespace: ref.Namespace(), Name: ref.String(), New: &newOid, Previous: store.AnyPrecondition(),
		})
	}

	res, err := st.Update(ctx, store.Batch{Updates: updates})
	if err != nil {
		return fmt.Errorf("tracking: batch update: %w", err)
	}
	if !res.Applied {
		return fmt.Errorf("tracking: batch rejected: %+v", res.Results)
	}
	return nil
}

// IsTracked resolves whether (project, peer) is tracked, per the
// peer-entry-first-then-wildcard precedence documented in DESIGN.md.
func IsTracked(ctx context.Context, st store.Store, project urn.Urn, peer peerid.PeerId) (bool, Entry, error) {
	entry, ok, err := resolve(ctx, st, project, peer)
	if err != nil {
		return false, Entry{}, err
	}
	return ok, entry, nil
}

// resolve looks up a peer-specific entry first; if absent, falls back
// to the project's wildcard default.
func resolve(ctx context.Context, st store.Store, project urn.Urn, peer peerid.PeerId) (Entry, bool, error) {
	peerRef, err := refFor(project, &peer)
	if err != nil {
		return Entry{}, false, fmt.Errorf("tracking: %w", err)
	}
	if entry, ok, err := readEntry(ctx, st, project, &peer, peerRef); ok || err != nil {
		return entry, ok, err
	}
	wildcardRef, err := refFor(project, nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("tracking: %w", err)
	}
	return readEntry(ctx, st, project, nil, wildcardRef)
}

func readEntry(ctx context.Context, st store.Store, project urn.Urn, peer *peerid.PeerId, ref refname.OwnedRef) (Entry, bool, error) {
	id, exists, err := st.FindRef(ctx, ref.String())
	if err != nil {
		return Entry{}, false, fmt.Errorf("tracking: find entry: %w", err)
	}
	if !exists {
		return Entry{}, false, nil
	}
	reader, ok := st.(interface {
		ReadObject(ctx context.Context, id oid.Oid) ([]byte, error)
	})
	if !ok {
		return Entry{}, false, fmt.Errorf("tracking: store does not support object reads")
	}
	data, err := reader.ReadObject(ctx, id)
	if err != nil {
		return Entry{}, false, fmt.Errorf("tracking: read entry object: %w", err)
	}
	dp, cobs, err := decodeEntry(data)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Project: project, Peer: peer, DataPolicy: dp, Cobs: cobs}, true, nil
}

// TrackedPeers returns the PeerIds with an explicit (non-wildcard)
// tracking entry for project; finite, per spec.md §4.4.
func TrackedPeers(ctx context.Context, st store.Store, project urn.Urn) ([]peerid.PeerId, error) {
	pattern, err := refname.NewRefspecPattern(project, nil, "refs/rad/tracking/")
	if err != nil {
		return nil, fmt.Errorf("tracking: %w", err)
	}
	it, err := st.ScanRefs(ctx, pattern.StorePrefix())
	if err != nil {
		return nil, fmt.Errorf("tracking: scan refs: %w", err)
	}

	var peers []peerid.PeerId
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		segment := strings.TrimPrefix(e.Name, pattern.StorePrefix())
		if segment == "_" {
			continue // the wildcard default, not a peer
		}
		id, err := peerid.Parse(segment)
		if err != nil {
			return nil, fmt.Errorf("tracking: parse tracked peer %q: %w", segment, err)
		}
		peers = append(peers, id)
	}
	return peers, nil
}
