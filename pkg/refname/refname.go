// Package refname implements the ref namespace layout of spec.md §3
// ("Ref namespace layout"): every ref lives under
// refs/namespaces/<project-urn>/..., scoped either to the local peer's
// own view or mirrored under a remote peer's id.
package refname

import (
	"fmt"
	"strings"

	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

const (
	namespacesPrefix = "refs/namespaces"
	remotesSegment   = "refs/remotes"
)

// Well-known leaves within a project's own (non-remote) ref tree.
const (
	LeafID         = "refs/rad/id"
	LeafSelf       = "refs/rad/self"
	LeafSignedRefs = "refs/rad/signed_refs"
)

// IdsLeaf returns the ref name caching the tip of an indirectly
// delegated identity named by u.
func IdsLeaf(u urn.Urn) string {
	return fmt.Sprintf("refs/rad/ids/%s", u.String())
}

// wildcardPeerSegment names the tracking-graph's default entry for a
// project, applied when no peer-specific entry exists.
const wildcardPeerSegment = "_"

// TrackingLeaf returns the ref name a tracking-graph entry for peer is
// persisted under. peer nil names the wildcard default entry
// (spec.md §3, "scope: the PeerId being tracked, or a wildcard
// default").
func TrackingLeaf(peer *peerid.PeerId) string {
	if peer == nil {
		return "refs/rad/tracking/" + wildcardPeerSegment
	}
	return "refs/rad/tracking/" + peer.String()
}

// OwnedRef names a ref the local peer publishes directly under a
// project namespace: refs/namespaces/<project>/<leaf>, where leaf is
// one of the refs/rad/*, refs/heads/*, refs/tags/*, refs/notes/*, or
// refs/cobs/* trees.
type OwnedRef struct {
	Project urn.Urn
	Leaf    string
}

// NewOwnedRef validates leaf against the categories spec.md §3 allows
// and builds an OwnedRef.
func NewOwnedRef(project urn.Urn, leaf string) (OwnedRef, error) {
	if project.IsZero() {
		return OwnedRef{}, fmt.Errorf("refname: project urn is required")
	}
	if err := validateLeaf(leaf); err != nil {
		return OwnedRef{}, err
	}
	return OwnedRef{Project: project, Leaf: leaf}, nil
}

func validateLeaf(leaf string) error {
	switch {
	case leaf == LeafID, leaf == LeafSelf, leaf == LeafSignedRefs:
		return nil
	case strings.HasPrefix(leaf, "refs/rad/ids/"), strings.HasPrefix(leaf, "refs/rad/tracking/"):
		return nil
	case strings.HasPrefix(leaf, "refs/heads/"),
		strings.HasPrefix(leaf, "refs/tags/"),
		strings.HasPrefix(leaf, "refs/notes/"),
		strings.HasPrefix(leaf, "refs/cobs/"):
		if leaf == "refs/heads/" || leaf == "refs/tags/" || leaf == "refs/notes/" || leaf == "refs/cobs/" {
			return fmt.Errorf("refname: leaf %q has no name component", leaf)
		}
		return nil
	default:
		return fmt.Errorf("refname: leaf %q is not a recognised ref category", leaf)
	}
}

// String renders the full store ref path.
func (r OwnedRef) String() string {
	return fmt.Sprintf("%s/%s/%s", namespacesPrefix, r.Project.Root.String(), r.Leaf)
}

// Namespace returns the store-level namespace this ref's writes must
// be serialized within (one mutex per project).
func (r OwnedRef) Namespace() string { return r.Project.Root.String() }

// RemoteTrackingRef names a mirrored view of another peer's refs under
// a project: refs/namespaces/<project>/refs/remotes/<peer>/<leaf>.
type RemoteTrackingRef struct {
	Project urn.Urn
	Remote  peerid.PeerId
	Leaf    string
}

// NewRemoteTrackingRef validates leaf and builds a RemoteTrackingRef.
// Remote tracking mirrors the owned-ref categories; refs/rad/self and
// refs/rad/signed_refs are included since a remote's own identity and
// manifest are exactly what's mirrored.
func NewRemoteTrackingRef(project urn.Urn, remote peerid.PeerId, leaf string) (RemoteTrackingRef, error) {
	if project.IsZero() {
		return RemoteTrackingRef{}, fmt.Errorf("refname: project urn is required")
	}
	if remote.IsZero() {
		return RemoteTrackingRef{}, fmt.Errorf("refname: remote peer id is required")
	}
	if err := validateLeaf(leaf); err != nil {
		return RemoteTrackingRef{}, err
	}
	return RemoteTrackingRef{Project: project, Remote: remote, Leaf: leaf}, nil
}

func (r RemoteTrackingRef) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", namespacesPrefix, r.Project.Root.String(), remotesSegment, r.Remote.String(), r.Leaf)
}

func (r RemoteTrackingRef) Namespace() string { return r.Project.Root.String() }

// RefspecPattern is a glob-like prefix pattern over a project's ref
// tree, used by replication and tracking to describe what subset of
// refs an operation cares about (e.g. "all heads", "all of peer X's
// refs"). It carries no wildcard syntax beyond "everything under this
// prefix" — spec.md never calls for more.
type RefspecPattern struct {
	Project urn.Urn
	Remote  *peerid.PeerId // nil: the local peer's own refs
	Prefix  string         // e.g. "refs/heads/", "" for everything
}

// NewRefspecPattern validates and builds a RefspecPattern.
func NewRefspecPattern(project urn.Urn, remote *peerid.PeerId, prefix string) (RefspecPattern, error) {
	if project.IsZero() {
		return RefspecPattern{}, fmt.Errorf("refname: project urn is required")
	}
	if strings.ContainsAny(prefix, "*?") {
		return RefspecPattern{}, fmt.Errorf("refname: prefix %q must not contain glob metacharacters", prefix)
	}
	return RefspecPattern{Project: project, Remote: remote, Prefix: prefix}, nil
}

// StorePrefix renders the store-level key prefix this pattern matches,
// suitable for Store.ScanRefs.
func (p RefspecPattern) StorePrefix() string {
	base := fmt.Sprintf("%s/%s/", namespacesPrefix, p.Project.Root.String())
	if p.Remote != nil {
		base = fmt.Sprintf("%s%s/%s/", base, remotesSegment, p.Remote.String())
	}
	return base + p.Prefix
}
