package replication

import (
	"context"
	"errors"

	"github.com/sourcemesh/meshd/pkg/identity"
	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/refname"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// verified is Phase B's output: the adopted identity (nil if the
// remote advertised none) and the status that led to it.
type verified struct {
	status     IdStatus
	adoptedTip *oid.Oid
	identity   *identity.VerifiedIdentity // adopted: local or remote, per the rule below
	remote     *identity.VerifiedIdentity // the remote's own verified tip, for Phase C's fast-forward check
}

// verify runs Phase B: verify the remote's advertised identity tip
// (and, if one already exists locally, the local tip), then decide
// which revision is adopted per spec.md §4.5's three-way rule.
func (e *Engine) verify(ctx context.Context, p *peeked, j job) (*verified, error) {
	if p.adv.IdentityTip == nil {
		return &verified{status: IdAdopted}, nil
	}

	src, err := identity.NewStoreSource(e.store)
	if err != nil {
		return nil, &Error{Kind: KindVerify, Phase: "verify", Err: err}
	}
	resolve := e.resolverFor(ctx, p, j.project)

	remoteVerified, err := identity.Verify(ctx, src, *p.adv.IdentityTip, resolve)
	if err != nil {
		return nil, &Error{Kind: KindVerify, Phase: "verify", Err: err}
	}

	localRef, err := refname.NewOwnedRef(j.project, refname.LeafID)
	if err != nil {
		return nil, &Error{Kind: KindVerify, Phase: "verify", Err: err}
	}
	localTip, exists, err := e.store.FindRef(ctx, localRef.String())
	if err != nil {
		return nil, &Error{Kind: KindVerify, Phase: "verify", Err: err}
	}
	if !exists {
		tip := remoteVerified.Tip
		return &verified{status: IdAdopted, adoptedTip: &tip, identity: remoteVerified, remote: remoteVerified}, nil
	}

	localVerified, err := identity.Verify(ctx, src, localTip, resolve)
	if err != nil {
		return nil, &Error{Kind: KindVerify, Phase: "verify", Err: err}
	}

	if isDelegate(remoteVerified.Delegates, e.local) {
		tip := localVerified.Tip
		return &verified{status: IdAdopted, adoptedTip: &tip, identity: localVerified, remote: remoteVerified}, nil
	}

	newer, err := identity.Newer(localVerified, remoteVerified)
	if err != nil {
		if errors.Is(err, identity.ErrDiverged) {
			// Older common ancestor: fall back to what's already
			// locally adopted rather than computing a merge base,
			// which identity.Newer has no notion of.
			tip := localVerified.Tip
			return &verified{status: IdUneven, adoptedTip: &tip, identity: localVerified, remote: remoteVerified}, nil
		}
		return nil, &Error{Kind: KindVerify, Phase: "verify", Err: err}
	}
	tip := newer.Tip
	return &verified{status: IdAdopted, adoptedTip: &tip, identity: newer, remote: remoteVerified}, nil
}

// resolverFor builds an identity.Resolver that consults the
// just-peeked refs/rad/ids/* first, falling back to the local copy
// (spec.md §4.5 Phase B).
func (e *Engine) resolverFor(ctx context.Context, p *peeked, project urn.Urn) identity.Resolver {
	return func(u urn.Urn) (oid.Oid, bool) {
		if tip, ok := p.adv.NestedIdentities[u.String()]; ok {
			return tip, true
		}
		ref, err := refname.NewOwnedRef(project, refname.IdsLeaf(u))
		if err != nil {
			return oid.Oid{}, false
		}
		tip, exists, err := e.store.FindRef(ctx, ref.String())
		if err != nil || !exists {
			return oid.Oid{}, false
		}
		return tip, true
	}
}

func isDelegate(delegates []peerid.PeerId, id peerid.PeerId) bool {
	for _, d := range delegates {
		if d.Equal(id) {
			return true
		}
	}
	return false
}
