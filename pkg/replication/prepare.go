package replication

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/refname"
	"github.com/sourcemesh/meshd/pkg/signedrefs"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// plan is Phase C's output: the batch Phase E will submit, plus the
// set of oids it references that Phase D must ensure are local.
type plan struct {
	updates []store.RefUpdate
	wants   []oid.Oid
}

// prepare runs Phase C: mirror the remote's rad/* tree, stage
// signed-manifest-driven data-ref updates and deletions, each under
// the precondition spec.md §4.5 names for its category.
func (e *Engine) prepare(ctx context.Context, p *peeked, v *verified, j job) (*plan, error) {
	pl := &plan{}

	if err := e.stageIdentityMirrors(ctx, p, v, j, pl); err != nil {
		return nil, err
	}
	if err := e.stageLeafMirror(ctx, refname.LeafSelf, p.adv.SelfTip, j, pl); err != nil {
		return nil, err
	}
	if err := e.stageLeafMirror(ctx, refname.LeafSignedRefs, p.adv.SignedRefsTip, j, pl); err != nil {
		return nil, err
	}
	if p.manifest != nil {
		if err := e.stageDataRefs(ctx, p.manifest, j, pl); err != nil {
			return nil, err
		}
	}
	return pl, nil
}

// stageIdentityMirrors mirrors refs/rad/id and every peeked
// refs/rad/ids/<urn> leaf under the remote's tracking tree, each gated
// by a fast-forward precondition against the remote's own verified
// history. A non-ff leaf is silently skipped: spec.md's "unless policy
// explicitly allows non-ff" names no such policy yet, so the
// conservative default is to never stage one.
func (e *Engine) stageIdentityMirrors(ctx context.Context, p *peeked, v *verified, j job, pl *plan) error {
	if p.adv.IdentityTip != nil {
		if err := e.stageIdentityLeaf(ctx, refname.LeafID, *p.adv.IdentityTip, v, j, pl); err != nil {
			return err
		}
	}
	for urnStr, tip := range p.adv.NestedIdentities {
		u, err := urn.Parse(urnStr)
		if err != nil {
			return &Error{Kind: KindPrepareUpdate, Phase: "prepare",
				Err: fmt.Errorf("advertised nested identity %q: %w", urnStr, err)}
		}
		if err := e.stageIdentityLeaf(ctx, refname.IdsLeaf(u), tip, v, j, pl); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) stageIdentityLeaf(ctx context.Context, leaf string, tip oid.Oid, v *verified, j job, pl *plan) error {
	ref, err := refname.NewRemoteTrackingRef(j.project, j.remote, leaf)
	if err != nil {
		return &Error{Kind: KindPrepareUpdate, Phase: "prepare", Err: err}
	}
	cur, exists, err := e.store.FindRef(ctx, ref.String())
	if err != nil {
		return &Error{Kind: KindPrepareUpdate, Phase: "prepare", Err: err}
	}
	if exists {
		if v.remote == nil || !historyContains(v.remote.History, cur) {
			return nil // not a fast-forward: skip, do not stage
		}
	}
	newTip := tip
	pl.updates = append(pl.updates, store.RefUpdate{
		Namespace: ref.Namespace(),
		Name:      ref.String(),
		New:       &newTip,
		Previous:  previousFor(cur, exists),
	})
	pl.wants = append(pl.wants, tip)
	return nil
}

// stageLeafMirror mirrors a non-identity leaf (self, signed_refs)
// under an optimistic compare-and-swap precondition.
func (e *Engine) stageLeafMirror(ctx context.Context, leaf string, tip *oid.Oid, j job, pl *plan) error {
	if tip == nil {
		return nil
	}
	ref, err := refname.NewRemoteTrackingRef(j.project, j.remote, leaf)
	if err != nil {
		return &Error{Kind: KindPrepareUpdate, Phase: "prepare", Err: err}
	}
	cur, exists, err := e.store.FindRef(ctx, ref.String())
	if err != nil {
		return &Error{Kind: KindPrepareUpdate, Phase: "prepare", Err: err}
	}
	newTip := *tip
	pl.updates = append(pl.updates, store.RefUpdate{
		Namespace: ref.Namespace(),
		Name:      ref.String(),
		New:       &newTip,
		Previous:  previousFor(cur, exists),
	})
	pl.wants = append(pl.wants, *tip)
	return nil
}

// stageDataRefs mirrors every ref in the remote's signed manifest —
// membership in manifest.Refs is itself the precondition data-ref
// updates require, satisfied by construction since every staged value
// is read directly out of it — and deletes any remote-tracking ref
// that used to be present but no longer is.
func (e *Engine) stageDataRefs(ctx context.Context, manifest *signedrefs.Manifest, j job, pl *plan) error {
	seen := make(map[string]bool, len(manifest.Refs))
	for name, want := range manifest.Refs {
		ref, err := refname.NewRemoteTrackingRef(j.project, j.remote, name)
		if err != nil {
			return &Error{Kind: KindPrepareUpdate, Phase: "prepare",
				Err: fmt.Errorf("manifest ref %q: %w", name, err)}
		}
		seen[ref.String()] = true
		newTip := want
		pl.updates = append(pl.updates, store.RefUpdate{
			Namespace: ref.Namespace(),
			Name:      ref.String(),
			New:       &newTip,
			Previous:  store.AnyPrecondition(),
		})
		pl.wants = append(pl.wants, want)
	}

	pattern, err := refname.NewRefspecPattern(j.project, &j.remote, "")
	if err != nil {
		return &Error{Kind: KindPrepareUpdate, Phase: "prepare", Err: err}
	}
	it, err := e.store.ScanRefs(ctx, pattern.StorePrefix())
	if err != nil {
		return &Error{Kind: KindPrepareUpdate, Phase: "prepare", Err: fmt.Errorf("scan existing remote refs: %w", err)}
	}
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		if seen[entry.Name] || isRadMirrorLeaf(entry.Name) {
			continue
		}
		old := entry.OID
		pl.updates = append(pl.updates, store.RefUpdate{
			Namespace: pattern.Project.Root.String(),
			Name:      entry.Name,
			New:       nil,
			Previous:  store.MustEqualPrecondition(old),
		})
	}
	return nil
}

// isRadMirrorLeaf reports whether name is one of the rad/* leaves
// staged separately by stageIdentityMirrors/stageLeafMirror, so the
// deletion scan in stageDataRefs never races with them.
func isRadMirrorLeaf(name string) bool {
	for _, suffix := range []string{"/" + refname.LeafID, "/" + refname.LeafSelf, "/" + refname.LeafSignedRefs} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return strings.Contains(name, "/refs/rad/ids/")
}

func previousFor(cur oid.Oid, exists bool) store.Precondition {
	if exists {
		return store.MustEqualPrecondition(cur)
	}
	return store.MustNotExistPrecondition()
}

func historyContains(history []oid.Oid, needle oid.Oid) bool {
	for _, o := range history {
		if o.Equal(needle) {
			return true
		}
	}
	return false
}
