package identity

import (
	"context"
	"fmt"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/signer"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// maxChainDepth bounds the walk back to genesis so a malicious or
// corrupt parent cycle fails loudly instead of looping forever.
const maxChainDepth = 100_000

// VerifiedIdentity is the result of a successful Verify: the document
// in force at tip, the effective key set that authorized it, and the
// full root-to-tip oid chain (used by Newer to test ancestry).
type VerifiedIdentity struct {
	Urn       urn.Urn
	Tip       oid.Oid
	Document  Document
	Delegates []peerid.PeerId
	History   []oid.Oid // root first, tip last
}

// Verify walks the history ending at tip back to its root commit, then
// forward, checking continuity and delegation quorum at every
// revision. resolve is consulted for any indirect (nested-URN)
// delegation encountered along the way.
//
// The walk order matters: quorum at revision N depends on the document
// in force at revision N itself (direct keys plus one level of
// resolved indirects), never on a later revision's delegation set.
func Verify(ctx context.Context, src Source, tip oid.Oid, resolve Resolver) (*VerifiedIdentity, error) {
	chain, err := walkToRoot(ctx, src, tip)
	if err != nil {
		return nil, err
	}

	var (
		prev      *Commit
		prevTree  oid.Oid
		effective []peerid.PeerId
		doc       Document
	)
	for i, c := range chain {
		tree, err := c.Tree()
		if err != nil {
			return nil, &Error{Kind: KindParseError, At: c.Oid.String(), Err: err}
		}
		doc, err = DecodeDocument(c.TreeBytes)
		if err != nil {
			return nil, err
		}

		if i == 0 {
			if c.Parent != nil {
				return nil, &Error{Kind: KindParentMismatch, At: c.Oid.String(),
					Err: fmt.Errorf("root commit must have no parent")}
			}
			if doc.Replaces != nil {
				return nil, &Error{Kind: KindParentMismatch, At: c.Oid.String(),
					Err: fmt.Errorf("root document must not set replaces")}
			}
		} else {
			if c.Parent == nil || !c.Parent.Equal(prev.Oid) {
				return nil, &Error{Kind: KindParentMismatch, At: c.Oid.String(),
					Err: fmt.Errorf("parent pointer does not match walked history")}
			}
			if doc.Replaces == nil || !doc.Replaces.Equal(prevTree) {
				return nil, &Error{Kind: KindParentMismatch, At: c.Oid.String(),
					Err: fmt.Errorf("replaces does not match parent revision's content-id")}
			}
		}

		effective, err = effectiveKeys(ctx, src, doc, resolve)
		if err != nil {
			return nil, err
		}
		if err := checkQuorum(c, tree, effective); err != nil {
			return nil, err
		}

		prev = &chain[i]
		prevTree = tree
	}

	root, err := urn.New(chain[0].Oid, "")
	if err != nil {
		return nil, &Error{Kind: KindRootMismatch, Err: err}
	}

	history := make([]oid.Oid, len(chain))
	for i, c := range chain {
		history[i] = c.Oid
	}

	return &VerifiedIdentity{
		Urn:       root,
		Tip:       tip,
		Document:  doc,
		Delegates: effective,
		History:   history,
	}, nil
}

// walkToRoot follows Parent pointers from tip back to the commit with
// no parent, returning the chain root-first.
func walkToRoot(ctx context.Context, src Source, tip oid.Oid) ([]Commit, error) {
	var reversed []Commit
	cur := tip
	for depth := 0; ; depth++ {
		if depth > maxChainDepth {
			return nil, &Error{Kind: KindDanglingParent, At: cur.String(),
				Err: fmt.Errorf("parent chain exceeds %d commits", maxChainDepth)}
		}
		c, err := src.Commit(ctx, cur)
		if err != nil {
			return nil, &Error{Kind: KindDanglingParent, At: cur.String(), Err: err}
		}
		reversed = append(reversed, c)
		if c.Parent == nil {
			break
		}
		cur = *c.Parent
	}
	chain := make([]Commit, len(reversed))
	for i, c := range reversed {
		chain[len(reversed)-1-i] = c
	}
	return chain, nil
}

// effectiveKeys computes the key set a revision's quorum is measured
// against: direct delegation keys, plus, for every indirect delegation,
// the direct keys of the Urn resolve currently resolves it to. Indirect
// delegations found at that second level are not themselves expanded —
// resolution is one level deep only (spec.md §4.2 step 3).
func effectiveKeys(ctx context.Context, src Source, doc Document, resolve Resolver) ([]peerid.PeerId, error) {
	// PeerId embeds a crypto.PubKey interface, whose concrete Ed25519
	// implementation wraps a byte slice — not map-key safe. Dedup on
	// the textual encoding instead.
	seen := make(map[string]bool)
	var keys []peerid.PeerId
	add := func(id peerid.PeerId) {
		if s := id.String(); !seen[s] {
			seen[s] = true
			keys = append(keys, id)
		}
	}

	for _, d := range doc.Delegations {
		if d.Key != nil {
			add(*d.Key)
			continue
		}
		target, ok := resolve(*d.URN)
		if !ok {
			return nil, &Error{Kind: KindUnresolvedDelegate,
				Err: fmt.Errorf("no resolution for %s", d.URN.String())}
		}
		nested, err := src.Commit(ctx, target)
		if err != nil {
			return nil, &Error{Kind: KindUnresolvedDelegate, At: target.String(), Err: err}
		}
		nestedDoc, err := DecodeDocument(nested.TreeBytes)
		if err != nil {
			return nil, err
		}
		for _, nd := range nestedDoc.Delegations {
			if nd.Key != nil {
				add(*nd.Key)
			}
			// A second level of indirection here is intentionally
			// ignored: it would let a project identity's quorum
			// depend on a delegation chain of unbounded length.
		}
	}
	return keys, nil
}

// checkQuorum verifies c's signatures against effective, requiring a
// strict majority (floor(N/2)+1) of effective to have signed tree.
func checkQuorum(c Commit, tree oid.Oid, effective []peerid.PeerId) error {
	inSet := make(map[string]bool, len(effective))
	for _, k := range effective {
		inSet[k.String()] = true
	}

	treeBytes := tree.Bytes()
	valid := make(map[string]bool)
	for _, sig := range c.Signatures {
		key := sig.Key.String()
		if !inSet[key] {
			continue // signature from a non-delegate, not counted
		}
		ok, err := signer.Verify(sig.Key, treeBytes, sig.Sig)
		if err != nil {
			return &Error{Kind: KindBadSignatures, At: c.Oid.String(), Err: err}
		}
		if !ok {
			return &Error{Kind: KindBadSignatures, At: c.Oid.String(),
				Err: fmt.Errorf("signature by delegate %s does not verify", sig.Key)}
		}
		valid[key] = true
	}

	threshold := len(effective)/2 + 1
	if len(valid) < threshold {
		return &Error{Kind: KindQuorumNotReached, At: c.Oid.String(),
			Err: fmt.Errorf("%d of %d required signatures (effective set size %d)",
				len(valid), threshold, len(effective))}
	}
	return nil
}

// Newer orders two verified revisions of the same identity by
// ancestry: the one whose History contains the other's tip is newer.
// It returns an error if a and b name different roots, or if neither
// history contains the other's tip (a fork requiring out-of-band
// resolution, not something Newer can decide).
func Newer(a, b *VerifiedIdentity) (*VerifiedIdentity, error) {
	if !a.Urn.SameIdentity(b.Urn) {
		return nil, &Error{Kind: KindRootMismatch,
			Err: fmt.Errorf("%s and %s do not share a root", a.Urn, b.Urn)}
	}
	if a.Tip.Equal(b.Tip) {
		return a, nil
	}
	if containsOid(b.History, a.Tip) {
		return b, nil
	}
	if containsOid(a.History, b.Tip) {
		return a, nil
	}
	return nil, ErrDiverged
}

func containsOid(haystack []oid.Oid, needle oid.Oid) bool {
	for _, o := range haystack {
		if o.Equal(needle) {
			return true
		}
	}
	return false
}
