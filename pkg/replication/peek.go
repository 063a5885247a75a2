package replication

import (
	"context"
	"fmt"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/signedrefs"
)

// peeked is everything Phase A/B hand forward: the remote's advertised
// tips plus its decoded, signature-checked signed-refs manifest (nil if
// the remote has never published one). No local ref is touched here —
// only the object database gains entries.
type peeked struct {
	adv      Advertisement
	manifest *signedrefs.Manifest
}

// peek runs Phase A: request the advertised rad/* tips, byte-budgeted,
// writing every received object but changing no ref.
func (e *Engine) peek(ctx context.Context, source RemoteSource, j job) (*peeked, error) {
	adv, result, err := source.Peek(ctx, j.project, j.budget.left())
	if err != nil {
		return nil, wrapSourceErr(err, "peek")
	}
	if !j.budget.reserve(result.BytesRead) {
		return nil, &Error{Kind: KindByteBudgetExceeded, Phase: "peek",
			Err: fmt.Errorf("peek used %d bytes, exceeding the remaining shared budget", result.BytesRead)}
	}

	byID := make(map[oid.Oid][]byte, len(result.Objects))
	for _, o := range result.Objects {
		got, err := e.store.WriteObject(ctx, o.Kind, o.Data)
		if err != nil {
			return nil, &Error{Kind: KindFetch, Phase: "peek", Err: fmt.Errorf("write object: %w", err)}
		}
		if !got.Equal(o.ID) {
			return nil, &Error{Kind: KindFetch, Phase: "peek",
				Err: fmt.Errorf("remote sent object %s under claimed id %s", got, o.ID)}
		}
		byID[o.ID] = o.Data
	}

	p := &peeked{adv: adv}
	if adv.SignedRefsTip != nil {
		data, ok := byID[*adv.SignedRefsTip]
		if !ok {
			return nil, &Error{Kind: KindFetch, Phase: "peek",
				Err: fmt.Errorf("remote advertised signed_refs tip %s but did not send it", adv.SignedRefsTip)}
		}
		manifest, err := signedrefs.Decode(data)
		if err != nil {
			return nil, &Error{Kind: KindVerify, Phase: "peek", Err: err}
		}
		ok, err = signedrefs.VerifyManifest(manifest, j.remote)
		if err != nil {
			return nil, &Error{Kind: KindVerify, Phase: "peek", Err: err}
		}
		if !ok {
			return nil, &Error{Kind: KindVerify, Phase: "peek",
				Err: fmt.Errorf("signed_refs manifest signature does not verify against %s", j.remote)}
		}
		p.manifest = &manifest
	}
	return p, nil
}

func wrapSourceErr(err error, phase string) error {
	if re, ok := err.(*Error); ok {
		return re
	}
	return &Error{Kind: KindFetch, Phase: phase, Err: err}
}
