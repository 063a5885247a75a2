package replication

import (
	"context"
	"fmt"

	"github.com/sourcemesh/meshd/pkg/oid"
)

// fetchBodies runs Phase D: compute wants minus haves, then perform a
// single bounded fetch. Exceeding the shared byte budget aborts before
// anything from Phase C's plan is applied, so no partial ref state is
// ever visible (spec.md §4.5 "Failure semantics").
func (e *Engine) fetchBodies(ctx context.Context, source RemoteSource, pl *plan, j job) error {
	needed, err := e.wantsMinusHaves(ctx, pl.wants)
	if err != nil {
		return err
	}
	if len(needed) == 0 {
		return nil
	}

	result, err := source.Fetch(ctx, needed, j.budget.left())
	if err != nil {
		return wrapSourceErr(err, "fetch")
	}
	if !j.budget.reserve(result.BytesRead) {
		return &Error{Kind: KindByteBudgetExceeded, Phase: "fetch",
			Err: fmt.Errorf("fetch used %d bytes, exceeding the remaining shared budget", result.BytesRead)}
	}

	for _, o := range result.Objects {
		select {
		case <-ctx.Done():
			return &Error{Kind: KindCancelled, Phase: "fetch", Err: ctx.Err()}
		default:
		}
		got, err := e.store.WriteObject(ctx, o.Kind, o.Data)
		if err != nil {
			return &Error{Kind: KindFetch, Phase: "fetch", Err: fmt.Errorf("write object: %w", err)}
		}
		if !got.Equal(o.ID) {
			return &Error{Kind: KindFetch, Phase: "fetch",
				Err: fmt.Errorf("remote sent object %s under claimed id %s", got, o.ID)}
		}
	}

	for _, want := range needed {
		has, err := e.store.HasObject(ctx, want)
		if err != nil {
			return &Error{Kind: KindFetch, Phase: "fetch", Err: err}
		}
		if !has {
			return &Error{Kind: KindFetch, Phase: "fetch", Err: fmt.Errorf("remote did not send wanted object %s", want)}
		}
	}
	return nil
}

func (e *Engine) wantsMinusHaves(ctx context.Context, wants []oid.Oid) ([]oid.Oid, error) {
	seen := make(map[oid.Oid]bool, len(wants))
	var needed []oid.Oid
	for _, w := range wants {
		if seen[w] {
			continue
		}
		seen[w] = true
		has, err := e.store.HasObject(ctx, w)
		if err != nil {
			return nil, &Error{Kind: KindFetch, Phase: "fetch", Err: err}
		}
		if !has {
			needed = append(needed, w)
		}
	}
	return needed, nil
}
