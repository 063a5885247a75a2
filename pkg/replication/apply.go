package replication

import (
	"context"

	"github.com/sourcemesh/meshd/pkg/store"
)

// apply runs Phase E: submit the planned batch as a single atomic
// store transaction. A rejected batch leaves every ref untouched
// (store.Store's own all-or-nothing contract), matching spec.md's
// "idempotent on retry" requirement.
func (e *Engine) apply(ctx context.Context, pl *plan) (store.BatchResult, error) {
	if len(pl.updates) == 0 {
		return store.BatchResult{Applied: true}, nil
	}
	res, err := e.store.Update(ctx, store.Batch{Updates: pl.updates})
	if err != nil {
		return store.BatchResult{}, &Error{Kind: KindApplyTransaction, Phase: "apply", Err: err}
	}
	return res, nil
}
