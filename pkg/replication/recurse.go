package replication

import (
	"context"

	"github.com/sourcemesh/meshd/pkg/tracking"
)

// recurse runs Phase F: for every peer the remote's signed manifest
// names as its own tracked remotes, enqueue an independent replication
// job if the local tracking policy for that peer allows data, bounded
// to recursion depth 1 and sharing the originating byte budget.
func (e *Engine) recurse(ctx context.Context, p *peeked, j job) ([]*Report, error) {
	if j.depth >= maxRecursionDepth || p.manifest == nil || len(p.manifest.Remotes) == 0 || e.sources == nil {
		return nil, nil
	}

	var reports []*Report
	for _, candidate := range p.manifest.Remotes {
		tracked, entry, err := tracking.IsTracked(ctx, e.store, j.project, candidate)
		if err != nil {
			return reports, &Error{Kind: KindPrepareUpdate, Phase: "recurse", Err: err}
		}
		if !tracked || entry.DataPolicy != tracking.DataAllow {
			continue
		}

		source, err := e.sources(ctx, candidate)
		if err != nil {
			return reports, wrapSourceErr(err, "recurse")
		}
		sub, err := e.runJob(ctx, source, job{
			project: j.project,
			remote:  candidate,
			depth:   j.depth + 1,
			budget:  j.budget,
		})
		if sub != nil {
			reports = append(reports, sub)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}
