package replication

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// SourceFactory opens a RemoteSource for a peer discovered during
// Phase F recursion. The top-level source for the originating remote
// is supplied directly to Replicate instead.
type SourceFactory func(ctx context.Context, remote peerid.PeerId) (RemoteSource, error)

// Engine runs replication jobs against a local object store, bounding
// concurrent fetches with a weighted semaphore (spec.md §5).
type Engine struct {
	store   store.Store
	local   peerid.PeerId
	cfg     Config
	sem     *semaphore.Weighted
	sources SourceFactory
}

// NewEngine builds an Engine. sources may be nil if the caller never
// intends to let Phase F recurse (single-hop replication only); any
// recursion candidate is then skipped and noted in the job's Report
// implicitly by its absence from Recursed.
func NewEngine(st store.Store, local peerid.PeerId, cfg Config, sources SourceFactory) *Engine {
	cfg = cfg.normalized()
	return &Engine{
		store:   st,
		local:   local,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.GlobalConcurrency)),
		sources: sources,
	}
}

// Replicate brings the local view of remote's project sub-namespace up
// to date, per spec.md §4.5's six phases, recursing into the remote's
// own tracked peers up to one level deep.
func (e *Engine) Replicate(ctx context.Context, source RemoteSource, project urn.Urn) (*Report, error) {
	return e.runJob(ctx, source, job{project: project, remote: source.Remote(), depth: 0, budget: newBudget(e.cfg.MaxBytes)})
}

type job struct {
	project urn.Urn
	remote  peerid.PeerId
	depth   int
	budget  *budget
}

func (e *Engine) runJob(ctx context.Context, source RemoteSource, j job) (*Report, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.SlotWaitTimeout)
	defer cancel()
	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		return nil, &Error{Kind: KindTimeout, Phase: "acquire", Err: fmt.Errorf("waiting for a fetch slot: %w", err)}
	}
	defer e.sem.Release(1)

	peeked, err := e.peek(ctx, source, j)
	if err != nil {
		return nil, err
	}

	verified, err := e.verify(ctx, peeked, j)
	if err != nil {
		return nil, err
	}

	plan, err := e.prepare(ctx, peeked, verified, j)
	if err != nil {
		return nil, err
	}

	if err := e.fetchBodies(ctx, source, plan, j); err != nil {
		return nil, err
	}

	batchResult, err := e.apply(ctx, plan)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Project:    j.project,
		Remote:     j.remote,
		Depth:      j.depth,
		IdStatus:   verified.status,
		AdoptedTip: verified.adoptedTip,
		Refs:       reportFromBatch(batchResult, plan.updates),
	}

	if batchResult.Applied {
		recursed, err := e.recurse(ctx, peeked, j)
		if err != nil {
			return report, err
		}
		report.Recursed = recursed
	}

	return report, nil
}
