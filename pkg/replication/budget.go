package replication

import "sync"

// budget is a byte allowance shared across one top-level replication
// job and every Phase F job it recurses into (spec.md §4.5 Phase F:
// "shares the byte budget of the originating request"). Reserve is the
// only mutating operation, so concurrent recursive jobs can safely
// share a single instance.
type budget struct {
	mu        sync.Mutex
	remaining int64
}

func newBudget(total int64) *budget {
	return &budget{remaining: total}
}

// reserve attempts to account for n more bytes against the shared
// budget, returning false (without mutating remaining) if that would
// overdraw it.
func (b *budget) reserve(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.remaining {
		return false
	}
	b.remaining -= n
	return true
}

func (b *budget) left() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}
