package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sourcemesh/meshd/pkg/oid"
)

// MemStore is an in-memory Store: concurrent readers via a RWMutex
// over the ref table, writers serialized per-namespace via a striped
// mutex set. Update also holds the ref-table lock exclusively while it
// checks and applies a batch, so batches on unrelated namespaces do not
// run concurrently: each waits for the other's in-memory
// check-and-write, though never for its namespace lock. Objects
// are content-addressed and guarded by their own lock, independent of
// ref namespacing, since writing an object is commutative — there is
// no "previous value" to race on.
type MemStore struct {
	objMu   sync.RWMutex
	objects map[oid.Oid][]byte
	kinds   map[oid.Oid]oid.Kind

	refMu sync.RWMutex
	refs  map[string]oid.Oid

	nsMu    sync.Mutex
	nsLocks map[string]*sync.Mutex
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[oid.Oid][]byte),
		kinds:   make(map[oid.Oid]oid.Kind),
		refs:    make(map[string]oid.Oid),
		nsLocks: make(map[string]*sync.Mutex),
	}
}

func (s *MemStore) HasObject(_ context.Context, id oid.Oid) (bool, error) {
	s.objMu.RLock()
	defer s.objMu.RUnlock()
	_, ok := s.objects[id]
	return ok, nil
}

func (s *MemStore) WriteObject(_ context.Context, kind oid.Kind, data []byte) (oid.Oid, error) {
	id, err := oid.Of(kind, data)
	if err != nil {
		return oid.Oid{}, &ErrStoreFatal{Err: fmt.Errorf("hash object: %w", err)}
	}
	s.objMu.Lock()
	defer s.objMu.Unlock()
	// Content-addressed: a second write of identical bytes is a no-op,
	// and a same-oid write with different bytes cannot happen (the
	// hash would differ), so last-writer-wins is safe here.
	s.objects[id] = data
	s.kinds[id] = kind
	return id, nil
}

// ReadObject returns an object's bytes by oid. It is not part of the
// Store interface (not every backing implementation needs to expose
// raw reads to every caller), but higher-level packages that do need
// it — signedrefs, replication — type-assert for it explicitly.
func (s *MemStore) ReadObject(_ context.Context, id oid.Oid) ([]byte, error) {
	s.objMu.RLock()
	defer s.objMu.RUnlock()
	data, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("store: object %s not found", id)
	}
	return data, nil
}

func (s *MemStore) FindRef(_ context.Context, name string) (oid.Oid, bool, error) {
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	id, ok := s.refs[name]
	return id, ok, nil
}

func (s *MemStore) ScanRefs(_ context.Context, prefix string) (RefIterator, error) {
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	var matched []RefEntry
	for name, id := range s.refs {
		if strings.HasPrefix(name, prefix) {
			matched = append(matched, RefEntry{Name: name, OID: id})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return &sliceIterator{entries: matched}, nil
}

type sliceIterator struct {
	entries []RefEntry
	pos     int
}

func (it *sliceIterator) Next() (RefEntry, bool) {
	if it.pos >= len(it.entries) {
		return RefEntry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

// Update applies batch transactionally. Every touched namespace is
// locked (in sorted order, to make concurrent overlapping batches
// deadlock-free) before any precondition is evaluated, so the check
// and the write happen atomically with respect to other writers of
// the same namespaces. Disjoint-namespace batches take no common
// namespace lock, but the exclusive ref-table lock held for the check
// and the write applies them one at a time.
func (s *MemStore) Update(_ context.Context, batch Batch) (BatchResult, error) {
	namespaces := distinctNamespaces(batch.Updates)
	unlock := s.lockNamespaces(namespaces)
	defer unlock()

	s.refMu.Lock()
	defer s.refMu.Unlock()

	results := make([]UpdateResult, len(batch.Updates))
	allOK := true
	for i, u := range batch.Updates {
		cur, exists := s.refs[u.Name]
		if !u.Previous.matches(cur, exists) {
			results[i] = UpdateResult{
				Namespace: u.Namespace, Name: u.Name, Outcome: Rejected,
				Err: fmt.Errorf("precondition failed for %s (exists=%v, current=%v)", u.Name, exists, cur),
			}
			allOK = false
			continue
		}
		results[i] = UpdateResult{Namespace: u.Namespace, Name: u.Name, Outcome: Applied}
	}

	if !allOK {
		// None of the batch's writes are observable: re-run every
		// result as Rejected so a partially-checked batch can't be
		// mistaken for a partially-applied one.
		for i := range results {
			results[i].Outcome = Rejected
			if results[i].Err == nil {
				results[i].Err = fmt.Errorf("batch rejected: a sibling update's precondition failed")
			}
		}
		return BatchResult{Applied: false, Results: results}, nil
	}

	for _, u := range batch.Updates {
		if u.New == nil {
			delete(s.refs, u.Name)
		} else {
			s.refs[u.Name] = *u.New
		}
	}
	return BatchResult{Applied: true, Results: results}, nil
}

func distinctNamespaces(updates []RefUpdate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range updates {
		if !seen[u.Namespace] {
			seen[u.Namespace] = true
			out = append(out, u.Namespace)
		}
	}
	sort.Strings(out)
	return out
}

// lockNamespaces acquires (creating if necessary) the per-namespace
// mutex for each name in sorted order, returning a function that
// releases them all.
func (s *MemStore) lockNamespaces(namespaces []string) func() {
	locks := make([]*sync.Mutex, len(namespaces))
	s.nsMu.Lock()
	for i, ns := range namespaces {
		l, ok := s.nsLocks[ns]
		if !ok {
			l = &sync.Mutex{}
			s.nsLocks[ns] = l
		}
		locks[i] = l
	}
	s.nsMu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

var _ Store = (*MemStore)(nil)
