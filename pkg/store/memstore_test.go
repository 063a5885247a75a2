package store

import (
	"context"
	"sync"
	"testing"

	"github.com/sourcemesh/meshd/pkg/oid"
)

func TestWriteObjectAndHasObject(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	id, err := s.WriteObject(ctx, oid.KindBlob, []byte("hello"))
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}
	has, err := s.HasObject(ctx, id)
	if err != nil || !has {
		t.Fatalf("HasObject() = %v, %v, want true, nil", has, err)
	}

	missing, err := oid.Of(oid.KindBlob, []byte("never written"))
	if err != nil {
		t.Fatalf("oid.Of() error = %v", err)
	}
	has, err = s.HasObject(ctx, missing)
	if err != nil || has {
		t.Fatalf("HasObject(missing) = %v, %v, want false, nil", has, err)
	}
}

func TestUpdateMustNotExist(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	id, _ := s.WriteObject(ctx, oid.KindCommit, []byte("rev1"))

	res, err := s.Update(ctx, Batch{Updates: []RefUpdate{
		{Namespace: "proj", Name: "refs/rad/self", New: &id, Previous: MustNotExistPrecondition()},
	}})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !res.Applied {
		t.Fatalf("Update() Applied = false, results = %+v", res.Results)
	}

	cur, ok, err := s.FindRef(ctx, "refs/rad/self")
	if err != nil || !ok || !cur.Equal(id) {
		t.Fatalf("FindRef() = %v, %v, %v", cur, ok, err)
	}

	// Repeating the must-not-exist write now fails: the ref exists.
	id2, _ := s.WriteObject(ctx, oid.KindCommit, []byte("rev2"))
	res, err = s.Update(ctx, Batch{Updates: []RefUpdate{
		{Namespace: "proj", Name: "refs/rad/self", New: &id2, Previous: MustNotExistPrecondition()},
	}})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if res.Applied {
		t.Fatal("Update() Applied = true, want false (ref already exists)")
	}
	if res.Results[0].Outcome != Rejected {
		t.Fatalf("Outcome = %v, want Rejected", res.Results[0].Outcome)
	}

	cur, _, _ = s.FindRef(ctx, "refs/rad/self")
	if !cur.Equal(id) {
		t.Fatal("rejected update must not have changed the ref")
	}
}

func TestUpdateBatchAllOrNothing(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	idA, _ := s.WriteObject(ctx, oid.KindBlob, []byte("a"))
	idB, _ := s.WriteObject(ctx, oid.KindBlob, []byte("b"))

	res, err := s.Update(ctx, Batch{Updates: []RefUpdate{
		{Namespace: "proj", Name: "refs/heads/main", New: &idA, Previous: MustNotExistPrecondition()},
		{Namespace: "proj", Name: "refs/heads/main", New: &idB, Previous: MustEqualPrecondition(idB)}, // will fail: idB isn't current
	}})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if res.Applied {
		t.Fatal("Update() Applied = true, want false")
	}

	_, ok, _ := s.FindRef(ctx, "refs/heads/main")
	if ok {
		t.Fatal("no ref should be observable after a rejected batch")
	}
}

func TestUpdateCrossNamespaceDoesNotBlock(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	idA, _ := s.WriteObject(ctx, oid.KindBlob, []byte("a"))
	idB, _ := s.WriteObject(ctx, oid.KindBlob, []byte("b"))

	var wg sync.WaitGroup
	results := make([]BatchResult, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		r, _ := s.Update(ctx, Batch{Updates: []RefUpdate{
			{Namespace: "ns-a", Name: "refs/heads/main", New: &idA, Previous: MustNotExistPrecondition()},
		}})
		results[0] = r
	}()
	go func() {
		defer wg.Done()
		r, _ := s.Update(ctx, Batch{Updates: []RefUpdate{
			{Namespace: "ns-b", Name: "refs/heads/main", New: &idB, Previous: MustNotExistPrecondition()},
		}})
		results[1] = r
	}()
	wg.Wait()

	if !results[0].Applied || !results[1].Applied {
		t.Fatalf("both disjoint-namespace updates should apply, got %+v", results)
	}
}

func TestScanRefsIsFiniteAndSorted(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	idA, _ := s.WriteObject(ctx, oid.KindBlob, []byte("a"))
	idB, _ := s.WriteObject(ctx, oid.KindBlob, []byte("b"))
	s.Update(ctx, Batch{Updates: []RefUpdate{
		{Namespace: "ns", Name: "refs/heads/b", New: &idB, Previous: AnyPrecondition()},
		{Namespace: "ns", Name: "refs/heads/a", New: &idA, Previous: AnyPrecondition()},
		{Namespace: "ns", Name: "refs/tags/v1", New: &idA, Previous: AnyPrecondition()},
	}})

	it, err := s.ScanRefs(ctx, "refs/heads/")
	if err != nil {
		t.Fatalf("ScanRefs() error = %v", err)
	}
	var names []string
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != "refs/heads/a" || names[1] != "refs/heads/b" {
		t.Fatalf("names = %v", names)
	}
	if _, ok := it.Next(); ok {
		t.Fatal("iterator should be exhausted")
	}
}
