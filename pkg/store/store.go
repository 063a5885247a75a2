// Package store implements the object database and atomic ref-update
// contract described in spec.md §4.1: content-addressed object
// storage plus transactional, per-namespace-serialized ref batches.
package store

import (
	"context"
	"fmt"

	"github.com/sourcemesh/meshd/pkg/oid"
)

// PreconditionKind enumerates the ways an Update entry can constrain
// the ref it touches.
type PreconditionKind int

const (
	// Any accepts whatever the ref currently is, including absent.
	Any PreconditionKind = iota
	// MustNotExist requires the ref to be absent.
	MustNotExist
	// MustEqual requires the ref's current value to equal a specific oid.
	MustEqual
)

// Precondition is the expectation a RefUpdate carries about the
// current value of the ref it writes.
type Precondition struct {
	Kind PreconditionKind
	OID  oid.Oid
}

func AnyPrecondition() Precondition        { return Precondition{Kind: Any} }
func MustNotExistPrecondition() Precondition { return Precondition{Kind: MustNotExist} }
func MustEqualPrecondition(id oid.Oid) Precondition {
	return Precondition{Kind: MustEqual, OID: id}
}

func (p Precondition) matches(cur oid.Oid, exists bool) bool {
	switch p.Kind {
	case Any:
		return true
	case MustNotExist:
		return !exists
	case MustEqual:
		return exists && cur.Equal(p.OID)
	default:
		return false
	}
}

// RefUpdate is one entry in a batch: a ref write (New set) or delete
// (New nil), guarded by Previous.
type RefUpdate struct {
	Namespace string
	Name      string
	New       *oid.Oid
	Previous  Precondition
}

// Batch is the unit of atomicity Update accepts: either every entry's
// precondition holds and every write lands, or none are observable.
type Batch struct {
	Updates []RefUpdate
}

// Outcome reports what happened to one RefUpdate within a Batch.
type Outcome int

const (
	Applied Outcome = iota
	Rejected
)

// UpdateResult is the per-entry report from Update.
type UpdateResult struct {
	Namespace string
	Name      string
	Outcome   Outcome
	Err       error // set when Outcome == Rejected
}

// BatchResult is the overall outcome of an Update call. Applied is
// false if and only if at least one entry's precondition failed, in
// which case no entry's write was observable (spec.md §4.1: "a
// mismatch rejects that update and fails the whole batch").
type BatchResult struct {
	Applied bool
	Results []UpdateResult
}

// RefEntry is one (name, oid) pair yielded by ScanRefs.
type RefEntry struct {
	Name string
	OID  oid.Oid
}

// RefIterator is a finite, non-restartable lazy sequence of refs
// matching a scan prefix (spec.md §4.1).
type RefIterator interface {
	// Next returns the next entry, or ok == false once exhausted.
	Next() (RefEntry, bool)
}

// Store is the object-store-and-ref-atomicity contract every
// higher-level component (signed refs, tracking, replication) is
// built on.
type Store interface {
	HasObject(ctx context.Context, id oid.Oid) (bool, error)
	FindRef(ctx context.Context, name string) (oid.Oid, bool, error)
	ScanRefs(ctx context.Context, prefix string) (RefIterator, error)
	Update(ctx context.Context, batch Batch) (BatchResult, error)
	WriteObject(ctx context.Context, kind oid.Kind, data []byte) (oid.Oid, error)
}

// ErrStoreFatal wraps store-level failures (I/O, corruption) that are
// fatal to the calling operation, distinct from the per-update
// precondition mismatches Update reports inline.
type ErrStoreFatal struct{ Err error }

func (e *ErrStoreFatal) Error() string { return fmt.Sprintf("store: %v", e.Err) }
func (e *ErrStoreFatal) Unwrap() error { return e.Err }
