// Package replication implements the multi-phase replication engine of
// spec.md §4.5: peek a remote's advertised refs, verify its identity,
// plan a bounded batch of ref updates, fetch the objects they need,
// apply them atomically, then recurse one level into the remote's own
// tracked peers.
package replication

import "fmt"

// Kind enumerates the closed set of ways a replication job can fail
// (spec.md §7).
type Kind int

const (
	KindFetch Kind = iota
	KindVerify
	KindPrepareUpdate
	KindApplyTransaction
	KindByteBudgetExceeded
	KindCancelled
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindVerify:
		return "verify"
	case KindPrepareUpdate:
		return "prepare_update"
	case KindApplyTransaction:
		return "apply_transaction"
	case KindByteBudgetExceeded:
		return "byte_budget_exceeded"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the error type every exported replication entry point
// returns. Phase names the phase the failure occurred in, for logging.
type Error struct {
	Kind  Kind
	Phase string
	Err   error
}

func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("replication: %s in phase %s: %v", e.Kind, e.Phase, e.Err)
	}
	return fmt.Sprintf("replication: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the caller may retry the operation
// unchanged (spec.md §4.5 "Failure semantics": transport/timeout
// errors are retriable and never leave partial ref state).
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindFetch, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}
