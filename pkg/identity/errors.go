package identity

import "fmt"

// Kind enumerates the closed set of ways an identity history can fail
// verification (spec.md §4.2).
type Kind int

const (
	KindBadSignatures Kind = iota
	KindQuorumNotReached
	KindRootMismatch
	KindParentMismatch
	KindDanglingParent
	KindUnresolvedDelegate
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindBadSignatures:
		return "bad_signatures"
	case KindQuorumNotReached:
		return "quorum_not_reached"
	case KindRootMismatch:
		return "root_mismatch"
	case KindParentMismatch:
		return "parent_mismatch"
	case KindDanglingParent:
		return "dangling_parent"
	case KindUnresolvedDelegate:
		return "unresolved_delegate"
	case KindParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// Error is the error type Verify and Newer return. At is the oid of the
// commit the failure was discovered at, where applicable.
type Error struct {
	Kind Kind
	At   string
	Err  error
}

func (e *Error) Error() string {
	if e.At != "" {
		return fmt.Sprintf("identity: %s at %s: %v", e.Kind, e.At, e.Err)
	}
	return fmt.Sprintf("identity: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrDiverged is returned by Newer when two revisions of the same
// identity have no ancestor relationship — neither history contains the
// other's tip. It sits outside the Kind taxonomy above because it is
// not a verification failure: both revisions may be independently
// valid and simply conflict (spec.md §4.2, "Newer").
var ErrDiverged = fmt.Errorf("identity: histories have diverged")
