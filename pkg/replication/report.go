package replication

import (
	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// IdStatus reports whether Verify's Phase B adopted a new identity
// revision or found the remote's history diverged from the local one.
type IdStatus int

const (
	// IdAdopted means a verified identity was chosen as current.
	IdAdopted IdStatus = iota
	// IdUneven means the remote's identity history diverged from the
	// local one; the remote's revision is not adopted and the local tip
	// stays current (AdoptedTip reports it). Data refs from the remote's
	// manifest are staged exactly as for IdAdopted; they are not limited
	// to what the older common ancestor allows.
	IdUneven
)

func (s IdStatus) String() string {
	if s == IdUneven {
		return "uneven"
	}
	return "adopted"
}

// RefOutcome is the per-ref report Phase E produces, distinguishing a
// delete from a write (store.Outcome alone cannot, since both report
// Applied).
type RefOutcome int

const (
	RefApplied RefOutcome = iota
	RefDeleted
	RefRejected
)

func (o RefOutcome) String() string {
	switch o {
	case RefApplied:
		return "applied"
	case RefDeleted:
		return "deleted"
	case RefRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RefReport is one planned update's final disposition.
type RefReport struct {
	Name    string
	Outcome RefOutcome
	Err     error
}

// Report is the result of one replication job (top-level or
// recursed).
type Report struct {
	Project    urn.Urn
	Remote     peerid.PeerId
	Depth      int
	IdStatus   IdStatus
	AdoptedTip *oid.Oid
	Refs       []RefReport
	Recursed   []*Report
}

func reportFromBatch(res store.BatchResult, planned []store.RefUpdate) []RefReport {
	refs := make([]RefReport, len(res.Results))
	for i, r := range res.Results {
		out := RefApplied
		switch {
		case r.Outcome == store.Rejected:
			out = RefRejected
		case i < len(planned) && planned[i].New == nil:
			out = RefDeleted
		}
		refs[i] = RefReport{Name: r.Name, Outcome: out, Err: r.Err}
	}
	return refs
}
