// Package identity implements verifiable identity histories: documents,
// signed commits, indirect delegation resolution, and the quorum
// verifier described in spec.md §3 and §4.2.
package identity

import (
	"fmt"

	"github.com/sourcemesh/meshd/pkg/canonical"
	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// Delegate is one entry in a Document's delegation set: either a direct
// public key, or — for "project" identities — a nested Urn whose own
// delegations contribute to the quorum one level deep (spec.md §3,
// "Identity document").
type Delegate struct {
	Key *peerid.PeerId
	URN *urn.Urn
}

// DelegateKey builds a direct-key delegation entry.
func DelegateKey(id peerid.PeerId) Delegate {
	k := id
	return Delegate{Key: &k}
}

// DelegateURN builds an indirect (nested-identity) delegation entry.
func DelegateURN(u urn.Urn) Delegate {
	v := u
	return Delegate{URN: &v}
}

// IsIndirect reports whether d delegates through a nested identity
// rather than a direct key.
func (d Delegate) IsIndirect() bool { return d.URN != nil }

// Document is the canonical-JSON payload carried by every identity
// commit's tree.
type Document struct {
	Payload     map[string]any `json:"payload"`
	Delegations []Delegate     `json:"delegations"`
	Replaces    *oid.Oid       `json:"replaces,omitempty"`
}

// delegateWire is the JSON-serializable shape of a Delegate: exactly
// one of Key/URN is set, matching the mixed direct-key/nested-URN set
// spec.md describes for project identities.
type delegateWire struct {
	Key *peerid.PeerId `json:"key,omitempty"`
	URN *urn.Urn       `json:"urn,omitempty"`
}

type documentWire struct {
	Payload     map[string]any `json:"payload"`
	Delegations []delegateWire `json:"delegations"`
	Replaces    *oid.Oid       `json:"replaces,omitempty"`
}

// EncodeDocument produces the canonical-JSON bytes for doc — the
// "tree" content every identity commit signs over.
func EncodeDocument(doc Document) ([]byte, error) {
	wire := documentWire{Payload: doc.Payload, Replaces: doc.Replaces}
	for _, d := range doc.Delegations {
		wire.Delegations = append(wire.Delegations, delegateWire{Key: d.Key, URN: d.URN})
	}
	out, err := canonical.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("identity: encode document: %w", err)
	}
	return out, nil
}

// DecodeDocument parses canonical-JSON bytes into a Document, rejecting
// malformed delegation entries (neither key nor urn, or both).
func DecodeDocument(data []byte) (Document, error) {
	var wire documentWire
	if err := canonical.Unmarshal(data, &wire); err != nil {
		return Document{}, &Error{Kind: KindParseError, Err: err}
	}
	doc := Document{Payload: wire.Payload, Replaces: wire.Replaces}
	for i, d := range wire.Delegations {
		switch {
		case d.Key != nil && d.URN == nil:
			doc.Delegations = append(doc.Delegations, Delegate{Key: d.Key})
		case d.URN != nil && d.Key == nil:
			doc.Delegations = append(doc.Delegations, Delegate{URN: d.URN})
		default:
			return Document{}, &Error{Kind: KindParseError,
				Err: fmt.Errorf("delegation %d must set exactly one of key/urn", i)}
		}
	}
	if len(doc.Delegations) == 0 {
		return Document{}, &Error{Kind: KindParseError, Err: fmt.Errorf("document has no delegations")}
	}
	return doc, nil
}
