// Package urn implements the identity identifier described in spec.md
// §3: an immutable root object-id plus an optional path within the
// identity's own namespace.
package urn

import (
	"fmt"
	"strings"

	"github.com/sourcemesh/meshd/pkg/oid"
)

const scheme = "rad"

// Urn identifies an identity tree by the object-id of its root commit,
// optionally scoped to a sub-ref path. Two Urns with the same Root are
// the same identity regardless of history divergence (spec.md §3).
type Urn struct {
	Root oid.Oid
	Path string
}

// New builds a Urn, validating that Path (if present) contains no
// whitespace or query/fragment delimiters — it is a ref path component,
// not a general string.
func New(root oid.Oid, path string) (Urn, error) {
	if root.IsNil() {
		return Urn{}, fmt.Errorf("urn: root object-id is required")
	}
	if strings.ContainsAny(path, " \t\n?#") {
		return Urn{}, fmt.Errorf("urn: invalid path %q", path)
	}
	return Urn{Root: root, Path: path}, nil
}

// IsZero reports whether u is the zero value.
func (u Urn) IsZero() bool { return u.Root.IsNil() }

// Equal reports whether two Urns name the same identity at the same
// path. Per spec.md, identity equality is about Root alone; callers
// that need root-only comparison should compare u.Root directly.
func (u Urn) Equal(other Urn) bool {
	return u.Root.Equal(other.Root) && u.Path == other.Path
}

// SameIdentity reports whether two Urns share a root, ignoring path.
func (u Urn) SameIdentity(other Urn) bool {
	return u.Root.Equal(other.Root)
}

// WithPath returns a copy of u scoped to a different path under the
// same root.
func (u Urn) WithPath(path string) (Urn, error) {
	return New(u.Root, path)
}

// String renders the canonical textual form: "rad:<root>" or, with a
// path, "rad:<root>/<path>".
func (u Urn) String() string {
	if u.IsZero() {
		return ""
	}
	if u.Path == "" {
		return fmt.Sprintf("%s:%s", scheme, u.Root.String())
	}
	return fmt.Sprintf("%s:%s/%s", scheme, u.Root.String(), u.Path)
}

// Parse decodes the textual form produced by String.
func Parse(s string) (Urn, error) {
	prefix := scheme + ":"
	if !strings.HasPrefix(s, prefix) {
		return Urn{}, fmt.Errorf("urn: missing %q scheme in %q", scheme, s)
	}
	rest := strings.TrimPrefix(s, prefix)
	rootStr, path, _ := strings.Cut(rest, "/")
	root, err := oid.Parse(rootStr)
	if err != nil {
		return Urn{}, fmt.Errorf("urn: parse root: %w", err)
	}
	return New(root, path)
}

// MarshalText implements encoding.TextMarshaler.
func (u Urn) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Urn) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = Urn{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
