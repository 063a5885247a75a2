package urn

import (
	"testing"

	"github.com/sourcemesh/meshd/pkg/oid"
)

func sampleOid(t *testing.T) oid.Oid {
	t.Helper()
	o, err := oid.Of(oid.KindCommit, []byte("root commit bytes"))
	if err != nil {
		t.Fatalf("oid.Of() error = %v", err)
	}
	return o
}

func TestRoundTrip(t *testing.T) {
	root := sampleOid(t)
	u, err := New(root, "refs/heads/main")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s := u.String()
	parsed, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !parsed.Equal(u) {
		t.Fatalf("Parse(String()) = %+v, want %+v", parsed, u)
	}
}

func TestSameIdentityIgnoresPath(t *testing.T) {
	root := sampleOid(t)
	a, _ := New(root, "a")
	b, _ := New(root, "b")
	if !a.SameIdentity(b) {
		t.Fatal("same root with different paths should be the same identity")
	}
	if a.Equal(b) {
		t.Fatal("Equal should distinguish differing paths")
	}
}

func TestRejectsInvalidPath(t *testing.T) {
	root := sampleOid(t)
	if _, err := New(root, "bad path"); err == nil {
		t.Fatal("expected error for path containing whitespace")
	}
}
