package interrogate

import (
	"context"
	"net"
	"testing"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

func TestServerGetAdvertisement(t *testing.T) {
	client, server := net.Pipe()
	srv := &Server{Advertisement: Advertisement{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/4001"}, Capabilities: []string{"git", "gossip"}}}

	done := make(chan error, 1)
	go func() { done <- srv.Handle(context.Background(), server, nil) }()

	resp, err := Call(client, Request{Kind: MethodGetAdvertisement})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Advertisement == nil || len(resp.Advertisement.ListenAddrs) != 1 {
		t.Fatalf("unexpected advertisement response: %+v", resp)
	}
	if err := <-done; err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestServerGetUrns(t *testing.T) {
	client, server := net.Pipe()
	root, err := oid.Of(oid.KindCommit, []byte("project-root"))
	if err != nil {
		t.Fatalf("oid.Of: %v", err)
	}
	u, err := urn.New(root, "")
	if err != nil {
		t.Fatalf("urn.New: %v", err)
	}
	srv := &Server{LocalUrns: func() []urn.Urn { return []urn.Urn{u} }}

	done := make(chan error, 1)
	go func() { done <- srv.Handle(context.Background(), server, nil) }()

	resp, err := Call(client, Request{Kind: MethodGetUrns})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Urns == nil {
		t.Fatal("expected a urns filter in the response")
	}
	if !resp.Urns.Filter.Contains(UrnKey(u)) {
		t.Fatal("filter should contain the advertised urn's key")
	}
	if err := <-done; err != nil {
		t.Fatalf("Handle: %v", err)
	}
}
