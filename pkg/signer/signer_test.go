package signer

import (
	"context"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
)

func TestInMemorySignVerify(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	s, err := NewInMemory(priv)
	if err != nil {
		t.Fatalf("NewInMemory() error = %v", err)
	}

	msg := []byte("identity revision tree bytes")
	sig, err := s.SignAsync(context.Background(), msg)
	if err != nil {
		t.Fatalf("SignAsync() error = %v", err)
	}

	ok, err := Verify(s.PublicKey(), msg, sig)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("Verify() = false, want true")
	}

	ok, err = Verify(s.PublicKey(), []byte("tampered"), sig)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Fatal("Verify() = true for tampered message, want false")
	}
}

func TestStubSignersUnimplemented(t *testing.T) {
	priv, _, _ := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	in, _ := NewInMemory(priv)
	id := in.PublicKey()

	agent := NewAgentBacked(id, "/tmp/agent.sock")
	if _, err := agent.SignAsync(context.Background(), []byte("x")); err != ErrNotImplemented {
		t.Fatalf("AgentBacked.SignAsync() error = %v, want ErrNotImplemented", err)
	}

	remote := NewRemote(id, "https://example.invalid/sign")
	if _, err := remote.SignAsync(context.Background(), []byte("x")); err != ErrNotImplemented {
		t.Fatalf("Remote.SignAsync() error = %v, want ErrNotImplemented", err)
	}
}
