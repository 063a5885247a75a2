package discovery

import (
	"testing"
	"time"
)

func TestNewDefaultsAnnounceInterval(t *testing.T) {
	d := New(nil, nil, Config{Rendezvous: "mesh-test"})
	if d.cfg.AnnounceInterval != 5*time.Minute {
		t.Fatalf("expected default announce interval of 5m, got %v", d.cfg.AnnounceInterval)
	}
}

func TestNewPreservesExplicitAnnounceInterval(t *testing.T) {
	d := New(nil, nil, Config{Rendezvous: "mesh-test", AnnounceInterval: 30 * time.Second})
	if d.cfg.AnnounceInterval != 30*time.Second {
		t.Fatalf("expected explicit announce interval to be preserved, got %v", d.cfg.AnnounceInterval)
	}
}

func TestNotificationsChannelNonNil(t *testing.T) {
	d := New(nil, nil, Config{Rendezvous: "mesh-test"})
	if d.Notifications() == nil {
		t.Fatal("expected non-nil notifications channel")
	}
}
