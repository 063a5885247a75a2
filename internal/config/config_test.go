package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed validation: %v", err)
	}
}

func TestLoadAppliesDefaultsToPartialDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	doc := "network: testnet\nmembership:\n  max_active: 8\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network != "testnet" {
		t.Fatalf("expected network testnet, got %q", cfg.Network)
	}
	if cfg.Membership.MaxActive != 8 {
		t.Fatalf("expected max_active 8, got %d", cfg.Membership.MaxActive)
	}
	if cfg.Membership.MaxPassive != Default().Membership.MaxPassive {
		t.Fatalf("expected max_passive to default, got %d", cfg.Membership.MaxPassive)
	}
	if cfg.Replication.MaxPackBytes != Default().Replication.MaxPackBytes {
		t.Fatalf("expected max_pack_bytes to default, got %d", cfg.Replication.MaxPackBytes)
	}
}

func TestValidateRejectsNonPositiveBounds(t *testing.T) {
	cfg := Default()
	cfg.Membership.MaxActive = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected an error for max_active = 0")
	}
	var cerr *Error
	if !asError(err, &cerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if cerr.Kind != KindOutOfRange || cerr.Field != "membership.max_active" {
		t.Fatalf("unexpected error: %+v", cerr)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
