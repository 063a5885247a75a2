// Package config loads the node's YAML configuration file: the option
// set spec.md §6 enumerates, plus the ambient profile/logging/metrics/
// discovery surface a running process needs that the distilled spec
// leaves to "the rest of the stack" (SPEC_FULL.md §1.2), in the same
// shape and loading style as the teacher's internal/config package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentConfigVersion is the latest configuration schema version.
const CurrentConfigVersion = 1

// NodeConfig is the top-level shape loaded from <profile>/config/node.yaml.
type NodeConfig struct {
	Version     int               `yaml:"version,omitempty"`
	ListenAddr  string            `yaml:"listen_addr"`
	Network     string            `yaml:"network"`
	Profile     ProfileConfig     `yaml:"profile"`
	Membership  MembershipConfig  `yaml:"membership"`
	Replication ReplicationConfig `yaml:"replication"`
	RateLimits  RateLimitsConfig  `yaml:"rate_limits"`
	Discovery   DiscoveryConfig   `yaml:"discovery,omitempty"`
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Metrics     MetricsConfig     `yaml:"metrics,omitempty"`
}

// ProfileConfig names the on-disk profile a node runs under (spec.md
// §6 "Persisted state layout": a bare git monorepo plus profile config,
// no sidecar database).
type ProfileConfig struct {
	Root string `yaml:"root"`
}

// MembershipConfig bounds the HyParView active/passive view sizes
// (spec.md §6, "membership.max_active", "membership.max_passive").
type MembershipConfig struct {
	MaxActive  int `yaml:"max_active"`
	MaxPassive int `yaml:"max_passive"`
}

// ReplicationConfig bounds one replication Engine's resource usage
// (spec.md §6, "replication.*").
type ReplicationConfig struct {
	FetchSlotWaitTimeout time.Duration `yaml:"fetch_slot_wait_timeout"`
	MaxPackBytes         int64         `yaml:"max_pack_bytes"`
	MaxIndexerThreads    int           `yaml:"max_indexer_threads"`
}

// RateLimitsConfig bounds gossip's per-origin Want rate and the
// global error rate (spec.md §6, "rate_limits.*").
type RateLimitsConfig struct {
	WantsPerPeer float64 `yaml:"wants_per_peer"`
	Errors       float64 `yaml:"errors"`
}

// DiscoveryConfig seeds the kad-dht/mDNS discovery layer (SPEC_FULL.md
// §1.2, grounded on the teacher's DiscoveryConfig).
type DiscoveryConfig struct {
	BootstrapPeers []string `yaml:"bootstrap_peers,omitempty"`
	Rendezvous     string   `yaml:"rendezvous,omitempty"`
	MDNSEnabled    bool     `yaml:"mdns_enabled,omitempty"`
}

// LoggingConfig controls the process-wide slog level.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}

// MetricsConfig controls Prometheus exposure, disabled by default
// (opt-in), matching the teacher's MetricsConfig.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"`
}

// Default returns the configuration a node runs with if no file is
// present: a listen address on all interfaces with an OS-chosen port,
// the default network tag, and the same replication bounds
// replication.DefaultConfig uses.
func Default() NodeConfig {
	return NodeConfig{
		Version:    CurrentConfigVersion,
		ListenAddr: "/ip4/0.0.0.0/tcp/0",
		Network:    "mainnet",
		Profile:    ProfileConfig{Root: defaultProfileRoot()},
		Membership: MembershipConfig{MaxActive: 5, MaxPassive: 30},
		Replication: ReplicationConfig{
			FetchSlotWaitTimeout: 30 * time.Second,
			MaxPackBytes:         512 << 20,
			MaxIndexerThreads:    4,
		},
		RateLimits: RateLimitsConfig{WantsPerPeer: 10, Errors: 5},
		Discovery:  DiscoveryConfig{MDNSEnabled: true},
		Logging:    LoggingConfig{Level: "info"},
		Metrics:    MetricsConfig{Enabled: false, ListenAddress: "127.0.0.1:9091"},
	}
}

func defaultProfileRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meshd"
	}
	return home + "/.meshd"
}

// Load reads and parses the YAML file at path, applying Default's
// values to any field left at its zero value, mirroring
// RelayResourcesConfig's "zero values replaced with defaults at load
// time" behavior in the teacher.
func Load(path string) (NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// applyDefaults re-fills any field the YAML document left zero, since
// yaml.Unmarshal only overwrites fields actually present in the
// document and a partial document would otherwise leave the
// corresponding Default() value only partially applied.
func applyDefaults(cfg *NodeConfig) {
	def := Default()
	if cfg.Version == 0 {
		cfg.Version = def.Version
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.Network == "" {
		cfg.Network = def.Network
	}
	if cfg.Profile.Root == "" {
		cfg.Profile.Root = def.Profile.Root
	}
	if cfg.Membership.MaxActive == 0 {
		cfg.Membership.MaxActive = def.Membership.MaxActive
	}
	if cfg.Membership.MaxPassive == 0 {
		cfg.Membership.MaxPassive = def.Membership.MaxPassive
	}
	if cfg.Replication.FetchSlotWaitTimeout == 0 {
		cfg.Replication.FetchSlotWaitTimeout = def.Replication.FetchSlotWaitTimeout
	}
	if cfg.Replication.MaxPackBytes == 0 {
		cfg.Replication.MaxPackBytes = def.Replication.MaxPackBytes
	}
	if cfg.Replication.MaxIndexerThreads == 0 {
		cfg.Replication.MaxIndexerThreads = def.Replication.MaxIndexerThreads
	}
	if cfg.RateLimits.WantsPerPeer == 0 {
		cfg.RateLimits.WantsPerPeer = def.RateLimits.WantsPerPeer
	}
	if cfg.RateLimits.Errors == 0 {
		cfg.RateLimits.Errors = def.RateLimits.Errors
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = def.Metrics.ListenAddress
	}
}

// Validate rejects a NodeConfig that cannot run: spec.md §6 names
// these as "recognized options" but is silent on bounds, so negative
// or nonsensical values are rejected here rather than left to fail
// obscurely deep inside membership or replication.
func (c NodeConfig) Validate() error {
	if c.ListenAddr == "" {
		return &Error{Kind: KindMissing, Field: "listen_addr"}
	}
	if c.Network == "" {
		return &Error{Kind: KindMissing, Field: "network"}
	}
	if c.Profile.Root == "" {
		return &Error{Kind: KindMissing, Field: "profile.root"}
	}
	if c.Membership.MaxActive <= 0 {
		return &Error{Kind: KindOutOfRange, Field: "membership.max_active"}
	}
	if c.Membership.MaxPassive <= 0 {
		return &Error{Kind: KindOutOfRange, Field: "membership.max_passive"}
	}
	if c.Replication.FetchSlotWaitTimeout <= 0 {
		return &Error{Kind: KindOutOfRange, Field: "replication.fetch_slot_wait_timeout"}
	}
	if c.Replication.MaxPackBytes <= 0 {
		return &Error{Kind: KindOutOfRange, Field: "replication.max_pack_bytes"}
	}
	if c.Replication.MaxIndexerThreads <= 0 {
		return &Error{Kind: KindOutOfRange, Field: "replication.max_indexer_threads"}
	}
	if c.RateLimits.WantsPerPeer <= 0 {
		return &Error{Kind: KindOutOfRange, Field: "rate_limits.wants_per_peer"}
	}
	if c.RateLimits.Errors <= 0 {
		return &Error{Kind: KindOutOfRange, Field: "rate_limits.errors"}
	}
	return nil
}
