package replication

import "time"

// maxRecursionDepth is fixed at 1 by spec.md §4.5 Phase F ("only the
// remote's direct tracks are considered") — not a tunable.
const maxRecursionDepth = 1

// Config bounds one Engine's resource usage across every job it runs.
type Config struct {
	// MaxBytes is the byte budget a top-level Replicate call allots;
	// every job it recurses into (Phase F) draws from the same pool.
	MaxBytes int64
	// MaxIndexerThreads bounds packfile-verification parallelism a
	// RemoteSource implementation may use; replication itself only
	// threads the value through.
	MaxIndexerThreads int
	// GlobalConcurrency bounds how many jobs may be actively fetching
	// at once across the whole Engine.
	GlobalConcurrency int
	// SlotWaitTimeout bounds how long a job waits for a concurrency
	// slot before giving up with KindTimeout (spec.md §5).
	SlotWaitTimeout time.Duration
}

// DefaultConfig returns reasonable defaults: a 512 MiB byte budget, four
// indexer threads, four concurrent fetches, and a 30s slot wait.
func DefaultConfig() Config {
	return Config{
		MaxBytes:          512 << 20,
		MaxIndexerThreads: 4,
		GlobalConcurrency: 4,
		SlotWaitTimeout:   30 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultConfig().MaxBytes
	}
	if c.MaxIndexerThreads <= 0 {
		c.MaxIndexerThreads = DefaultConfig().MaxIndexerThreads
	}
	if c.GlobalConcurrency <= 0 {
		c.GlobalConcurrency = DefaultConfig().GlobalConcurrency
	}
	if c.SlotWaitTimeout <= 0 {
		c.SlotWaitTimeout = DefaultConfig().SlotWaitTimeout
	}
	return c
}
