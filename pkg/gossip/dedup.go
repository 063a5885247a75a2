package gossip

import (
	lru "github.com/hashicorp/golang-lru"
)

// defaultDedupSize bounds how many recently-seen (message kind,
// payload) pairs are remembered ahead of the storage hook, per SPEC_FULL §3's
// broadcast-dedup addition.
const defaultDedupSize = 4096

// Dedup suppresses re-processing of messages already seen recently,
// so a message looping back through the gossip overlay doesn't
// repeatedly hit LocalStorage.Put/Ask.
type Dedup struct {
	cache *lru.Cache
}

// NewDedup builds a Dedup remembering up to size recent messages.
// size <= 0 uses defaultDedupSize.
func NewDedup(size int) *Dedup {
	if size <= 0 {
		size = defaultDedupSize
	}
	c, err := lru.New(size)
	if err != nil {
		// Only returns an error for size <= 0, which is excluded above.
		panic(err)
	}
	return &Dedup{cache: c}
}

// Seen reports whether a message of this kind carrying payload was
// already processed recently, and records it for future calls. Kind
// distinguishes Have from Want so a Want for the same payload a Have
// just announced isn't mistaken for a repeat.
func (d *Dedup) Seen(kind byte, payload Payload) bool {
	key := string(kind) + payload.key()
	if d.cache.Contains(key) {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}
