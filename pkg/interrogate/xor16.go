package interrogate

import (
	"errors"
	"math"
)

// MaxFilterElements is spec.md §6's bound on a GetUrns filter: "bounded
// to at most 100,000 elements".
const MaxFilterElements = 100000

// ErrTooManyElements is returned by BuildXor16 when more than
// MaxFilterElements keys are supplied.
var ErrTooManyElements = errors.New("interrogate: too many elements for xor16 filter")

// errNotConverged is internal: construction failed to find a peelable
// hypergraph after maxAttempts reseeds. Vanishingly unlikely for any
// real key set; surfaced as a plain error since a caller can only
// retry with different input.
var errNotConverged = errors.New("interrogate: xor16 construction did not converge")

// Xor16 is a compact approximate-membership structure over a set of
// 64-bit keys: a Lemire-style Xor filter with 16-bit fingerprints,
// per spec.md §6 ("a 16-bit-fingerprint xor filter over the peer's
// local URNs") and original_source's identities/xor.rs construction
// (seed, block_length, three blocks of fingerprints, built by
// peeling a random 3-uniform hypergraph). False positive rate is
// below 2%; false negatives never occur.
type Xor16 struct {
	Seed         uint64   `cbor:"0,keyasint"`
	BlockLength  uint32   `cbor:"1,keyasint"`
	Fingerprints []uint16 `cbor:"2,keyasint"`
}

type xorHashes struct {
	h          uint64
	h0, h1, h2 uint32
}

func (f *Xor16) hashes(k uint64) xorHashes {
	h := mix64(k ^ f.Seed)
	r0 := uint32(h)
	r1 := uint32(rotl64(h, 21))
	r2 := uint32(rotl64(h, 42))
	return xorHashes{
		h:  h,
		h0: reduce(r0, f.BlockLength),
		h1: reduce(r1, f.BlockLength) + f.BlockLength,
		h2: reduce(r2, f.BlockLength) + 2*f.BlockLength,
	}
}

func mix64(key uint64) uint64 {
	key = (key ^ (key >> 33)) * 0xff51afd7ed558ccd
	key = (key ^ (key >> 33)) * 0xc4ceb9fe1a85ec53
	key ^= key >> 33
	return key
}

func rotl64(x uint64, r uint) uint64 {
	return (x << (r & 63)) | (x >> ((64 - r) & 63))
}

func reduce(x, n uint32) uint32 {
	return uint32((uint64(x) * uint64(n)) >> 32)
}

func fingerprint(h uint64) uint16 {
	return uint16(h ^ (h >> 32))
}

func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

type xorSet struct {
	xormask uint64
	count   uint32
}

type keyIndex struct {
	hash  uint64
	index uint32
}

// BuildXor16 constructs a Xor16 over keys via the standard peeling
// construction: each key occupies three slots (one per block); any
// slot touched by exactly one remaining key can be peeled off, and the
// peel order, replayed backwards, assigns fingerprints so every key's
// three slots XOR to its own fingerprint. If the initial random
// hypergraph isn't fully peelable (rare), the seed is changed and
// construction retried.
func BuildXor16(keys []uint64) (*Xor16, error) {
	size := len(keys)
	if size > MaxFilterElements {
		return nil, ErrTooManyElements
	}
	if size == 0 {
		return &Xor16{}, nil
	}

	capacity := uint32(32 + math.Ceil(1.23*float64(size)))
	capacity = (capacity + 2) / 3 * 3
	blockLength := capacity / 3

	filter := &Xor16{BlockLength: blockLength}
	sets := make([]xorSet, capacity)
	reverseOrder := make([]keyIndex, size)

	var seedState uint64 = uint64(size) + 1

	const maxAttempts = 1000
	for attempt := 0; attempt < maxAttempts; attempt++ {
		filter.Seed = splitmix64(&seedState)
		for i := range sets {
			sets[i] = xorSet{}
		}

		for _, key := range keys {
			hs := filter.hashes(key)
			sets[hs.h0].xormask ^= hs.h
			sets[hs.h0].count++
			sets[hs.h1].xormask ^= hs.h
			sets[hs.h1].count++
			sets[hs.h2].xormask ^= hs.h
			sets[hs.h2].count++
		}

		queue := make([]uint32, 0, capacity)
		for i, s := range sets {
			if s.count == 1 {
				queue = append(queue, uint32(i))
			}
		}

		pos := 0
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			if sets[idx].count != 1 {
				continue
			}
			hash := sets[idx].xormask
			hs := filter.hashes(hash)
			var other1, other2 uint32
			switch idx {
			case hs.h0:
				other1, other2 = hs.h1, hs.h2
			case hs.h1:
				other1, other2 = hs.h0, hs.h2
			default:
				other1, other2 = hs.h0, hs.h1
			}

			reverseOrder[pos] = keyIndex{hash: hash, index: idx}
			pos++
			sets[idx].count = 0

			sets[other1].xormask ^= hash
			sets[other1].count--
			if sets[other1].count == 1 {
				queue = append(queue, other1)
			}
			sets[other2].xormask ^= hash
			sets[other2].count--
			if sets[other2].count == 1 {
				queue = append(queue, other2)
			}
		}

		if pos != size {
			continue // hypergraph wasn't fully peelable; reseed and retry
		}

		filter.Fingerprints = make([]uint16, capacity)
		for i := pos - 1; i >= 0; i-- {
			ki := reverseOrder[i]
			hs := filter.hashes(ki.hash)
			var x, y uint32
			switch ki.index {
			case hs.h0:
				x, y = hs.h1, hs.h2
			case hs.h1:
				x, y = hs.h0, hs.h2
			default:
				x, y = hs.h0, hs.h1
			}
			filter.Fingerprints[ki.index] = fingerprint(ki.hash) ^ filter.Fingerprints[x] ^ filter.Fingerprints[y]
		}
		return filter, nil
	}
	return nil, errNotConverged
}

// Contains reports whether key was (probably) a member of the set
// BuildXor16 was built from.
func (f *Xor16) Contains(key uint64) bool {
	if len(f.Fingerprints) == 0 {
		return false
	}
	hs := f.hashes(key)
	return fingerprint(hs.h) == f.Fingerprints[hs.h0]^f.Fingerprints[hs.h1]^f.Fingerprints[hs.h2]
}

// Len returns the number of fingerprint slots in the filter (three
// blocks of BlockLength each), matching original_source's "number of
// fingerprints" accessor.
func (f *Xor16) Len() int { return len(f.Fingerprints) }
