package interrogate

import (
	"math/rand"
	"testing"
)

func TestXor16ContainsAllMembers(t *testing.T) {
	keys := make([]uint64, 5000)
	rng := rand.New(rand.NewSource(1))
	seen := map[uint64]bool{}
	for i := range keys {
		for {
			k := rng.Uint64()
			if !seen[k] {
				seen[k] = true
				keys[i] = k
				break
			}
		}
	}

	filter, err := BuildXor16(keys)
	if err != nil {
		t.Fatalf("BuildXor16: %v", err)
	}
	for _, k := range keys {
		if !filter.Contains(k) {
			t.Fatalf("filter reports false negative for member key %d", k)
		}
	}
}

func TestXor16FalsePositiveRateBounded(t *testing.T) {
	keys := make([]uint64, 2000)
	rng := rand.New(rand.NewSource(2))
	member := map[uint64]bool{}
	for i := range keys {
		k := rng.Uint64()
		member[k] = true
		keys[i] = k
	}
	filter, err := BuildXor16(keys)
	if err != nil {
		t.Fatalf("BuildXor16: %v", err)
	}

	trials := 20000
	falsePositives := 0
	for i := 0; i < trials; i++ {
		k := rng.Uint64()
		if member[k] {
			continue
		}
		if filter.Contains(k) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	if rate > 0.02 {
		t.Fatalf("false positive rate %f exceeds the documented 2%% bound", rate)
	}
}

func TestXor16Empty(t *testing.T) {
	filter, err := BuildXor16(nil)
	if err != nil {
		t.Fatalf("BuildXor16(nil): %v", err)
	}
	if filter.Contains(42) {
		t.Fatal("empty filter must report no members")
	}
}

func TestXor16TooManyElements(t *testing.T) {
	keys := make([]uint64, MaxFilterElements+1)
	if _, err := BuildXor16(keys); err != ErrTooManyElements {
		t.Fatalf("expected ErrTooManyElements, got %v", err)
	}
}
