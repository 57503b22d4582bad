package sharding

import (
	"fmt"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	h1 := Hash("account-42")
	h2 := Hash("account-42")
	if h1 != h2 {
		t.Errorf("Hash not deterministic: %d vs %d", h1, h2)
	}
}

func TestNodeIndexInRange(t *testing.T) {
	for n := 1; n <= 7; n++ {
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("key-%d", i)
			idx := NodeIndex(key, n)
			if idx < 0 || idx >= n {
				t.Fatalf("NodeIndex(%q, %d) = %d out of range", key, n, idx)
			}
		}
	}
}

func TestNodeIndexMatchesHash(t *testing.T) {
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		for n := 1; n <= 5; n++ {
			if got, want := NodeIndex(key, n), int(Hash(key)%uint64(n)); got != want {
				t.Errorf("NodeIndex(%q, %d) = %d, want %d", key, n, got, want)
			}
		}
	}
}

func TestDistribution(t *testing.T) {
	// Sanity check: 1000 keys over 4 nodes should not all land on one
	counts := make([]int, 4)
	for i := 0; i < 1000; i++ {
		counts[NodeIndex(fmt.Sprintf("key-%d", i), 4)]++
	}
	for idx, c := range counts {
		if c == 0 {
			t.Errorf("Node %d received no keys", idx)
		}
	}
}
