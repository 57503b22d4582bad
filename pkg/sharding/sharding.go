// Package sharding maps keys to owning data nodes. Client and
// coordinator must agree on the mapping, so the hash is keyed with a
// fixed constant rather than anything process-seeded.
package sharding

import (
	"github.com/minio/highwayhash"
)

// hashKey is the fixed 32-byte HighwayHash key. Changing it rehashes
// the entire key space across nodes.
var hashKey = []byte("quartzkv.sharding.highwayhash.01")

// Hash returns the stable 64-bit hash of a key
func Hash(key string) uint64 {
	return highwayhash.Sum64([]byte(key), hashKey)
}

// NodeIndex returns the index of the node owning key among n nodes
func NodeIndex(key string, n int) int {
	return int(Hash(key) % uint64(n))
}
