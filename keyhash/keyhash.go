// Package keyhash is the C1 component: a stable 64-bit hash over byte-string
// keys, with a per-table random seed that is mixed in at construction and
// persisted alongside the table so a snapshot can reproduce the exact same
// hash values on load.
//
// The teacher (EinfachAndy-hashmaps/hash.go) picks one of several hand-rolled
// Murmur3-style finalizers depending on the reflect.Kind of the key type.
// Here the key type is fixed to []byte (spec.md section 3), so there is only
// ever one hash function: github.com/cespare/xxhash/v2, seeded per table.
package keyhash

import (
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// Hasher computes a stable 64-bit hash for byte-string keys. The zero value
// is not ready to use; construct with New or NewRandomSeed.
type Hasher struct {
	seed uint64
}

// New returns a Hasher whose digests are reproducible across processes for
// the same seed. Snapshots store this seed so a restored table hashes keys
// identically to the table that produced the dump.
func New(seed uint64) Hasher {
	return Hasher{seed: seed}
}

// NewRandomSeed returns a Hasher seeded from the process-local random
// source, for callers that don't care about cross-process reproducibility
// (the common case at `Open` time, absent an explicit hash_seed option).
func NewRandomSeed() Hasher {
	return New(rand.Uint64())
}

// Seed returns the seed this hasher was constructed with.
func (h Hasher) Seed() uint64 {
	return h.seed
}

// Sum64 returns the 64-bit digest of key. The cached digest a table stores
// alongside an entry is only ever a placement optimization: two equal keys
// always compare equal by bytes.Equal, never by hash alone.
//
// The seed is mixed into the plain xxhash digest with MurmurHash3's 64-bit
// finalizer (fmix64, an avalanche multiply-xor), rather than
// prefixing key with the seed bytes on every call, so Sum64 stays allocation
// free on the hot path.
func (h Hasher) Sum64(key []byte) uint64 {
	x := xxhash.Sum64(key)
	x ^= h.seed
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}
