// Package chaining implements the C2 engine: a bucket vector where each
// bucket owns an ordered singly-linked list of entries. Collisions chain;
// an inserted entry keeps its memory address stable across Puts to other
// keys (it only moves on a resize), mirroring the teacher's design intent
// of supporting long-lived pointers into buckets.
//
// Grounded on EinfachAndy-hashmaps/unordered/map.go.
package chaining

import (
	"bytes"

	"github.com/jguida941/adhash/keyhash"
	"github.com/jguida941/adhash/shared"
)

// PutResult reports whether a Put inserted a brand new key or replaced an
// existing one.
type PutResult int

const (
	Inserted PutResult = iota
	Replaced
)

type node struct {
	next  *node
	key   []byte
	value []byte
	hash  uint64
}

type bucket struct {
	head *node
}

// Table is the chaining engine. The zero value is not ready to use;
// construct with New.
type Table struct {
	buckets []bucket
	hasher  keyhash.Hasher

	length uintptr
	// capMinus1 masks a hash down to a bucket index; len(buckets) is
	// always a power of two.
	capMinus1 uintptr

	nextResize uintptr
	loadHigh   float64
}

// New creates a chaining table with the given hasher and initial capacity
// (rounded up to the next power of two, minimum 1).
func New(hasher keyhash.Hasher, initialCapacity uintptr, loadHigh float64) *Table {
	if loadHigh <= 0 {
		loadHigh = shared.DefaultLoadHigh
	}
	t := &Table{
		hasher:   hasher,
		loadHigh: loadHigh,
	}
	if initialCapacity == 0 {
		initialCapacity = shared.DefaultInitialCapacity
	}
	t.resize(uintptr(shared.NextPowerOf2(uint64(initialCapacity))))
	return t
}

// Hasher returns the table's hasher, e.g. for snapshotting its seed.
func (t *Table) Hasher() keyhash.Hasher { return t.hasher }

// Capacity returns the current number of buckets, B in spec.md section 3.
func (t *Table) Capacity() uintptr { return t.capMinus1 + 1 }

//go:inline
func (t *Table) search(key []byte, hash uint64, idx uintptr) *node {
	for cur := t.buckets[idx].head; cur != nil; cur = cur.next {
		if cur.hash == hash && bytes.Equal(cur.key, key) {
			return cur
		}
	}
	return nil
}

// Get returns the value stored for key, or false if absent.
func (t *Table) Get(key []byte) ([]byte, bool) {
	hash := t.hasher.Sum64(key)
	idx := uintptr(hash) & t.capMinus1
	n := t.search(key, hash, idx)
	if n == nil {
		return nil, false
	}
	return n.value, true
}

// Put maps key to val, replacing any prior value. Returns Inserted for a
// brand new key, Replaced (with the prior value) otherwise.
func (t *Table) Put(key, val []byte) (PutResult, []byte) {
	if t.length >= t.nextResize {
		t.grow()
	}

	hash := t.hasher.Sum64(key)
	idx := uintptr(hash) & t.capMinus1

	if n := t.search(key, hash, idx); n != nil {
		old := n.value
		n.value = val
		return Replaced, old
	}

	t.length++
	newNode := &node{key: key, value: val, hash: hash}
	newNode.next = t.buckets[idx].head
	t.buckets[idx].head = newNode

	return Inserted, nil
}

// Del removes key, returning its prior value if present.
func (t *Table) Del(key []byte) ([]byte, bool) {
	hash := t.hasher.Sum64(key)
	idx := uintptr(hash) & t.capMinus1

	cur := t.buckets[idx].head
	var prev *node

	for cur != nil {
		if cur.hash == hash && bytes.Equal(cur.key, key) {
			if prev == nil {
				t.buckets[idx].head = cur.next
			} else {
				prev.next = cur.next
			}
			t.length--
			return cur.value, true
		}
		prev = cur
		cur = cur.next
	}
	return nil, false
}

// Len returns the number of live entries.
func (t *Table) Len() uintptr { return t.length }

// LoadFactor returns length/capacity.
func (t *Table) LoadFactor() float64 {
	return float64(t.length) / float64(t.Capacity())
}

func (t *Table) grow() {
	t.resize(t.Capacity() * 2)
}

// resize reallocates the bucket vector and re-links every entry under the
// new capacity. This is atomic with respect to the caller: the new bucket
// vector is built up completely (by relinking existing nodes, not copying
// values) before it replaces t.buckets, so a panic partway through a resize
// never leaves the table in a state visible to a caller.
func (t *Table) resize(n uintptr) {
	newBuckets := make([]bucket, n)
	newMask := n - 1

	for i := range t.buckets {
		cur := t.buckets[i].head
		for cur != nil {
			next := cur.next
			idx := uintptr(cur.hash) & newMask
			cur.next = newBuckets[idx].head
			newBuckets[idx].head = cur
			cur = next
		}
	}

	t.buckets = newBuckets
	t.capMinus1 = newMask
	t.nextResize = uintptr(float64(n) * t.loadHigh)
}

// Reserve grows the table, if needed, so it can hold at least n elements
// before the next resize.
func (t *Table) Reserve(n uintptr) {
	needed := uintptr(float64(n) / t.loadHigh)
	if float64(needed)*t.loadHigh < float64(n) {
		needed++
	}
	newCap := uintptr(shared.NextPowerOf2(uint64(needed)))
	if newCap == 0 {
		newCap = 1
	}
	if t.Capacity() < newCap {
		t.resize(newCap)
	}
}

// Each calls fn for every live key/value pair in unspecified order. If fn
// returns true, iteration stops early.
func (t *Table) Each(fn func(key, val []byte) bool) {
	for i := range t.buckets {
		for cur := t.buckets[i].head; cur != nil; cur = cur.next {
			if fn(cur.key, cur.value) {
				return
			}
		}
	}
}

// Iter returns a lazy sequence of (key, value) pairs, the "lazy sequence of
// (k,v)" operation named in spec.md section 4.2: the returned function calls
// yield for each pair until yield returns false, and reports whether it
// visited every pair.
func (t *Table) Iter() func(yield func(key, val []byte) bool) bool {
	return func(yield func(key, val []byte) bool) bool {
		cont := true
		t.Each(func(k, v []byte) bool {
			if !yield(k, v) {
				cont = false
				return true
			}
			return false
		})
		return cont
	}
}

// Ideal returns key's ideal (and only) bucket index, hash&(B-1).
func (t *Table) Ideal(key []byte) uintptr {
	return uintptr(t.hasher.Sum64(key)) & t.capMinus1
}

// BucketKeys returns the keys currently chained in bucket i, head first.
// Exists for the probe tracer (C7) to walk the same chain Get would
// without mutating the table.
func (t *Table) BucketKeys(i uintptr) [][]byte {
	var keys [][]byte
	for cur := t.buckets[i&t.capMinus1].head; cur != nil; cur = cur.next {
		keys = append(keys, cur.key)
	}
	return keys
}

// CheckInvariants verifies: every entry sits in bucket hash&(B-1), no
// duplicate keys within a bucket, and size equals the sum of bucket
// lengths (spec.md section 3). Returns a detail string on the first
// violation found, or "" if the table is consistent.
func (t *Table) CheckInvariants() string {
	var total uintptr
	for i := range t.buckets {
		seen := make(map[string]struct{})
		for cur := t.buckets[i].head; cur != nil; cur = cur.next {
			want := uintptr(cur.hash) & t.capMinus1
			if want != uintptr(i) {
				return "entry outside its ideal bucket"
			}
			ks := string(cur.key)
			if _, dup := seen[ks]; dup {
				return "duplicate key within a bucket"
			}
			seen[ks] = struct{}{}
			total++
		}
	}
	if total != t.length {
		return "size does not match live entry count"
	}
	return ""
}
