// Package robinhood implements the C3 engine: an open-addressed slot vector
// using linear probing with Robin Hood displacement balancing, tombstoned
// deletes, and ratio-triggered compaction.
//
// Grounded on EinfachAndy-hashmaps/robin/map.go for the probing shape
// (ideal-bucket masking, the "richer donates to the poorer" emplace loop,
// Reserve's NextPowerOf2 sizing). Departs from the teacher in one
// deliberate way: the teacher deletes by backward-shifting every following
// entry (no tombstones at all); spec.md section 3/4.3 requires tombstone
// markers plus a separate compaction pass, so Remove here plants a
// tombstone instead of shifting, and a new Compact method (self-triggered
// from Put, not only from the supervisor's tick -- spec.md calls this out
// as "the Hypothesis-race fix") reclaims them. Del does not compact.
package robinhood

import (
	"bytes"

	"github.com/jguida941/adhash/keyhash"
	"github.com/jguida941/adhash/shared"
)

type slotState uint8

const (
	stateEmpty slotState = iota
	stateOccupied
	stateTombstone
)

type slot struct {
	state slotState
	key   []byte
	value []byte
	hash  uint64
	// probe is the distance from this slot back to its ideal bucket.
	// Meaningless for stateEmpty/stateTombstone slots.
	probe uint32
}

// PutResult reports whether a Put inserted a brand new key or replaced an
// existing one.
type PutResult int

const (
	Inserted PutResult = iota
	Replaced
)

// Table is the Robin Hood engine. The zero value is not ready to use;
// construct with New.
type Table struct {
	slots  []slot
	hasher keyhash.Hasher

	length     uintptr
	tombstones uintptr
	capMinus1  uintptr

	loadHigh       float64
	tombstoneRatio float64
}

// New creates a Robin Hood table with the given hasher, initial capacity
// (rounded up to a power of two), load factor cap, and tombstone ratio
// compaction trigger.
func New(hasher keyhash.Hasher, initialCapacity uintptr, loadHigh, tombstoneRatio float64) *Table {
	if loadHigh <= 0 {
		loadHigh = shared.DefaultLoadHigh
	}
	if tombstoneRatio <= 0 {
		tombstoneRatio = shared.DefaultTombstoneRatio
	}
	t := &Table{
		hasher:         hasher,
		loadHigh:       loadHigh,
		tombstoneRatio: tombstoneRatio,
	}
	if initialCapacity == 0 {
		initialCapacity = shared.DefaultInitialCapacity
	}
	t.rebuildInto(uintptr(shared.NextPowerOf2(uint64(initialCapacity))), true)
	return t
}

// Hasher returns the table's hasher, e.g. for snapshotting its seed.
func (t *Table) Hasher() keyhash.Hasher { return t.hasher }

// Capacity returns C, the slot count.
func (t *Table) Capacity() uintptr { return t.capMinus1 + 1 }

// Len returns the number of live entries.
func (t *Table) Len() uintptr { return t.length }

// Tombstones returns the current tombstone count.
func (t *Table) Tombstones() uintptr { return t.tombstones }

// LoadFactor returns (length+tombstones)/capacity, the quantity spec.md
// section 3 caps at load_high after every mutator.
func (t *Table) LoadFactor() float64 {
	return float64(t.length+t.tombstones) / float64(t.Capacity())
}

// TombstoneRatio returns tombstones/capacity.
func (t *Table) TombstoneRatio() float64 {
	return float64(t.tombstones) / float64(t.Capacity())
}

func newSlots(n uintptr) []slot {
	return make([]slot, n)
}

// Get returns the value stored for key, or false if absent. Tombstones are
// skipped, never matched; the walk stops at the first Empty slot, or
// earlier if the Robin Hood invariant proves no later slot could match
// (spec.md section 4.3's lookup cutoff).
func (t *Table) Get(key []byte) ([]byte, bool) {
	hash := t.hasher.Sum64(key)
	idx := uintptr(hash) & t.capMinus1
	var probe uint32

	for {
		s := &t.slots[idx]
		switch s.state {
		case stateEmpty:
			return nil, false
		case stateTombstone:
			// continue probing; a live match may still be further along
		case stateOccupied:
			if s.hash == hash && bytes.Equal(s.key, key) {
				return s.value, true
			}
			if s.probe < probe {
				// No occupied slot farther along this probe chain can have
				// a smaller ideal-bucket distance than ours without having
				// already displaced us; absence is certain here.
				return nil, false
			}
		}
		idx = (idx + 1) & t.capMinus1
		probe++
	}
}

// Put maps key to val, replacing any prior value. Returns Inserted for a
// brand new key, Replaced (with the prior value) otherwise.
func (t *Table) Put(key, val []byte) (PutResult, []byte) {
	hash := t.hasher.Sum64(key)

	// Guard the prospective load, not just the current one: an insert
	// that lands in a fresh slot (no tombstone to reclaim) adds exactly
	// one to size+tombstones, so check against that worst case up front
	// to keep the post-mutator invariant "(size+tombstones)/C <= load_high"
	// from spec.md section 3 true even at the boundary.
	if _, present := t.Get(key); !present {
		if prospective := float64(t.length+t.tombstones+1) / float64(t.Capacity()); prospective > t.loadHigh {
			t.grow()
		} else if t.TombstoneRatio() >= t.tombstoneRatio {
			// Self-triggered compaction, not only on the supervisor's tick:
			// spec.md sections 4.3/9 call this the fix for a historical bug
			// where interleaved inserts/deletes could otherwise starve a
			// compaction that only ever fires from an external tick.
			t.Compact()
		}
	} else if t.TombstoneRatio() >= t.tombstoneRatio {
		t.Compact()
	}

	idx := uintptr(hash) & t.capMinus1
	probe := uint32(0)

	tombstoneIdx := -1
	var tombstoneProbe uint32

	for {
		s := &t.slots[idx]
		switch s.state {
		case stateEmpty:
			if tombstoneIdx >= 0 {
				// Reclaim the first tombstone seen along this chain
				// instead of the empty slot found further out.
				t.length++
				t.tombstones--
				t.emplace(slot{state: stateOccupied, key: key, value: val, hash: hash, probe: tombstoneProbe}, uintptr(tombstoneIdx))
				return Inserted, nil
			}
			t.length++
			t.emplace(slot{state: stateOccupied, key: key, value: val, hash: hash, probe: probe}, idx)
			return Inserted, nil
		case stateTombstone:
			// A tombstone's probe field is the largest probe distance any
			// entry has had on reaching it; taking the slot with a smaller
			// one would cut off Get for those entries.
			if tombstoneIdx < 0 && probe >= s.probe {
				tombstoneIdx = int(idx)
				tombstoneProbe = probe
			}
			if probe > s.probe {
				s.probe = probe
			}
		case stateOccupied:
			if s.hash == hash && bytes.Equal(s.key, key) {
				old := s.value
				s.value = val
				return Replaced, old
			}
			if probe > s.probe {
				// Robin Hood creed: the richer slot (lower probe) donates
				// to the poorer (higher probe) incoming entry. A remembered
				// tombstone earlier in the chain is irrelevant once we must
				// displace here -- the new entry takes this slot and the
				// bumped occupant continues the probe from the next slot,
				// one step farther from its own ideal bucket than it was.
				displaced := *s
				displaced.probe++
				*s = slot{state: stateOccupied, key: key, value: val, hash: hash, probe: probe}
				t.length++
				t.emplaceFrom(displaced, (idx+1)&t.capMinus1)
				return Inserted, nil
			}
		}
		idx = (idx + 1) & t.capMinus1
		probe++
	}
}

// emplace places a brand new occupied slot at idx directly -- used when no
// displacement chain is needed (the walk reached an Empty slot, and the key
// goes either there or into the tombstone it reclaims).
func (t *Table) emplace(s slot, idx uintptr) {
	t.slots[idx] = s
}

// emplaceFrom continues the Robin Hood displacement chain for an entry that
// was just bumped out of its slot. The caller must pass cur with its probe
// already updated for idx (one greater than it was at the slot it got
// bumped from).
func (t *Table) emplaceFrom(cur slot, idx uintptr) {
	for {
		s := &t.slots[idx]
		switch s.state {
		case stateEmpty:
			t.slots[idx] = cur
			return
		case stateTombstone:
			if cur.probe >= s.probe {
				t.slots[idx] = cur
				t.tombstones--
				return
			}
		case stateOccupied:
			if cur.probe > s.probe {
				cur, *s = *s, cur
			}
		}
		cur.probe++
		idx = (idx + 1) & t.capMinus1
	}
}

// Del removes key, planting a tombstone in its place. Returns the prior
// value if the key was present. Tombstones preserve probe-chain continuity:
// Del never shifts, so later lookups along the same chain keep working.
func (t *Table) Del(key []byte) ([]byte, bool) {
	hash := t.hasher.Sum64(key)
	idx := uintptr(hash) & t.capMinus1
	var probe uint32

	for {
		s := &t.slots[idx]
		switch s.state {
		case stateEmpty:
			return nil, false
		case stateOccupied:
			if s.hash == hash && bytes.Equal(s.key, key) {
				old := s.value
				s.state = stateTombstone
				s.key = nil
				s.value = nil
				t.length--
				t.tombstones++
				return old, true
			}
			if s.probe < probe {
				return nil, false
			}
		}
		idx = (idx + 1) & t.capMinus1
		probe++
	}
}

// MaxProbe returns the largest probe distance among occupied slots.
func (t *Table) MaxProbe() uint32 {
	var max uint32
	for i := range t.slots {
		if t.slots[i].state == stateOccupied && t.slots[i].probe > max {
			max = t.slots[i].probe
		}
	}
	return max
}

func (t *Table) grow() {
	target := t.Capacity() * 2
	for float64(t.length)/float64(target) >= t.loadHigh {
		target *= 2
	}
	t.rebuildInto(target, true)
}

// Compact reinserts every live entry into a fresh slot vector of the
// current capacity (or the next power of two, if size alone would now
// exceed load_high), zeroing the tombstone count. Entries are reinserted
// in increasing original probe distance order to minimize the resulting
// displacements, per spec.md section 4.3.
func (t *Table) Compact() {
	target := t.Capacity()
	if float64(t.length)/float64(target) >= t.loadHigh {
		target *= 2
	}
	t.rebuildInto(target, false)
}

// rebuildInto reinserts every live entry into a fresh slot vector of size n.
// When bySourceOrder is false (the Compact path), entries are visited in
// increasing original probe distance to minimize the fresh table's final
// displacements; the grow path doesn't need this since every entry starts
// again from probe 0 only changes relative, not absolute, positions.
func (t *Table) rebuildInto(n uintptr, bySourceOrder bool) {
	live := make([]slot, 0, t.length)
	for i := range t.slots {
		if t.slots[i].state == stateOccupied {
			live = append(live, t.slots[i])
		}
	}
	if !bySourceOrder {
		sortByProbe(live)
	}

	newSlotsArr := newSlots(n)
	newMask := n - 1

	old := t
	tmp := &Table{
		slots:          newSlotsArr,
		hasher:         old.hasher,
		capMinus1:      newMask,
		loadHigh:       old.loadHigh,
		tombstoneRatio: old.tombstoneRatio,
	}
	for _, s := range live {
		idx := uintptr(s.hash) & newMask
		s.probe = 0
		tmp.length++
		tmp.emplaceFresh(s, idx)
	}

	t.slots = tmp.slots
	t.capMinus1 = newMask
	t.length = tmp.length
	t.tombstones = 0
}

// emplaceFresh is emplaceFrom specialized for rebuilds, where every slot
// starts empty, so displacement can never find a tombstone to reclaim.
func (t *Table) emplaceFresh(cur slot, idx uintptr) {
	for {
		s := &t.slots[idx]
		if s.state == stateEmpty {
			*s = cur
			return
		}
		if cur.probe > s.probe {
			cur, *s = *s, cur
		}
		cur.probe++
		idx = (idx + 1) & t.capMinus1
	}
}

func sortByProbe(s []slot) {
	// Insertion sort: compaction batches are bounded by table capacity,
	// which is already bounded by available memory; a simple stable sort
	// keeps this dependency-free and the comparator trivial.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].probe < s[j-1].probe; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
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
		t.rebuildInto(newCap, true)
	}
}

// Each calls fn for every live key/value pair in slot order. If fn returns
// true, iteration stops early.
func (t *Table) Each(fn func(key, val []byte) bool) {
	for i := range t.slots {
		if t.slots[i].state == stateOccupied {
			if fn(t.slots[i].key, t.slots[i].value) {
				return
			}
		}
	}
}

// Iter returns a lazy sequence of (key, value) pairs: the returned function
// calls yield for each pair until yield returns false, and reports whether
// it visited every pair.
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

// SlotState names what a probe tracer observes at a given slot, without
// it needing to reach into this package's unexported slot representation.
type SlotState uint8

const (
	Empty SlotState = iota
	Occupied
	Tombstone
)

// Ideal returns key's ideal bucket, hash&(C-1) -- the starting point of
// its probe chain.
func (t *Table) Ideal(key []byte) uintptr {
	return uintptr(t.hasher.Sum64(key)) & t.capMinus1
}

// SlotAt reports the observable state of slot i: its occupancy, the key
// stored there (nil unless Occupied), and its recorded probe distance
// (meaningless unless Occupied). Exists for the probe tracer (C7), which
// needs to walk the same chain Get/Put would without mutating the table.
func (t *Table) SlotAt(i uintptr) (state SlotState, key []byte, probe uint32) {
	s := &t.slots[i&t.capMinus1]
	switch s.state {
	case stateOccupied:
		return Occupied, s.key, s.probe
	case stateTombstone:
		return Tombstone, nil, 0
	default:
		return Empty, nil, 0
	}
}

// CheckInvariants verifies: size+tombstones <= capacity, the load cap
// holds, no duplicate keys, every occupied slot's recorded probe distance
// matches its actual distance from its ideal bucket, and no occupied slot
// between an entry's ideal bucket and its own slot sits closer to its home
// than the entry does at that point, which would stop Get short (spec.md
// section 3/8 property 3). Returns a detail string on the first violation
// found, or "" if the table is consistent.
func (t *Table) CheckInvariants() string {
	if t.length+t.tombstones > t.Capacity() {
		return "size+tombstones exceeds capacity"
	}
	if t.LoadFactor() > t.loadHigh+1e-9 {
		return "load factor exceeds load_high"
	}

	seen := make(map[string]struct{}, t.length)
	var live uintptr
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != stateOccupied {
			continue
		}
		live++
		ideal := uintptr(s.hash) & t.capMinus1
		dist := (uintptr(i) - ideal) & t.capMinus1
		if uintptr(s.probe) != dist {
			return "recorded probe distance does not match actual distance"
		}
		for k := uintptr(0); k < dist; k++ {
			o := &t.slots[(ideal+k)&t.capMinus1]
			if o.state == stateOccupied && uintptr(o.probe) < k {
				return "robin hood ordering violated along a probe chain"
			}
		}
		ks := string(s.key)
		if _, dup := seen[ks]; dup {
			return "duplicate key in table"
		}
		seen[ks] = struct{}{}
	}
	if live != t.length {
		return "size does not match live slot count"
	}
	return ""
}
