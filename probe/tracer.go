// Package probe implements the C7 component: a read-only tracer that
// walks the same path Get or Put would take through a live engine,
// recording each step without mutating anything, unless the caller asks
// to apply the traced operation afterward.
//
// Grounded on EinfachAndy-hashmaps's own shape of exposing engine
// internals sparingly (map.go's HashMap facade never leaks bucket/slot
// state); this package is new code built against the two engines'
// introspection methods (chaining.Table.BucketKeys/Ideal,
// robinhood.Table.SlotAt/Ideal) added for exactly this purpose, since
// spec.md section 4.7 names a capability neither engine needed for its
// own operation.
package probe

import (
	"fmt"

	"github.com/jguida941/adhash/chaining"
	"github.com/jguida941/adhash/robinhood"
)

// State is what a single traced step observed at a bucket or slot.
type State string

const (
	StateEmpty     State = "empty"
	StateOccupied  State = "occupied"
	StateTombstone State = "tombstone"
)

// TerminalReason is why a trace stopped.
type TerminalReason string

const (
	Match                   TerminalReason = "match"
	Empty                   TerminalReason = "empty"
	AbsentByRobinHoodCutoff TerminalReason = "absent-by-robin-hood-cutoff"
	WouldInsertAt           TerminalReason = "would-insert-at"
	WouldDisplace           TerminalReason = "would-displace"
)

// Step is one observed point along the traced path.
type Step struct {
	Index   int
	Slot    uintptr
	State   State
	Matches bool
	KeyRepr string
}

// Trace is the ordered record of a single simulated Get or Put.
type Trace struct {
	Steps    []Step
	Terminal TerminalReason
}

func keyRepr(k []byte) string {
	if len(k) > 32 {
		return fmt.Sprintf("%x...", k[:32])
	}
	return fmt.Sprintf("%x", k)
}

// ChainingGet traces a Get against a chaining table, side-effect free.
func ChainingGet(t *chaining.Table, key []byte) Trace {
	idx := t.Ideal(key)
	bucket := t.BucketKeys(idx)
	tr := Trace{}
	for i, k := range bucket {
		matches := string(k) == string(key)
		tr.Steps = append(tr.Steps, Step{Index: i, Slot: idx, State: StateOccupied, Matches: matches, KeyRepr: keyRepr(k)})
		if matches {
			tr.Terminal = Match
			return tr
		}
	}
	tr.Terminal = Empty
	return tr
}

// ChainingPut traces a Put against a chaining table. If apply is true,
// the real Put is performed afterward, atomically with respect to the
// trace (no other mutation can interleave since this package assumes
// the single-writer model spec.md section 5 requires of every caller).
func ChainingPut(t *chaining.Table, key, val []byte, apply bool) Trace {
	tr := ChainingGet(t, key)
	if tr.Terminal == Empty {
		tr.Terminal = WouldInsertAt
	}
	if apply {
		t.Put(key, val)
	}
	return tr
}

// RobinHoodGet traces a Get against a Robin Hood table, reproducing the
// engine's own lookup cutoff (spec.md section 4.3): once an occupied
// slot's recorded probe distance is less than the current search
// distance, no later slot could hold the key.
func RobinHoodGet(t *robinhood.Table, key []byte) Trace {
	idx := t.Ideal(key)
	var tr Trace
	var dist uint32
	for i := 0; ; i++ {
		state, k, slotProbe := t.SlotAt(idx)
		switch state {
		case robinhood.Empty:
			tr.Steps = append(tr.Steps, Step{Index: i, Slot: idx, State: StateEmpty})
			tr.Terminal = Empty
			return tr
		case robinhood.Tombstone:
			tr.Steps = append(tr.Steps, Step{Index: i, Slot: idx, State: StateTombstone})
		case robinhood.Occupied:
			matches := string(k) == string(key)
			tr.Steps = append(tr.Steps, Step{Index: i, Slot: idx, State: StateOccupied, Matches: matches, KeyRepr: keyRepr(k)})
			if matches {
				tr.Terminal = Match
				return tr
			}
			if slotProbe < dist {
				tr.Terminal = AbsentByRobinHoodCutoff
				return tr
			}
		}
		idx = (idx + 1) & (t.Capacity() - 1)
		dist++
	}
}

// RobinHoodPut traces a Put against a Robin Hood table. Like the real Put
// it walks past tombstones, and it stops at the first slot where the real
// Put would find a match (replace), reach an empty slot (insert; the real
// Put may place the key in a tombstone passed on the way), or displace an
// occupant. If apply is true, the real Put runs afterward.
func RobinHoodPut(t *robinhood.Table, key, val []byte, apply bool) Trace {
	idx := t.Ideal(key)
	var tr Trace
	var dist uint32
	for i := 0; ; i++ {
		state, k, slotProbe := t.SlotAt(idx)
		switch state {
		case robinhood.Empty:
			tr.Steps = append(tr.Steps, Step{Index: i, Slot: idx, State: StateEmpty})
			tr.Terminal = WouldInsertAt
			goto done
		case robinhood.Tombstone:
			tr.Steps = append(tr.Steps, Step{Index: i, Slot: idx, State: StateTombstone})
		case robinhood.Occupied:
			matches := string(k) == string(key)
			tr.Steps = append(tr.Steps, Step{Index: i, Slot: idx, State: StateOccupied, Matches: matches, KeyRepr: keyRepr(k)})
			if matches {
				tr.Terminal = Match
				goto done
			}
			if dist > slotProbe {
				tr.Terminal = WouldDisplace
				goto done
			}
		}
		idx = (idx + 1) & (t.Capacity() - 1)
		dist++
	}
done:
	if apply {
		t.Put(key, val)
	}
	return tr
}
