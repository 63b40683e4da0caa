package supervisor

import (
	"github.com/jguida941/adhash/chaining"
	"github.com/jguida941/adhash/keyhash"
	"github.com/jguida941/adhash/robinhood"
)

// PutResult is the supervisor-level result of a Put, normalized across
// whichever concrete engine is currently active.
type PutResult int

const (
	Inserted PutResult = iota
	Replaced
)

// engine is the tagged-variant interface spec.md section 9 calls for:
// "dynamic dispatch on engine kind... becomes a tagged variant inside the
// supervisor, with static dispatch at each op." chainEngine and
// robinEngine are the two variants; kind() is the tag.
type engine interface {
	kind() EngineKind
	get(key []byte) ([]byte, bool)
	put(key, val []byte) (PutResult, []byte)
	del(key []byte) ([]byte, bool)
	length() uintptr
	capacity() uintptr
	loadFactor() float64
	hasher() keyhash.Hasher
	each(fn func(key, val []byte) bool)
	iter() func(yield func(key, val []byte) bool) bool
	checkInvariants() string
	reserve(n uintptr)
	tombstoneRatio() float64
	maxProbe() uint32
	compact()
}

type chainEngine struct{ t *chaining.Table }

func newChainEngine(hasher keyhash.Hasher, initialCapacity uintptr, loadHigh float64) *chainEngine {
	return &chainEngine{t: chaining.New(hasher, initialCapacity, loadHigh)}
}

func (c *chainEngine) kind() EngineKind { return Chaining }
func (c *chainEngine) get(key []byte) ([]byte, bool) { return c.t.Get(key) }
func (c *chainEngine) put(key, val []byte) (PutResult, []byte) {
	r, old := c.t.Put(key, val)
	if r == chaining.Replaced {
		return Replaced, old
	}
	return Inserted, old
}
func (c *chainEngine) del(key []byte) ([]byte, bool)    { return c.t.Del(key) }
func (c *chainEngine) length() uintptr                  { return c.t.Len() }
func (c *chainEngine) capacity() uintptr                { return c.t.Capacity() }
func (c *chainEngine) loadFactor() float64              { return c.t.LoadFactor() }
func (c *chainEngine) hasher() keyhash.Hasher           { return c.t.Hasher() }
func (c *chainEngine) each(fn func(key, val []byte) bool) { c.t.Each(fn) }
func (c *chainEngine) iter() func(yield func(key, val []byte) bool) bool {
	return c.t.Iter()
}
func (c *chainEngine) checkInvariants() string { return c.t.CheckInvariants() }
func (c *chainEngine) reserve(n uintptr)       { c.t.Reserve(n) }

// Chaining has no tombstones or probe chains; these report zero values so
// the policy engine's generic comparisons stay well-defined regardless of
// which variant is active.
func (c *chainEngine) tombstoneRatio() float64 { return 0 }
func (c *chainEngine) maxProbe() uint32        { return 0 }
func (c *chainEngine) compact()                {}

type robinEngine struct{ t *robinhood.Table }

func newRobinEngine(hasher keyhash.Hasher, initialCapacity uintptr, loadHigh, tombstoneRatio float64) *robinEngine {
	return &robinEngine{t: robinhood.New(hasher, initialCapacity, loadHigh, tombstoneRatio)}
}

func (r *robinEngine) kind() EngineKind { return RobinHood }
func (r *robinEngine) get(key []byte) ([]byte, bool) { return r.t.Get(key) }
func (r *robinEngine) put(key, val []byte) (PutResult, []byte) {
	res, old := r.t.Put(key, val)
	if res == robinhood.Replaced {
		return Replaced, old
	}
	return Inserted, old
}
func (r *robinEngine) del(key []byte) ([]byte, bool)    { return r.t.Del(key) }
func (r *robinEngine) length() uintptr                  { return r.t.Len() }
func (r *robinEngine) capacity() uintptr                { return r.t.Capacity() }
func (r *robinEngine) loadFactor() float64              { return r.t.LoadFactor() }
func (r *robinEngine) hasher() keyhash.Hasher           { return r.t.Hasher() }
func (r *robinEngine) each(fn func(key, val []byte) bool) { r.t.Each(fn) }
func (r *robinEngine) iter() func(yield func(key, val []byte) bool) bool {
	return r.t.Iter()
}
func (r *robinEngine) checkInvariants() string  { return r.t.CheckInvariants() }
func (r *robinEngine) reserve(n uintptr)        { r.t.Reserve(n) }
func (r *robinEngine) tombstoneRatio() float64  { return r.t.TombstoneRatio() }
func (r *robinEngine) maxProbe() uint32         { return r.t.MaxProbe() }
func (r *robinEngine) compact()                 { r.t.Compact() }

// ChainingTable exposes the active engine's concrete chaining table, or
// nil if RobinHood is active. Exists so the probe tracer (C7), which
// needs the concrete type to walk bucket/slot internals, can reach it
// without the supervisor depending on the probe package.
func (s *Supervisor) ChainingTable() *chaining.Table {
	if ce, ok := s.currentView().(*chainEngine); ok {
		return ce.t
	}
	return nil
}

// RobinHoodTable exposes the active engine's concrete Robin Hood table,
// or nil if Chaining is active.
func (s *Supervisor) RobinHoodTable() *robinhood.Table {
	if re, ok := s.currentView().(*robinEngine); ok {
		return re.t
	}
	return nil
}
