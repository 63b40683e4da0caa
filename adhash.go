// Package adhash is the root facade: an adaptive associative store whose
// backing engine mutates at runtime between a chaining hash table and an
// open-addressed Robin Hood hash table, governed by the adaptive
// supervisor, with a durable tamper-evident snapshot codec.
//
// Grounded on EinfachAndy-hashmaps/map.go's NewHashMap[K,V](cfg) factory:
// this package is that same "one call opens a map backed by one of
// several concrete implementations" shape, generalized from a choice
// fixed at construction into one the supervisor can revise at runtime.
package adhash

import (
	"io"

	"github.com/jguida941/adhash/metrics"
	"github.com/jguida941/adhash/probe"
	"github.com/jguida941/adhash/shared"
	"github.com/jguida941/adhash/snapshot"
	"github.com/jguida941/adhash/supervisor"
)

// Re-exported types so a caller never has to import the subpackages
// directly, per spec.md section 6's external interface.
type (
	Mode       = supervisor.Mode
	EngineKind = supervisor.EngineKind
	Config     = supervisor.Config
	PutResult  = supervisor.PutResult
)

const (
	Adaptive    = supervisor.Adaptive
	FastInsert  = supervisor.FastInsert
	FastLookup  = supervisor.FastLookup
	MemoryTight = supervisor.MemoryTight
)

const (
	Chaining  = supervisor.Chaining
	RobinHood = supervisor.RobinHood
)

const (
	Inserted = supervisor.Inserted
	Replaced = supervisor.Replaced
)

// DefaultConfig returns the configuration defaults of spec.md section 6.
func DefaultConfig() Config { return supervisor.DefaultConfig() }

// Engine is the public handle returned by Open. The zero value is not
// usable; construct with Open, MustOpen, or Load.
type Engine struct {
	sup *supervisor.Supervisor
}

// Open constructs an Engine per cfg. InitialCapacity, if non-zero, must
// be a power of two.
func Open(cfg Config) (*Engine, error) {
	if cfg.InitialCapacity != 0 && !shared.IsPowerOfTwo(uint64(cfg.InitialCapacity)) {
		return nil, shared.ErrBadInput
	}
	return &Engine{sup: supervisor.Open(cfg)}, nil
}

// MustOpen is Open, panicking on a bad Config. Useful at program startup
// where a bad config is itself a bug to fail fast on.
func MustOpen(cfg Config) *Engine {
	e, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// Put maps key to val, replacing any prior value.
func (e *Engine) Put(key, val []byte) (PutResult, []byte, error) { return e.sup.Put(key, val) }

// Get returns the value for key, or false if absent.
func (e *Engine) Get(key []byte) ([]byte, bool, error) { return e.sup.Get(key) }

// Del removes key, returning its prior value if present.
func (e *Engine) Del(key []byte) ([]byte, bool, error) { return e.sup.Del(key) }

// Len returns the number of live entries.
func (e *Engine) Len() uintptr { return e.sup.Len() }

// Iter returns a lazy sequence of (key, value) pairs: the returned function
// calls yield for each pair until yield returns false, and reports whether
// it visited every pair.
func (e *Engine) Iter() func(yield func(key, val []byte) bool) bool { return e.sup.Iter() }

// Each visits every live key/value pair in unspecified order.
func (e *Engine) Each(fn func(key, val []byte) bool) { e.sup.Each(fn) }

// Tick snapshots the metrics tap.
func (e *Engine) Tick() metrics.Tick { return e.sup.Tick() }

// ActiveKind reports which engine is presently authoritative.
func (e *Engine) ActiveKind() EngineKind { return e.sup.ActiveKind() }

// MigrationInFlight reports whether an engine-to-engine migration is
// currently running.
func (e *Engine) MigrationInFlight() bool { return e.sup.MigrationInFlight() }

// CancelMigration aborts an in-flight migration, if any.
func (e *Engine) CancelMigration() { e.sup.CancelMigration() }

// CheckInvariants checks the active engine's internal consistency.
func (e *Engine) CheckInvariants() string { return e.sup.CheckInvariants() }

// TraceGet simulates a Get without mutating the engine, recording the
// path the real Get would take.
func (e *Engine) TraceGet(key []byte) (probe.Trace, error) {
	switch e.sup.ActiveKind() {
	case supervisor.RobinHood:
		return probe.RobinHoodGet(e.sup.RobinHoodTable(), key), nil
	default:
		return probe.ChainingGet(e.sup.ChainingTable(), key), nil
	}
}

// TracePut simulates a Put, optionally applying it for real afterward.
func (e *Engine) TracePut(key, val []byte, apply bool) (probe.Trace, error) {
	switch e.sup.ActiveKind() {
	case supervisor.RobinHood:
		return probe.RobinHoodPut(e.sup.RobinHoodTable(), key, val, apply), nil
	default:
		return probe.ChainingPut(e.sup.ChainingTable(), key, val, apply), nil
	}
}

// SnapshotDump serializes the engine's current state to w, optionally
// gzip-compressed, returning the number of bytes written. The caller must
// ensure no concurrent mutator runs during the call (spec.md section 5).
func (e *Engine) SnapshotDump(w io.Writer, compress bool) (int64, error) {
	return snapshot.Dump(w, e.snapshotSource(), snapshot.DumpOptions{Compress: compress})
}

func (e *Engine) snapshotSource() snapshot.Source {
	kind := snapshot.KindChaining
	if e.sup.ActiveKind() == supervisor.RobinHood {
		kind = snapshot.KindRobinHood
	}
	return snapshot.Source{
		Kind:           kind,
		Capacity:       uint64(e.sup.Capacity()),
		Seed:           e.sup.Seed(),
		Size:           uint64(e.sup.Len()),
		LoadHigh:       e.sup.LoadHigh(),
		TombstoneRatio: e.sup.TombstoneRatio(),
		TombstoneCount: uint64(float64(e.sup.Capacity()) * e.sup.TombstoneRatio()),
		// The codec's yield returns true to stop, as Each's callback does.
		Entries: func(yield func(key, val []byte) bool) bool {
			stopped := false
			e.sup.Each(func(k, v []byte) bool {
				stopped = yield(k, v)
				return stopped
			})
			return stopped
		},
	}
}

// Load reconstructs an Engine from a snapshot previously written by
// SnapshotDump. cfg supplies the policy knobs (mode, migration batch
// size, and so on) that aren't themselves part of the snapshot payload;
// the engine kind and capacity/seed/load_high/tombstone_ratio come from
// the snapshot itself.
func Load(r io.Reader, cfg Config) (*Engine, error) {
	loaded, err := snapshot.Load(r, snapshot.LoadOptions{MaxPayloadBytes: cfg.MaxPayloadBytes})
	if err != nil {
		return nil, err
	}

	rebuildCfg := cfg
	rebuildCfg.InitialCapacity = uintptr(loaded.Capacity)
	rebuildCfg.LoadHigh = loaded.LoadHigh
	if loaded.Kind == snapshot.KindRobinHood {
		rebuildCfg.TombstoneRatio = loaded.TombstoneRatio
	}
	rebuildCfg.HashSeed = loaded.Seed
	rebuildCfg.HasHashSeed = true

	kind := supervisor.Chaining
	if loaded.Kind == snapshot.KindRobinHood {
		kind = supervisor.RobinHood
	}
	sup := supervisor.Reconstruct(rebuildCfg, kind)

	for _, e := range loaded.Entries {
		if _, _, err := sup.Put(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	if uintptr(loaded.Size) != sup.Len() {
		return nil, &shared.BadSnapshotError{Reason: shared.ReasonStructure, Detail: "reconstructed size does not match recorded size"}
	}
	if detail := sup.CheckInvariants(); detail != "" {
		return nil, &shared.InvariantError{Detail: detail}
	}

	return &Engine{sup: sup}, nil
}
