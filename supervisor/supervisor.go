// Package supervisor implements the C5 component: the policy layer that
// owns whichever engine (chaining or Robin Hood) is currently active,
// evaluates the adaptive transition table against a rolling counters
// window, and executes engine-to-engine migrations without ever
// exposing a key as absent or duplicated to a caller mid-migration.
//
// Grounded on EinfachAndy-hashmaps/map.go's NewHashMap factory, which
// dispatches on a Type enum to construct one of several concrete map
// implementations behind a single HashMap[K,V] facade -- generalized
// here from a static choice made once at construction into a dynamic,
// runtime-revisable one.
package supervisor

import (
	"time"

	"github.com/jguida941/adhash/keyhash"
	"github.com/jguida941/adhash/metrics"
	"github.com/jguida941/adhash/shared"
)

// Supervisor is the single entry point for all mutating and read
// operations; it dispatches to whichever engine is active and, in
// adaptive mode, decides when to switch.
type Supervisor struct {
	cfg Config
	tap *metrics.Tap

	active     engine
	activeKind EngineKind
	mig        *migration

	win          window
	opsSinceEval uint64
	lastEvalTime time.Time

	totalOps      uint64
	hasSwitched   bool
	lastSwitchOps uint64

	// poison holds the first Invariant failure observed; once set, every
	// subsequent operation fails fast with the same error (spec.md
	// section 7: "poisons the engine").
	poison error
}

// Open constructs a Supervisor per the Config, choosing the initial
// engine from Mode: fast-insert starts Chaining, fast-lookup and
// memory-tight start RobinHood, and adaptive also starts Chaining (the
// cheaper engine for an empty table, per spec.md's own worked example
// S4 where 10k inserts happen before the read-heavy phase).
func Open(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()

	var hasher keyhash.Hasher
	if cfg.HasHashSeed {
		hasher = keyhash.New(cfg.HashSeed)
	} else {
		hasher = keyhash.NewRandomSeed()
	}

	s := &Supervisor{
		cfg:          cfg,
		tap:          metrics.New(),
		lastEvalTime: time.Now(),
	}

	switch cfg.Mode {
	case FastLookup, MemoryTight:
		s.active = newRobinEngine(hasher, cfg.InitialCapacity, cfg.LoadHigh, cfg.TombstoneRatio)
		s.activeKind = RobinHood
	default: // FastInsert, Adaptive
		s.active = newChainEngine(hasher, cfg.InitialCapacity, cfg.LoadHigh)
		s.activeKind = Chaining
	}
	return s
}

// Reconstruct builds a Supervisor whose initial active engine is kind,
// regardless of what cfg.Mode would otherwise have chosen -- used by
// snapshot loading (spec.md section 4.4: "Reconstruct the engine"),
// where the engine kind on disk, not the mode a caller happens to pass,
// determines the starting variant. cfg.Mode still governs subsequent
// adaptive behavior.
func Reconstruct(cfg Config, kind EngineKind) *Supervisor {
	cfg = cfg.withDefaults()

	var hasher keyhash.Hasher
	if cfg.HasHashSeed {
		hasher = keyhash.New(cfg.HashSeed)
	} else {
		hasher = keyhash.NewRandomSeed()
	}

	s := &Supervisor{cfg: cfg, tap: metrics.New(), lastEvalTime: time.Now()}
	switch kind {
	case RobinHood:
		s.active = newRobinEngine(hasher, cfg.InitialCapacity, cfg.LoadHigh, cfg.TombstoneRatio)
		s.activeKind = RobinHood
	default:
		s.active = newChainEngine(hasher, cfg.InitialCapacity, cfg.LoadHigh)
		s.activeKind = Chaining
	}
	return s
}

// Seed returns the active engine's hash seed, for snapshotting.
func (s *Supervisor) Seed() uint64 { return s.currentView().hasher().Seed() }

// LoadHigh returns the configured load factor cap.
func (s *Supervisor) LoadHigh() float64 { return s.cfg.LoadHigh }

// ActiveKind reports which engine is presently authoritative for reads
// and fresh writes (the migration destination once one is in flight).
func (s *Supervisor) ActiveKind() EngineKind {
	if s.mig != nil {
		return s.mig.dst.kind()
	}
	return s.activeKind
}

// MigrationInFlight reports whether an engine-to-engine migration is
// currently running.
func (s *Supervisor) MigrationInFlight() bool { return s.mig != nil }

// Get returns the value for key, or false if absent.
func (s *Supervisor) Get(key []byte) ([]byte, bool, error) {
	if s.poison != nil {
		return nil, false, s.poison
	}
	s.totalOps++
	s.win.gets++
	s.tap.ObserveGet()

	s.advanceMigration()

	var v []byte
	var ok bool
	if s.mig != nil {
		v, ok = s.mig.get(key)
	} else {
		v, ok = s.active.get(key)
	}
	if ok {
		s.tap.ObserveHit()
	} else {
		s.tap.ObserveMiss()
	}
	s.afterOp()
	return v, ok, nil
}

// Put maps key to val. Before acting, it piggybacks one migration batch
// if a migration is in flight (spec.md section 4.6).
func (s *Supervisor) Put(key, val []byte) (PutResult, []byte, error) {
	if s.poison != nil {
		return 0, nil, s.poison
	}
	s.totalOps++
	s.win.puts++
	s.tap.ObservePut()

	s.advanceMigration()

	var res PutResult
	var old []byte
	if s.mig != nil {
		res, old = s.mig.put(key, val)
	} else {
		res, old = s.active.put(key, val)
	}

	s.afterOp()
	return res, old, s.poison
}

// Del removes key, returning its prior value if present.
func (s *Supervisor) Del(key []byte) ([]byte, bool, error) {
	if s.poison != nil {
		return nil, false, s.poison
	}
	s.totalOps++
	s.win.dels++
	s.tap.ObserveDel()

	s.advanceMigration()

	var v []byte
	var ok bool
	if s.mig != nil {
		v, ok = s.mig.del(key)
	} else {
		v, ok = s.active.del(key)
	}

	s.afterOp()
	return v, ok, s.poison
}

// Len returns the number of live entries across src+dst while migrating,
// or the active engine's length otherwise.
func (s *Supervisor) Len() uintptr {
	if s.mig != nil {
		return s.mig.length()
	}
	return s.active.length()
}

// Capacity returns the active (post-migration-completion) engine's slot
// count.
func (s *Supervisor) Capacity() uintptr {
	if s.mig != nil {
		return s.mig.dst.capacity()
	}
	return s.active.capacity()
}

func (s *Supervisor) LoadFactor() float64 {
	if s.mig != nil {
		return s.mig.dst.loadFactor()
	}
	return s.active.loadFactor()
}

func (s *Supervisor) TombstoneRatio() float64 { return s.currentView().tombstoneRatio() }
func (s *Supervisor) MaxProbe() uint32        { return s.currentView().maxProbe() }

func (s *Supervisor) currentView() engine {
	if s.mig != nil {
		return s.mig.dst
	}
	return s.active
}

// Reserve ensures the active engine can hold at least n entries before
// its next grow.
func (s *Supervisor) Reserve(n uintptr) { s.currentView().reserve(n) }

// Each visits every live key/value pair in unspecified order. During a
// migration this visits dst then src; a key only ever lives in one of the
// two at a time, so no key is visited twice.
func (s *Supervisor) Each(fn func(key, val []byte) bool) {
	if s.mig == nil {
		s.active.each(fn)
		return
	}
	stopped := false
	s.mig.dst.each(func(k, v []byte) bool {
		if fn(k, v) {
			stopped = true
			return true
		}
		return false
	})
	if stopped {
		return
	}
	s.mig.src.each(fn)
}

// Iter returns a lazy sequence of (key, value) pairs: the returned function
// calls yield for each pair until yield returns false, and reports whether
// it visited every pair.
func (s *Supervisor) Iter() func(yield func(key, val []byte) bool) bool {
	return func(yield func(key, val []byte) bool) bool {
		cont := true
		s.Each(func(k, v []byte) bool {
			if !yield(k, v) {
				cont = false
				return true
			}
			return false
		})
		return cont
	}
}

// CancelMigration aborts an in-flight migration, if any, at the next op;
// src remains active, every entry dst holds is moved back into src, and
// dst is discarded. A no-op if no migration is running.
func (s *Supervisor) CancelMigration() {
	if s.mig != nil {
		s.mig.cancelNow()
	}
}

// Tick snapshots the metrics tap, filling in the gauges this package
// owns (size, capacity, tombstones, load factor, tombstone ratio, max
// probe).
func (s *Supervisor) Tick() metrics.Tick {
	v := s.currentView()
	return s.tap.Tick(metrics.Gauges{
		Size:           uint64(s.Len()),
		Capacity:       uint64(v.capacity()),
		Tombstones:     uint64(float64(v.capacity()) * v.tombstoneRatio()),
		LoadFactor:     v.loadFactor(),
		TombstoneRatio: v.tombstoneRatio(),
		MaxProbe:       uint64(v.maxProbe()),
	})
}

// CheckInvariants checks whichever engine is presently authoritative. A
// non-empty result is never expected in correct operation; per spec.md
// section 7, finding one poisons the Supervisor so every subsequent
// Get/Put/Del fails fast with the same Invariant error instead of
// silently operating on a table already known to be broken.
func (s *Supervisor) CheckInvariants() string {
	detail := s.currentView().checkInvariants()
	if detail != "" && s.poison == nil {
		s.poison = &shared.InvariantError{Detail: detail}
	}
	return detail
}

// advanceMigration runs before every op: advances an in-flight migration
// by one batch, finishing or aborting it as appropriate. spec.md section
// 4.6 frames the piggyback as riding "every mutator op"; this
// implementation also piggybacks on reads, since a read-only workload
// (as in the adaptive-mode worked example) must still be able to drain
// and complete a migration that a prior write-heavy phase started.
func (s *Supervisor) advanceMigration() {
	if s.mig == nil {
		return
	}
	if s.mig.cancel {
		s.abortMigration("cancelled")
		return
	}
	if s.mig.step(s.cfg.MigrationBatch) {
		s.finishMigration()
	}
}

func (s *Supervisor) finishMigration() {
	if detail := s.mig.dst.checkInvariants(); detail != "" {
		s.abortMigration("invariant: " + detail)
		return
	}
	s.active = s.mig.dst
	s.activeKind = s.mig.dst.kind()
	s.mig = nil
	s.tap.ObserveMigration()
}

func (s *Supervisor) abortMigration(reason string) {
	m := s.mig
	m.dst.each(func(k, v []byte) bool {
		m.src.put(k, v)
		return false
	})
	s.mig = nil
	s.tap.ObserveMigrationAborted(reason)
}

// afterOp runs after every Get/Put/Del: in adaptive mode it evaluates the
// policy transition table once the interval elapses. Each engine already
// enforces load_high on its own mutators; a grow decision from the table
// additionally reserves room for one more entry in the active engine.
func (s *Supervisor) afterOp() {
	s.maybeEvaluatePolicy()
}

func (s *Supervisor) maybeEvaluatePolicy() {
	if s.cfg.Mode != Adaptive || s.mig != nil {
		return
	}
	s.opsSinceEval++
	elapsedMs := time.Since(s.lastEvalTime).Milliseconds()
	if s.opsSinceEval < s.cfg.PolicyIntervalOps && elapsedMs < s.cfg.PolicyIntervalMs {
		return
	}
	s.opsSinceEval = 0
	s.lastEvalTime = time.Now()

	d := evaluate(s.activeKind, s.win, s.active.length(), s.active.loadFactor(),
		s.active.tombstoneRatio(), s.cfg.LoadHigh, s.cfg.TombstoneRatio)
	s.win = window{}

	switch d {
	case decisionSwitchToRobinHood:
		if s.hysteresisOK() {
			s.beginSwitch(RobinHood)
		}
	case decisionSwitchToChaining:
		if s.hysteresisOK() {
			s.beginSwitch(Chaining)
		}
	case decisionCompactInPlace:
		s.active.compact()
	case decisionGrow:
		s.active.reserve(s.active.length() + 1)
	}
}

func (s *Supervisor) hysteresisOK() bool {
	if !s.hasSwitched {
		return true
	}
	return s.totalOps-s.lastSwitchOps >= 8*s.cfg.PolicyIntervalOps
}

func (s *Supervisor) beginSwitch(target EngineKind) {
	if s.mig != nil {
		return
	}
	hasher := s.active.hasher()
	var dst engine
	switch target {
	case Chaining:
		dst = newChainEngine(hasher, shared.DefaultInitialCapacity, s.cfg.LoadHigh)
	case RobinHood:
		dst = newRobinEngine(hasher, shared.DefaultInitialCapacity, s.cfg.LoadHigh, s.cfg.TombstoneRatio)
	}
	dst.reserve(s.active.length())
	s.mig = beginMigration(s.active, dst)
	s.hasSwitched = true
	s.lastSwitchOps = s.totalOps
}
