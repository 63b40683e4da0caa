package supervisor

import "github.com/jguida941/adhash/shared"

// Mode selects the supervisor's engine policy, spec.md section 4.6.
type Mode int

const (
	// Adaptive lets the policy engine pick and switch engines on its own.
	Adaptive Mode = iota
	// FastInsert pins the active engine to Chaining.
	FastInsert
	// FastLookup pins the active engine to RobinHood.
	FastLookup
	// MemoryTight pins RobinHood with a lower load_high (0.75).
	MemoryTight
)

func (m Mode) String() string {
	switch m {
	case Adaptive:
		return "adaptive"
	case FastInsert:
		return "fast-insert"
	case FastLookup:
		return "fast-lookup"
	case MemoryTight:
		return "memory-tight"
	default:
		return "unknown"
	}
}

// EngineKind tags which concrete engine backs the supervisor.
type EngineKind int

const (
	Chaining EngineKind = iota
	RobinHood
)

func (k EngineKind) String() string {
	if k == Chaining {
		return "chaining"
	}
	return "robinhood"
}

// Config configures a Supervisor at Open time, spec.md section 6's
// "Configuration" table.
type Config struct {
	Mode              Mode
	InitialCapacity   uintptr
	LoadHigh          float64
	TombstoneRatio    float64
	PolicyIntervalOps uint64
	PolicyIntervalMs  int64
	MigrationBatch    int
	MaxPayloadBytes   int64
	HashSeed          uint64
	// HasHashSeed distinguishes "seed explicitly set to 0" from "no seed
	// given, pick one at random" -- spec.md section 6 default is "random".
	HasHashSeed bool
}

// DefaultConfig returns the configuration defaults named in spec.md
// section 6.
func DefaultConfig() Config {
	return Config{
		Mode:              Adaptive,
		InitialCapacity:   shared.DefaultInitialCapacity,
		LoadHigh:          shared.DefaultLoadHigh,
		TombstoneRatio:    shared.DefaultTombstoneRatio,
		PolicyIntervalOps: shared.DefaultPolicyIntervalOps,
		PolicyIntervalMs:  shared.DefaultPolicyIntervalMs,
		MigrationBatch:    shared.DefaultMigrationBatch,
		MaxPayloadBytes:   shared.DefaultMaxPayloadBytes,
	}
}

// withDefaults fills zero-value fields with DefaultConfig's values,
// leaving explicit caller choices (including an explicit zero where that
// is meaningful, e.g. HashSeed) untouched -- except that MemoryTight always
// sets LoadHigh to shared.DefaultMemoryTightLoad.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialCapacity == 0 {
		c.InitialCapacity = d.InitialCapacity
	}
	if c.LoadHigh == 0 {
		c.LoadHigh = d.LoadHigh
	}
	if c.TombstoneRatio == 0 {
		c.TombstoneRatio = d.TombstoneRatio
	}
	if c.PolicyIntervalOps == 0 {
		c.PolicyIntervalOps = d.PolicyIntervalOps
	}
	if c.PolicyIntervalMs == 0 {
		c.PolicyIntervalMs = d.PolicyIntervalMs
	}
	if c.MigrationBatch == 0 {
		c.MigrationBatch = d.MigrationBatch
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = d.MaxPayloadBytes
	}
	if c.Mode == MemoryTight {
		c.LoadHigh = shared.DefaultMemoryTightLoad
	}
	return c
}
