// Package metrics is the C4 component: per-operation counters, gauges, and
// a probe-length histogram, exposed two ways -- a pull-based Tick()
// snapshot for in-process consumers (the caller supplies the gauges, which
// the tap does not track itself), and, for an embedder that wants to
// scrape the counters and histogram externally, direct registration
// against a prometheus.Registerer.
//
// The teacher (EinfachAndy-hashmaps) has no instrumentation at all -- it is
// a bare library. This package is grounded instead on the corpus's own use
// of github.com/prometheus/client_golang (pulled in via
// AKJUS-bsc-erigon/erigon-lib's dependency graph) for exactly this shape:
// typed Counter and Histogram instruments registered once, read back via
// client_model's dto.Metric rather than re-deriving running sums by hand.
// Gauges are not prometheus instruments here; they are a plain struct.
package metrics

import (
	"math"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are the fixed, cumulative probe-length buckets named in
// spec.md section 4.5.
var HistogramBuckets = []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256}

// Counters holds the monotonic counters spec.md section 4.5 names.
type Counters struct {
	PutsTotal        uint64
	GetsTotal        uint64
	DelsTotal        uint64
	HitsTotal        uint64
	MissesTotal      uint64
	ResizesTotal     uint64
	CompactionsTotal uint64
	MigrationsTotal  uint64
	MigrationsFailed uint64
}

// Gauges holds the point-in-time gauges spec.md section 4.5 names.
type Gauges struct {
	Size           uint64
	Capacity       uint64
	Tombstones     uint64
	LoadFactor     float64
	TombstoneRatio float64
	MaxProbe       uint64
}

// Tick is a point-in-time snapshot of counters, gauges, and the probe
// histogram, the record spec.md section 4.5/6 calls the supervisor's
// pull-based emission unit.
type Tick struct {
	Timestamp time.Time
	Counters  Counters
	Gauges    Gauges
	// Histogram holds cumulative counts per bucket upper bound in
	// HistogramBuckets, plus a final +Inf bucket.
	Histogram []uint64
}

// maxAbortReasons bounds the MigrationAborted ring buffer (spec.md section
// 9's "hard cap" recommendation, applied here since the spec leaves the
// exact number open).
const maxAbortReasons = 64

// Tap is the C4 metrics tap. The zero value is not ready to use; construct
// with New.
type Tap struct {
	reg *prometheus.Registry

	puts             prometheus.Counter
	gets             prometheus.Counter
	dels             prometheus.Counter
	hits             prometheus.Counter
	misses           prometheus.Counter
	resizes          prometheus.Counter
	compactions      prometheus.Counter
	migrations       prometheus.Counter
	migrationsFailed prometheus.Counter
	probeHist        prometheus.Histogram

	abortReasons []string
}

// New creates a Tap with its own private prometheus.Registry. Register
// additionally exposes the same instruments on an embedder-supplied
// Registerer, for an external HTTP server to scrape -- that server is an
// excluded collaborator (spec.md section 6); this package only produces
// the instruments and the structured Tick record.
func New() *Tap {
	t := &Tap{
		reg: prometheus.NewRegistry(),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_puts_total", Help: "total Put operations",
		}),
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_gets_total", Help: "total Get operations",
		}),
		dels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_dels_total", Help: "total Del operations",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_hits_total", Help: "total Get hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_misses_total", Help: "total Get misses",
		}),
		resizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_resizes_total", Help: "total engine resizes",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_compactions_total", Help: "total Robin Hood compactions",
		}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_migrations_total", Help: "total completed engine migrations",
		}),
		migrationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adhash_migrations_failed_total", Help: "total aborted engine migrations",
		}),
		probeHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adhash_probe_length",
			Help:    "probe chain length observed per operation",
			Buckets: HistogramBuckets,
		}),
	}

	t.reg.MustRegister(t.puts, t.gets, t.dels, t.hits, t.misses, t.resizes,
		t.compactions, t.migrations, t.migrationsFailed, t.probeHist)

	return t
}

// Register additionally exposes this tap's instruments on reg, so an
// embedder's own external metrics server can scrape them alongside its
// other instruments.
func (t *Tap) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		t.puts, t.gets, t.dels, t.hits, t.misses, t.resizes,
		t.compactions, t.migrations, t.migrationsFailed, t.probeHist,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tap) ObservePut()        { t.puts.Inc() }
func (t *Tap) ObserveGet()        { t.gets.Inc() }
func (t *Tap) ObserveDel()        { t.dels.Inc() }
func (t *Tap) ObserveHit()        { t.hits.Inc() }
func (t *Tap) ObserveMiss()       { t.misses.Inc() }
func (t *Tap) ObserveResize()     { t.resizes.Inc() }
func (t *Tap) ObserveCompaction() { t.compactions.Inc() }
func (t *Tap) ObserveMigration()  { t.migrations.Inc() }

// ObserveMigrationAborted records a failed migration on the metrics
// stream only -- spec.md section 4.6/7 is explicit that
// MigrationAborted never surfaces to the caller of the triggering op.
func (t *Tap) ObserveMigrationAborted(reason string) {
	t.migrationsFailed.Inc()
	t.abortReasons = append(t.abortReasons, reason)
	if len(t.abortReasons) > maxAbortReasons {
		t.abortReasons = t.abortReasons[len(t.abortReasons)-maxAbortReasons:]
	}
}

// RecentAbortReasons returns a copy of the bounded ring buffer of recent
// MigrationAborted reasons, most recent last.
func (t *Tap) RecentAbortReasons() []string {
	out := make([]string, len(t.abortReasons))
	copy(out, t.abortReasons)
	return out
}

// ObserveProbeLength records a single operation's probe chain length. Any
// NaN or negative observation is dropped, not recorded as zero, per
// spec.md section 4.5.
func (t *Tap) ObserveProbeLength(n float64) {
	if math.IsNaN(n) || n < 0 {
		return
	}
	t.probeHist.Observe(n)
}

// Tick snapshots counters, gauges, and the probe histogram at the current
// instant. gauges is supplied by the caller (the supervisor/engine, which
// owns size/capacity/tombstones/load factor state the tap itself doesn't
// track).
func (t *Tap) Tick(gauges Gauges) Tick {
	return Tick{
		Timestamp: time.Now(),
		Counters: Counters{
			PutsTotal:        counterValue(t.puts),
			GetsTotal:        counterValue(t.gets),
			DelsTotal:        counterValue(t.dels),
			HitsTotal:        counterValue(t.hits),
			MissesTotal:      counterValue(t.misses),
			ResizesTotal:     counterValue(t.resizes),
			CompactionsTotal: counterValue(t.compactions),
			MigrationsTotal:  counterValue(t.migrations),
			MigrationsFailed: counterValue(t.migrationsFailed),
		},
		Gauges:    sanitizeGauges(gauges),
		Histogram: histogramCounts(t.probeHist),
	}
}

// sanitizeGauges replaces any non-finite float field with a sentinel
// "unknown" marker (represented as NaN here; a JSON-emitting caller is
// expected to render NaN as the string "unknown"), per spec.md section
// 4.5's "emitted ticks are sanitized" rule.
func sanitizeGauges(g Gauges) Gauges {
	if !isFinite(g.LoadFactor) {
		g.LoadFactor = math.NaN()
	}
	if !isFinite(g.TombstoneRatio) {
		g.TombstoneRatio = math.NaN()
	}
	return g
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func counterValue(c prometheus.Counter) uint64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

// histogramCounts reads the cumulative bucket counts back out of a
// prometheus.Histogram via client_model, matching spec.md's "buckets are
// cumulative and monotonic" requirement directly off the library's own
// representation instead of re-deriving it.
func histogramCounts(h prometheus.Histogram) []uint64 {
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		return nil
	}
	buckets := m.GetHistogram().GetBucket()
	counts := make([]uint64, 0, len(buckets)+1)
	for _, b := range buckets {
		counts = append(counts, b.GetCumulativeCount())
	}
	counts = append(counts, m.GetHistogram().GetSampleCount())
	return counts
}
