package metrics_test

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguida941/adhash/metrics"
)

func TestCountersIncrement(t *testing.T) {
	tap := metrics.New()
	tap.ObservePut()
	tap.ObservePut()
	tap.ObserveGet()
	tap.ObserveHit()
	tap.ObserveMiss()
	tap.ObserveDel()
	tap.ObserveResize()
	tap.ObserveCompaction()
	tap.ObserveMigration()

	tick := tap.Tick(metrics.Gauges{})
	assert.Equal(t, uint64(2), tick.Counters.PutsTotal)
	assert.Equal(t, uint64(1), tick.Counters.GetsTotal)
	assert.Equal(t, uint64(1), tick.Counters.HitsTotal)
	assert.Equal(t, uint64(1), tick.Counters.MissesTotal)
	assert.Equal(t, uint64(1), tick.Counters.DelsTotal)
	assert.Equal(t, uint64(1), tick.Counters.ResizesTotal)
	assert.Equal(t, uint64(1), tick.Counters.CompactionsTotal)
	assert.Equal(t, uint64(1), tick.Counters.MigrationsTotal)
}

func TestProbeHistogramDropsInvalidObservations(t *testing.T) {
	tap := metrics.New()
	tap.ObserveProbeLength(math.NaN())
	tap.ObserveProbeLength(-1)
	tap.ObserveProbeLength(3)

	tick := tap.Tick(metrics.Gauges{})
	require.NotEmpty(t, tick.Histogram)

	var total uint64
	if len(tick.Histogram) > 0 {
		total = tick.Histogram[len(tick.Histogram)-1]
	}
	assert.Equal(t, uint64(1), total)
}

func TestMigrationAbortedRingBufferBounded(t *testing.T) {
	tap := metrics.New()
	for i := 0; i < 100; i++ {
		tap.ObserveMigrationAborted("policy-flap")
	}
	reasons := tap.RecentAbortReasons()
	assert.LessOrEqual(t, len(reasons), 64)

	tick := tap.Tick(metrics.Gauges{})
	assert.Equal(t, uint64(100), tick.Counters.MigrationsFailed)
}

func TestGaugeSanitizationMarksNonFiniteAsUnknown(t *testing.T) {
	tap := metrics.New()
	tick := tap.Tick(metrics.Gauges{
		Size:           10,
		Capacity:       16,
		LoadFactor:     math.Inf(1),
		TombstoneRatio: 0.1,
	})
	assert.True(t, math.IsNaN(tick.Gauges.LoadFactor))
	assert.Equal(t, 0.1, tick.Gauges.TombstoneRatio)
}

func TestRegisterExposesInstrumentsExternally(t *testing.T) {
	tap := metrics.New()
	tap.ObservePut()

	reg := prometheus.NewRegistry()
	require.NoError(t, tap.Register(reg))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
