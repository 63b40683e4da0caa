package robinhood_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jguida941/adhash/keyhash"
	"github.com/jguida941/adhash/robinhood"
)

func newTable() *robinhood.Table {
	return robinhood.New(keyhash.New(1), 8, 0.85, 0.20)
}

func TestPutGetDel(t *testing.T) {
	tbl := newTable()

	res, old := tbl.Put([]byte("k1"), []byte("v1"))
	assert.Equal(t, robinhood.Inserted, res)
	assert.Nil(t, old)

	v, ok := tbl.Get([]byte("k1"))
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	res, old = tbl.Put([]byte("k1"), []byte("v2"))
	assert.Equal(t, robinhood.Replaced, res)
	assert.Equal(t, []byte("v1"), old)

	v, ok = tbl.Del([]byte("k1"))
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), v)

	_, ok = tbl.Get([]byte("k1"))
	assert.False(t, ok)
}

// TestScenarioS1 mirrors spec.md S1.
func TestScenarioS1(t *testing.T) {
	tbl := robinhood.New(keyhash.New(1), 8, 0.85, 0.20)
	tbl.Put([]byte("K1"), []byte("V1"))
	tbl.Put([]byte("K2"), []byte("V2"))

	v, ok := tbl.Get([]byte("K1"))
	require.True(t, ok)
	assert.Equal(t, []byte("V1"), v)

	tbl.Del([]byte("K1"))
	_, ok = tbl.Get([]byte("K1"))
	assert.False(t, ok)
	assert.Equal(t, uintptr(1), tbl.Len())
}

// TestScenarioS2 mirrors spec.md S2.
func TestScenarioS2(t *testing.T) {
	tbl := robinhood.New(keyhash.New(1), 4, 0.85, 0.20)
	keys := make([][]byte, 8)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("K%d", i+1))
		tbl.Put(keys[i], []byte(fmt.Sprintf("V%d", i+1)))
	}
	assert.GreaterOrEqual(t, tbl.Capacity(), uintptr(16))
	for i, k := range keys {
		v, ok := tbl.Get(k)
		require.True(t, ok)
		assert.Equal(t, []byte(fmt.Sprintf("V%d", i+1)), v)
	}
}

// TestScenarioS3 mirrors spec.md S3.
func TestScenarioS3(t *testing.T) {
	// 100 live keys need 128 slots, so 30 tombstones give a ratio of
	// 30/128 = 0.234; the threshold is 0.20 so the deletes cross it.
	tbl := robinhood.New(keyhash.New(1), 128, 0.85, 0.20)
	for i := 1; i <= 100; i++ {
		tbl.Put([]byte(fmt.Sprintf("K%d", i)), []byte(fmt.Sprintf("V%d", i)))
	}
	for i := 1; i <= 30; i++ {
		tbl.Del([]byte(fmt.Sprintf("K%d", i)))
	}
	require.GreaterOrEqual(t, tbl.TombstoneRatio(), 0.20)

	// Next put triggers compaction.
	tbl.Put([]byte("trigger"), []byte("value"))
	assert.Equal(t, float64(0), tbl.TombstoneRatio())

	for i := 31; i <= 100; i++ {
		v, ok := tbl.Get([]byte(fmt.Sprintf("K%d", i)))
		require.True(t, ok)
		assert.Equal(t, []byte(fmt.Sprintf("V%d", i)), v)
	}
	for i := 1; i <= 30; i++ {
		_, ok := tbl.Get([]byte(fmt.Sprintf("K%d", i)))
		assert.False(t, ok)
	}
}

func TestCompactPreservesAllLiveKeys(t *testing.T) {
	tbl := robinhood.New(keyhash.New(3), 64, 0.85, 0.20)
	for i := 0; i < 40; i++ {
		tbl.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte{byte(i)})
	}
	for i := 0; i < 40; i += 2 {
		tbl.Del([]byte(fmt.Sprintf("key-%03d", i)))
	}
	tbl.Compact()
	assert.Equal(t, float64(0), tbl.TombstoneRatio())
	for i := 1; i < 40; i += 2 {
		v, ok := tbl.Get([]byte(fmt.Sprintf("key-%03d", i)))
		require.True(t, ok)
		assert.Equal(t, []byte{byte(i)}, v)
	}
	assert.Empty(t, tbl.CheckInvariants())
}

// TestProperty1PutGetDel checks spec.md property 1.
func TestProperty1PutGetDel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tbl := robinhood.New(keyhash.New(9), 8, 0.85, 0.20)
		model := map[string][]byte{}

		keyGen := rapid.SliceOfN(rapid.Byte(), 1, 3)
		valGen := rapid.SliceOfN(rapid.Byte(), 0, 3)

		ops := rapid.IntRange(0, 400).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			key := keyGen.Draw(rt, "key")
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0, 1:
				val := valGen.Draw(rt, "val")
				tbl.Put(key, val)
				model[string(key)] = val
				// Property 4: Put is the only self-triggering mutator (see
				// table.go's Compact call site); a run of Dels with no
				// intervening Put is allowed to leave the ratio stale above
				// threshold until the next Put, per spec.md's own S3
				// scenario ("Next put triggers compact").
				require.Less(rt, tbl.TombstoneRatio(), 0.20+1e-9)
			case 2:
				tbl.Del(key)
				delete(model, string(key))
			}
		}

		for k, want := range model {
			got, ok := tbl.Get([]byte(k))
			require.True(rt, ok)
			require.Equal(rt, want, got)
		}
		require.Equal(rt, uintptr(len(model)), tbl.Len())
		require.Empty(rt, tbl.CheckInvariants())
	})
}

// TestProperty3RobinHoodOrdering checks spec.md property 3: no occupied
// slot has a probe distance greater than the distance a synthetic insert
// of a key hashing to the same ideal bucket would need to travel to reach
// the next slot past it.
func TestProperty3RobinHoodOrdering(t *testing.T) {
	tbl := robinhood.New(keyhash.New(5), 16, 0.85, 0.20)
	for i := 0; i < 50; i++ {
		tbl.Put([]byte(fmt.Sprintf("p%d", i)), []byte{byte(i)})
	}
	assert.Empty(t, tbl.CheckInvariants())
}

func TestMaxProbeNonNegativeAndBounded(t *testing.T) {
	tbl := newTable()
	for i := 0; i < 100; i++ {
		tbl.Put([]byte(fmt.Sprintf("m%d", i)), []byte{byte(i)})
	}
	assert.Less(t, tbl.MaxProbe(), uint32(tbl.Capacity()))
}
