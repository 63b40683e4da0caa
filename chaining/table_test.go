package chaining_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jguida941/adhash/chaining"
	"github.com/jguida941/adhash/keyhash"
)

func newTable() *chaining.Table {
	return chaining.New(keyhash.New(1), 4, 0.85)
}

func TestPutGetDel(t *testing.T) {
	tbl := newTable()

	res, old := tbl.Put([]byte("k1"), []byte("v1"))
	assert.Equal(t, chaining.Inserted, res)
	assert.Nil(t, old)

	v, ok := tbl.Get([]byte("k1"))
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	res, old = tbl.Put([]byte("k1"), []byte("v2"))
	assert.Equal(t, chaining.Replaced, res)
	assert.Equal(t, []byte("v1"), old)

	v, ok = tbl.Del([]byte("k1"))
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), v)

	_, ok = tbl.Get([]byte("k1"))
	assert.False(t, ok)
}

func TestGrowOnLoad(t *testing.T) {
	tbl := chaining.New(keyhash.New(1), 4, 0.85)
	for i := 0; i < 8; i++ {
		tbl.Put([]byte(fmt.Sprintf("key-%d", i)), []byte{byte(i)})
	}
	assert.GreaterOrEqual(t, tbl.Capacity(), uintptr(16))
	for i := 0; i < 8; i++ {
		v, ok := tbl.Get([]byte(fmt.Sprintf("key-%d", i)))
		require.True(t, ok)
		assert.Equal(t, []byte{byte(i)}, v)
	}
	assert.Empty(t, tbl.CheckInvariants())
}

func TestEachVisitsAllLiveEntries(t *testing.T) {
	tbl := newTable()
	want := map[string][]byte{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%d", i)
		v := []byte{byte(i)}
		tbl.Put([]byte(k), v)
		want[k] = v
	}

	got := map[string][]byte{}
	tbl.Each(func(k, v []byte) bool {
		got[string(k)] = v
		return false
	})
	assert.Equal(t, len(want), len(got))
	assert.Equal(t, uintptr(len(want)), tbl.Len())
}

func TestIterStopsEarly(t *testing.T) {
	tbl := newTable()
	for i := 0; i < 10; i++ {
		tbl.Put([]byte{byte(i)}, []byte{byte(i)})
	}
	count := 0
	tbl.Iter()(func(k, v []byte) bool {
		count++
		return count < 3
	})
	assert.Equal(t, 3, count)
}

// TestProperty1PutGetDel checks spec.md property 1: get(k) after the last
// op returns exactly the value of the last put(k,v) not followed by
// del(k), else absent.
func TestProperty1PutGetDel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tbl := chaining.New(keyhash.New(1), 4, 0.85)
		model := map[string][]byte{}

		keyGen := rapid.SliceOfN(rapid.Byte(), 1, 3)
		valGen := rapid.SliceOfN(rapid.Byte(), 0, 3)

		ops := rapid.IntRange(0, 300).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			key := keyGen.Draw(rt, "key")
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0, 1: // weight puts higher than deletes
				val := valGen.Draw(rt, "val")
				tbl.Put(key, val)
				model[string(key)] = val
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

// TestProperty2LenMatchesIter checks spec.md property 2.
func TestProperty2LenMatchesIter(t *testing.T) {
	tbl := newTable()
	for i := 0; i < 200; i++ {
		tbl.Put([]byte(fmt.Sprintf("k%d", i%37)), []byte{byte(i)})
	}
	for i := 0; i < 50; i++ {
		tbl.Del([]byte(fmt.Sprintf("k%d", i%37)))
	}

	var count uintptr
	tbl.Each(func(k, v []byte) bool { count++; return false })
	assert.Equal(t, tbl.Len(), count)
}
