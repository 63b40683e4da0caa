package snapshot_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguida941/adhash/shared"
	"github.com/jguida941/adhash/snapshot"
)

// entriesEqual reports whether got and want hold the same set of key/value
// pairs, order-insensitive -- Load's payload walk and the original Entries
// sequence aren't guaranteed to agree on order, only on content (property 5:
// a dump/load round trip is a structural, not positional, identity).
func entriesEqual(want, got [][2][]byte) string {
	sortByKey := cmpopts.SortSlices(func(a, b [2][]byte) bool {
		return bytes.Compare(a[0], b[0]) < 0
	})
	return cmp.Diff(want, got, sortByKey)
}

func sampleSource(kind snapshot.EngineKind, entries [][2][]byte) snapshot.Source {
	return snapshot.Source{
		Kind:           kind,
		Capacity:       64,
		Seed:           12345,
		Size:           uint64(len(entries)),
		LoadHigh:       0.85,
		TombstoneRatio: 0.20,
		TombstoneCount: 3,
		Entries: func(yield func(key, val []byte) bool) bool {
			for _, e := range entries {
				if yield(e[0], e[1]) {
					return true
				}
			}
			return false
		},
	}
}

func TestDumpLoadRoundTripUncompressed(t *testing.T) {
	entries := [][2][]byte{
		{[]byte("K1"), []byte("V1")},
		{[]byte("K2"), []byte("V2")},
	}
	src := sampleSource(snapshot.KindRobinHood, entries)

	var buf bytes.Buffer
	n, err := snapshot.Dump(&buf, src, snapshot.DumpOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, buf.Len(), n)

	loaded, err := snapshot.Load(&buf, snapshot.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, snapshot.KindRobinHood, loaded.Kind)
	assert.Equal(t, uint64(64), loaded.Capacity)
	assert.Equal(t, uint64(12345), loaded.Seed)
	assert.Equal(t, uint64(2), loaded.Size)
	assert.Len(t, loaded.Entries, 2)
	if diff := entriesEqual(entries, loaded.Entries); diff != "" {
		t.Errorf("round-tripped entries differ (-want +got):\n%s", diff)
	}
}

func TestDumpLoadRoundTripCompressed(t *testing.T) {
	entries := make([][2][]byte, 200)
	for i := range entries {
		entries[i] = [2][]byte{[]byte("key-repeat-repeat"), []byte("value-repeat-repeat")}
	}
	src := sampleSource(snapshot.KindChaining, entries)

	var buf bytes.Buffer
	_, err := snapshot.Dump(&buf, src, snapshot.DumpOptions{Compress: true})
	require.NoError(t, err)

	loaded, err := snapshot.Load(&buf, snapshot.LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, loaded.Entries, 200)
	if diff := entriesEqual(entries, loaded.Entries); diff != "" {
		t.Errorf("round-tripped entries differ (-want +got):\n%s", diff)
	}
}

// TestScenarioS5 mirrors spec.md S5: dump with compress=true, truncate the
// last byte, load must fail with a checksum-reason BadSnapshotError.
func TestScenarioS5(t *testing.T) {
	entries := [][2][]byte{{[]byte("K1"), []byte("V1")}}
	src := sampleSource(snapshot.KindRobinHood, entries)

	var buf bytes.Buffer
	_, err := snapshot.Dump(&buf, src, snapshot.DumpOptions{Compress: true})
	require.NoError(t, err)

	truncated := buf.Bytes()[:buf.Len()-1]

	_, err = snapshot.Load(bytes.NewReader(truncated), snapshot.LoadOptions{})
	require.Error(t, err)

	var badSnap *shared.BadSnapshotError
	require.True(t, errors.As(err, &badSnap))
	assert.True(t, badSnap.Reason == shared.ReasonChecksum || badSnap.Reason == shared.ReasonStructure)
	require.True(t, errors.Is(err, shared.ErrBadSnapshot))
}

func TestLoadRejectsBadMagic(t *testing.T) {
	buf := bytes.Repeat([]byte{0}, 54)
	_, err := snapshot.Load(bytes.NewReader(buf), snapshot.LoadOptions{})
	require.Error(t, err)
	var badSnap *shared.BadSnapshotError
	require.True(t, errors.As(err, &badSnap))
	assert.Equal(t, shared.ReasonMagic, badSnap.Reason)
}

func TestLoadRejectsOversizedPayload(t *testing.T) {
	entries := [][2][]byte{{[]byte("K"), []byte("V")}}
	src := sampleSource(snapshot.KindChaining, entries)

	var buf bytes.Buffer
	_, err := snapshot.Dump(&buf, src, snapshot.DumpOptions{})
	require.NoError(t, err)

	_, err = snapshot.Load(&buf, snapshot.LoadOptions{MaxPayloadBytes: 1})
	require.Error(t, err)
	var badSnap *shared.BadSnapshotError
	require.True(t, errors.As(err, &badSnap))
	assert.Equal(t, shared.ReasonPayloadSize, badSnap.Reason)
}
