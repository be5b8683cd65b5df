package sync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEntry(key string, size int64) NodeHistoryEntry {
	return NewBaseEntry(key, "etag-"+key, "ver-"+key, size)
}

func deltaEntry(key string, size int64) NodeHistoryEntry {
	return NewDeltaEntry(key, "etag-"+key, size)
}

// wholeEntry has both a base blob and a delta blob.
func wholeEntry(key string, baseSize, deltaSize int64) NodeHistoryEntry {
	e := NewBaseEntry(key, "etag-"+key, "ver-"+key, baseSize)
	e.HasDelta = true
	e.DeltaSize = deltaSize
	return e
}

func historyOf(entries ...NodeHistoryEntry) *NodeHistory {
	h := NewNodeHistory("some/file.txt")
	h.Entries = entries
	return h
}

func TestHistoryLast(t *testing.T) {
	h := NewNodeHistory("a.txt")
	_, err := h.Last()
	assert.ErrorIs(t, err, ErrHistoryEmpty)

	h.AddEntry(baseEntry("e1", 100))
	last, err := h.Last()
	require.NoError(t, err)
	assert.Equal(t, "e1", last.Key)

	h.AddDeleteMarker()
	_, err = h.Last()
	assert.ErrorIs(t, err, ErrHistoryDeleted)
	assert.True(t, h.IsDeleted())
}

func TestHistoryDiffFromScratch(t *testing.T) {
	t.Run("single base", func(t *testing.T) {
		h := historyOf(baseEntry("e1", 100))
		entries, abs, err := h.Diff(nil)
		require.NoError(t, err)
		assert.True(t, abs)
		require.Len(t, entries, 1)
		assert.Equal(t, "e1", entries[0].Key)
	})

	t.Run("base plus deltas", func(t *testing.T) {
		h := historyOf(baseEntry("e1", 100), deltaEntry("e2", 10), deltaEntry("e3", 10))
		entries, abs, err := h.Diff(nil)
		require.NoError(t, err)
		assert.True(t, abs)
		require.Len(t, entries, 3)
		assert.Equal(t, "e1", entries[0].Key)
		assert.Equal(t, "e3", entries[2].Key)
	})

	t.Run("stops at most recent base", func(t *testing.T) {
		h := historyOf(
			baseEntry("e1", 100), deltaEntry("e2", 10),
			wholeEntry("e3", 120, 15), deltaEntry("e4", 10))
		entries, abs, err := h.Diff(nil)
		require.NoError(t, err)
		assert.True(t, abs)
		require.Len(t, entries, 2)
		assert.Equal(t, "e3", entries[0].Key)
		assert.Equal(t, "e4", entries[1].Key)
	})
}

func TestHistoryDiffIncremental(t *testing.T) {
	t.Run("pure delta tail", func(t *testing.T) {
		h := historyOf(baseEntry("e1", 1000), deltaEntry("e2", 10), deltaEntry("e3", 20))
		other := historyOf(baseEntry("e1", 1000))

		entries, abs, err := h.Diff(other)
		require.NoError(t, err)
		assert.False(t, abs)
		require.Len(t, entries, 2)
		assert.Equal(t, "e2", entries[0].Key)
		assert.Equal(t, "e3", entries[1].Key)
	})

	t.Run("already current", func(t *testing.T) {
		h := historyOf(baseEntry("e1", 1000), deltaEntry("e2", 10))
		entries, abs, err := h.Diff(h.Clone())
		require.NoError(t, err)
		assert.False(t, abs)
		assert.Empty(t, entries)
	})

	t.Run("tombstone breaks the chain", func(t *testing.T) {
		h := historyOf(baseEntry("e1", 100))
		h.AddDeleteMarker()
		h.AddEntry(baseEntry("e3", 200))
		h.AddEntry(deltaEntry("e4", 10))
		other := historyOf(baseEntry("e1", 100))

		entries, abs, err := h.Diff(other)
		require.NoError(t, err)
		assert.True(t, abs)
		require.Len(t, entries, 2)
		assert.Equal(t, "e3", entries[0].Key)
		assert.Equal(t, "e4", entries[1].Key)
	})

	t.Run("intermediate pure base wins", func(t *testing.T) {
		h := historyOf(
			baseEntry("e1", 100), deltaEntry("e2", 10),
			baseEntry("e3", 50), deltaEntry("e4", 5))
		other := historyOf(baseEntry("e1", 100))

		entries, abs, err := h.Diff(other)
		require.NoError(t, err)
		assert.True(t, abs)
		require.Len(t, entries, 2)
		assert.Equal(t, "e3", entries[0].Key)
	})

	t.Run("deleted other is an error", func(t *testing.T) {
		h := historyOf(baseEntry("e1", 100))
		other := historyOf(baseEntry("e1", 100))
		other.AddDeleteMarker()
		_, _, err := h.Diff(other)
		assert.ErrorIs(t, err, ErrHistoryDeleted)
	})
}

func TestHistoryDiffCutoff(t *testing.T) {
	// Stored points at a 1 MiB base; the remote tail carries three deltas and
	// a rebuilt 400 KB base. Replaying the deltas would move more bytes than
	// the base, so the diff is just the base.
	const kb = 1024
	h := historyOf(
		baseEntry("e1", 1024*kb),
		deltaEntry("e2", 200*kb),
		deltaEntry("e3", 300*kb),
		deltaEntry("e4", 600*kb),
		wholeEntry("e5", 400*kb, 350*kb))
	other := historyOf(baseEntry("e1", 1024*kb))

	entries, abs, err := h.Diff(other)
	require.NoError(t, err)
	assert.True(t, abs)
	require.Len(t, entries, 1)
	assert.Equal(t, "e5", entries[0].Key)
	assert.NotEmpty(t, entries[0].BaseVersion)
}

func TestHistoryDiffBytesBound(t *testing.T) {
	// When the result is relative, replayed delta bytes never exceed the size
	// of any base the walk saw.
	h := historyOf(
		baseEntry("e1", 1000),
		wholeEntry("e2", 5000, 100),
		deltaEntry("e3", 200),
		deltaEntry("e4", 300))
	other := historyOf(baseEntry("e1", 1000))

	entries, abs, err := h.Diff(other)
	require.NoError(t, err)
	assert.False(t, abs)
	require.Len(t, entries, 3)

	var sum int64
	for _, e := range entries {
		sum += e.DeltaSize
	}
	assert.LessOrEqual(t, sum, int64(5000))
}

func TestHistoryClone(t *testing.T) {
	h := historyOf(baseEntry("e1", 100))
	c := h.Clone()
	c.AddDeleteMarker()
	assert.False(t, h.IsDeleted())
	assert.True(t, c.IsDeleted())
}

func TestHistoryEntryWireFormat(t *testing.T) {
	// absent etag/base_version go on the wire as explicit nulls, so other
	// readers of the document see the documented schema
	h := NewNodeHistory("a.txt")
	h.AddEntry(NewDeltaEntry("e1", "etag-e1", 10))
	h.AddDeleteMarker()

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"base_version":null`)
	assert.Contains(t, string(data), `"etag":null`)
	assert.Contains(t, string(data), `"etag":"etag-e1"`)
	assert.NotContains(t, string(data), `"base_version":""`)

	var decoded NodeHistory
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, "etag-e1", decoded.Entries[0].ETag)
	assert.Empty(t, decoded.Entries[0].BaseVersion)
	assert.True(t, decoded.Entries[1].Deleted)
	assert.Empty(t, decoded.Entries[1].ETag)
}

func TestNewEntryKey(t *testing.T) {
	k1, k2 := NewEntryKey(), NewEntryKey()
	assert.Len(t, k1, 32)
	assert.NotEqual(t, k1, k2)
	assert.NotContains(t, k1, "-")
}
