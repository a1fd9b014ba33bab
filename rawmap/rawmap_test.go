package rawmap_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/engine/memengine"
	"github.com/erigontech/vsdb/rawmap"
)

func newMap(t *testing.T) (*rawmap.RawMap, context.Context) {
	t.Helper()
	ctx := context.Background()
	m, err := rawmap.New(ctx, memengine.New())
	require.NoError(t, err)
	return m, ctx
}

// S1 (basic raw): exercises GetLE/GetGE against a handful of sparse keys.
func TestS1BasicRaw(t *testing.T) {
	m, ctx := newMap(t)

	_, err := m.Insert(ctx, []byte{0x01}, []byte{0})
	require.NoError(t, err)
	_, err = m.Insert(ctx, []byte{0x04}, []byte{4})
	require.NoError(t, err)
	_, err = m.Insert(ctx, []byte{0x06}, []byte{6})
	require.NoError(t, err)
	_, err = m.Insert(ctx, []byte{0x50}, []byte{80})
	require.NoError(t, err)

	it, err := m.Range(ctx, engine.Included(nil), engine.Excluded([]byte{0x01}))
	require.NoError(t, err)
	_, ok := it.Next()
	require.False(t, ok)
	it.Close()

	it, err = m.Range(ctx, engine.Included([]byte{0x02}), engine.Excluded([]byte{0x0A}))
	require.NoError(t, err)
	kv, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, []byte{4}, kv.Value)
	it.Close()

	_, v, ok, err := m.GetGE(ctx, []byte{0x4F})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{80}, v)

	_, v, ok, err = m.GetLE(ctx, []byte{0x64})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{80}, v)
}

// S2 (length counter): insert/overwrite/remove 500 keys.
func TestS2LengthCounter(t *testing.T) {
	m, ctx := newMap(t)

	keys := make([][]byte, 500)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%04d", i))
		_, err := m.Insert(ctx, keys[i], []byte{byte(i)})
		require.NoError(t, err)
	}
	n, err := m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 500, n)

	for i, k := range keys {
		_, err := m.Insert(ctx, k, []byte{byte(i + 1)})
		require.NoError(t, err)
	}
	n, err = m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 500, n)

	for _, k := range keys {
		_, err := m.Remove(ctx, k)
		require.NoError(t, err)
	}
	n, err = m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

// Invariants 1-3 of spec.md §8.
func TestInsertGetRemove(t *testing.T) {
	m, ctx := newMap(t)
	k := []byte("k")

	_, err := m.Insert(ctx, k, []byte("v1"))
	require.NoError(t, err)
	v, ok, err := m.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	old, err := m.Insert(ctx, k, []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), old)
	v, ok, err = m.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
	n, err := m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	old, err = m.Remove(ctx, k)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), old)
	_, ok, err = m.Get(ctx, k)
	require.NoError(t, err)
	require.False(t, ok)
	n, err = m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

// Invariant 4-5: len matches iter count, and iter is ordered.
func TestIterOrderedAndCountsMatchLen(t *testing.T) {
	m, ctx := newMap(t)
	for _, k := range []string{"b", "a", "d", "c"} {
		_, err := m.Insert(ctx, []byte(k), []byte(k))
		require.NoError(t, err)
	}
	it, err := m.Iter(ctx)
	require.NoError(t, err)
	defer it.Close()
	var seen []string
	for {
		kv, ok := it.Next()
		if !ok {
			break
		}
		seen = append(seen, string(kv.Key))
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, seen)

	n, err := m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, len(seen), n)
}

func TestGetMutWritesBack(t *testing.T) {
	m, ctx := newMap(t)
	k := []byte("counter")
	_, err := m.Insert(ctx, k, []byte{0})
	require.NoError(t, err)

	guard, ok, err := m.GetMut(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	guard.Set([]byte{guard.Value()[0] + 1})
	require.NoError(t, guard.Release())
	require.NoError(t, guard.Release()) // idempotent

	v, ok, err := m.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{1}, v)

	_, _, err = m.GetMut(ctx, []byte("missing"))
	require.NoError(t, err)
}

func TestGetMutRejectsAliasing(t *testing.T) {
	m, ctx := newMap(t)
	k := []byte("k")
	_, err := m.Insert(ctx, k, []byte("v"))
	require.NoError(t, err)

	g1, ok, err := m.GetMut(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	defer g1.Release()

	_, _, err = m.GetMut(ctx, k)
	require.Error(t, err)
}

func TestEntryInsertsIfAbsent(t *testing.T) {
	m, ctx := newMap(t)
	g, err := m.Entry(ctx, []byte("k"), []byte("default"))
	require.NoError(t, err)
	require.Equal(t, []byte("default"), g.Value())
	require.NoError(t, g.Release())

	v, ok, err := m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("default"), v)
}

// Invariant 6: descriptor round-trip.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	eng := memengine.New()
	ctx := context.Background()
	m, err := rawmap.New(ctx, eng)
	require.NoError(t, err)
	_, err = m.Insert(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)

	descriptor := m.Encode()
	reopened, err := rawmap.Decode(eng, descriptor)
	require.NoError(t, err)

	v, ok, err := reopened.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestClear(t *testing.T) {
	m, ctx := newMap(t)
	for _, k := range []string{"a", "b", "c"} {
		_, err := m.Insert(ctx, []byte(k), []byte(k))
		require.NoError(t, err)
	}
	require.NoError(t, m.Clear(ctx))
	empty, err := m.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	// the prefix itself remains usable after Clear.
	_, err = m.Insert(ctx, []byte("z"), []byte("z"))
	require.NoError(t, err)
	n, err := m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestShadowSharesStorage(t *testing.T) {
	m, ctx := newMap(t)
	shadow := m.Shadow()
	require.Equal(t, m.Prefix(), shadow.Prefix())

	_, err := m.Insert(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)
	v, ok, err := shadow.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}
