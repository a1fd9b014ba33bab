package typedmap_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/vsdb/codec"
	"github.com/erigontech/vsdb/engine/memengine"
	"github.com/erigontech/vsdb/typedmap"
)

func TestTypedMapUint64ToString(t *testing.T) {
	ctx := context.Background()
	m, err := typedmap.New[uint64, string](ctx, memengine.New(), codec.Uint64Codec{}, codec.StringCodec{})
	require.NoError(t, err)

	_, existed, err := m.Insert(ctx, 3, "three")
	require.NoError(t, err)
	require.False(t, existed)

	old, existed, err := m.Insert(ctx, 3, "THREE")
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, "three", old)

	v, ok, err := m.Get(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "THREE", v)

	_, _, err = m.Insert(ctx, 1, "one")
	require.NoError(t, err)
	_, _, err = m.Insert(ctx, 2, "two")
	require.NoError(t, err)

	all, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.EqualValues(t, 1, all[0].Key)
	require.EqualValues(t, 2, all[1].Key)
	require.EqualValues(t, 3, all[2].Key)

	ge, ok, err := m.GetGE(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, ge.Key)

	le, ok, err := m.GetLE(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, le.Key)
}

func TestTypedMapDescriptorRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := memengine.New()
	m, err := typedmap.New[uint64, string](ctx, eng, codec.Uint64Codec{}, codec.StringCodec{})
	require.NoError(t, err)
	_, _, err = m.Insert(ctx, 7, "seven")
	require.NoError(t, err)

	descriptor := m.Encode()
	reopened, err := typedmap.Decode[uint64, string](eng, descriptor, codec.Uint64Codec{}, codec.StringCodec{})
	require.NoError(t, err)

	v, ok, err := reopened.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "seven", v)
}
