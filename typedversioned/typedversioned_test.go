package typedversioned_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/vsdb/codec"
	"github.com/erigontech/vsdb/engine/memengine"
	"github.com/erigontech/vsdb/typedversioned"
)

func TestTypedVersionedReadWriteAcrossBranches(t *testing.T) {
	ctx := context.Background()
	m, err := typedversioned.New[uint64, string](ctx, memengine.New(), codec.Uint64Codec{}, codec.StringCodec{})
	require.NoError(t, err)

	_, err = m.Raw().VersionCreate(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, m.Insert(ctx, 1, "one"))
	require.NoError(t, m.Insert(ctx, 2, "two"))

	v, ok, err := m.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)

	n, err := m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = m.Raw().BranchCreate(ctx, "feature", "feature-v1")
	require.NoError(t, err)
	featureID, err := m.Raw().BranchID(ctx, "feature")
	require.NoError(t, err)

	require.NoError(t, m.InsertByBranch(ctx, featureID, 1, "one-on-feature"))

	v, ok, err = m.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v, "master must be unaffected by a write on feature")

	v, ok, err = m.GetByBranch(ctx, featureID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one-on-feature", v)

	all, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTypedVersionedDescriptorRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := memengine.New()
	m, err := typedversioned.New[uint64, string](ctx, eng, codec.Uint64Codec{}, codec.StringCodec{})
	require.NoError(t, err)
	_, err = m.Raw().VersionCreate(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, m.Insert(ctx, 7, "seven"))

	descriptor := m.Encode()
	reopened, err := typedversioned.Decode[uint64, string](ctx, eng, descriptor, codec.Uint64Codec{}, codec.StringCodec{})
	require.NoError(t, err)

	v, ok, err := reopened.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "seven", v)
}
