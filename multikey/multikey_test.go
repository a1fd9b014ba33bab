package multikey_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/vsdb/engine/memengine"
	"github.com/erigontech/vsdb/multikey"
	"github.com/erigontech/vsdb/vsdberr"
)

func newMulti(t *testing.T, arity int) (*multikey.MultiKeyMap, context.Context) {
	t.Helper()
	ctx := context.Background()
	m, err := multikey.New(ctx, memengine.New(), arity)
	require.NoError(t, err)
	return m, ctx
}

func TestArityMismatch(t *testing.T) {
	m, ctx := newMulti(t, 2)
	_, err := m.Insert(ctx, [][]byte{[]byte("only-one")}, []byte("v"))
	require.Error(t, err)
	require.ErrorIs(t, err, vsdberr.ErrArityMismatch)
}

func TestInsertGetRemove(t *testing.T) {
	m, ctx := newMulti(t, 2)
	k := [][]byte{[]byte("users"), []byte("42")}
	_, err := m.Insert(ctx, k, []byte("alice"))
	require.NoError(t, err)

	v, ok, err := m.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("alice"), v)

	n, err := m.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = m.Remove(ctx, k)
	require.NoError(t, err)
	_, ok, err = m.Get(ctx, k)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIterOpWithKeyPrefix(t *testing.T) {
	m, ctx := newMulti(t, 2)
	entries := map[string]string{
		"users/1": "a",
		"users/2": "b",
		"orders/1": "c",
	}
	for k, v := range entries {
		parts := splitOnce(k)
		_, err := m.Insert(ctx, [][]byte{[]byte(parts[0]), []byte(parts[1])}, []byte(v))
		require.NoError(t, err)
	}

	var seen []string
	err := m.IterOpWithKeyPrefix(ctx, [][]byte{[]byte("users")}, func(e multikey.Entry) bool {
		seen = append(seen, string(e.Keys[0])+"/"+string(e.Keys[1])+"="+string(e.Value))
		return true
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)

	var all []string
	err = m.IterOp(ctx, func(e multikey.Entry) bool {
		all = append(all, string(e.Keys[0]))
		return true
	})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func splitOnce(s string) [2]string {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, ""}
}
