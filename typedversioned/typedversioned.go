// Package typedversioned provides thin typed wrappers over
// versioned.RawMapVs: pure encode/decode wrappers with no bookkeeping of
// their own, mirroring the relationship typedmap has with rawmap.
package typedversioned

import (
	"context"

	"github.com/erigontech/vsdb/codec"
	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/versioned"
)

// TypedMapVs[K, V] is a versioned, branchable ordered map from K to V.
type TypedMapVs[K, V any] struct {
	raw  *versioned.RawMapVs
	keys codec.KeyCodec[K]
	vals codec.ValueCodec[V]
}

// New allocates a fresh instance and wraps it with the given codecs.
func New[K, V any](ctx context.Context, eng engine.Engine, keys codec.KeyCodec[K], vals codec.ValueCodec[V]) (*TypedMapVs[K, V], error) {
	raw, err := versioned.New(ctx, eng)
	if err != nil {
		return nil, err
	}
	return &TypedMapVs[K, V]{raw: raw, keys: keys, vals: vals}, nil
}

// Open wraps an already-allocated RawMapVs with codecs.
func Open[K, V any](raw *versioned.RawMapVs, keys codec.KeyCodec[K], vals codec.ValueCodec[V]) *TypedMapVs[K, V] {
	return &TypedMapVs[K, V]{raw: raw, keys: keys, vals: vals}
}

// Encode returns the descriptor of the underlying RawMapVs.
func (m *TypedMapVs[K, V]) Encode() []byte { return m.raw.Encode() }

// Decode rebinds a handle from a descriptor previously produced by Encode.
func Decode[K, V any](ctx context.Context, eng engine.Engine, descriptor []byte, keys codec.KeyCodec[K], vals codec.ValueCodec[V]) (*TypedMapVs[K, V], error) {
	raw, err := versioned.Decode(ctx, eng, descriptor)
	if err != nil {
		return nil, err
	}
	return Open(raw, keys, vals), nil
}

// Raw exposes the untyped handle underneath, for branch/version lifecycle
// operations that don't touch K or V (BranchCreate, VersionCreate, merge,
// rebase, prune, and friends).
func (m *TypedMapVs[K, V]) Raw() *versioned.RawMapVs { return m.raw }

func (m *TypedMapVs[K, V]) Get(ctx context.Context, k K) (v V, ok bool, err error) {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return v, false, err
	}
	raw, ok, err := m.raw.Get(ctx, ek)
	if err != nil || !ok {
		return v, ok, err
	}
	v, err = m.vals.DecodeValue(raw)
	return v, true, err
}

func (m *TypedMapVs[K, V]) GetByBranch(ctx context.Context, branchID uint64, k K) (v V, ok bool, err error) {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return v, false, err
	}
	raw, ok, err := m.raw.GetByBranch(ctx, branchID, ek)
	if err != nil || !ok {
		return v, ok, err
	}
	v, err = m.vals.DecodeValue(raw)
	return v, true, err
}

func (m *TypedMapVs[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	_, ok, err := m.Get(ctx, k)
	return ok, err
}

func (m *TypedMapVs[K, V]) Insert(ctx context.Context, k K, v V) error {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return err
	}
	ev, err := m.vals.EncodeValue(v)
	if err != nil {
		return err
	}
	return m.raw.Insert(ctx, ek, ev)
}

func (m *TypedMapVs[K, V]) InsertByBranch(ctx context.Context, branchID uint64, k K, v V) error {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return err
	}
	ev, err := m.vals.EncodeValue(v)
	if err != nil {
		return err
	}
	return m.raw.InsertByBranch(ctx, branchID, ek, ev)
}

func (m *TypedMapVs[K, V]) Remove(ctx context.Context, k K) error {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return err
	}
	return m.raw.Remove(ctx, ek)
}

func (m *TypedMapVs[K, V]) RemoveByBranch(ctx context.Context, branchID uint64, k K) error {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return err
	}
	return m.raw.RemoveByBranch(ctx, branchID, ek)
}

func (m *TypedMapVs[K, V]) Len(ctx context.Context) (uint64, error) { return m.raw.Len(ctx) }

func (m *TypedMapVs[K, V]) LenByBranch(ctx context.Context, branchID uint64) (uint64, error) {
	return m.raw.LenByBranch(ctx, branchID)
}

// Entry is one decoded (key, value) pair yielded by iteration.
type Entry[K, V any] struct {
	Key   K
	Value V
}

func (m *TypedMapVs[K, V]) decode(e versioned.Entry) (Entry[K, V], error) {
	var out Entry[K, V]
	k, err := m.keys.DecodeKey(e.Key)
	if err != nil {
		return out, err
	}
	v, err := m.vals.DecodeValue(e.Value)
	if err != nil {
		return out, err
	}
	return Entry[K, V]{Key: k, Value: v}, nil
}

func (m *TypedMapVs[K, V]) decodeAll(all []versioned.Entry, err error) ([]Entry[K, V], error) {
	if err != nil {
		return nil, err
	}
	out := make([]Entry[K, V], len(all))
	for i, e := range all {
		d, err := m.decode(e)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// All drains every visible (key, value) pair on the default branch into a
// decoded slice, in ascending key order.
func (m *TypedMapVs[K, V]) All(ctx context.Context) ([]Entry[K, V], error) {
	return m.decodeAll(m.raw.Iter(ctx))
}

// AllByBranch is All against an explicit branch.
func (m *TypedMapVs[K, V]) AllByBranch(ctx context.Context, branchID uint64) ([]Entry[K, V], error) {
	return m.decodeAll(m.raw.IterByBranch(ctx, branchID))
}

// AllByBranchVersion is All pinned to an explicit (branch, version).
func (m *TypedMapVs[K, V]) AllByBranchVersion(ctx context.Context, branchID, versionID uint64) ([]Entry[K, V], error) {
	return m.decodeAll(m.raw.IterByBranchVersion(ctx, branchID, versionID))
}
