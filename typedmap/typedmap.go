// Package typedmap provides thin typed wrappers over rawmap.RawMap: their
// entire contract is derived from RawMap plus the codec package, with no
// bookkeeping of their own.
package typedmap

import (
	"context"

	"github.com/erigontech/vsdb/codec"
	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/rawmap"
)

// TypedMap[K, V] is an ordered map from K to V, encoding keys with an
// order-preserving KeyCodec and values with a ValueCodec.
type TypedMap[K, V any] struct {
	raw   *rawmap.RawMap
	keys  codec.KeyCodec[K]
	vals  codec.ValueCodec[V]
}

// New allocates a fresh instance and wraps it with the given codecs.
func New[K, V any](ctx context.Context, eng engine.Engine, keys codec.KeyCodec[K], vals codec.ValueCodec[V]) (*TypedMap[K, V], error) {
	raw, err := rawmap.New(ctx, eng)
	if err != nil {
		return nil, err
	}
	return &TypedMap[K, V]{raw: raw, keys: keys, vals: vals}, nil
}

// Open wraps an already-allocated RawMap with codecs.
func Open[K, V any](raw *rawmap.RawMap, keys codec.KeyCodec[K], vals codec.ValueCodec[V]) *TypedMap[K, V] {
	return &TypedMap[K, V]{raw: raw, keys: keys, vals: vals}
}

// Encode returns the descriptor of the underlying RawMap.
func (m *TypedMap[K, V]) Encode() []byte { return m.raw.Encode() }

// Decode rebinds a handle from a descriptor previously produced by Encode.
func Decode[K, V any](eng engine.Engine, descriptor []byte, keys codec.KeyCodec[K], vals codec.ValueCodec[V]) (*TypedMap[K, V], error) {
	raw, err := rawmap.Decode(eng, descriptor)
	if err != nil {
		return nil, err
	}
	return Open(raw, keys, vals), nil
}

func (m *TypedMap[K, V]) Get(ctx context.Context, k K) (v V, ok bool, err error) {
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

func (m *TypedMap[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return false, err
	}
	return m.raw.ContainsKey(ctx, ek)
}

func (m *TypedMap[K, V]) Insert(ctx context.Context, k K, v V) (old V, existed bool, err error) {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return old, false, err
	}
	ev, err := m.vals.EncodeValue(v)
	if err != nil {
		return old, false, err
	}
	prev, err := m.raw.Insert(ctx, ek, ev)
	if err != nil {
		return old, false, err
	}
	if prev == nil {
		return old, false, nil
	}
	old, err = m.vals.DecodeValue(prev)
	return old, true, err
}

func (m *TypedMap[K, V]) Remove(ctx context.Context, k K) (old V, existed bool, err error) {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return old, false, err
	}
	prev, err := m.raw.Remove(ctx, ek)
	if err != nil {
		return old, false, err
	}
	if prev == nil {
		return old, false, nil
	}
	old, err = m.vals.DecodeValue(prev)
	return old, true, err
}

func (m *TypedMap[K, V]) Len(ctx context.Context) (uint64, error) { return m.raw.Len(ctx) }

func (m *TypedMap[K, V]) IsEmpty(ctx context.Context) (bool, error) { return m.raw.IsEmpty(ctx) }

func (m *TypedMap[K, V]) Clear(ctx context.Context) error { return m.raw.Clear(ctx) }

// Entry is one decoded (key, value) pair yielded by iteration.
type Entry[K, V any] struct {
	Key   K
	Value V
}

func (m *TypedMap[K, V]) decode(kv engine.KV) (Entry[K, V], error) {
	var e Entry[K, V]
	k, err := m.keys.DecodeKey(kv.Key)
	if err != nil {
		return e, err
	}
	v, err := m.vals.DecodeValue(kv.Value)
	if err != nil {
		return e, err
	}
	return Entry[K, V]{Key: k, Value: v}, nil
}

// All drains the map into a slice of decoded entries in ascending key
// order. Intended for small maps and tests; large maps should iterate the
// underlying RawMap directly to avoid buffering everything.
func (m *TypedMap[K, V]) All(ctx context.Context) ([]Entry[K, V], error) {
	it, err := m.raw.Iter(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []Entry[K, V]
	for {
		kv, ok := it.Next()
		if !ok {
			break
		}
		e, err := m.decode(kv)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *TypedMap[K, V]) First(ctx context.Context) (e Entry[K, V], ok bool, err error) {
	k, v, ok, err := m.raw.First(ctx)
	if err != nil || !ok {
		return e, ok, err
	}
	e, err = m.decode(engine.KV{Key: k, Value: v})
	return e, true, err
}

func (m *TypedMap[K, V]) Last(ctx context.Context) (e Entry[K, V], ok bool, err error) {
	k, v, ok, err := m.raw.Last(ctx)
	if err != nil || !ok {
		return e, ok, err
	}
	e, err = m.decode(engine.KV{Key: k, Value: v})
	return e, true, err
}

func (m *TypedMap[K, V]) GetLE(ctx context.Context, k K) (e Entry[K, V], ok bool, err error) {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return e, false, err
	}
	rk, rv, ok, err := m.raw.GetLE(ctx, ek)
	if err != nil || !ok {
		return e, ok, err
	}
	e, err = m.decode(engine.KV{Key: rk, Value: rv})
	return e, true, err
}

func (m *TypedMap[K, V]) GetGE(ctx context.Context, k K) (e Entry[K, V], ok bool, err error) {
	ek, err := m.keys.EncodeKey(k)
	if err != nil {
		return e, false, err
	}
	rk, rv, ok, err := m.raw.GetGE(ctx, ek)
	if err != nil || !ok {
		return e, ok, err
	}
	e, err = m.decode(engine.KV{Key: rk, Value: rv})
	return e, true, err
}
