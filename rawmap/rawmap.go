// Package rawmap implements RawMap, the foundation every higher-level vsdb
// map builds on: a handle over an engine.Engine that owns one instance
// prefix and exposes ordered byte-key/byte-value operations plus a length
// counter.
package rawmap

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/erigontech/vsdb/engine"
)

// RawMap is a handle over one engine instance prefix. The zero value is not
// usable; construct with New or Open.
type RawMap struct {
	eng    engine.Engine
	prefix uint64
}

// New allocates a fresh instance prefix and returns a handle over it.
func New(ctx context.Context, eng engine.Engine) (*RawMap, error) {
	p, err := eng.AllocPrefix()
	if err != nil {
		return nil, fmt.Errorf("rawmap: alloc prefix: %w", err)
	}
	return &RawMap{eng: eng, prefix: p}, nil
}

// Open rebinds a handle to an already-allocated instance prefix, as
// Decode does when deserializing a map descriptor.
func Open(eng engine.Engine, prefix uint64) *RawMap {
	return &RawMap{eng: eng, prefix: prefix}
}

// Prefix returns the instance prefix backing this handle.
func (m *RawMap) Prefix() uint64 { return m.prefix }

// Shadow returns a second handle over the same instance prefix. Unsafe:
// the caller is responsible for any aliasing discipline between the two
// handles (e.g. iterating through one while removing through the other).
func (m *RawMap) Shadow() *RawMap { return &RawMap{eng: m.eng, prefix: m.prefix} }

// Encode serializes this handle to its descriptor form: just the instance
// prefix, big-endian. The descriptor is the primary key for the instance;
// it never embeds the map's data.
func (m *RawMap) Encode() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], m.prefix)
	return b[:]
}

// Decode rebinds a handle to the on-disk instance named by a descriptor
// previously produced by Encode.
func Decode(eng engine.Engine, descriptor []byte) (*RawMap, error) {
	if len(descriptor) != 8 {
		return nil, fmt.Errorf("rawmap: decode: want 8-byte descriptor, got %d", len(descriptor))
	}
	return Open(eng, binary.BigEndian.Uint64(descriptor)), nil
}

// Get performs a point lookup.
func (m *RawMap) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	return m.eng.Get(ctx, m.prefix, k)
}

// ContainsKey reports whether k is present.
func (m *RawMap) ContainsKey(ctx context.Context, k []byte) (bool, error) {
	_, ok, err := m.eng.Get(ctx, m.prefix, k)
	return ok, err
}

// Insert upserts k=v, returning the previous value if any, and adjusts the
// length counter only if k was previously absent.
func (m *RawMap) Insert(ctx context.Context, k, v []byte) ([]byte, error) {
	old, existed, err := m.eng.Insert(ctx, m.prefix, k, v)
	if err != nil {
		return nil, fmt.Errorf("rawmap: insert: %w", err)
	}
	if !existed {
		if err := m.eng.IncreaseInstanceLen(ctx, m.prefix); err != nil {
			return nil, fmt.Errorf("rawmap: insert: bump len: %w", err)
		}
	}
	return old, nil
}

// Remove deletes k, returning the previous value if any, and adjusts the
// length counter only if k was present.
func (m *RawMap) Remove(ctx context.Context, k []byte) ([]byte, error) {
	old, existed, err := m.eng.Remove(ctx, m.prefix, k)
	if err != nil {
		return nil, fmt.Errorf("rawmap: remove: %w", err)
	}
	if existed {
		if err := m.eng.DecreaseInstanceLen(ctx, m.prefix); err != nil {
			return nil, fmt.Errorf("rawmap: remove: drop len: %w", err)
		}
	}
	return old, nil
}

// Len returns the cached instance length counter.
func (m *RawMap) Len(ctx context.Context) (uint64, error) {
	return m.eng.GetInstanceLen(ctx, m.prefix)
}

// IsEmpty reports whether Len is zero.
func (m *RawMap) IsEmpty(ctx context.Context) (bool, error) {
	n, err := m.Len(ctx)
	return n == 0, err
}

// Clear removes every key under this instance's prefix and resets its
// length counter, but keeps the prefix itself allocated so the handle
// remains usable.
func (m *RawMap) Clear(ctx context.Context) error {
	it, err := m.eng.Iter(ctx, m.prefix)
	if err != nil {
		return fmt.Errorf("rawmap: clear: iter: %w", err)
	}
	defer it.Close()
	var keys [][]byte
	for {
		kv, ok := it.Next()
		if !ok {
			break
		}
		keys = append(keys, kv.Key)
	}
	for _, k := range keys {
		if _, _, err := m.eng.Remove(ctx, m.prefix, k); err != nil {
			return fmt.Errorf("rawmap: clear: remove %x: %w", k, err)
		}
	}
	return m.eng.SetInstanceLen(ctx, m.prefix, 0)
}

// Iter returns an ascending/descending iterator over all entries.
func (m *RawMap) Iter(ctx context.Context) (engine.Iterator, error) {
	return m.eng.Iter(ctx, m.prefix)
}

// Range returns an iterator over entries between lo and hi, each end
// inclusive, exclusive or unbounded as its Bound says.
func (m *RawMap) Range(ctx context.Context, lo, hi engine.Bound) (engine.Iterator, error) {
	return m.eng.Range(ctx, m.prefix, lo, hi)
}

// First returns the smallest present key and its value.
func (m *RawMap) First(ctx context.Context) (key, value []byte, ok bool, err error) {
	it, err := m.eng.Iter(ctx, m.prefix)
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	kv, ok := it.Next()
	if !ok {
		return nil, nil, false, nil
	}
	return kv.Key, kv.Value, true, nil
}

// Last returns the largest present key and its value.
func (m *RawMap) Last(ctx context.Context) (key, value []byte, ok bool, err error) {
	it, err := m.eng.Iter(ctx, m.prefix)
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	kv, ok := it.NextBack()
	if !ok {
		return nil, nil, false, nil
	}
	return kv.Key, kv.Value, true, nil
}

// GetLE returns the largest present key <= k, i.e. range(..=k).next_back().
func (m *RawMap) GetLE(ctx context.Context, k []byte) (key, value []byte, ok bool, err error) {
	it, err := m.eng.Range(ctx, m.prefix, engine.Unbounded(), engine.Included(k))
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	kv, ok := it.NextBack()
	if !ok {
		return nil, nil, false, nil
	}
	return kv.Key, kv.Value, true, nil
}

// GetGE returns the smallest present key >= k, i.e. range(k..).next().
func (m *RawMap) GetGE(ctx context.Context, k []byte) (key, value []byte, ok bool, err error) {
	it, err := m.eng.Range(ctx, m.prefix, engine.Included(k), engine.Unbounded())
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	kv, ok := it.Next()
	if !ok {
		return nil, nil, false, nil
	}
	return kv.Key, kv.Value, true, nil
}

// guardLocks prevents two Guards from aliasing the same (prefix, key),
// shared across shadow handles since they address the same instance.
var guardLocks sync.Map // map[string]struct{}

func lockGuard(prefix uint64, key []byte) (unlock func(), ok bool) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], prefix)
	id := string(b[:]) + string(key)
	if _, loaded := guardLocks.LoadOrStore(id, struct{}{}); loaded {
		return nil, false
	}
	return func() { guardLocks.Delete(id) }, true
}

// Guard is a scoped write-back guard returned by GetMut and Entry. While
// held it exposes mutable access to one value slot; Release (called on
// every exit path, including a deferred call after an early failure)
// writes the possibly-mutated value back under the same key exactly once.
type Guard struct {
	m        *RawMap
	ctx      context.Context
	key      []byte
	value    []byte
	unlock   func()
	released bool
}

// Value returns the current (possibly already mutated) value.
func (g *Guard) Value() []byte { return g.value }

// Set replaces the value that will be written back on Release.
func (g *Guard) Set(v []byte) { g.value = v }

// Release writes the guard's current value back to the engine. Safe to
// call more than once; only the first call has effect.
func (g *Guard) Release() error {
	if g.released {
		return nil
	}
	g.released = true
	defer g.unlock()
	_, err := g.m.Insert(g.ctx, g.key, g.value)
	return err
}

// GetMut returns a write-back guard over k's current value, or ok=false if
// k is absent. The guard must not outlive m and must be released exactly
// once (typically via defer).
func (m *RawMap) GetMut(ctx context.Context, k []byte) (*Guard, bool, error) {
	v, ok, err := m.eng.Get(ctx, m.prefix, k)
	if err != nil || !ok {
		return nil, false, err
	}
	unlock, locked := lockGuard(m.prefix, k)
	if !locked {
		return nil, false, fmt.Errorf("rawmap: get_mut: key %x already has an outstanding guard", k)
	}
	return &Guard{m: m, ctx: ctx, key: append([]byte(nil), k...), value: v, unlock: unlock}, true, nil
}

// Entry returns a write-back guard over k's value, inserting def lazily if
// k is currently absent.
func (m *RawMap) Entry(ctx context.Context, k, def []byte) (*Guard, error) {
	unlock, locked := lockGuard(m.prefix, k)
	if !locked {
		return nil, fmt.Errorf("rawmap: entry: key %x already has an outstanding guard", k)
	}
	v, ok, err := m.eng.Get(ctx, m.prefix, k)
	if err != nil {
		unlock()
		return nil, err
	}
	if !ok {
		v = def
	}
	return &Guard{m: m, ctx: ctx, key: append([]byte(nil), k...), value: v, unlock: unlock}, nil
}
