// Package multikey implements a fixed-arity composite-key map: each entry
// is addressed by a tuple of N independent byte-string sub-keys instead of
// one flat key, built directly on rawmap.RawMap.
package multikey

import (
	"context"
	"encoding/binary"

	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/rawmap"
	"github.com/erigontech/vsdb/vsdberr"
)

// MultiKeyMap is an ordered map keyed by N-tuples of byte strings. Arity is
// fixed at construction; every operation that takes a key tuple validates
// its length against it.
type MultiKeyMap struct {
	raw   *rawmap.RawMap
	arity int
}

// New allocates a fresh instance with the given fixed key arity.
func New(ctx context.Context, eng engine.Engine, arity int) (*MultiKeyMap, error) {
	raw, err := rawmap.New(ctx, eng)
	if err != nil {
		return nil, err
	}
	return &MultiKeyMap{raw: raw, arity: arity}, nil
}

// Open wraps an already-allocated RawMap as a multi-key map of the given
// arity.
func Open(raw *rawmap.RawMap, arity int) *MultiKeyMap {
	return &MultiKeyMap{raw: raw, arity: arity}
}

// Encode returns the descriptor of the underlying RawMap. The arity is not
// part of the descriptor; callers must supply it again on Decode, the same
// way a TypedMap's codecs aren't persisted either.
func (m *MultiKeyMap) Encode() []byte { return m.raw.Encode() }

// Decode rebinds a handle from a descriptor previously produced by Encode.
func Decode(eng engine.Engine, descriptor []byte, arity int) (*MultiKeyMap, error) {
	raw, err := rawmap.Decode(eng, descriptor)
	if err != nil {
		return nil, err
	}
	return Open(raw, arity), nil
}

// Arity returns the fixed number of sub-keys every key tuple must have.
func (m *MultiKeyMap) Arity() int { return m.arity }

// encodeTuple concatenates a key tuple as [len(k_i) as 4B BE ++ k_i] for
// each sub-key in order, so that distinct tuples never collide regardless
// of individual sub-key content or length.
func encodeTuple(keys [][]byte) []byte {
	n := 0
	for _, k := range keys {
		n += 4 + len(k)
	}
	out := make([]byte, 0, n)
	var lenBuf [4]byte
	for _, k := range keys {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		out = append(out, lenBuf[:]...)
		out = append(out, k...)
	}
	return out
}

func (m *MultiKeyMap) checkArity(keys [][]byte) error {
	if len(keys) != m.arity {
		return vsdberr.New(vsdberr.ArityMismatch, "want %d sub-keys, got %d", m.arity, len(keys))
	}
	return nil
}

// Get performs a point lookup on a full key tuple.
func (m *MultiKeyMap) Get(ctx context.Context, keys [][]byte) ([]byte, bool, error) {
	if err := m.checkArity(keys); err != nil {
		return nil, false, err
	}
	return m.raw.Get(ctx, encodeTuple(keys))
}

// ContainsKey reports whether a full key tuple is present.
func (m *MultiKeyMap) ContainsKey(ctx context.Context, keys [][]byte) (bool, error) {
	if err := m.checkArity(keys); err != nil {
		return false, err
	}
	return m.raw.ContainsKey(ctx, encodeTuple(keys))
}

// Insert upserts a full key tuple, returning its previous value if any.
func (m *MultiKeyMap) Insert(ctx context.Context, keys [][]byte, v []byte) ([]byte, error) {
	if err := m.checkArity(keys); err != nil {
		return nil, err
	}
	return m.raw.Insert(ctx, encodeTuple(keys), v)
}

// Remove deletes a full key tuple, returning its previous value if any.
func (m *MultiKeyMap) Remove(ctx context.Context, keys [][]byte) ([]byte, error) {
	if err := m.checkArity(keys); err != nil {
		return nil, err
	}
	return m.raw.Remove(ctx, encodeTuple(keys))
}

func (m *MultiKeyMap) Len(ctx context.Context) (uint64, error) { return m.raw.Len(ctx) }

func (m *MultiKeyMap) Clear(ctx context.Context) error { return m.raw.Clear(ctx) }

// Entry is one decoded key tuple and value yielded by iteration.
type Entry struct {
	Keys  [][]byte
	Value []byte
}

func decodeTuple(raw []byte, arity int) [][]byte {
	keys := make([][]byte, 0, arity)
	for i := 0; i < arity; i++ {
		n := binary.BigEndian.Uint32(raw[:4])
		raw = raw[4:]
		keys = append(keys, raw[:n])
		raw = raw[n:]
	}
	return keys
}

// IterOp invokes fn for every entry, in ascending tuple-encoding order,
// until fn returns false or iteration is exhausted.
func (m *MultiKeyMap) IterOp(ctx context.Context, fn func(Entry) (keepGoing bool)) error {
	it, err := m.raw.Iter(ctx)
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		kv, ok := it.Next()
		if !ok {
			return nil
		}
		if !fn(Entry{Keys: decodeTuple(kv.Key, m.arity), Value: kv.Value}) {
			return nil
		}
	}
}

// IterOpWithKeyPrefix invokes fn for every entry whose leading sub-keys
// match prefixKeys exactly (prefixKeys may name fewer than Arity()
// sub-keys), in ascending tuple-encoding order.
func (m *MultiKeyMap) IterOpWithKeyPrefix(ctx context.Context, prefixKeys [][]byte, fn func(Entry) (keepGoing bool)) error {
	if len(prefixKeys) > m.arity {
		return vsdberr.New(vsdberr.ArityMismatch, "prefix has %d sub-keys, arity is %d", len(prefixKeys), m.arity)
	}
	prefix := encodeTuple(prefixKeys)
	it, err := m.raw.Range(ctx, engine.Included(prefix), engine.Unbounded())
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		kv, ok := it.Next()
		if !ok {
			return nil
		}
		if !hasPrefix(kv.Key, prefix) {
			return nil
		}
		if !fn(Entry{Keys: decodeTuple(kv.Key, m.arity), Value: kv.Value}) {
			return nil
		}
	}
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
