// Package memengine is an in-process engine.Engine backed by
// github.com/google/btree. It plays the role spec.md calls "sled_engine":
// a pure-Go, dependency-light alternative to the MDBX backend. It carries
// no build tag, it is what vsdbcfg.Init uses when no factory is given, and
// it is the engine every test in this module runs against.
package memengine

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/erigontech/vsdb/engine"
)

const btreeDegree = 32

type kvItem struct {
	key, val []byte
}

func less(a, b kvItem) bool { return bytes.Compare(a.key, b.key) < 0 }

// Engine is an in-memory engine.Engine. The zero value is not usable; call
// New.
type Engine struct {
	mu sync.RWMutex

	trees map[uint64]*btree.BTreeG[kvItem]
	lens  map[uint64]uint64

	nextPrefix  uint64
	nextBranch  uint64
	nextVersion uint64

	lenLk sync.Mutex
}

// New returns a fresh, empty in-memory engine.
func New() *Engine {
	return &Engine{
		trees:       make(map[uint64]*btree.BTreeG[kvItem]),
		lens:        make(map[uint64]uint64),
		nextBranch:  engine.ReservedIDCount,
		nextVersion: engine.ReservedIDCount,
	}
}

func (e *Engine) AllocPrefix() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextPrefix++
	return e.nextPrefix, nil
}

func (e *Engine) AllocBranchID() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextBranch++
	return e.nextBranch, nil
}

func (e *Engine) AllocVersionID() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextVersion++
	return e.nextVersion, nil
}

func (e *Engine) tree(p uint64) *btree.BTreeG[kvItem] {
	t, ok := e.trees[p]
	if !ok {
		t = btree.NewG(btreeDegree, less)
		e.trees[p] = t
	}
	return t
}

func (e *Engine) Get(_ context.Context, p uint64, k []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.trees[p]
	if !ok {
		return nil, false, nil
	}
	item, ok := t.Get(kvItem{key: k})
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(item.val), true, nil
}

func (e *Engine) Insert(_ context.Context, p uint64, k, v []byte) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tree(p)
	prev, existed := t.ReplaceOrInsert(kvItem{key: cloneBytes(k), val: cloneBytes(v)})
	if existed {
		return prev.val, true, nil
	}
	return nil, false, nil
}

func (e *Engine) Remove(_ context.Context, p uint64, k []byte) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trees[p]
	if !ok {
		return nil, false, nil
	}
	prev, existed := t.Delete(kvItem{key: k})
	if !existed {
		return nil, false, nil
	}
	return prev.val, true, nil
}

type sliceIterator struct {
	items []kvItem
	lo    int
	hi    int // exclusive
}

func (it *sliceIterator) Next() (engine.KV, bool) {
	if it.lo >= it.hi {
		return engine.KV{}, false
	}
	item := it.items[it.lo]
	it.lo++
	return engine.KV{Key: item.key, Value: item.val}, true
}

func (it *sliceIterator) NextBack() (engine.KV, bool) {
	if it.lo >= it.hi {
		return engine.KV{}, false
	}
	it.hi--
	item := it.items[it.hi]
	return engine.KV{Key: item.key, Value: item.val}, true
}

func (it *sliceIterator) Close() {}

func (e *Engine) Iter(ctx context.Context, p uint64) (engine.Iterator, error) {
	return e.Range(ctx, p, engine.Unbounded(), engine.Unbounded())
}

func (e *Engine) Range(_ context.Context, p uint64, lo, hi engine.Bound) (engine.Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.trees[p]
	if !ok {
		return &sliceIterator{}, nil
	}

	items := make([]kvItem, 0, t.Len())
	collect := func(item kvItem) bool {
		items = append(items, item)
		return true
	}

	switch {
	case lo.Unbounded && hi.Unbounded:
		t.Ascend(collect)
	case lo.Unbounded:
		if hi.Inclusive {
			t.AscendRange(kvItem{}, kvItem{key: append(cloneBytes(hi.Key), 0)}, collect)
		} else {
			t.AscendRange(kvItem{}, kvItem{key: hi.Key}, collect)
		}
	case hi.Unbounded:
		from := lo.Key
		if !lo.Inclusive {
			from = append(cloneBytes(lo.Key), 0)
		}
		t.AscendGreaterOrEqual(kvItem{key: from}, collect)
	default:
		from := lo.Key
		if !lo.Inclusive {
			from = append(cloneBytes(lo.Key), 0)
		}
		to := hi.Key
		if hi.Inclusive {
			to = append(cloneBytes(hi.Key), 0)
		}
		t.AscendRange(kvItem{key: from}, kvItem{key: to}, collect)
	}
	return &sliceIterator{items: items, lo: 0, hi: len(items)}, nil
}

func (e *Engine) GetInstanceLen(_ context.Context, p uint64) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lens[p], nil
}

func (e *Engine) SetInstanceLen(_ context.Context, p uint64, n uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lens[p] = n
	return nil
}

func (e *Engine) IncreaseInstanceLen(_ context.Context, p uint64) error {
	e.lenLk.Lock()
	defer e.lenLk.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lens[p]++
	return nil
}

func (e *Engine) DecreaseInstanceLen(_ context.Context, p uint64) error {
	e.lenLk.Lock()
	defer e.lenLk.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lens[p] > 0 {
		e.lens[p]--
	}
	return nil
}

func (e *Engine) Flush(_ context.Context) error { return nil }

func (e *Engine) Close() error { return nil }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ engine.Engine = (*Engine)(nil)
