//go:build mdbx

// Package mdbxengine is the production engine.Engine, backed by
// github.com/erigontech/mdbx-go — the same memory-mapped, ACID embedded
// store erigon-lib/kv wraps for chain data. It plays the role spec.md
// calls "rocks_engine". It is compiled only with the mdbx build tag; a
// build without that tag does not contain it, and vsdbcfg.Init then uses
// engine/memengine.
//
// Sharding: area index for a given instance prefix P is P[0] mod N (N the
// number of area DBIs opened at construction, capped at 255). Each area
// DBI holds keys from every instance whose prefix lands on that shard,
// distinguished by the 8-byte prefix each map physically prepends to its
// own keys.
package mdbxengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/erigontech/vsdb/engine"
)

const (
	defaultAreas  = 16
	metaDBI       = "vsdb_meta"
	lenDBI        = "vsdb_len"
	areaDBIPrefix = "vsdb_area_"

	metaKeyPrefix  = "next_prefix"
	metaKeyBranch  = "next_branch"
	metaKeyVersion = "next_version"
)

// Engine is an engine.Engine backed by a single MDBX environment.
type Engine struct {
	env   *mdbx.Env
	areas []mdbx.DBI
	meta  mdbx.DBI
	lens  mdbx.DBI

	lenLk sync.Mutex
}

// Open creates (or reopens) an MDBX environment rooted at dir with the
// given number of area shards: values <= 0 select 16 areas, and values
// above 255 are capped at 255.
func Open(dir string, numAreas int) (*Engine, error) {
	if numAreas <= 0 {
		numAreas = defaultAreas
	}
	if numAreas > 255 {
		numAreas = 255
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mdbxengine: create dir %s: %w", dir, err)
	}

	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbxengine: new env: %w", err)
	}
	if err := env.SetMaxDBs(numAreas + 2); err != nil {
		return nil, fmt.Errorf("mdbxengine: set max dbs: %w", err)
	}
	if err := env.SetGeometry(-1, -1, 16*1024*1024*1024, -1, -1, 4096); err != nil {
		return nil, fmt.Errorf("mdbxengine: set geometry: %w", err)
	}
	if err := env.Open(filepath.Clean(dir), mdbx.Create, 0o644); err != nil {
		return nil, fmt.Errorf("mdbxengine: open %s: %w", dir, err)
	}

	e := &Engine{env: env, areas: make([]mdbx.DBI, numAreas)}
	err = env.Update(func(txn *mdbx.Txn) error {
		var ierr error
		e.meta, ierr = txn.OpenDBISimple(metaDBI, mdbx.Create)
		if ierr != nil {
			return ierr
		}
		e.lens, ierr = txn.OpenDBISimple(lenDBI, mdbx.Create)
		if ierr != nil {
			return ierr
		}
		for i := 0; i < numAreas; i++ {
			dbi, ierr := txn.OpenDBISimple(fmt.Sprintf("%s%d", areaDBIPrefix, i), mdbx.Create)
			if ierr != nil {
				return ierr
			}
			e.areas[i] = dbi
		}
		return nil
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("mdbxengine: init dbis: %w", err)
	}
	return e, nil
}

func (e *Engine) areaFor(p uint64) mdbx.DBI {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], p)
	return e.areas[int(b[0])%len(e.areas)]
}

func physicalKey(p uint64, k []byte) []byte {
	out := make([]byte, 8+len(k))
	binary.BigEndian.PutUint64(out, p)
	copy(out[8:], k)
	return out
}

func (e *Engine) nextID(key string) (uint64, error) {
	var id uint64
	err := e.env.Update(func(txn *mdbx.Txn) error {
		v, err := txn.Get(e.meta, []byte(key))
		if err != nil && !mdbx.IsNotFound(err) {
			return err
		}
		cur := uint64(0)
		if len(v) == 8 {
			cur = binary.BigEndian.Uint64(v)
		}
		id = cur + 1
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], id)
		return txn.Put(e.meta, []byte(key), b[:], 0)
	})
	return id, err
}

func (e *Engine) AllocPrefix() (uint64, error) { return e.nextID(metaKeyPrefix) }

func (e *Engine) AllocBranchID() (uint64, error) {
	id, err := e.nextID(metaKeyBranch)
	if err != nil {
		return 0, err
	}
	return engine.ReservedIDCount + id, nil
}

func (e *Engine) AllocVersionID() (uint64, error) {
	id, err := e.nextID(metaKeyVersion)
	if err != nil {
		return 0, err
	}
	return engine.ReservedIDCount + id, nil
}

func (e *Engine) Get(_ context.Context, p uint64, k []byte) ([]byte, bool, error) {
	var out []byte
	var ok bool
	err := e.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(e.areaFor(p), physicalKey(p, k))
		if mdbx.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		ok = true
		return nil
	})
	return out, ok, err
}

func (e *Engine) Insert(_ context.Context, p uint64, k, v []byte) ([]byte, bool, error) {
	var old []byte
	var existed bool
	err := e.env.Update(func(txn *mdbx.Txn) error {
		dbi := e.areaFor(p)
		pk := physicalKey(p, k)
		prev, err := txn.Get(dbi, pk)
		if err != nil && !mdbx.IsNotFound(err) {
			return err
		}
		if err == nil {
			old = append([]byte(nil), prev...)
			existed = true
		}
		return txn.Put(dbi, pk, v, 0)
	})
	return old, existed, err
}

func (e *Engine) Remove(_ context.Context, p uint64, k []byte) ([]byte, bool, error) {
	var old []byte
	var existed bool
	err := e.env.Update(func(txn *mdbx.Txn) error {
		dbi := e.areaFor(p)
		pk := physicalKey(p, k)
		prev, err := txn.Get(dbi, pk)
		if mdbx.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		old = append([]byte(nil), prev...)
		existed = true
		return txn.Del(dbi, pk, nil)
	})
	return old, existed, err
}

type cursorIterator struct {
	txn    *mdbx.Txn
	cur    *mdbx.Cursor
	prefix uint64
	lo, hi engine.Bound

	fwdDone, backDone bool
	fwdKey, backKey   []byte
	fwdStarted        bool
}

func stripPrefix(pk []byte) []byte {
	if len(pk) < 8 {
		return nil
	}
	return pk[8:]
}

func (it *cursorIterator) inRange(k []byte) bool {
	if !it.lo.Unbounded {
		cmp := compare(k, it.lo.Key)
		if cmp < 0 || (cmp == 0 && !it.lo.Inclusive) {
			return false
		}
	}
	if !it.hi.Unbounded {
		cmp := compare(k, it.hi.Key)
		if cmp > 0 || (cmp == 0 && !it.hi.Inclusive) {
			return false
		}
	}
	return true
}

func compare(a, b []byte) int {
	switch {
	case len(a) < len(b):
		for i := range a {
			if a[i] != b[i] {
				return int(a[i]) - int(b[i])
			}
		}
		return -1
	case len(a) > len(b):
		for i := range b {
			if a[i] != b[i] {
				return int(a[i]) - int(b[i])
			}
		}
		return 1
	default:
		for i := range a {
			if a[i] != b[i] {
				return int(a[i]) - int(b[i])
			}
		}
		return 0
	}
}

func (it *cursorIterator) Next() (engine.KV, bool) {
	if it.fwdDone {
		return engine.KV{}, false
	}
	var k, v []byte
	var err error
	if !it.fwdStarted {
		it.fwdStarted = true
		seek := physicalKey(it.prefix, it.lo.Key)
		if it.lo.Unbounded {
			seek = physicalKey(it.prefix, nil)
		}
		k, v, err = it.cur.Get(seek, nil, mdbx.SetRange)
	} else {
		k, v, err = it.cur.Get(nil, nil, mdbx.Next)
	}
	for {
		if err != nil {
			it.fwdDone = true
			return engine.KV{}, false
		}
		if len(k) < 8 || binary.BigEndian.Uint64(k) != it.prefix {
			it.fwdDone = true
			return engine.KV{}, false
		}
		uk := stripPrefix(k)
		if it.backKey != nil && compare(uk, it.backKey) > 0 {
			it.fwdDone = true
			return engine.KV{}, false
		}
		if !it.lo.Unbounded && compare(uk, it.lo.Key) == 0 && !it.lo.Inclusive {
			k, v, err = it.cur.Get(nil, nil, mdbx.Next)
			continue
		}
		if !it.inRange(uk) {
			it.fwdDone = true
			return engine.KV{}, false
		}
		it.fwdKey = uk
		return engine.KV{Key: uk, Value: append([]byte(nil), v...)}, true
	}
}

func (it *cursorIterator) NextBack() (engine.KV, bool) {
	if it.backDone {
		return engine.KV{}, false
	}
	var k, v []byte
	var err error
	if it.backKey == nil {
		// Seek to the first key of the next prefix, then step back one.
		var next [8]byte
		binary.BigEndian.PutUint64(next[:], it.prefix+1)
		k, v, err = it.cur.Get(next[:], nil, mdbx.SetRange)
		if err != nil {
			k, v, err = it.cur.Get(nil, nil, mdbx.Last)
		} else {
			k, v, err = it.cur.Get(nil, nil, mdbx.Prev)
		}
	} else {
		k, v, err = it.cur.Get(nil, nil, mdbx.Prev)
	}
	for {
		if err != nil {
			it.backDone = true
			return engine.KV{}, false
		}
		if len(k) < 8 || binary.BigEndian.Uint64(k) != it.prefix {
			it.backDone = true
			return engine.KV{}, false
		}
		uk := stripPrefix(k)
		if it.fwdKey != nil && compare(uk, it.fwdKey) < 0 {
			it.backDone = true
			return engine.KV{}, false
		}
		if !it.hi.Unbounded && compare(uk, it.hi.Key) == 0 && !it.hi.Inclusive {
			k, v, err = it.cur.Get(nil, nil, mdbx.Prev)
			continue
		}
		if !it.inRange(uk) {
			it.backDone = true
			return engine.KV{}, false
		}
		it.backKey = uk
		return engine.KV{Key: uk, Value: append([]byte(nil), v...)}, true
	}
}

func (it *cursorIterator) Close() {
	it.cur.Close()
	it.txn.Abort()
}

func (e *Engine) Iter(ctx context.Context, p uint64) (engine.Iterator, error) {
	return e.Range(ctx, p, engine.Unbounded(), engine.Unbounded())
}

func (e *Engine) Range(_ context.Context, p uint64, lo, hi engine.Bound) (engine.Iterator, error) {
	txn, err := e.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, err
	}
	cur, err := txn.OpenCursor(e.areaFor(p))
	if err != nil {
		txn.Abort()
		return nil, err
	}
	return &cursorIterator{txn: txn, cur: cur, prefix: p, lo: lo, hi: hi}, nil
}

func (e *Engine) GetInstanceLen(_ context.Context, p uint64) (uint64, error) {
	var n uint64
	err := e.env.View(func(txn *mdbx.Txn) error {
		var k [8]byte
		binary.BigEndian.PutUint64(k[:], p)
		v, err := txn.Get(e.lens, k[:])
		if mdbx.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(v) == 8 {
			n = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return n, err
}

func (e *Engine) SetInstanceLen(_ context.Context, p uint64, n uint64) error {
	return e.env.Update(func(txn *mdbx.Txn) error {
		var k, v [8]byte
		binary.BigEndian.PutUint64(k[:], p)
		binary.BigEndian.PutUint64(v[:], n)
		return txn.Put(e.lens, k[:], v[:], 0)
	})
}

func (e *Engine) IncreaseInstanceLen(ctx context.Context, p uint64) error {
	e.lenLk.Lock()
	defer e.lenLk.Unlock()
	n, err := e.GetInstanceLen(ctx, p)
	if err != nil {
		return err
	}
	return e.SetInstanceLen(ctx, p, n+1)
}

func (e *Engine) DecreaseInstanceLen(ctx context.Context, p uint64) error {
	e.lenLk.Lock()
	defer e.lenLk.Unlock()
	n, err := e.GetInstanceLen(ctx, p)
	if err != nil {
		return err
	}
	if n > 0 {
		n--
	}
	return e.SetInstanceLen(ctx, p, n)
}

func (e *Engine) Flush(_ context.Context) error {
	return e.env.Sync(true, false)
}

func (e *Engine) Close() error {
	e.env.Close()
	return nil
}

var _ engine.Engine = (*Engine)(nil)
