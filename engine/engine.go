// Package engine defines the uniform view every vsdb map takes of the
// underlying embedded key-value store: prefixed get/insert/remove/iterate,
// id allocation, per-instance length counters, and a flush hook. Concrete
// backends live in engine/mdbxengine (compiled only with the mdbx build
// tag) and engine/memengine (always compiled; the backend vsdbcfg.Init
// uses when no factory is given).
package engine

import "context"

// ReservedIDCount carves out [0, ReservedIDCount) of the branch/version id
// space for system use. NullBranchID, the last id in that range, denotes
// "no branch".
const ReservedIDCount = 4096 * 10000

// NullBranchID denotes the absence of a branch.
const NullBranchID uint64 = ReservedIDCount - 1

// KV is one owned, prefix-stripped (key, value) pair returned by iteration.
type KV struct {
	Key   []byte
	Value []byte
}

// Bound describes one endpoint of a Range scan. Unbounded true means no
// bound on that side, and Key and Inclusive are then ignored. Otherwise Key
// (which may be nil, meaning the empty key) is the endpoint and Inclusive
// says whether the endpoint itself is in the range.
type Bound struct {
	Key       []byte
	Inclusive bool
	Unbounded bool
}

// Unbounded returns an open bound: no limit on that side.
func Unbounded() Bound { return Bound{Unbounded: true} }

// Included returns a closed bound at key.
func Included(key []byte) Bound { return Bound{Key: key, Inclusive: true} }

// Excluded returns an open bound at key.
func Excluded(key []byte) Bound { return Bound{Key: key, Inclusive: false} }

// Iterator is a finite, ordered, double-ended, restartable lazy sequence of
// (key, value) pairs with the instance prefix already stripped. It must be
// safe to use concurrently with point inserts into the same prefix, though
// it need not observe them.
type Iterator interface {
	// Next advances and returns the next pair in ascending key order, or
	// ok=false when exhausted.
	Next() (kv KV, ok bool)
	// NextBack advances and returns the next pair in descending key order,
	// or ok=false when exhausted. Next and NextBack consume from opposite
	// ends of the same remaining range.
	NextBack() (kv KV, ok bool)
	// Close releases any underlying cursor resources.
	Close()
}

// Engine is the full contract a storage backend must satisfy.
type Engine interface {
	// AllocPrefix returns a fresh, never-reused 64-bit instance prefix.
	AllocPrefix() (uint64, error)
	// AllocBranchID returns a fresh, monotonically increasing id outside
	// ReservedIDCount.
	AllocBranchID() (uint64, error)
	// AllocVersionID returns a fresh, monotonically increasing id outside
	// ReservedIDCount.
	AllocVersionID() (uint64, error)

	// Get performs a point lookup of k under prefix p.
	Get(ctx context.Context, p uint64, k []byte) (v []byte, ok bool, err error)
	// Insert upserts k=v under prefix p, returning the prior value if any.
	Insert(ctx context.Context, p uint64, k, v []byte) (old []byte, existed bool, err error)
	// Remove deletes k under prefix p, returning the prior value if any.
	Remove(ctx context.Context, p uint64, k []byte) (old []byte, existed bool, err error)

	// Iter returns an ascending/descending iterator over all keys under p.
	Iter(ctx context.Context, p uint64) (Iterator, error)
	// Range returns an iterator over keys under p between lo and hi, each
	// end inclusive, exclusive or unbounded as its Bound says.
	Range(ctx context.Context, p uint64, lo, hi Bound) (Iterator, error)

	// GetInstanceLen reads the length counter for prefix p.
	GetInstanceLen(ctx context.Context, p uint64) (uint64, error)
	// SetInstanceLen overwrites the length counter for prefix p.
	SetInstanceLen(ctx context.Context, p uint64, n uint64) error
	// IncreaseInstanceLen atomically increments the length counter for p,
	// serialized through a process-wide mutex (LEN_LK).
	IncreaseInstanceLen(ctx context.Context, p uint64) error
	// DecreaseInstanceLen atomically decrements the length counter for p,
	// serialized through a process-wide mutex (LEN_LK).
	DecreaseInstanceLen(ctx context.Context, p uint64) error

	// Flush durably persists outstanding writes.
	Flush(ctx context.Context) error

	// Close releases the engine's resources. Implementations should make
	// this safe to call once at process teardown.
	Close() error
}
