package versioned

import (
	"context"
	"fmt"

	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/vsdberr"
)

// VersionCreate allocates a new own-version on the default branch and
// returns its id. It fails with NameExists if a version of that name
// already exists anywhere in the instance; the branch itself needs no
// prior version, so a version-less branch can always create its first one.
func (vm *RawMapVs) VersionCreate(ctx context.Context, name string) (uint64, error) {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return 0, err
	}
	return vm.versionCreateOnBranch(ctx, id, name)
}

// VersionCreateByBranch is VersionCreate against an explicitly named branch.
func (vm *RawMapVs) VersionCreateByBranch(ctx context.Context, branchName, versionName string) (uint64, error) {
	id, err := vm.resolveBranchID(ctx, branchName)
	if err != nil {
		return 0, err
	}
	return vm.versionCreateOnBranch(ctx, id, versionName)
}

func (vm *RawMapVs) versionCreateOnBranch(ctx context.Context, branchID uint64, name string) (uint64, error) {
	if exists, err := vm.versionByName.ContainsKey(ctx, []byte(name)); err != nil {
		return 0, err
	} else if exists {
		return 0, vsdberr.New(vsdberr.NameExists, "version %q already exists", name)
	}
	vID, err := vm.eng.AllocVersionID()
	if err != nil {
		return 0, vsdberr.Wrap(err, "version_create: alloc id")
	}
	if _, err := vm.versionByName.Insert(ctx, []byte(name), encodeU64(vID)); err != nil {
		return 0, err
	}
	if _, err := vm.nameByVersion.Insert(ctx, encodeU64(vID), []byte(name)); err != nil {
		return 0, err
	}
	if _, err := vm.branchVersions.Insert(ctx, bvKey(branchID, vID), nil); err != nil {
		return 0, err
	}
	if _, err := vm.versionOwner.Insert(ctx, encodeU64(vID), encodeU64(branchID)); err != nil {
		return 0, err
	}
	vm.metrics.VersionCreated()
	return vID, nil
}

// writeTarget resolves the tip version id a write against branchID must
// land in. A write always targets the branch's own tip: a
// branch with no own-version cannot be written to directly, per the write
// algorithm's NoVersion rule.
func (vm *RawMapVs) writeTarget(ctx context.Context, branchID uint64) (uint64, error) {
	tip, ok, err := vm.ownTip(ctx, branchID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, vsdberr.New(vsdberr.NoVersion, "branch has no own version to write into")
	}
	return tip, nil
}

func (vm *RawMapVs) writeChange(ctx context.Context, branchID uint64, key, encoded []byte) error {
	tip, err := vm.writeTarget(ctx, branchID)
	if err != nil {
		return err
	}
	_, err = vm.changes.Insert(ctx, changesKey(branchID, key, tip), encoded)
	return err
}

// Insert writes k=v into the default branch's tip version.
func (vm *RawMapVs) Insert(ctx context.Context, k, v []byte) error {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return err
	}
	return vm.InsertByBranch(ctx, id, k, v)
}

// InsertByBranch writes k=v into branchID's tip version.
func (vm *RawMapVs) InsertByBranch(ctx context.Context, branchID uint64, k, v []byte) error {
	return vm.writeChange(ctx, branchID, k, encodeChange(v))
}

// Remove tombstones k in the default branch's tip version.
func (vm *RawMapVs) Remove(ctx context.Context, k []byte) error {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return err
	}
	return vm.RemoveByBranch(ctx, id, k)
}

// RemoveByBranch tombstones k in branchID's tip version.
func (vm *RawMapVs) RemoveByBranch(ctx context.Context, branchID uint64, k []byte) error {
	return vm.writeChange(ctx, branchID, k, encodeTombstone())
}

// lookupOnBranch resolves k's visible value on branchID as of versionCap by
// walking the branch's own (key,version) run, then its ancestors in turn
// until one of them has ever written k at or before the fork point.
func (vm *RawMapVs) lookupOnBranch(ctx context.Context, branchID uint64, versionCap uint64, key []byte) (value []byte, tomb bool, found bool, err error) {
	cur, cap := branchID, versionCap
	for {
		lo := engine.Included(changesKeyPrefix(cur, key))
		hi := engine.Included(changesKey(cur, key, cap))
		it, err := vm.changes.Range(ctx, lo, hi)
		if err != nil {
			return nil, false, false, err
		}
		kv, ok := it.NextBack()
		it.Close()
		if ok {
			v, t := decodeChange(kv.Value)
			return v, t, true, nil
		}
		parent, fork, hasParent, err := vm.getParent(ctx, cur)
		if err != nil {
			return nil, false, false, err
		}
		if !hasParent || fork == 0 {
			return nil, false, false, nil
		}
		cur, cap = parent, fork
	}
}

// Get reads k's visible value on the default branch.
func (vm *RawMapVs) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return nil, false, err
	}
	return vm.GetByBranch(ctx, id, k)
}

// GetByBranch reads k's visible value at branchID's current tip (or its
// nearest ancestor fork point, if branchID itself has no own-version).
func (vm *RawMapVs) GetByBranch(ctx context.Context, branchID uint64, k []byte) ([]byte, bool, error) {
	cap, ok, err := vm.visibleTip(ctx, branchID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return vm.GetByBranchVersion(ctx, branchID, cap, k)
}

// GetByBranchVersion reads k's value as visible on branchID as of
// versionID, which must be visible on that branch.
func (vm *RawMapVs) GetByBranchVersion(ctx context.Context, branchID, versionID uint64, k []byte) ([]byte, bool, error) {
	v, tomb, found, err := vm.lookupOnBranch(ctx, branchID, versionID, k)
	if err != nil || !found || tomb {
		return nil, false, err
	}
	return v, true, nil
}

// ContainsKey reports whether k is visible on the default branch.
func (vm *RawMapVs) ContainsKey(ctx context.Context, k []byte) (bool, error) {
	_, ok, err := vm.Get(ctx, k)
	return ok, err
}

// ContainsKeyByBranch reports whether k is visible on branchID.
func (vm *RawMapVs) ContainsKeyByBranch(ctx context.Context, branchID uint64, k []byte) (bool, error) {
	_, ok, err := vm.GetByBranch(ctx, branchID, k)
	return ok, err
}

// collapsedEntry is the newest write to one key within a single branch, up
// to some version cap. Tomb distinguishes an explicit tombstone (which
// must still mask whatever an ancestor branch holds for the same key) from
// no entry at all, since Value alone can't: a present value can be empty.
type collapsedEntry struct {
	Key   []byte
	Value []byte
	Tomb  bool
}

// collapseBranch returns, for one branch only (no ancestor walk), the
// newest write to each distinct key at or before cap, in ascending key
// order. Because changes are keyed branchID++userKey++versionID, every
// version of one key is contiguous, so a single forward pass suffices.
func (vm *RawMapVs) collapseBranch(ctx context.Context, branchID, cap uint64) ([]collapsedEntry, error) {
	return vm.collapseBranchRange(ctx, branchID, 0, cap)
}

// collapseBranchRange is collapseBranch restricted to versions strictly
// newer than after (0 means no lower bound, since real version ids are
// allocated above engine.ReservedIDCount). Used by version_rebase to fold only the
// versions being discarded, leaving anything at or before the kept
// version untouched.
func (vm *RawMapVs) collapseBranchRange(ctx context.Context, branchID, after, cap uint64) ([]collapsedEntry, error) {
	lo := engine.Included(changesPrefix(branchID))
	hi := engine.Excluded(changesPrefix(branchID + 1))
	it, err := vm.changes.Range(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []collapsedEntry
	var cur collapsedEntry
	var curVer uint64
	var haveCur bool
	flush := func() {
		if haveCur {
			out = append(out, cur)
		}
		haveCur = false
	}
	for {
		kv, ok := it.Next()
		if !ok {
			break
		}
		_, key, ver := splitChangesKey(kv.Key)
		if ver > cap || ver <= after {
			continue
		}
		v, tomb := decodeChange(kv.Value)
		if !haveCur || !bytesEqual(key, cur.Key) {
			flush()
			cur = collapsedEntry{Key: append([]byte(nil), key...), Value: v, Tomb: tomb}
			curVer = ver
			haveCur = true
			continue
		}
		if ver >= curVer {
			curVer = ver
			cur.Value, cur.Tomb = v, tomb
		}
	}
	flush()
	return out, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// snapshotFull materializes the full key->collapsedEntry view visible on
// branchID as of versionCap, walking from the oldest ancestor down so
// nearer branches (scanned last) shadow their ancestors' entries,
// including via tombstones. Unlike snapshot, tombstoned keys remain in the
// result (marked Tomb) instead of being dropped, since merge needs to know
// a key was explicitly deleted, not merely absent.
func (vm *RawMapVs) snapshotFull(ctx context.Context, branchID, versionCap uint64) (map[string]collapsedEntry, error) {
	type scope struct {
		branch uint64
		cap    uint64
	}
	var scopes []scope
	cur, cap := branchID, versionCap
	for {
		scopes = append(scopes, scope{branch: cur, cap: cap})
		parent, fork, hasParent, err := vm.getParent(ctx, cur)
		if err != nil {
			return nil, err
		}
		if !hasParent || fork == 0 {
			break
		}
		cur, cap = parent, fork
	}
	merged := make(map[string]collapsedEntry)
	for i := len(scopes) - 1; i >= 0; i-- {
		entries, err := vm.collapseBranch(ctx, scopes[i].branch, scopes[i].cap)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			merged[string(e.Key)] = e
		}
	}
	return merged, nil
}

// snapshot is snapshotFull with tombstoned keys dropped, giving the live
// key->value view visible on branchID as of versionCap.
func (vm *RawMapVs) snapshot(ctx context.Context, branchID, versionCap uint64) (map[string][]byte, error) {
	full, err := vm.snapshotFull(ctx, branchID, versionCap)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(full))
	for k, e := range full {
		if !e.Tomb {
			out[k] = e.Value
		}
	}
	return out, nil
}

func sortedKeys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// simple insertion sort is adequate for the modest sizes this in-memory
	// snapshot targets; swap for sort.Strings if that changes.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Len counts the keys visible on the default branch.
func (vm *RawMapVs) Len(ctx context.Context) (uint64, error) {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return 0, err
	}
	return vm.LenByBranch(ctx, id)
}

// LenByBranch counts the keys visible on branchID's current tip.
func (vm *RawMapVs) LenByBranch(ctx context.Context, branchID uint64) (uint64, error) {
	cap, ok, err := vm.visibleTip(ctx, branchID)
	if err != nil || !ok {
		return 0, err
	}
	snap, err := vm.snapshot(ctx, branchID, cap)
	if err != nil {
		return 0, err
	}
	return uint64(len(snap)), nil
}

// Entry is one decoded (key, value) pair yielded by iteration.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iter returns every visible (key, value) pair on the default branch, in
// ascending key order.
func (vm *RawMapVs) Iter(ctx context.Context) ([]Entry, error) {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return nil, err
	}
	return vm.IterByBranch(ctx, id)
}

// IterByBranch is Iter against an explicit branch.
func (vm *RawMapVs) IterByBranch(ctx context.Context, branchID uint64) ([]Entry, error) {
	cap, ok, err := vm.visibleTip(ctx, branchID)
	if err != nil || !ok {
		return nil, err
	}
	return vm.IterByBranchVersion(ctx, branchID, cap)
}

// IterByBranchVersion is Iter pinned to an explicit (branch, version).
func (vm *RawMapVs) IterByBranchVersion(ctx context.Context, branchID, versionID uint64) ([]Entry, error) {
	snap, err := vm.snapshot(ctx, branchID, versionID)
	if err != nil {
		return nil, err
	}
	keys := sortedKeys(snap)
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = Entry{Key: []byte(k), Value: snap[k]}
	}
	return out, nil
}

// Range returns every visible (key, value) pair on the default branch
// between lo and hi (each end inclusive, exclusive or unbounded as its
// Bound says), in ascending key order.
func (vm *RawMapVs) Range(ctx context.Context, lo, hi engine.Bound) ([]Entry, error) {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return nil, err
	}
	all, err := vm.IterByBranch(ctx, id)
	if err != nil {
		return nil, err
	}
	return filterRange(all, lo, hi), nil
}

func filterRange(all []Entry, lo, hi engine.Bound) []Entry {
	var out []Entry
	for _, e := range all {
		if !lo.Unbounded {
			if lo.Inclusive && string(e.Key) < string(lo.Key) {
				continue
			}
			if !lo.Inclusive && string(e.Key) <= string(lo.Key) {
				continue
			}
		}
		if !hi.Unbounded {
			if hi.Inclusive && string(e.Key) > string(hi.Key) {
				continue
			}
			if !hi.Inclusive && string(e.Key) >= string(hi.Key) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// First returns the smallest visible key on the default branch.
func (vm *RawMapVs) First(ctx context.Context) (Entry, bool, error) {
	all, err := vm.Iter(ctx)
	if err != nil || len(all) == 0 {
		return Entry{}, false, err
	}
	return all[0], true, nil
}

// Last returns the largest visible key on the default branch.
func (vm *RawMapVs) Last(ctx context.Context) (Entry, bool, error) {
	all, err := vm.Iter(ctx)
	if err != nil || len(all) == 0 {
		return Entry{}, false, err
	}
	return all[len(all)-1], true, nil
}

// Clear tombstones every currently visible key on the default branch's tip
// version; ancestor history and other branches are untouched.
func (vm *RawMapVs) Clear(ctx context.Context) error {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return err
	}
	return vm.ClearByBranch(ctx, id)
}

// ClearByBranch is Clear against an explicit branch.
func (vm *RawMapVs) ClearByBranch(ctx context.Context, branchID uint64) error {
	all, err := vm.IterByBranch(ctx, branchID)
	if err != nil {
		return err
	}
	for _, e := range all {
		if err := vm.RemoveByBranch(ctx, branchID, e.Key); err != nil {
			return fmt.Errorf("versioned: clear: %w", err)
		}
	}
	return nil
}
