// Package versioned implements RawMapVs, the engineering core of vsdb:
// branches, versions, per-(branch,version) change sets, and the
// visibility/write/merge/rebase/prune algorithms that give a flat
// key-value engine Git-like multi-branch history.
package versioned

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/metrics"
	"github.com/erigontech/vsdb/rawmap"
	"github.com/erigontech/vsdb/vsdberr"
)

// MasterBranchID is the canonical initial branch's reserved id.
const MasterBranchID uint64 = 0

// MasterBranchName is the canonical initial branch's name.
const MasterBranchName = "master"

// ReservedIDCount mirrors engine.ReservedIDCount: branch/version ids below
// it are carved out for system use (MasterBranchID among them).
const ReservedIDCount = engine.ReservedIDCount

// NullBranchID denotes "no branch".
const NullBranchID = engine.NullBranchID

const (
	tagBranchByName    = "bn"
	tagNameByBranch     = "nb"
	tagVersionByName    = "vn"
	tagNameByVersion    = "nv"
	tagBranchVersions   = "bv"
	tagVersionOwner     = "vo"
	tagBranchParent     = "bp"
	tagChanges          = "ch"
	metaDefaultBranch   = "default_branch"
)

// RawMapVs is a handle over one versioned-map instance.
type RawMapVs struct {
	eng  engine.Engine
	meta *rawmap.RawMap // descriptor-identity store: sub-prefix registry + default_branch

	branchByName  *rawmap.RawMap
	nameByBranch  *rawmap.RawMap
	versionByName *rawmap.RawMap
	nameByVersion *rawmap.RawMap
	branchVersions *rawmap.RawMap
	versionOwner  *rawmap.RawMap
	branchParent  *rawmap.RawMap
	changes       *rawmap.RawMap

	metrics *metrics.Recorder
}

// SetMetrics attaches a Recorder that subsequent branch/version lifecycle
// calls report against. Nil detaches it; the zero value already no-ops.
func (vm *RawMapVs) SetMetrics(r *metrics.Recorder) { vm.metrics = r }

// New allocates a fresh versioned-map instance with the canonical "master"
// branch (id 0, no versions yet) as its default branch.
func New(ctx context.Context, eng engine.Engine) (*RawMapVs, error) {
	meta, err := rawmap.New(ctx, eng)
	if err != nil {
		return nil, fmt.Errorf("versioned: new: %w", err)
	}
	vm := &RawMapVs{eng: eng, meta: meta}

	for tag, dst := range map[string]**rawmap.RawMap{
		tagBranchByName:   &vm.branchByName,
		tagNameByBranch:   &vm.nameByBranch,
		tagVersionByName:  &vm.versionByName,
		tagNameByVersion:  &vm.nameByVersion,
		tagBranchVersions: &vm.branchVersions,
		tagVersionOwner:   &vm.versionOwner,
		tagBranchParent:   &vm.branchParent,
		tagChanges:        &vm.changes,
	} {
		sub, err := rawmap.New(ctx, eng)
		if err != nil {
			return nil, fmt.Errorf("versioned: new: alloc %s: %w", tag, err)
		}
		*dst = sub
		if _, err := meta.Insert(ctx, []byte(tag), sub.Encode()); err != nil {
			return nil, fmt.Errorf("versioned: new: register %s: %w", tag, err)
		}
	}

	if _, err := vm.branchByName.Insert(ctx, []byte(MasterBranchName), encodeU64(MasterBranchID)); err != nil {
		return nil, err
	}
	if _, err := vm.nameByBranch.Insert(ctx, encodeU64(MasterBranchID), []byte(MasterBranchName)); err != nil {
		return nil, err
	}
	if err := vm.setDefaultBranchID(ctx, MasterBranchID); err != nil {
		return nil, err
	}
	return vm, nil
}

// Open rebinds a handle to an already-allocated instance prefix.
func Open(ctx context.Context, eng engine.Engine, prefix uint64) (*RawMapVs, error) {
	meta := rawmap.Open(eng, prefix)
	vm := &RawMapVs{eng: eng, meta: meta}

	for tag, dst := range map[string]**rawmap.RawMap{
		tagBranchByName:   &vm.branchByName,
		tagNameByBranch:   &vm.nameByBranch,
		tagVersionByName:  &vm.versionByName,
		tagNameByVersion:  &vm.nameByVersion,
		tagBranchVersions: &vm.branchVersions,
		tagVersionOwner:   &vm.versionOwner,
		tagBranchParent:   &vm.branchParent,
		tagChanges:        &vm.changes,
	} {
		raw, ok, err := meta.Get(ctx, []byte(tag))
		if err != nil {
			return nil, fmt.Errorf("versioned: open: read %s: %w", tag, err)
		}
		if !ok {
			return nil, fmt.Errorf("versioned: open: missing sub-table %s for prefix %d", tag, prefix)
		}
		sub, err := rawmap.Decode(eng, raw)
		if err != nil {
			return nil, fmt.Errorf("versioned: open: decode %s: %w", tag, err)
		}
		*dst = sub
	}
	return vm, nil
}

// Encode returns this instance's descriptor (its meta-table's prefix).
func (vm *RawMapVs) Encode() []byte { return vm.meta.Encode() }

// Decode rebinds a handle from a descriptor previously produced by Encode.
func Decode(ctx context.Context, eng engine.Engine, descriptor []byte) (*RawMapVs, error) {
	if len(descriptor) != 8 {
		return nil, fmt.Errorf("versioned: decode: want 8-byte descriptor, got %d", len(descriptor))
	}
	return Open(ctx, eng, binary.BigEndian.Uint64(descriptor))
}

func (vm *RawMapVs) setDefaultBranchID(ctx context.Context, id uint64) error {
	_, err := vm.meta.Insert(ctx, []byte(metaDefaultBranch), encodeU64(id))
	return err
}

func (vm *RawMapVs) defaultBranchID(ctx context.Context) (uint64, error) {
	raw, ok, err := vm.meta.Get(ctx, []byte(metaDefaultBranch))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("versioned: default_branch not set")
	}
	return decodeU64(raw), nil
}

// BranchSetDefault changes the branch used by unqualified operations.
func (vm *RawMapVs) BranchSetDefault(ctx context.Context, name string) error {
	id, err := vm.resolveBranchID(ctx, name)
	if err != nil {
		return err
	}
	return vm.setDefaultBranchID(ctx, id)
}

// DefaultBranchID returns the id of the branch unqualified operations
// currently target.
func (vm *RawMapVs) DefaultBranchID(ctx context.Context) (uint64, error) {
	return vm.defaultBranchID(ctx)
}

// BranchID resolves a branch name to its id, for callers that want to use
// the *ByBranch operation variants directly.
func (vm *RawMapVs) BranchID(ctx context.Context, name string) (uint64, error) {
	return vm.resolveBranchID(ctx, name)
}

// BranchName resolves a branch id back to its name.
func (vm *RawMapVs) BranchName(ctx context.Context, id uint64) (string, error) {
	return vm.branchName(ctx, id)
}

func (vm *RawMapVs) resolveBranchID(ctx context.Context, name string) (uint64, error) {
	raw, ok, err := vm.branchByName.Get(ctx, []byte(name))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, vsdberr.New(vsdberr.NameMissing, "branch %q does not exist", name)
	}
	return decodeU64(raw), nil
}

func (vm *RawMapVs) branchName(ctx context.Context, id uint64) (string, error) {
	raw, ok, err := vm.nameByBranch.Get(ctx, encodeU64(id))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", vsdberr.New(vsdberr.NameMissing, "branch id %d does not exist", id)
	}
	return string(raw), nil
}

// resolveVersionID resolves a version name to its id, globally (version
// names are unique across every branch in the instance).
func (vm *RawMapVs) resolveVersionID(ctx context.Context, name string) (uint64, error) {
	raw, ok, err := vm.versionByName.Get(ctx, []byte(name))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, vsdberr.New(vsdberr.NameMissing, "version %q does not exist", name)
	}
	return decodeU64(raw), nil
}

// BranchExists reports whether a branch of this name exists.
func (vm *RawMapVs) BranchExists(ctx context.Context, name string) (bool, error) {
	return vm.branchByName.ContainsKey(ctx, []byte(name))
}

// VersionExists reports whether a version of this name exists anywhere in
// the instance.
func (vm *RawMapVs) VersionExists(ctx context.Context, name string) (bool, error) {
	return vm.versionByName.ContainsKey(ctx, []byte(name))
}

// VersionExistsOnBranch reports whether the named version is visible (own
// or inherited) on the named branch.
func (vm *RawMapVs) VersionExistsOnBranch(ctx context.Context, versionName, branchName string) (bool, error) {
	vID, ok, err := vm.tryResolveVersionID(ctx, versionName)
	if err != nil || !ok {
		return false, err
	}
	bID, err := vm.resolveBranchID(ctx, branchName)
	if err != nil {
		return false, err
	}
	return vm.visibleOnBranch(ctx, bID, vID)
}

func (vm *RawMapVs) tryResolveVersionID(ctx context.Context, name string) (uint64, bool, error) {
	raw, ok, err := vm.versionByName.Get(ctx, []byte(name))
	if err != nil || !ok {
		return 0, false, err
	}
	return decodeU64(raw), true, nil
}

func (vm *RawMapVs) visibleOnBranch(ctx context.Context, branchID, versionID uint64) (bool, error) {
	cur := branchID
	for {
		own, err := vm.branchVersions.ContainsKey(ctx, bvKey(cur, versionID))
		if err != nil {
			return false, err
		}
		if own {
			return true, nil
		}
		parent, fork, hasParent, err := vm.getParent(ctx, cur)
		if err != nil {
			return false, err
		}
		if !hasParent || fork == 0 || versionID > fork {
			return false, nil
		}
		cur = parent
	}
}

// getParent returns (parentBranchID, forkVersionID, hasParent). fork==0
// means the parent had no visible version yet at fork time.
func (vm *RawMapVs) getParent(ctx context.Context, branchID uint64) (parent, fork uint64, hasParent bool, err error) {
	raw, ok, err := vm.branchParent.Get(ctx, encodeU64(branchID))
	if err != nil || !ok {
		return 0, 0, false, err
	}
	return decodeU64(raw[0:8]), decodeU64(raw[8:16]), true, nil
}

func (vm *RawMapVs) setParent(ctx context.Context, branchID, parentID, fork uint64) error {
	v := make([]byte, 16)
	copy(v[0:8], encodeU64(parentID))
	copy(v[8:16], encodeU64(fork))
	_, err := vm.branchParent.Insert(ctx, encodeU64(branchID), v)
	return err
}

// ownTip returns the most recently created own-version of a branch.
func (vm *RawMapVs) ownTip(ctx context.Context, branchID uint64) (uint64, bool, error) {
	it, err := vm.branchVersions.Range(ctx, engine.Included(bvKey(branchID, 0)), engine.Excluded(bvKey(branchID+1, 0)))
	if err != nil {
		return 0, false, err
	}
	defer it.Close()
	kv, ok := it.NextBack()
	if !ok {
		return 0, false, nil
	}
	_, v, _ := splitBVK(kv.Key)
	return v, true, nil
}

// ownFirst returns the oldest own-version of a branch.
func (vm *RawMapVs) ownFirst(ctx context.Context, branchID uint64) (uint64, bool, error) {
	it, err := vm.branchVersions.Range(ctx, engine.Included(bvKey(branchID, 0)), engine.Excluded(bvKey(branchID+1, 0)))
	if err != nil {
		return 0, false, err
	}
	defer it.Close()
	kv, ok := it.Next()
	if !ok {
		return 0, false, nil
	}
	_, v, _ := splitBVK(kv.Key)
	return v, true, nil
}

// ownVersionsUpTo returns, ascending, the own-versions of branchID with id
// <= maxVersion (or all of them if maxVersion is 0, meaning unbounded in
// this internal helper — 0 is never an allocated version id).
func (vm *RawMapVs) ownVersionsUpTo(ctx context.Context, branchID, maxVersion uint64) ([]uint64, error) {
	hi := engine.Unbounded()
	if maxVersion != 0 {
		hi = engine.Included(bvKey(branchID, maxVersion))
	} else {
		hi = engine.Excluded(bvKey(branchID+1, 0))
	}
	it, err := vm.branchVersions.Range(ctx, engine.Included(bvKey(branchID, 0)), hi)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []uint64
	for {
		kv, ok := it.Next()
		if !ok {
			break
		}
		_, v, _ := splitBVK(kv.Key)
		out = append(out, v)
	}
	return out, nil
}

// ownVersions returns every own-version of a branch, ascending.
func (vm *RawMapVs) ownVersions(ctx context.Context, branchID uint64) ([]uint64, error) {
	return vm.ownVersionsUpTo(ctx, branchID, 0)
}

// visibleTip returns the newest version visible on branchID at all (its
// own tip if it has one, else its parent's fork point), analogous to
// "current tip of default_branch" in spec.md's branch_create description.
func (vm *RawMapVs) visibleTip(ctx context.Context, branchID uint64) (uint64, bool, error) {
	if v, ok, err := vm.ownTip(ctx, branchID); err != nil {
		return 0, false, err
	} else if ok {
		return v, true, nil
	}
	_, fork, hasParent, err := vm.getParent(ctx, branchID)
	if err != nil || !hasParent || fork == 0 {
		return 0, false, err
	}
	return fork, true, nil
}

// BranchHasVersions reports whether a branch is in the Active state (has
// at least one own-version).
func (vm *RawMapVs) BranchHasVersions(ctx context.Context, name string) (bool, error) {
	id, err := vm.resolveBranchID(ctx, name)
	if err != nil {
		return false, err
	}
	_, ok, err := vm.ownTip(ctx, id)
	return ok, err
}
