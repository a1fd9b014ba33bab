package versioned

import (
	"context"

	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/vsdberr"
)

// BranchCreate forks a new branch named newName off the default branch's
// current tip, allocating a fresh own-version named versionName on the
// new branch immediately so it is writable without a separate
// version_create call. The default branch must itself have a visible tip.
func (vm *RawMapVs) BranchCreate(ctx context.Context, newName, versionName string) (uint64, error) {
	base, err := vm.defaultBranchID(ctx)
	if err != nil {
		return 0, err
	}
	return vm.branchCreate(ctx, base, newName, versionName, true, false)
}

// BranchCreateByBaseBranch is BranchCreate off an explicitly named base
// branch instead of the default one.
func (vm *RawMapVs) BranchCreateByBaseBranch(ctx context.Context, baseName, newName, versionName string) (uint64, error) {
	base, err := vm.resolveBranchID(ctx, baseName)
	if err != nil {
		return 0, err
	}
	return vm.branchCreate(ctx, base, newName, versionName, true, false)
}

// BranchCreateWithoutNewVersion forks a branch that starts out versionless
// (inactive): it must be given its own version before anything can be
// written to it. If force is false and baseName has no visible version of
// its own to fork from, this fails with NoVersion instead of producing an
// unanchored branch.
func (vm *RawMapVs) BranchCreateWithoutNewVersion(ctx context.Context, baseName, newName string, force bool) (uint64, error) {
	base, err := vm.resolveBranchID(ctx, baseName)
	if err != nil {
		return 0, err
	}
	return vm.branchCreate(ctx, base, newName, "", false, force)
}

func (vm *RawMapVs) branchCreate(ctx context.Context, baseID uint64, newName, versionName string, withVersion, force bool) (uint64, error) {
	if exists, err := vm.branchByName.ContainsKey(ctx, []byte(newName)); err != nil {
		return 0, err
	} else if exists {
		return 0, vsdberr.New(vsdberr.NameExists, "branch %q already exists", newName)
	}

	fork, hasFork, err := vm.visibleTip(ctx, baseID)
	if err != nil {
		return 0, err
	}
	if !hasFork && !(withVersion == false && force) {
		return 0, vsdberr.New(vsdberr.NoVersion, "base branch has no version to fork from")
	}

	id, err := vm.eng.AllocBranchID()
	if err != nil {
		return 0, vsdberr.Wrap(err, "branch_create: alloc id")
	}
	if _, err := vm.branchByName.Insert(ctx, []byte(newName), encodeU64(id)); err != nil {
		return 0, err
	}
	if _, err := vm.nameByBranch.Insert(ctx, encodeU64(id), []byte(newName)); err != nil {
		return 0, err
	}
	if err := vm.setParent(ctx, id, baseID, fork); err != nil {
		return 0, err
	}
	if withVersion {
		if _, err := vm.versionCreateOnBranch(ctx, id, versionName); err != nil {
			return 0, err
		}
	}
	vm.metrics.BranchCreated()
	return id, nil
}

func (vm *RawMapVs) hasDescendants(ctx context.Context, branchID uint64) (bool, error) {
	it, err := vm.branchParent.Iter(ctx)
	if err != nil {
		return false, err
	}
	defer it.Close()
	for {
		kv, ok := it.Next()
		if !ok {
			return false, nil
		}
		if decodeU64(kv.Value[0:8]) == branchID {
			return true, nil
		}
	}
}

// BranchRemove deletes a branch and all of its own versions and changes.
// It refuses to remove the default branch or a branch with descendants.
func (vm *RawMapVs) BranchRemove(ctx context.Context, name string) error {
	id, err := vm.resolveBranchID(ctx, name)
	if err != nil {
		return err
	}
	def, err := vm.defaultBranchID(ctx)
	if err != nil {
		return err
	}
	if id == def {
		return vsdberr.New(vsdberr.AncestorInUse, "cannot remove the default branch")
	}
	if has, err := vm.hasDescendants(ctx, id); err != nil {
		return err
	} else if has {
		return vsdberr.New(vsdberr.AncestorInUse, "branch %q has descendant branches", name)
	}
	if err := vm.deleteBranch(ctx, id, name); err != nil {
		return err
	}
	vm.metrics.BranchRemoved()
	return nil
}

func (vm *RawMapVs) deleteBranch(ctx context.Context, id uint64, name string) error {
	versions, err := vm.ownVersions(ctx, id)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := vm.deleteVersion(ctx, id, v); err != nil {
			return err
		}
	}
	if _, err := vm.branchParent.Remove(ctx, encodeU64(id)); err != nil {
		return err
	}
	if _, err := vm.branchByName.Remove(ctx, []byte(name)); err != nil {
		return err
	}
	if _, err := vm.nameByBranch.Remove(ctx, encodeU64(id)); err != nil {
		return err
	}
	return nil
}

// deleteVersion removes one own-version of branchID entirely: its name
// bindings, its branch_versions/version_owner entries, and every change
// recorded against it.
func (vm *RawMapVs) deleteVersion(ctx context.Context, branchID, versionID uint64) error {
	if raw, ok, err := vm.nameByVersion.Get(ctx, encodeU64(versionID)); err != nil {
		return err
	} else if ok {
		if _, err := vm.versionByName.Remove(ctx, raw); err != nil {
			return err
		}
		if _, err := vm.nameByVersion.Remove(ctx, encodeU64(versionID)); err != nil {
			return err
		}
	}
	if _, err := vm.versionOwner.Remove(ctx, encodeU64(versionID)); err != nil {
		return err
	}
	if _, err := vm.branchVersions.Remove(ctx, bvKey(branchID, versionID)); err != nil {
		return err
	}
	return vm.deleteVersionChanges(ctx, branchID, versionID)
}

func (vm *RawMapVs) deleteVersionChanges(ctx context.Context, branchID, versionID uint64) error {
	lo := engine.Included(changesPrefix(branchID))
	hi := engine.Excluded(changesPrefix(branchID + 1))
	it, err := vm.changes.Range(ctx, lo, hi)
	if err != nil {
		return err
	}
	var toRemove [][]byte
	for {
		kv, ok := it.Next()
		if !ok {
			break
		}
		_, _, ver := splitChangesKey(kv.Key)
		if ver == versionID {
			toRemove = append(toRemove, append([]byte(nil), kv.Key...))
		}
	}
	it.Close()
	for _, k := range toRemove {
		if _, err := vm.changes.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// BranchTruncate deletes every own-version of a branch, returning it to a
// versionless state.
func (vm *RawMapVs) BranchTruncate(ctx context.Context, name string) error {
	id, err := vm.resolveBranchID(ctx, name)
	if err != nil {
		return err
	}
	versions, err := vm.ownVersions(ctx, id)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := vm.deleteVersion(ctx, id, v); err != nil {
			return err
		}
	}
	return nil
}

// BranchTruncateTo deletes every own-version of a branch newer than
// keepVersionName, which must be one of the branch's own versions.
func (vm *RawMapVs) BranchTruncateTo(ctx context.Context, name, keepVersionName string) error {
	id, err := vm.resolveBranchID(ctx, name)
	if err != nil {
		return err
	}
	keepID, err := vm.resolveVersionID(ctx, keepVersionName)
	if err != nil {
		return err
	}
	if owned, err := vm.branchVersions.ContainsKey(ctx, bvKey(id, keepID)); err != nil {
		return err
	} else if !owned {
		return vsdberr.New(vsdberr.VersionNotOwned, "version %q is not owned by branch %q", keepVersionName, name)
	}
	versions, err := vm.ownVersions(ctx, id)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v > keepID {
			if err := vm.deleteVersion(ctx, id, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// BranchPopVersion deletes a branch's single newest own-version. A no-op
// if the branch currently has no own-version.
func (vm *RawMapVs) BranchPopVersion(ctx context.Context, name string) error {
	id, err := vm.resolveBranchID(ctx, name)
	if err != nil {
		return err
	}
	tip, ok, err := vm.ownTip(ctx, id)
	if err != nil || !ok {
		return err
	}
	return vm.deleteVersion(ctx, id, tip)
}

// BranchSwap exchanges the name bindings of two branches, so that each
// name now resolves to what used to be the other's id. Useful for
// promoting a staging branch into a well-known name. The four binding
// writes are separate engine writes, not one transaction.
func (vm *RawMapVs) BranchSwap(ctx context.Context, aName, bName string) error {
	aID, err := vm.resolveBranchID(ctx, aName)
	if err != nil {
		return err
	}
	bID, err := vm.resolveBranchID(ctx, bName)
	if err != nil {
		return err
	}
	if _, err := vm.branchByName.Insert(ctx, []byte(aName), encodeU64(bID)); err != nil {
		return err
	}
	if _, err := vm.branchByName.Insert(ctx, []byte(bName), encodeU64(aID)); err != nil {
		return err
	}
	if _, err := vm.nameByBranch.Insert(ctx, encodeU64(aID), []byte(bName)); err != nil {
		return err
	}
	if _, err := vm.nameByBranch.Insert(ctx, encodeU64(bID), []byte(aName)); err != nil {
		return err
	}
	return nil
}
