package versioned

import (
	"context"

	"github.com/erigontech/vsdb/vsdberr"
)

// VersionRebase collapses every own-version of the default branch strictly
// newer than vKeep into vKeep itself, preserving the resulting visible
// state (including tombstones) for the discarded versions. Versions at or
// before vKeep are left completely untouched. vKeep must be one of the
// branch's own versions.
func (vm *RawMapVs) VersionRebase(ctx context.Context, vKeep string) error {
	id, err := vm.defaultBranchID(ctx)
	if err != nil {
		return err
	}
	return vm.versionRebaseBranch(ctx, id, vKeep)
}

// VersionRebaseByBranch is VersionRebase against an explicitly named
// branch.
func (vm *RawMapVs) VersionRebaseByBranch(ctx context.Context, vKeep, branchName string) error {
	id, err := vm.resolveBranchID(ctx, branchName)
	if err != nil {
		return err
	}
	return vm.versionRebaseBranch(ctx, id, vKeep)
}

func (vm *RawMapVs) versionRebaseBranch(ctx context.Context, branchID uint64, vKeepName string) error {
	keepID, err := vm.resolveVersionID(ctx, vKeepName)
	if err != nil {
		return err
	}
	if owned, err := vm.branchVersions.ContainsKey(ctx, bvKey(branchID, keepID)); err != nil {
		return err
	} else if !owned {
		return vsdberr.New(vsdberr.VersionNotOwned, "version %q is not owned by this branch", vKeepName)
	}

	versions, err := vm.ownVersions(ctx, branchID)
	if err != nil {
		return err
	}
	var newer []uint64
	for _, v := range versions {
		if v > keepID {
			newer = append(newer, v)
		}
	}
	if len(newer) == 0 {
		return nil
	}
	newest := newer[len(newer)-1]

	folded, err := vm.collapseBranchRange(ctx, branchID, keepID, newest)
	if err != nil {
		return err
	}

	for _, v := range newer {
		if err := vm.deleteVersion(ctx, branchID, v); err != nil {
			return err
		}
	}
	for _, e := range folded {
		enc := encodeChange(e.Value)
		if e.Tomb {
			enc = encodeTombstone()
		}
		if _, err := vm.changes.Insert(ctx, changesKey(branchID, e.Key, keepID), enc); err != nil {
			return err
		}
	}
	vm.metrics.Rebased()
	return nil
}
