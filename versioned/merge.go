package versioned

import (
	"context"

	"github.com/erigontech/vsdb/vsdberr"
)

// BranchMergeTo folds srcName's full visible state (including its
// tombstones) onto dstName's tip version, src winning every conflict, then
// deletes the src branch entirely. dstName must have its own tip to merge
// into, per the usual write rule.
func (vm *RawMapVs) BranchMergeTo(ctx context.Context, srcName, dstName string) error {
	srcID, err := vm.resolveBranchID(ctx, srcName)
	if err != nil {
		return err
	}
	dstID, err := vm.resolveBranchID(ctx, dstName)
	if err != nil {
		return err
	}
	if has, err := vm.hasDescendants(ctx, srcID); err != nil {
		return err
	} else if has {
		return vsdberr.New(vsdberr.AncestorInUse, "branch %q has descendant branches", srcName)
	}

	srcTip, hasTip, err := vm.visibleTip(ctx, srcID)
	if err != nil {
		return err
	}
	if hasTip {
		srcState, err := vm.snapshotFull(ctx, srcID, srcTip)
		if err != nil {
			return err
		}
		dstTip, err := vm.writeTarget(ctx, dstID)
		if err != nil {
			return err
		}
		for k, e := range srcState {
			if e.Tomb {
				if _, err := vm.changes.Insert(ctx, changesKey(dstID, []byte(k), dstTip), encodeTombstone()); err != nil {
					return err
				}
				continue
			}
			if _, err := vm.changes.Insert(ctx, changesKey(dstID, []byte(k), dstTip), encodeChange(e.Value)); err != nil {
				return err
			}
		}
	}

	if err := vm.deleteBranch(ctx, srcID, srcName); err != nil {
		return err
	}
	vm.metrics.Merged()
	return nil
}
