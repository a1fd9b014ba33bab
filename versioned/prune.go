package versioned

import (
	"context"
	"sort"
)

// Prune enforces a single global retention policy across the whole
// instance: only the newest `reserved` own-versions, ranked across every
// branch together (not per branch), survive; everything older is
// discarded. Writes that would otherwise fall off the retained window are
// forward-compacted into the oldest surviving version of their own
// branch, so reads at or after that version still observe them; only
// truly stale history is discarded. A branch left with no surviving
// version after the cutoff (reserved<=0, or all of its own-versions
// predate the global cutoff) has its discarded versions deleted outright
// instead, since there is no target version left to promote into.
func (vm *RawMapVs) Prune(ctx context.Context, reserved int) error {
	branches, err := vm.allBranchIDs(ctx)
	if err != nil {
		return err
	}

	type versionOf struct {
		branch, version uint64
	}
	ownByBranch := make(map[uint64][]uint64, len(branches))
	var all []versionOf
	for _, b := range branches {
		vs, err := vm.ownVersions(ctx, b)
		if err != nil {
			return err
		}
		ownByBranch[b] = vs
		for _, v := range vs {
			all = append(all, versionOf{b, v})
		}
	}

	survives := func(uint64) bool { return false }
	if reserved > 0 {
		sort.Slice(all, func(i, j int) bool { return all[i].version > all[j].version })
		if reserved >= len(all) {
			return nil
		}
		cutoff := all[reserved-1].version
		survives = func(v uint64) bool { return v >= cutoff }
	}

	for _, b := range branches {
		if err := vm.pruneBranch(ctx, b, ownByBranch[b], survives); err != nil {
			return err
		}
	}
	return nil
}

func (vm *RawMapVs) allBranchIDs(ctx context.Context) ([]uint64, error) {
	it, err := vm.nameByBranch.Iter(ctx)
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
		out = append(out, decodeU64(kv.Key))
	}
	return out, nil
}

// pruneBranch applies the global survives predicate to one branch's own
// versions, compacting discarded writes forward into the oldest survivor.
func (vm *RawMapVs) pruneBranch(ctx context.Context, branchID uint64, versions []uint64, survives func(uint64) bool) error {
	var discarded, surviving []uint64
	for _, v := range versions {
		if survives(v) {
			surviving = append(surviving, v)
		} else {
			discarded = append(discarded, v)
		}
	}
	if len(discarded) == 0 {
		return nil
	}

	if len(surviving) == 0 {
		for _, v := range discarded {
			if err := vm.deleteVersion(ctx, branchID, v); err != nil {
				return err
			}
		}
		vm.metrics.PrunedVersions(len(discarded))
		return nil
	}

	survivingFirst := surviving[0]
	discardedView, err := vm.collapseBranch(ctx, branchID, discarded[len(discarded)-1])
	if err != nil {
		return err
	}
	for _, e := range discardedView {
		already, err := vm.changes.ContainsKey(ctx, changesKey(branchID, e.Key, survivingFirst))
		if err != nil {
			return err
		}
		if already {
			continue
		}
		enc := encodeChange(e.Value)
		if e.Tomb {
			enc = encodeTombstone()
		}
		if _, err := vm.changes.Insert(ctx, changesKey(branchID, e.Key, survivingFirst), enc); err != nil {
			return err
		}
	}

	for _, v := range discarded {
		if err := vm.deleteVersion(ctx, branchID, v); err != nil {
			return err
		}
	}
	vm.metrics.PrunedVersions(len(discarded))
	return nil
}
