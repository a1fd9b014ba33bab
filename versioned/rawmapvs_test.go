package versioned_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/vsdb/engine/memengine"
	"github.com/erigontech/vsdb/versioned"
	"github.com/erigontech/vsdb/vsdberr"
)

func newVs(t *testing.T) (*versioned.RawMapVs, context.Context) {
	t.Helper()
	ctx := context.Background()
	vm, err := versioned.New(ctx, memengine.New())
	require.NoError(t, err)
	return vm, ctx
}

func TestWriteWithoutVersionFails(t *testing.T) {
	vm, ctx := newVs(t)
	err := vm.Insert(ctx, []byte("k"), []byte("v"))
	require.Error(t, err)
	require.ErrorIs(t, err, vsdberr.ErrNoVersion)
}

// Invariant 7/8-ish: a version_create makes the branch writable, and
// subsequent reads see what was written.
func TestVersionCreateThenReadWrite(t *testing.T) {
	vm, ctx := newVs(t)
	_, err := vm.VersionCreate(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, vm.Insert(ctx, []byte("k1"), []byte("a")))
	require.NoError(t, vm.Insert(ctx, []byte("k2"), []byte("b")))

	v, ok, err := vm.Get(ctx, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), v)

	n, err := vm.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, vm.Remove(ctx, []byte("k1")))
	_, ok, err = vm.Get(ctx, []byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)
}

// S3-ish: a new version on the same branch layers over the old one.
func TestVersionLayering(t *testing.T) {
	vm, ctx := newVs(t)
	_, err := vm.VersionCreate(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("k"), []byte("1")))

	v1ID, err := vm.VersionCreate(ctx, "v2")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("k"), []byte("2")))

	val, ok, err := vm.GetByBranchVersion(ctx, versioned.MasterBranchID, v1ID, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), val)

	v, ok, err := vm.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

// Branching: a child branch sees the parent's history at fork time, and
// the parent is unaffected by writes on the child.
func TestBranchCreateAndIsolation(t *testing.T) {
	vm, ctx := newVs(t)
	_, err := vm.VersionCreate(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("shared"), []byte("base")))

	_, err = vm.BranchCreate(ctx, "feature", "feature-v1")
	require.NoError(t, err)

	v, ok, err := vm.GetByBranch(ctx, mustBranchID(t, ctx, vm, "feature"), []byte("shared"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("base"), v)

	require.NoError(t, vm.InsertByBranch(ctx, mustBranchID(t, ctx, vm, "feature"), []byte("shared"), []byte("changed")))

	v, ok, err = vm.Get(ctx, []byte("shared"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("base"), v)

	v, ok, err = vm.GetByBranch(ctx, mustBranchID(t, ctx, vm, "feature"), []byte("shared"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("changed"), v)
}

func mustBranchID(t *testing.T, ctx context.Context, vm *versioned.RawMapVs, name string) uint64 {
	t.Helper()
	id, err := vm.BranchID(ctx, name)
	require.NoError(t, err)
	return id
}

// S4 (merge): src wins conflicts and is removed afterward.
func TestBranchMergeTo(t *testing.T) {
	vm, ctx := newVs(t)
	_, err := vm.VersionCreate(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("a"), []byte("base-a")))
	require.NoError(t, vm.Insert(ctx, []byte("b"), []byte("base-b")))

	_, err = vm.BranchCreate(ctx, "feature", "feature-v1")
	require.NoError(t, err)
	featureID := mustBranchID(t, ctx, vm, "feature")
	require.NoError(t, vm.InsertByBranch(ctx, featureID, []byte("a"), []byte("feature-a")))
	require.NoError(t, vm.RemoveByBranch(ctx, featureID, []byte("b")))
	require.NoError(t, vm.InsertByBranch(ctx, featureID, []byte("c"), []byte("feature-c")))

	require.NoError(t, vm.BranchMergeTo(ctx, "feature", "master"))

	v, ok, err := vm.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("feature-a"), v)

	_, ok, err = vm.Get(ctx, []byte("b"))
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err = vm.Get(ctx, []byte("c"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("feature-c"), v)

	exists, err := vm.BranchExists(ctx, "feature")
	require.NoError(t, err)
	require.False(t, exists)
}

// S3 (rebase): versions strictly newer than v_keep collapse into it; a
// version older than v_keep survives completely untouched.
func TestVersionRebase(t *testing.T) {
	vm, ctx := newVs(t)
	_, err := vm.VersionCreate(ctx, "v0")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("a"), []byte("v0base")))

	_, err = vm.VersionCreate(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("a"), []byte("v1val")))

	_, err = vm.VersionCreate(ctx, "v2")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("b"), []byte("2")))

	_, err = vm.VersionCreate(ctx, "v3")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("b"), []byte("3")))

	_, err = vm.VersionCreate(ctx, "v4")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("c"), []byte("4only")))

	require.NoError(t, vm.VersionRebase(ctx, "v1"))

	exists, err := vm.VersionExists(ctx, "v0")
	require.NoError(t, err)
	require.True(t, exists, "a version older than v_keep must survive untouched")
	exists, err = vm.VersionExists(ctx, "v1")
	require.NoError(t, err)
	require.True(t, exists)
	for _, name := range []string{"v2", "v3", "v4"} {
		exists, err := vm.VersionExists(ctx, name)
		require.NoError(t, err)
		require.False(t, exists, "version %s newer than v_keep must be collapsed away", name)
	}

	v, ok, err := vm.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1val"), v)

	v, ok, err = vm.Get(ctx, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("3"), v)

	v, ok, err = vm.Get(ctx, []byte("c"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("4only"), v)
}

// S5 (swap): names trade id bindings.
func TestBranchSwap(t *testing.T) {
	vm, ctx := newVs(t)
	_, err := vm.VersionCreate(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("k"), []byte("master-value")))

	_, err = vm.BranchCreate(ctx, "staging", "staging-v1")
	require.NoError(t, err)
	stagingID := mustBranchID(t, ctx, vm, "staging")
	require.NoError(t, vm.InsertByBranch(ctx, stagingID, []byte("k"), []byte("staging-value")))

	require.NoError(t, vm.BranchSwap(ctx, "master", "staging"))

	require.NoError(t, vm.BranchSetDefault(ctx, "master"))
	v, ok, err := vm.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("staging-value"), v)

	require.NoError(t, vm.BranchSetDefault(ctx, "staging"))
	v, ok, err = vm.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("master-value"), v)
}

// S6 (prune): old versions collapse forward, newest `reserved` survive, and a
// key last written in a version that gets discarded is promoted into the
// oldest surviving one so it remains visible.
func TestPruneForwardCompacts(t *testing.T) {
	vm, ctx := newVs(t)
	for i := 0; i < 5; i++ {
		name := "v" + string(rune('0'+i))
		_, err := vm.VersionCreate(ctx, name)
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, vm.Insert(ctx, []byte("only-in-v0"), []byte("stale")))
		} else {
			require.NoError(t, vm.Insert(ctx, []byte("k"), []byte{byte(i)}))
		}
	}

	require.NoError(t, vm.Prune(ctx, 2))

	for _, name := range []string{"v0", "v1", "v2"} {
		exists, err := vm.VersionExists(ctx, name)
		require.NoError(t, err)
		require.False(t, exists, "version %s should have been pruned", name)
	}
	for _, name := range []string{"v3", "v4"} {
		exists, err := vm.VersionExists(ctx, name)
		require.NoError(t, err)
		require.True(t, exists, "version %s should have survived", name)
	}

	v, ok, err := vm.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{4}, v)

	v, ok, err = vm.Get(ctx, []byte("only-in-v0"))
	require.NoError(t, err)
	require.True(t, ok, "a key last written by a pruned version must be promoted forward")
	require.Equal(t, []byte("stale"), v)
}

// Prune's retention window is global across the whole instance, not a
// per-branch allowance: with reserved=2 and two branches each holding
// only one or two own-versions, the older of the two still gets
// discarded once three versions exist instance-wide.
func TestPruneIsGlobalAcrossBranches(t *testing.T) {
	vm, ctx := newVs(t)
	_, err := vm.VersionCreate(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("x"), []byte{1}))

	_, err = vm.VersionCreate(ctx, "m2")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("x"), []byte{2}))

	_, err = vm.BranchCreate(ctx, "side", "s1")
	require.NoError(t, err)

	require.NoError(t, vm.Prune(ctx, 2))

	exists, err := vm.VersionExists(ctx, "m1")
	require.NoError(t, err)
	require.False(t, exists, "m1 must be discarded: only the newest 2 versions survive across the whole instance")
	exists, err = vm.VersionExists(ctx, "m2")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = vm.VersionExists(ctx, "s1")
	require.NoError(t, err)
	require.True(t, exists)

	v, ok, err := vm.Get(ctx, []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{2}, v)
}

func TestBranchRemoveRejectsDefaultAndAncestors(t *testing.T) {
	vm, ctx := newVs(t)
	err := vm.BranchRemove(ctx, "master")
	require.Error(t, err)
	require.ErrorIs(t, err, vsdberr.ErrAncestorInUse)

	_, err = vm.VersionCreate(ctx, "m1")
	require.NoError(t, err)
	_, err = vm.BranchCreate(ctx, "child", "child-v1")
	require.NoError(t, err)
	require.NoError(t, vm.BranchSetDefault(ctx, "child"))

	err = vm.BranchRemove(ctx, "master")
	require.Error(t, err)
	require.ErrorIs(t, err, vsdberr.ErrAncestorInUse)
}

func TestBranchPopVersionNoOpWhenEmpty(t *testing.T) {
	vm, ctx := newVs(t)
	require.NoError(t, vm.BranchPopVersion(ctx, "master"))
}

func TestBranchTruncateTo(t *testing.T) {
	vm, ctx := newVs(t)
	_, err := vm.VersionCreate(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("k"), []byte("1")))
	_, err = vm.VersionCreate(ctx, "v2")
	require.NoError(t, err)
	require.NoError(t, vm.Insert(ctx, []byte("k"), []byte("2")))

	require.NoError(t, vm.BranchTruncateTo(ctx, "master", "v1"))

	exists, err := vm.VersionExists(ctx, "v2")
	require.NoError(t, err)
	require.False(t, exists)

	v, ok, err := vm.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}
