package vsdbcfg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetBaseDirThenInitUsesIt(t *testing.T) {
	resetForTest()
	defer resetForTest()

	dir := filepath.Join(os.TempDir(), "vsdbcfg-test-basedir")
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, SetBaseDir(dir))

	require.NoError(t, Init(nil))
	require.Equal(t, dir, BaseDir())

	info, err := os.Stat(filepath.Join(dir, customDir))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSetBaseDirTwiceFails(t *testing.T) {
	resetForTest()
	defer resetForTest()

	require.NoError(t, SetBaseDir(filepath.Join(os.TempDir(), "vsdbcfg-test-a")))
	err := SetBaseDir(filepath.Join(os.TempDir(), "vsdbcfg-test-b"))
	require.Error(t, err)
}

func TestEngineLazilyInitializes(t *testing.T) {
	resetForTest()
	defer resetForTest()

	e := Engine()
	require.NotNil(t, e)
	require.NoError(t, e.Flush(context.Background()))
}
