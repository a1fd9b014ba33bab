// Command vsdbctl inspects and operates on a vsdb versioned-map instance
// from the shell: showing the default branch, dumping a branch's visible
// state, and running merge/rebase/prune without writing a Go program.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/vsdb/vsdbcfg"
	"github.com/erigontech/vsdb/versioned"
)

// engineFactory selects the storage backend. The default (pure-Go,
// in-memory) build leaves this nil, which makes vsdbcfg.Init fall back to
// memengine; building with -tags mdbx links in mdbx_factory.go, which
// overrides this in an init func to open the real on-disk engine.
var engineFactory vsdbcfg.EngineFactory

var (
	dataDir string
	prefix  uint64
	logger  *zap.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vsdbctl",
		Short: "Inspect and operate on a vsdb versioned-map instance",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = zap.NewProduction()
			if err != nil {
				logger = zap.NewNop()
			}
			if dataDir != "" {
				if err := vsdbcfg.SetBaseDir(dataDir); err != nil {
					return err
				}
			}
			return vsdbcfg.Init(engineFactory)
		},
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "vsdb base directory (default: $VSDB_BASE_DIR or ~/.vsdb)")
	root.PersistentFlags().Uint64Var(&prefix, "prefix", 0, "instance prefix of the versioned map to operate on")

	root.AddCommand(
		newBranchesCmd(),
		newDumpCmd(),
		newMergeCmd(),
		newRebaseCmd(),
		newPruneCmd(),
	)
	return root
}

func openInstance(ctx context.Context) (*versioned.RawMapVs, error) {
	descriptor := make([]byte, 8)
	binary.BigEndian.PutUint64(descriptor, prefix)
	return versioned.Decode(ctx, vsdbcfg.Engine(), descriptor)
}

func newBranchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "Show the default branch and whether it currently has an own version (other branches are not listed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vm, err := openInstance(ctx)
			if err != nil {
				return err
			}
			def, err := vm.DefaultBranchID(ctx)
			if err != nil {
				return err
			}
			name, err := vm.BranchName(ctx, def)
			if err != nil {
				return err
			}
			active, err := vm.BranchHasVersions(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tactive=%v\t(default)\n", name, active)
			return nil
		},
	}
}

func newDumpCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every visible (key, value) pair on a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vm, err := openInstance(ctx)
			if err != nil {
				return err
			}
			var entries []versioned.Entry
			if branch == "" {
				entries, err = vm.Iter(ctx)
			} else {
				var bid uint64
				bid, err = vm.BranchID(ctx, branch)
				if err == nil {
					entries, err = vm.IterByBranch(ctx, bid)
				}
			}
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", e.Key, e.Value)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to dump (default: the instance's default branch)")
	return cmd
}

func newMergeCmd() *cobra.Command {
	var src, dst string
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge src into dst, src winning conflicts, then remove src",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vm, err := openInstance(ctx)
			if err != nil {
				return err
			}
			if err := vm.BranchMergeTo(ctx, src, dst); err != nil {
				return err
			}
			logger.Info("merged branch", zap.String("src", src), zap.String("dst", dst))
			return nil
		},
	}
	cmd.Flags().StringVar(&src, "src", "", "source branch (required)")
	cmd.Flags().StringVar(&dst, "dst", "", "destination branch (required)")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")
	return cmd
}

func newRebaseCmd() *cobra.Command {
	var branch, keep string
	cmd := &cobra.Command{
		Use:   "rebase",
		Short: "Collapse a branch's own-versions newer than --keep into it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vm, err := openInstance(ctx)
			if err != nil {
				return err
			}
			if branch == "" {
				return vm.VersionRebase(ctx, keep)
			}
			return vm.VersionRebaseByBranch(ctx, keep, branch)
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to rebase (default: the instance's default branch)")
	cmd.Flags().StringVar(&keep, "keep", "", "name of the own-version to collapse everything newer into (required)")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

func newPruneCmd() *cobra.Command {
	var reserved int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Retain only the newest N own-versions globally across all branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vm, err := openInstance(ctx)
			if err != nil {
				return err
			}
			return vm.Prune(ctx, reserved)
		},
	}
	cmd.Flags().IntVar(&reserved, "reserved", 10, "number of own-versions to retain globally across every branch")
	return cmd
}
