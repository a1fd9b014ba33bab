package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/vsdb/metrics"
)

func TestRecorderIncrementsRegisteredCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRecorder(reg, "test-instance")

	r.VersionCreated()
	r.BranchCreated()
	r.BranchRemoved()
	r.Merged()
	r.Rebased()
	r.PrunedVersions(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawPruned bool
	for _, f := range families {
		if f.GetName() == "vsdb_pruned_versions_total" {
			sawPruned = true
			require.Equal(t, 3.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, sawPruned)
}

func TestNilRecorderNoOps(t *testing.T) {
	var r *metrics.Recorder
	require.NotPanics(t, func() {
		r.VersionCreated()
		r.PrunedVersions(5)
	})
}
