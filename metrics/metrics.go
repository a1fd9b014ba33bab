// Package metrics exposes Prometheus counters for vsdb's branch/version
// lifecycle activity: how often versions are created, branches forked or
// removed, merges and rebases run, and how many versions prune discards.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder bundles the counters one versioned.RawMapVs instance reports
// against. The zero value is a no-op recorder: every method tolerates a
// nil receiver, so wiring metrics in is opt-in.
type Recorder struct {
	versionsCreated prometheus.Counter
	branchesCreated prometheus.Counter
	branchesRemoved prometheus.Counter
	merges          prometheus.Counter
	rebases         prometheus.Counter
	prunedVersions  prometheus.Counter
}

// NewRecorder builds a Recorder whose counters are registered under the
// given Prometheus registerer, labeled with instance (typically the
// RawMapVs's hex-encoded descriptor, so multiple instances in one process
// don't collide).
func NewRecorder(reg prometheus.Registerer, instance string) *Recorder {
	labels := prometheus.Labels{"instance": instance}
	r := &Recorder{
		versionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vsdb_versions_created_total",
			Help:        "Number of versions created.",
			ConstLabels: labels,
		}),
		branchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vsdb_branches_created_total",
			Help:        "Number of branches created.",
			ConstLabels: labels,
		}),
		branchesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vsdb_branches_removed_total",
			Help:        "Number of branches removed.",
			ConstLabels: labels,
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vsdb_merges_total",
			Help:        "Number of branch_merge_to calls.",
			ConstLabels: labels,
		}),
		rebases: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vsdb_rebases_total",
			Help:        "Number of version_rebase calls.",
			ConstLabels: labels,
		}),
		prunedVersions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vsdb_pruned_versions_total",
			Help:        "Number of versions discarded by prune.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(r.versionsCreated, r.branchesCreated, r.branchesRemoved, r.merges, r.rebases, r.prunedVersions)
	return r
}

func (r *Recorder) VersionCreated() {
	if r != nil {
		r.versionsCreated.Inc()
	}
}

func (r *Recorder) BranchCreated() {
	if r != nil {
		r.branchesCreated.Inc()
	}
}

func (r *Recorder) BranchRemoved() {
	if r != nil {
		r.branchesRemoved.Inc()
	}
}

func (r *Recorder) Merged() {
	if r != nil {
		r.merges.Inc()
	}
}

func (r *Recorder) Rebased() {
	if r != nil {
		r.rebases.Inc()
	}
}

func (r *Recorder) PrunedVersions(n int) {
	if r != nil && n > 0 {
		r.prunedVersions.Add(float64(n))
	}
}
