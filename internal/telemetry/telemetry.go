// Package telemetry exposes the per-sync counters spec.md §7 calls for:
// deserialization and fixup failures are "counted, not fatal" — this is
// where they are counted. Counters are Prometheus gauges/counters for the
// embedder that scrapes metrics, and also collected into a Summary
// struct returned directly from each engine's Sync call, since spec.md §1
// leaves the telemetry wire encoding unspecified.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collection labels the collection a counter increment belongs to.
const (
	CollectionLogins    = "logins"
	CollectionBookmarks = "bookmarks"
	CollectionHistory   = "history"
)

// Registry holds every Prometheus collector this engine registers. Callers
// typically construct one Registry per process and pass it to
// prometheus.Registerer.MustRegister (or leave it unregistered in tests).
type Registry struct {
	RecordsApplied   *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	BatchesFlushed   *prometheus.CounterVec
	SyncsInterrupted *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
}

// NewRegistry builds a fresh set of collectors. Call Collectors() to pass
// them to a prometheus.Registerer.
func NewRegistry() *Registry {
	return &Registry{
		RecordsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "records_applied_total",
			Help:      "Records successfully merged into local or mirror state, by collection.",
		}, []string{"collection"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "records_skipped_total",
			Help:      "Records skipped due to malformed payloads or failed fixup, by collection and reason.",
		}, []string{"collection", "reason"}),
		BatchesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "upload_batches_flushed_total",
			Help:      "Batch POSTs sent to the remote server, by collection.",
		}, []string{"collection"}),
		SyncsInterrupted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "syncs_interrupted_total",
			Help:      "Syncs aborted by a signaled interrupt scope, by collection.",
		}, []string{"collection"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synccore",
			Name:      "sync_duration_seconds",
			Help:      "Wall-clock duration of a full sync pass, by collection.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
	}
}

// Collectors returns every collector for registration.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.RecordsApplied, r.RecordsSkipped, r.BatchesFlushed,
		r.SyncsInterrupted, r.SyncDuration,
	}
}

// Summary accumulates the same counts in-process for the structured
// result every Engine.Sync call returns directly to its caller.
type Summary struct {
	Applied            int
	Reconciled         int
	SkippedMalformed   int
	SkippedInterrupted int
	Uploaded           int
	Failed             int
	Errors             []string
}

// Merge folds other into s, used when a sync pass runs in phases that
// each produce a partial Summary (incoming, then outgoing).
func (s *Summary) Merge(other Summary) {
	s.Applied += other.Applied
	s.Reconciled += other.Reconciled
	s.SkippedMalformed += other.SkippedMalformed
	s.SkippedInterrupted += other.SkippedInterrupted
	s.Uploaded += other.Uploaded
	s.Failed += other.Failed
	s.Errors = append(s.Errors, other.Errors...)
}
