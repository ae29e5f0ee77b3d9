// Package metrics exposes the snapshot stores to Prometheus.
//
// StoreMetrics holds the event counters the stores update while they work:
// skipped kits, transactions and collections. StatusCollector reads the
// status counters of every registered store at scrape time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "snapstore"
	storeSubsystem   = "store"
)

// Transaction outcomes.
const (
	OutcomeCommit   = "commit"
	OutcomeRollback = "rollback"
)

// StoreMetrics holds the event metrics shared by all stores of a process.
// A nil *StoreMetrics is valid and records nothing.
type StoreMetrics struct {
	// KitsSkippedTotal counts kits rejected by validation.
	// Labels: store, reason (missing_parent, corrupt_path, no_data, missing_content_type,
	// unpublished_parent)
	KitsSkippedTotal *prometheus.CounterVec

	// TransactionsTotal counts finished write transactions.
	// Labels: store, outcome (commit, rollback)
	TransactionsTotal *prometheus.CounterVec

	// CollectionsTotal counts collector runs.
	// Labels: store
	CollectionsTotal *prometheus.CounterVec

	// ReclaimedTotal counts keys removed by the collector.
	// Labels: store
	ReclaimedTotal *prometheus.CounterVec

	// CollectDurationSeconds measures collector runs.
	// Labels: store
	CollectDurationSeconds *prometheus.HistogramVec
}

// NewStoreMetrics creates the metrics and registers them with reg.
// It panics on duplicate registration, like promauto.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	factory := promauto.With(reg)
	return &StoreMetrics{
		KitsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: storeSubsystem,
				Name:      "kits_skipped_total",
				Help:      "Total kits skipped by validation by store and reason",
			},
			[]string{"store", "reason"},
		),
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: storeSubsystem,
				Name:      "transactions_total",
				Help:      "Total write transactions by store and outcome",
			},
			[]string{"store", "outcome"},
		),
		CollectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: storeSubsystem,
				Name:      "collections_total",
				Help:      "Total collector runs by store",
			},
			[]string{"store"},
		),
		ReclaimedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: storeSubsystem,
				Name:      "reclaimed_keys_total",
				Help:      "Total keys removed by the collector by store",
			},
			[]string{"store"},
		),
		CollectDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: storeSubsystem,
				Name:      "collect_duration_seconds",
				Help:      "Collector run duration in seconds",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"store"},
		),
	}
}

// KitSkipped records a kit rejected by validation.
func (m *StoreMetrics) KitSkipped(store, reason string) {
	if m == nil {
		return
	}
	m.KitsSkippedTotal.WithLabelValues(store, reason).Inc()
}

// Transaction records the outcome of a write transaction.
func (m *StoreMetrics) Transaction(store, outcome string) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(store, outcome).Inc()
}

// ObserveCollect records one collector run.
func (m *StoreMetrics) ObserveCollect(store string, removed int, took time.Duration) {
	if m == nil {
		return
	}
	m.CollectionsTotal.WithLabelValues(store).Inc()
	m.ReclaimedTotal.WithLabelValues(store).Add(float64(removed))
	m.CollectDurationSeconds.WithLabelValues(store).Observe(took.Seconds())
}
