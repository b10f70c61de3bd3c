// Package metrics exposes the bookkeeping counters to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "offertory"

// Outcome label values.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRejected    = "rejected"
	OutcomeUnconfirmed = "unconfirmed"
)

type Metrics struct {
	registry       *prometheus.Registry
	commits        *prometheus.CounterVec
	committedItems prometheus.Counter
	commitDuration prometheus.Histogram
	donorsCreated  prometheus.Counter
	syncs          *prometheus.CounterVec
	syncedRecords  prometheus.Counter
	pendingSync    prometheus.Gauge
	pendingItems   prometheus.Gauge
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "attempts_total",
			Help:      "Commit attempts by outcome.",
		}, []string{"outcome"}),
		committedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "records_total",
			Help:      "Offering records written by successful commits.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "duration_seconds",
			Help:      "Time spent in the gateway per commit.",
			Buckets:   prometheus.DefBuckets,
		}),
		donorsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "donors_created_total",
			Help:      "Donors provisioned from typed names during commit.",
		}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Spreadsheet sync attempts by outcome.",
		}, []string{"outcome"}),
		syncedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records transmitted to the spreadsheet.",
		}),
		pendingSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending_records",
			Help:      "Committed records not yet mirrored.",
		}),
		pendingItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pending_items",
			Help:      "Draft lines in the entry ledger.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commits, m.committedItems, m.commitDuration, m.donorsCreated,
		m.syncs, m.syncedRecords, m.pendingSync, m.pendingItems,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CommitFinished(outcome string, records int, d time.Duration) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.committedItems.Add(float64(records))
	}
	if d > 0 {
		m.commitDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) DonorCreated() {
	if m == nil {
		return
	}
	m.donorsCreated.Inc()
}

func (m *Metrics) SyncFinished(outcome string, records int) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(outcome).Inc()
	m.syncedRecords.Add(float64(records))
}

func (m *Metrics) SetPendingSync(n int) {
	if m == nil {
		return
	}
	m.pendingSync.Set(float64(n))
}

func (m *Metrics) SetPendingItems(n int) {
	if m == nil {
		return
	}
	m.pendingItems.Set(float64(n))
}
