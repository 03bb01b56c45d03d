package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks transaction execution.
type EngineMetrics struct {
	transactions *prometheus.CounterVec
	failures     *prometheus.CounterVec
	cost         prometheus.Histogram
	depth        prometheus.Histogram
	diffEntries  prometheus.Histogram
	hostCalls    *prometheus.CounterVec
	commit       prometheus.Histogram
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "resengine",
				Subsystem: "executor",
				Name:      "transactions_total",
				Help:      "Executed transactions segmented by outcome and mode.",
			}, []string{"outcome", "mode"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "resengine",
				Subsystem: "executor",
				Name:      "failures_total",
				Help:      "Failed transactions segmented by error kind.",
			}, []string{"kind"}),
			cost: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "resengine",
				Subsystem: "executor",
				Name:      "cost_consumed",
				Help:      "Cost units consumed per transaction.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
			}),
			depth: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "resengine",
				Subsystem: "executor",
				Name:      "call_depth",
				Help:      "Deepest call frame nesting reached per transaction.",
				Buckets:   prometheus.LinearBuckets(0, 1, 10),
			}),
			diffEntries: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "resengine",
				Subsystem: "executor",
				Name:      "diff_entries",
				Help:      "Substate writes committed per successful transaction.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			}),
			hostCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "resengine",
				Subsystem: "host",
				Name:      "calls_total",
				Help:      "Host operations dispatched to the bridge.",
			}, []string{"op"}),
			commit: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "resengine",
				Subsystem: "store",
				Name:      "commit_duration_seconds",
				Help:      "Latency of substate commits.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			engineRegistry.transactions,
			engineRegistry.failures,
			engineRegistry.cost,
			engineRegistry.depth,
			engineRegistry.diffEntries,
			engineRegistry.hostCalls,
			engineRegistry.commit,
		)
	})
	return engineRegistry
}

// RecordTransaction records one executed transaction. kind is empty on
// success; mode is "execute" or "preview".
func (m *EngineMetrics) RecordTransaction(mode, outcome, kind string, cost uint64, depth, diffEntries int) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "execute"
	}
	m.transactions.WithLabelValues(outcome, mode).Inc()
	if kind = strings.TrimSpace(kind); kind != "" {
		m.failures.WithLabelValues(kind).Inc()
	}
	m.cost.Observe(float64(cost))
	m.depth.Observe(float64(depth))
	if kind == "" && mode == "execute" {
		m.diffEntries.Observe(float64(diffEntries))
	}
}

// RecordHostCall counts a dispatched host operation.
func (m *EngineMetrics) RecordHostCall(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.hostCalls.WithLabelValues(op).Inc()
}

// ObserveCommit records how long a commit took.
func (m *EngineMetrics) ObserveCommit(d time.Duration) {
	if m == nil {
		return
	}
	m.commit.Observe(d.Seconds())
}
