package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the Prometheus instruments the Execution Engine exposes,
// grounded on the teacher's gauge/histogram/counter set but relabelled for
// node-level dispatch instead of graph-step execution.
type Metrics struct {
	InflightNodes     prometheus.Gauge
	QueueDepth        prometheus.Gauge
	StepLatency       prometheus.Histogram
	CacheHitTotal     *prometheus.CounterVec
	LeasesContested   prometheus.Counter
	NodesFailedTotal  prometheus.Counter
}

// NewMetrics constructs and registers a Metrics set against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InflightNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxlogica",
			Subsystem: "engine",
			Name:      "inflight_nodes",
			Help:      "Number of nodes currently dispatched to a worker.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxlogica",
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Number of ready nodes waiting for a free worker.",
		}),
		StepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxlogica",
			Subsystem: "engine",
			Name:      "step_latency_ms",
			Help:      "Per-node operator dispatch latency in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		CacheHitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxlogica",
			Subsystem: "engine",
			Name:      "cache_hit_total",
			Help:      "Count of node resolutions served from cache, by source: store, local.",
		}, []string{"source"}),
		LeasesContested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxlogica",
			Subsystem: "engine",
			Name:      "leases_contested_total",
			Help:      "Count of BeginCompute calls that observed an already-held lease.",
		}),
		NodesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxlogica",
			Subsystem: "engine",
			Name:      "nodes_failed_total",
			Help:      "Count of nodes that terminated with an operator domain error.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.InflightNodes, m.QueueDepth, m.StepLatency, m.CacheHitTotal, m.LeasesContested, m.NodesFailedTotal)
	}
	return m
}

// noopMetrics is used when the engine is constructed without WithMetrics,
// so the dispatch path never needs a nil check.
func noopMetrics() *Metrics {
	return NewMetrics(nil)
}
