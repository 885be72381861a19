package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the conversation and
// booking flows. All observe methods are nil-safe so optional wiring stays
// out of call sites.
type EngineMetrics struct {
	turnsTotal        *prometheus.CounterVec
	debounceBatched   prometheus.Counter
	holdTransitions   *prometheus.CounterVec
	syncOutcomes      *prometheus.CounterVec
	assignmentLatency prometheus.Histogram
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Processed conversation turns by selected handler",
		}, []string{"handler", "phase"}),
		debounceBatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "engine",
			Name:      "debounce_coalesced_total",
			Help:      "Inbound messages absorbed into another caller's batch",
		}),
		holdTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "holds",
			Name:      "transitions_total",
			Help:      "Hold lifecycle transitions (warned, expired, confirmed, created)",
		}, []string{"transition"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "calendar_sync",
			Name:      "sibling_outcomes_total",
			Help:      "Per-sibling sync results by action and status",
		}, []string{"action", "status"}),
		assignmentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studio",
			Subsystem: "scheduling",
			Name:      "assignment_seconds",
			Help:      "Latency of slot assignment including availability fan-out",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.debounceBatched, m.holdTransitions, m.syncOutcomes, m.assignmentLatency)
	return m
}

func (m *EngineMetrics) ObserveTurn(handler, phase string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(handler, phase).Inc()
}

func (m *EngineMetrics) ObserveDebounceCoalesced() {
	if m == nil {
		return
	}
	m.debounceBatched.Inc()
}

func (m *EngineMetrics) ObserveHoldTransition(transition string) {
	if m == nil {
		return
	}
	m.holdTransitions.WithLabelValues(transition).Inc()
}

func (m *EngineMetrics) ObserveSyncOutcome(action, status string) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(action, status).Inc()
}

func (m *EngineMetrics) ObserveAssignmentLatency(seconds float64) {
	if m == nil {
		return
	}
	m.assignmentLatency.Observe(seconds)
}
