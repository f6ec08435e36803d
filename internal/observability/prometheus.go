package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics exposes Prometheus collectors for engine runs.
type EngineMetrics struct {
	analyses       *prometheus.CounterVec
	analysisTime   *prometheus.HistogramVec
	moves          *prometheus.CounterVec
	locks          prometheus.Counter
	stageUnmatched *prometheus.CounterVec
}

// MustNewEngineMetrics registers the engine collectors with reg, reusing
// collectors that are already registered. Any other registration error
// panics.
func MustNewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &EngineMetrics{
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "akb",
			Subsystem: "engine",
			Name:      "analyses_total",
			Help:      "Analyses applied to cards by trigger and result.",
		}, []string{"trigger", "result"}),
		analysisTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "akb",
			Subsystem: "engine",
			Name:      "analysis_duration_seconds",
			Help:      "Time spent applying one analysis.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "akb",
			Subsystem: "engine",
			Name:      "card_moves_total",
			Help:      "Card column moves by decision source.",
		}, []string{"source"}),
		locks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akb",
			Subsystem: "engine",
			Name:      "monetary_locks_total",
			Help:      "Cards whose monetary value became locked.",
		}),
		stageUnmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "akb",
			Subsystem: "engine",
			Name:      "stage_unmatched_total",
			Help:      "Detected lifecycle stages that matched no configured stage.",
		}, []string{"funnel_type"}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.analyses = register(m.analyses).(*prometheus.CounterVec)
	m.analysisTime = register(m.analysisTime).(*prometheus.HistogramVec)
	m.moves = register(m.moves).(*prometheus.CounterVec)
	m.locks = register(m.locks).(prometheus.Counter)
	m.stageUnmatched = register(m.stageUnmatched).(*prometheus.CounterVec)
	return m
}

// ObserveAnalysis records one Apply call.
func (m *EngineMetrics) ObserveAnalysis(trigger, result string, seconds float64) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(trigger, result).Inc()
	m.analysisTime.WithLabelValues(trigger).Observe(seconds)
}

// ObserveMove records a column move.
func (m *EngineMetrics) ObserveMove(source string) {
	if m == nil {
		return
	}
	m.moves.WithLabelValues(source).Inc()
}

// ObserveMonetaryLock records a newly engaged lock.
func (m *EngineMetrics) ObserveMonetaryLock() {
	if m == nil {
		return
	}
	m.locks.Inc()
}

// ObserveStageUnmatched records a detected stage that matched nothing.
func (m *EngineMetrics) ObserveStageUnmatched(funnelType string) {
	if m == nil {
		return
	}
	m.stageUnmatched.WithLabelValues(funnelType).Inc()
}
