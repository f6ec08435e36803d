package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue sums the counter samples of name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestEngineMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewEngineMetrics(reg)

	m.ObserveAnalysis("message", "ok", 0.01)
	m.ObserveAnalysis("message", "ok", 0.02)
	m.ObserveAnalysis("cron", "malformed", 0.001)
	m.ObserveMove("move_rule")
	m.ObserveMonetaryLock()
	m.ObserveStageUnmatched("venda")

	if got := counterValue(t, reg, "akb_engine_analyses_total", map[string]string{"trigger": "message", "result": "ok"}); got != 2 {
		t.Errorf("analyses{message,ok} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "akb_engine_card_moves_total", map[string]string{"source": "move_rule"}); got != 1 {
		t.Errorf("moves = %v, want 1", got)
	}
	if got := counterValue(t, reg, "akb_engine_monetary_locks_total", nil); got != 1 {
		t.Errorf("locks = %v, want 1", got)
	}
	if got := counterValue(t, reg, "akb_engine_stage_unmatched_total", map[string]string{"funnel_type": "venda"}); got != 1 {
		t.Errorf("unmatched = %v, want 1", got)
	}
}

func TestEngineMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNewEngineMetrics(reg)
	b := MustNewEngineMetrics(reg)

	a.ObserveMonetaryLock()
	b.ObserveMonetaryLock()
	if got := counterValue(t, reg, "akb_engine_monetary_locks_total", nil); got != 2 {
		t.Errorf("shared lock counter = %v, want 2", got)
	}
}

func TestEngineMetrics_NilSafe(t *testing.T) {
	var m *EngineMetrics
	m.ObserveAnalysis("manual", "ok", 1)
	m.ObserveMove("manual")
	m.ObserveMonetaryLock()
	m.ObserveStageUnmatched("x")
}
