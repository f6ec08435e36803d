package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Event types written by the engine.
const (
	EventCardAnalyzed       = "card.analyzed"
	EventCardStageChanged   = "card.stage_changed"
	EventCardStageUnmatched = "card.stage_unmatched"
	EventCardMoved          = "card.moved"
	EventCardMonetaryLocked = "card.monetary_locked"
	EventCardCompleted      = "card.completed"
	EventRuleFired          = "rule.fired"
	EventHistoryWriteFailed = "history.write_failed"
)

// EngineMetrics receives counters from engine runs. The Prometheus
// collectors in the observability package implement it.
type EngineMetrics interface {
	ObserveAnalysis(trigger, result string, seconds float64)
	ObserveMove(source string)
	ObserveMonetaryLock()
	ObserveStageUnmatched(funnelType string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAnalysis(string, string, float64) {}
func (nopMetrics) ObserveMove(string)                      {}
func (nopMetrics) ObserveMonetaryLock()                    {}
func (nopMetrics) ObserveStageUnmatched(string)            {}
