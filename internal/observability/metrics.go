package observability

import (
	"fmt"
	"time"
)

// Metrics holds engine activity derived from the event log.
type Metrics struct {
	CardsAnalyzed        int            `json:"cards_analyzed"`
	StageChanges         int            `json:"stage_changes"`
	ManualStageChanges   int            `json:"manual_stage_changes"`
	StagesUnmatched      int            `json:"stages_unmatched"`
	CardsMoved           int            `json:"cards_moved"`
	CardsCompleted       int            `json:"cards_completed"`
	MonetaryLocks        int            `json:"monetary_locks"`
	RulesFired           int            `json:"rules_fired"`
	HistoryWriteFailures int            `json:"history_write_failures"`
	AnalysesByFunnel     map[string]int `json:"analyses_by_funnel"`
	StagesReached        map[string]int `json:"stages_reached"`
	MovesBySource        map[string]int `json:"moves_by_source"`
	CompletionsByType    map[string]int `json:"completions_by_type"`
	EventCount           int            `json:"event_count"`
	OldestEvent          *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent          *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		AnalysesByFunnel:  make(map[string]int),
		StagesReached:     make(map[string]int),
		MovesBySource:     make(map[string]int),
		CompletionsByType: make(map[string]int),
	}
	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "card.analyzed":
			m.CardsAnalyzed++
			if f, ok := event.Data["funnel_type"].(string); ok && f != "" {
				m.AnalysesByFunnel[f]++
			}
		case "card.stage_changed":
			m.StageChanges++
			if manual, _ := event.Data["manual"].(bool); manual {
				m.ManualStageChanges++
			}
			if s, ok := event.Data["new_stage"].(string); ok && s != "" {
				m.StagesReached[s]++
			}
		case "card.stage_unmatched":
			m.StagesUnmatched++
		case "card.moved":
			m.CardsMoved++
			if s, ok := event.Data["source"].(string); ok {
				m.MovesBySource[s]++
			}
		case "card.completed":
			m.CardsCompleted++
			if c, ok := event.Data["completion_type"].(string); ok {
				m.CompletionsByType[c]++
			}
		case "card.monetary_locked":
			m.MonetaryLocks++
		case "rule.fired":
			m.RulesFired++
		case "history.write_failed":
			m.HistoryWriteFailures++
		}
	}

	return m, nil
}
