package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	// StaleDays is how long an open card may go without engine activity.
	StaleDays int `yaml:"stale_days" json:"stale_days"`
	// MaxUnmatchedStages is how many unmatched stage detections are tolerated
	// within Window before the funnel configuration is flagged.
	MaxUnmatchedStages int `yaml:"max_unmatched_stages" json:"max_unmatched_stages"`
	// Window bounds the unmatched, lock and history-failure checks.
	Window time.Duration `yaml:"window" json:"window"`
}

// DefaultAlertThresholds returns the default alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		StaleDays:          14,
		MaxUnmatchedStages: 5,
		Window:             24 * time.Hour,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	if thresholds.Window <= 0 {
		thresholds.Window = 24 * time.Hour
	}
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Evaluate checks all alert conditions and returns the triggered alerts
// ordered by id.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now().UTC()
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}
	since := now.Add(-ae.thresholds.Window)

	var alerts []Alert
	alerts = append(alerts, ae.checkUnmatchedStages(events, since, now)...)
	alerts = append(alerts, ae.checkHistoryFailures(events, since, now)...)
	alerts = append(alerts, ae.checkStaleCards(events, now)...)
	alerts = append(alerts, ae.checkMonetaryLocks(events, since, now)...)

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

// checkUnmatchedStages flags funnels whose detected stages keep missing the
// configured stage list.
func (ae *alertEngine) checkUnmatchedStages(events []Event, since, now time.Time) []Alert {
	byFunnel := make(map[string]int)
	for _, e := range events {
		if e.Type != "card.stage_unmatched" || e.Time.Before(since) {
			continue
		}
		funnel, _ := e.Data["funnel_type"].(string)
		byFunnel[funnel]++
	}

	var alerts []Alert
	for funnel, n := range byFunnel {
		if n <= ae.thresholds.MaxUnmatchedStages {
			continue
		}
		alerts = append(alerts, Alert{
			ID:        fmt.Sprintf("unmatched-%s", funnel),
			Condition: "stage_unmatched_spike",
			Severity:  SeverityHigh,
			Message: fmt.Sprintf("funnel %q had %d unmatched stage detections in the last %s, exceeding %d",
				funnel, n, ae.thresholds.Window, ae.thresholds.MaxUnmatchedStages),
			TriggeredAt: now,
		})
	}
	return alerts
}

func (ae *alertEngine) checkHistoryFailures(events []Event, since, now time.Time) []Alert {
	n := 0
	for _, e := range events {
		if e.Type == "history.write_failed" && !e.Time.Before(since) {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return []Alert{{
		ID:          "history-write-failed",
		Condition:   "history_write_failed",
		Severity:    SeverityHigh,
		Message:     fmt.Sprintf("%d analysis history writes failed in the last %s", n, ae.thresholds.Window),
		TriggeredAt: now,
	}}
}

// checkStaleCards looks for cards that are not completed and have had no
// engine activity for longer than the threshold.
func (ae *alertEngine) checkStaleCards(events []Event, now time.Time) []Alert {
	lastActivity := make(map[string]time.Time)
	completed := make(map[string]bool)

	for _, e := range events {
		cardID, _ := e.Data["card_id"].(string)
		if cardID == "" {
			continue
		}
		if e.Time.After(lastActivity[cardID]) {
			lastActivity[cardID] = e.Time
		}
		if e.Type == "card.completed" {
			completed[cardID] = true
		}
	}

	threshold := time.Duration(ae.thresholds.StaleDays) * 24 * time.Hour
	var alerts []Alert
	for cardID, last := range lastActivity {
		if completed[cardID] || now.Sub(last) <= threshold {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("stale-%s", cardID),
			Condition:   "card_stale",
			Severity:    SeverityMedium,
			Message:     fmt.Sprintf("card %s has had no activity for more than %d days", cardID, ae.thresholds.StaleDays),
			TriggeredAt: now,
		})
	}
	return alerts
}

func (ae *alertEngine) checkMonetaryLocks(events []Event, since, now time.Time) []Alert {
	var alerts []Alert
	for _, e := range events {
		if e.Type != "card.monetary_locked" || e.Time.Before(since) {
			continue
		}
		cardID, _ := e.Data["card_id"].(string)
		alerts = append(alerts, Alert{
			ID:        fmt.Sprintf("locked-%s", cardID),
			Condition: "monetary_lock_engaged",
			Severity:  SeverityLow,
			Message: fmt.Sprintf("card %s left funnel %v for %v; its value is now locked",
				cardID, e.Data["previous_funnel"], e.Data["funnel_type"]),
			TriggeredAt: now,
		})
	}
	return alerts
}
