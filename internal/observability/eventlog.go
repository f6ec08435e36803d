package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event represents a single observable event in the system.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN, ERROR
	Type    string         `json:"type"`  // e.g. "card.analyzed", "card.moved"
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter specifies criteria for reading events.
type EventFilter struct {
	Since  *time.Time
	Until  *time.Time
	Type   string
	Level  string
	CardID string
}

// EventLog defines the interface for writing and reading events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog implements EventLog using append-only JSONL files.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog creates a new EventLog backed by a JSONL file at the given path.
func NewJSONLEventLog(path string) (EventLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating event log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{
		path: path,
		file: f,
	}, nil
}

// Write appends a JSON-encoded event followed by a newline to the log file.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read scans the log file and returns the events matching filter in the
// order they were written.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // skip malformed lines
		}

		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}

	return events, nil
}

// Close closes the underlying log file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	if filter.CardID != "" {
		if id, _ := event.Data["card_id"].(string); id != filter.CardID {
			return false
		}
	}
	return true
}

// Event types that are written at WARN level. Everything else is INFO.
var warnEvents = map[string]bool{
	"card.stage_unmatched": true,
	"history.write_failed": true,
}

// EngineEventLogger adapts an EventLog to the engine's LogEvent interface,
// stamping time, level and a readable message.
type EngineEventLogger struct {
	log EventLog
	now func() time.Time
}

// NewEngineEventLogger wraps log.
func NewEngineEventLogger(log EventLog) *EngineEventLogger {
	return &EngineEventLogger{log: log, now: time.Now}
}

// LogEvent writes one engine event.
func (l *EngineEventLogger) LogEvent(eventType string, data map[string]any) error {
	level := "INFO"
	if warnEvents[eventType] {
		level = "WARN"
	}
	return l.log.Write(Event{
		Time:    l.now().UTC(),
		Level:   level,
		Type:    eventType,
		Message: eventMessage(eventType, data),
		Data:    data,
	})
}

func eventMessage(eventType string, data map[string]any) string {
	card, _ := data["card_id"].(string)
	switch eventType {
	case "card.analyzed":
		return fmt.Sprintf("card %s analyzed", card)
	case "card.stage_changed":
		return fmt.Sprintf("card %s stage %v -> %v", card, data["old_stage"], data["new_stage"])
	case "card.stage_unmatched":
		return fmt.Sprintf("card %s: stage %q not configured for funnel %v", card, data["stage"], data["funnel_type"])
	case "card.moved":
		return fmt.Sprintf("card %s moved %v -> %v", card, data["from"], data["to"])
	case "card.monetary_locked":
		return fmt.Sprintf("card %s value locked", card)
	case "card.completed":
		return fmt.Sprintf("card %s completed as %v", card, data["completion_type"])
	case "rule.fired":
		return fmt.Sprintf("rule %v fired for card %s", data["rule_id"], card)
	case "history.write_failed":
		return fmt.Sprintf("history write failed for card %s", card)
	}
	return eventType
}
