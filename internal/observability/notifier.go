package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Notifier delivers alert summaries and rule notifications.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
	NotifyRule(ctx context.Context, cardID, ruleName, message string) error
}

// slackNotifier posts Block Kit messages to an incoming webhook.
type slackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier returns a Notifier posting to webhookURL.
func NewSlackNotifier(webhookURL string) Notifier {
	return &slackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text   string       `json:"text,omitempty"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(s string) *slackText { return &slackText{Type: "mrkdwn", Text: s} }

// Notify posts one message grouping alerts by severity, highest first.
// An empty slice sends nothing.
func (s *slackNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.post(ctx, alertMessage(alerts))
}

// NotifyRule announces that a move rule with notify set fired for a card.
func (s *slackNotifier) NotifyRule(ctx context.Context, cardID, ruleName, message string) error {
	return s.post(ctx, slackMessage{
		Text: fmt.Sprintf("Rule %q fired on card %s", ruleName, cardID),
		Blocks: []slackBlock{
			{Type: "section", Text: mrkdwn(fmt.Sprintf(":zap: *%s* fired on card `%s`", ruleName, cardID))},
			{Type: "context", Elements: []slackText{*mrkdwn(message)}},
		},
	})
}

func (s *slackNotifier) post(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var severityOrder = []AlertSeverity{SeverityHigh, SeverityMedium, SeverityLow}

// alertMessage renders one section per severity that has alerts.
func alertMessage(alerts []Alert) slackMessage {
	bySeverity := make(map[AlertSeverity][]Alert)
	latest := alerts[0].TriggeredAt
	for _, a := range alerts {
		bySeverity[a.Severity] = append(bySeverity[a.Severity], a)
		if a.TriggeredAt.After(latest) {
			latest = a.TriggeredAt
		}
	}

	msg := slackMessage{
		Text: fmt.Sprintf("akb: %d alert(s)", len(alerts)),
		Blocks: []slackBlock{{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("akb alerts (%d)", len(alerts))},
		}},
	}
	for _, sev := range severityOrder {
		group := bySeverity[sev]
		if len(group) == 0 {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s *%s*", severityEmoji(sev), strings.ToUpper(string(sev)))
		for _, a := range group {
			fmt.Fprintf(&b, "\n• `%s` %s", a.Condition, a.Message)
		}
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Text: mrkdwn(b.String())})
	}
	msg.Blocks = append(msg.Blocks, slackBlock{
		Type:     "context",
		Elements: []slackText{*mrkdwn("evaluated " + latest.UTC().Format("2006-01-02 15:04 UTC"))},
	})
	return msg
}

func severityEmoji(severity AlertSeverity) string {
	switch severity {
	case SeverityHigh:
		return ":red_circle:"
	case SeverityMedium:
		return ":large_yellow_circle:"
	default:
		return ":large_blue_circle:"
	}
}
