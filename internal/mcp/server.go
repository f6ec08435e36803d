// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the card lifecycle engine as tools for AI assistants.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/ai-kanban/internal/core"
	"github.com/valter-silva-au/ai-kanban/internal/observability"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// Deps are the services behind the tools. Metrics and Alerts may be nil when
// observability is disabled.
type Deps struct {
	Engine  core.Engine
	Cards   core.CardReader
	History core.HistoryStore
	Metrics observability.MetricsCalculator
	Alerts  observability.AlertEngine
}

// Server wraps the engine and exposes it as MCP tools.
type Server struct {
	server *gomcp.Server
	deps   Deps
}

// NewServer creates a new MCP server.
func NewServer(deps Deps, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{deps: deps}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "akb", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type cardInput struct {
	CardID string `json:"card_id" jsonschema:"the card identifier"`
}

type cardOutput struct {
	ID               string         `json:"id"`
	PipelineID       string         `json:"pipeline_id"`
	ColumnID         string         `json:"column_id"`
	Title            string         `json:"title"`
	CustomerID       string         `json:"customer_id,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	FunnelType       string         `json:"funnel_type,omitempty"`
	FunnelScore      float64        `json:"funnel_score"`
	ServiceQuality   float64        `json:"service_quality_score"`
	LifecycleStage   string         `json:"lifecycle_stage,omitempty"`
	Progress         int            `json:"lifecycle_progress_percent"`
	ResolutionStatus string         `json:"resolution_status,omitempty"`
	Value            float64        `json:"value"`
	HasValue         bool           `json:"has_value"`
	MonetaryLocked   bool           `json:"is_monetary_locked"`
	CompletionType   string         `json:"completion_type,omitempty"`
	CustomFields     map[string]any `json:"custom_fields,omitempty"`
	UpdatedAt        string         `json:"updated_at"`
}

type listCardsInput struct {
	PipelineID string `json:"pipeline_id,omitempty" jsonschema:"only cards of this pipeline"`
	Stage      string `json:"stage,omitempty" jsonschema:"only cards in this lifecycle stage"`
	FunnelType string `json:"funnel_type,omitempty" jsonschema:"only cards of this funnel type"`
}

type listCardsOutput struct {
	Cards []cardOutput `json:"cards"`
	Count int          `json:"count"`
}

type historyEntryOutput struct {
	ID               string  `json:"id"`
	AnalyzedAt       string  `json:"analyzed_at"`
	Trigger          string  `json:"trigger_source"`
	FunnelType       string  `json:"funnel_type"`
	FunnelScore      float64 `json:"funnel_score"`
	DetectedStage    string  `json:"detected_stage,omitempty"`
	LifecycleStage   string  `json:"lifecycle_stage,omitempty"`
	Progress         int     `json:"lifecycle_progress_percent"`
	ResolutionStatus string  `json:"resolution_status,omitempty"`
	MonetaryLocked   bool    `json:"is_monetary_locked"`
	Summary          string  `json:"summary"`
	ModelUsed        string  `json:"model_used,omitempty"`
}

type historyOutput struct {
	CardID  string               `json:"card_id"`
	Entries []historyEntryOutput `json:"entries"`
	Count   int                  `json:"count"`
}

type analyzeInput struct {
	CardID     string `json:"card_id" jsonschema:"the card identifier"`
	Transcript string `json:"transcript,omitempty" jsonschema:"conversation to analyze; defaults to the card's stored transcript"`
}

type analyzeOutput struct {
	Card        cardOutput `json:"card"`
	Stage       string     `json:"stage,omitempty"`
	StageReason string     `json:"stage_reason"`
	MoveSource  string     `json:"move_source"`
	Moved       bool       `json:"moved"`
	ToColumnID  string     `json:"to_column_id,omitempty"`
	LockEngaged bool       `json:"lock_engaged"`
	Completed   bool       `json:"completed"`
	HistoryID   string     `json:"history_id"`
}

type forceStageInput struct {
	CardID string `json:"card_id" jsonschema:"the card identifier"`
	Stage  string `json:"stage" jsonschema:"a stage configured for the card's funnel"`
}

type moveCardInput struct {
	CardID   string `json:"card_id" jsonschema:"the card identifier"`
	ColumnID string `json:"column_id" jsonschema:"a column of the card's pipeline"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	CardsAnalyzed     int            `json:"cards_analyzed"`
	StageChanges      int            `json:"stage_changes"`
	StagesUnmatched   int            `json:"stages_unmatched"`
	CardsMoved        int            `json:"cards_moved"`
	CardsCompleted    int            `json:"cards_completed"`
	MonetaryLocks     int            `json:"monetary_locks"`
	RulesFired        int            `json:"rules_fired"`
	AnalysesByFunnel  map[string]int `json:"analyses_by_funnel"`
	MovesBySource     map[string]int `json:"moves_by_source"`
	CompletionsByType map[string]int `json:"completions_by_type"`
	EventCount        int            `json:"event_count"`
	OldestEvent       string         `json:"oldest_event,omitempty"`
	NewestEvent       string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_card",
		Description: "Get a card by ID, including its funnel, lifecycle stage, progress and monetary lock.",
	}, s.handleGetCard)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_cards",
		Description: "List cards, optionally filtered by pipeline, lifecycle stage or funnel type.",
	}, s.handleListCards)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_card_history",
		Description: "Return the analysis history of a card, oldest first.",
	}, s.handleGetHistory)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "analyze_card",
		Description: "Classify a conversation and apply the result to the card: stage, monetary lock, rules and movement.",
	}, s.handleAnalyzeCard)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "force_stage",
		Description: "Set a card's lifecycle stage manually. The stage must exist in the card's funnel.",
	}, s.handleForceStage)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "move_card",
		Description: "Move a card to another column of its pipeline.",
	}, s.handleMoveCard)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get engine metrics from the event log: analyses, stage changes, moves, completions and locks.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (unmatched stage spikes, stale cards, history failures, monetary locks).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleGetCard(ctx context.Context, _ *gomcp.CallToolRequest, input cardInput) (*gomcp.CallToolResult, cardOutput, error) {
	if input.CardID == "" {
		return errorResult("card_id is required"), cardOutput{}, nil
	}
	card, err := s.deps.Cards.GetCard(ctx, input.CardID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting card %s: %s", input.CardID, err)), cardOutput{}, nil
	}
	return nil, cardToOutput(card), nil
}

func (s *Server) handleListCards(ctx context.Context, _ *gomcp.CallToolRequest, input listCardsInput) (*gomcp.CallToolResult, listCardsOutput, error) {
	cards, err := s.deps.Cards.ListCards(ctx, input.PipelineID)
	if err != nil {
		return errorResult(fmt.Sprintf("listing cards: %s", err)), listCardsOutput{}, nil
	}

	out := listCardsOutput{Cards: []cardOutput{}}
	for _, c := range cards {
		if input.Stage != "" && c.LifecycleStage != input.Stage {
			continue
		}
		if input.FunnelType != "" && c.FunnelType != input.FunnelType {
			continue
		}
		out.Cards = append(out.Cards, cardToOutput(c))
	}
	out.Count = len(out.Cards)
	return nil, out, nil
}

func (s *Server) handleGetHistory(ctx context.Context, _ *gomcp.CallToolRequest, input cardInput) (*gomcp.CallToolResult, historyOutput, error) {
	if input.CardID == "" {
		return errorResult("card_id is required"), historyOutput{}, nil
	}
	if s.deps.History == nil {
		return errorResult("analysis history not available"), historyOutput{}, nil
	}
	entries, err := s.deps.History.ListHistory(ctx, input.CardID)
	if err != nil {
		return errorResult(fmt.Sprintf("listing history of %s: %s", input.CardID, err)), historyOutput{}, nil
	}

	out := historyOutput{CardID: input.CardID, Entries: make([]historyEntryOutput, len(entries)), Count: len(entries)}
	for i, e := range entries {
		out.Entries[i] = historyEntryOutput{
			ID:               e.ID,
			AnalyzedAt:       e.AnalyzedAt.Format(time.RFC3339),
			Trigger:          string(e.TriggerSource),
			FunnelType:       e.FunnelType,
			FunnelScore:      e.FunnelScore,
			DetectedStage:    e.DetectedStage,
			LifecycleStage:   e.LifecycleStage,
			Progress:         e.LifecycleProgressPercent,
			ResolutionStatus: resolutionString(e.ResolutionStatus),
			MonetaryLocked:   e.IsMonetaryLocked,
			Summary:          e.Summary,
			ModelUsed:        e.ModelUsed,
		}
	}
	return nil, out, nil
}

func (s *Server) handleAnalyzeCard(ctx context.Context, _ *gomcp.CallToolRequest, input analyzeInput) (*gomcp.CallToolResult, analyzeOutput, error) {
	if input.CardID == "" {
		return errorResult("card_id is required"), analyzeOutput{}, nil
	}
	outcome, err := s.deps.Engine.Analyze(ctx, core.AnalyzeRequest{
		CardID:     input.CardID,
		Transcript: input.Transcript,
		Trigger:    models.TriggerManual,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("analyzing card %s: %s", input.CardID, err)), analyzeOutput{}, nil
	}

	out := analyzeOutput{
		Stage:       outcome.Resolution.Stage,
		StageReason: outcome.Resolution.Reason,
		MoveSource:  string(outcome.Decision.Source),
		Moved:       outcome.Moved,
		ToColumnID:  outcome.ToColumnID,
		LockEngaged: outcome.LockEngaged,
		Completed:   outcome.Completed,
		HistoryID:   outcome.HistoryID,
	}
	if outcome.Card != nil {
		out.Card = cardToOutput(outcome.Card)
	}
	return nil, out, nil
}

func (s *Server) handleForceStage(ctx context.Context, _ *gomcp.CallToolRequest, input forceStageInput) (*gomcp.CallToolResult, cardOutput, error) {
	if input.CardID == "" || input.Stage == "" {
		return errorResult("card_id and stage are required"), cardOutput{}, nil
	}
	card, err := s.deps.Engine.ForceStage(ctx, input.CardID, input.Stage)
	if err != nil {
		return errorResult(fmt.Sprintf("setting stage of %s: %s", input.CardID, err)), cardOutput{}, nil
	}
	return nil, cardToOutput(card), nil
}

func (s *Server) handleMoveCard(ctx context.Context, _ *gomcp.CallToolRequest, input moveCardInput) (*gomcp.CallToolResult, cardOutput, error) {
	if input.CardID == "" || input.ColumnID == "" {
		return errorResult("card_id and column_id are required"), cardOutput{}, nil
	}
	card, err := s.deps.Engine.MoveCard(ctx, input.CardID, input.ColumnID)
	if err != nil {
		return errorResult(fmt.Sprintf("moving card %s: %s", input.CardID, err)), cardOutput{}, nil
	}
	return nil, cardToOutput(card), nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.deps.Metrics == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}
	sinceTime, err := ParseSince(sinceStr, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	m, err := s.deps.Metrics.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		CardsAnalyzed:     m.CardsAnalyzed,
		StageChanges:      m.StageChanges,
		StagesUnmatched:   m.StagesUnmatched,
		CardsMoved:        m.CardsMoved,
		CardsCompleted:    m.CardsCompleted,
		MonetaryLocks:     m.MonetaryLocks,
		RulesFired:        m.RulesFired,
		AnalysesByFunnel:  m.AnalysesByFunnel,
		MovesBySource:     m.MovesBySource,
		CompletionsByType: m.CompletionsByType,
		EventCount:        m.EventCount,
	}
	if m.OldestEvent != nil {
		out.OldestEvent = m.OldestEvent.Format(time.RFC3339)
	}
	if m.NewestEvent != nil {
		out.NewestEvent = m.NewestEvent.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.deps.Alerts == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.deps.Alerts.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func cardToOutput(c *models.Card) cardOutput {
	out := cardOutput{
		ID:               c.ID,
		PipelineID:       c.PipelineID,
		ColumnID:         c.ColumnID,
		Title:            c.Title,
		CustomerID:       c.CustomerID,
		Summary:          c.Summary,
		FunnelType:       c.FunnelType,
		FunnelScore:      c.FunnelScore,
		ServiceQuality:   c.ServiceQualityScore,
		LifecycleStage:   c.LifecycleStage,
		Progress:         c.LifecycleProgressPercent,
		ResolutionStatus: resolutionString(c.ResolutionStatus),
		MonetaryLocked:   c.IsMonetaryLocked,
		CustomFields:     c.CustomFields,
		UpdatedAt:        c.UpdatedAt.Format(time.RFC3339),
	}
	if c.Value != nil {
		out.Value, out.HasValue = *c.Value, true
	}
	if c.CompletionType != nil {
		out.CompletionType = string(*c.CompletionType)
	}
	return out
}

func resolutionString(r *models.ResolutionStatus) string {
	if r == nil {
		return ""
	}
	return string(*r)
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		AnalysesByFunnel:  make(map[string]int),
		MovesBySource:     make(map[string]int),
		CompletionsByType: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d", or
// "24h" into the corresponding time before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
