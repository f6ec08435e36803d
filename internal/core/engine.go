package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"go.uber.org/zap"
)

// ApplyRequest carries one classified conversation into the engine.
type ApplyRequest struct {
	CardID             string
	Analysis           *models.AnalysisResult
	Trigger            models.TriggerSource
	ConversationLength int
	ModelUsed          string
}

// AnalyzeRequest asks the engine to classify a transcript and apply the
// result. An empty Transcript falls back to the one stored on the card.
type AnalyzeRequest struct {
	CardID     string
	Transcript string
	Trigger    models.TriggerSource
}

// Outcome describes what one engine run decided and persisted.
type Outcome struct {
	CardID          string          `json:"card_id"`
	Resolution      StageResolution `json:"resolution"`
	FunnelType      string          `json:"funnel_type"`
	Locked          bool            `json:"is_monetary_locked"`
	LockEngaged     bool            `json:"lock_engaged"`
	Decision        MoveDecision    `json:"decision"`
	Moved           bool            `json:"moved"`
	FromColumnID    string          `json:"from_column_id"`
	ToColumnID      string          `json:"to_column_id,omitempty"`
	Completed       bool            `json:"completed"`
	HistoryID       string          `json:"history_id"`
	HistoryRecorded bool            `json:"history_recorded"`
	Card            *models.Card    `json:"card"`
}

// Engine turns classifier output into persisted card state.
type Engine interface {
	Apply(ctx context.Context, req ApplyRequest) (*Outcome, error)
	Analyze(ctx context.Context, req AnalyzeRequest) (*Outcome, error)
	ForceStage(ctx context.Context, cardID, stageName string) (*models.Card, error)
	MoveCard(ctx context.Context, cardID, columnID string) (*models.Card, error)
}

// EngineDeps lists the collaborators of the engine. Cards and Boards are
// required; everything else may be nil.
type EngineDeps struct {
	Cards      CardStore
	Boards     BoardStore
	History    HistoryStore
	Customers  CustomerStore
	Classifier Classifier
	Notifier   RuleNotifier
	Events     EventLogger
	Metrics    EngineMetrics
	Logger     *zap.Logger
	Heuristics HeuristicThresholds
	// Now defaults to time.Now.
	Now func() time.Time
}

type engine struct {
	cards      CardStore
	boards     BoardStore
	customers  CustomerStore
	classifier Classifier
	notifier   RuleNotifier
	events     EventLogger
	metrics    EngineMetrics
	logger     *zap.Logger
	heuristics HeuristicThresholds
	now        func() time.Time
	history    *HistoryRecorder
	serial     *cardSerializer
}

// NewEngine creates an Engine from deps.
func NewEngine(deps EngineDeps) Engine {
	e := &engine{
		cards:      deps.Cards,
		boards:     deps.Boards,
		customers:  deps.Customers,
		classifier: deps.Classifier,
		notifier:   deps.Notifier,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		heuristics: deps.Heuristics,
		now:        deps.Now,
		serial:     newCardSerializer(),
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.history = NewHistoryRecorder(deps.History, deps.Events, e.logger)
	return e
}

// ValidateAnalysis rejects payloads missing a required section.
func ValidateAnalysis(a *models.AnalysisResult) error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: empty payload", ErrMalformedAnalysis)
	case a.FunnelAnalysis == nil:
		return fmt.Errorf("%w: missing funnelAnalysis", ErrMalformedAnalysis)
	case a.ServiceQuality == nil:
		return fmt.Errorf("%w: missing serviceQuality", ErrMalformedAnalysis)
	}
	return nil
}

func (e *engine) Apply(ctx context.Context, req ApplyRequest) (*Outcome, error) {
	start := e.now()
	trigger := req.Trigger
	if trigger == "" {
		trigger = models.TriggerManual
	}

	out, err := e.apply(ctx, req, trigger)
	e.metrics.ObserveAnalysis(string(trigger), resultLabel(err), e.now().Sub(start).Seconds())
	return out, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedAnalysis):
		return "malformed"
	case errors.Is(err, ErrCardNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrentUpdate):
		return "conflict"
	default:
		return "error"
	}
}

func (e *engine) apply(ctx context.Context, req ApplyRequest, trigger models.TriggerSource) (*Outcome, error) {
	if !trigger.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger source %q", ErrMalformedAnalysis, trigger)
	}
	if err := ValidateAnalysis(req.Analysis); err != nil {
		return nil, err
	}
	a := req.Analysis

	release := e.serial.Lock(req.CardID)
	defer release()

	card, board, err := e.load(ctx, req.CardID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	log := e.logger.With(zap.String("card_id", card.ID), zap.String("trigger", string(trigger)))

	nextFunnel := strings.TrimSpace(a.FunnelAnalysis.Type)
	if nextFunnel == "" {
		nextFunnel = card.FunnelType
	}

	res := ResolveStage(a.LifecycleDetection, board.Funnel(nextFunnel))
	if res.Reason == StageReasonUnmatched {
		log.Warn("detected lifecycle stage not configured",
			zap.String("funnel_type", nextFunnel),
			zap.String("stage", res.Detected))
		e.metrics.ObserveStageUnmatched(nextFunnel)
		e.emit(EventCardStageUnmatched, map[string]any{
			"card_id":     card.ID,
			"funnel_type": nextFunnel,
			"stage":       res.Detected,
		})
	}

	prevLock := LockFromCard(card)
	lock := prevLock.Evaluate(card.FunnelType, nextFunnel, board.Funnels, card.Value, now)
	engaged := lock.IsLocked() && !prevLock.IsLocked()

	stage := card.LifecycleStage
	clearResolution := false
	if res.Applied {
		stage = res.Stage
	} else if nextFunnel != card.FunnelType {
		// Stage and progress stay, but the stage only counts for rules and
		// resolution if the new funnel configures it.
		kept := stageInFunnel(board.Funnel(nextFunnel), card.LifecycleStage)
		if kept == nil {
			stage = ""
		}
		clearResolution = card.ResolutionStatus != nil && (kept == nil || !kept.IsTerminal)
		if clearResolution {
			log.Info("clearing resolution of stage not terminal in new funnel",
				zap.String("previous_funnel", card.FunnelType),
				zap.String("funnel_type", nextFunnel),
				zap.String("stage", card.LifecycleStage))
		}
	}
	decision := Arbitrate(ArbitrationInput{
		Board:           board,
		Analysis:        a,
		FunnelType:      nextFunnel,
		Stage:           stage,
		CurrentColumnID: card.ColumnID,
		Heuristics:      e.heuristics,
	}, log)

	entry := BuildHistoryEntry(HistoryInput{
		Card:               card,
		Analysis:           a,
		Resolution:         res,
		Locked:             lock.IsLocked(),
		Trigger:            trigger,
		ConversationLength: req.ConversationLength,
		ModelUsed:          req.ModelUsed,
		AnalyzedAt:         now,
	})
	recorded := e.history.Record(ctx, entry)

	update := buildCardUpdate(card, a, nextFunnel, res, lock, decision, now)
	if clearResolution {
		update.SetResolution = true
		update.ResolutionStatus = nil
	}
	if err := e.cards.UpdateCard(ctx, card.ID, card.UpdatedAt, update); err != nil {
		return nil, fmt.Errorf("updating card %s: %w", card.ID, err)
	}

	prev := *card
	update.Apply(card)

	out := &Outcome{
		CardID:          card.ID,
		Resolution:      res,
		FunnelType:      nextFunnel,
		Locked:          lock.IsLocked(),
		LockEngaged:     engaged,
		Decision:        decision,
		FromColumnID:    prev.ColumnID,
		Completed:       decision.Completion != nil,
		HistoryID:       entry.ID,
		HistoryRecorded: recorded,
		Card:            card,
	}
	if decision.ShouldMove(prev.ColumnID) {
		out.Moved = true
		out.ToColumnID = decision.ColumnID
	}

	e.afterApply(ctx, log, &prev, card, out)
	return out, nil
}

// buildCardUpdate translates one run's decisions into the fields to persist.
func buildCardUpdate(card *models.Card, a *models.AnalysisResult, funnelType string, res StageResolution, lock MonetaryLock, d MoveDecision, now time.Time) models.CardUpdate {
	u := models.CardUpdate{
		FunnelType:          strPtr(funnelType),
		FunnelScore:         floatPtr(a.FunnelAnalysis.Score),
		ServiceQualityScore: floatPtr(a.ServiceQuality.Score),
		LastActivityAt:      &now,
		UpdatedAt:           now,
	}
	if s := strings.TrimSpace(a.Summary); s != "" {
		u.Summary = strPtr(a.Summary)
	}
	if a.Subject != "" {
		u.Subject = strPtr(a.Subject)
	}
	if a.ProductItem != "" {
		u.ProductItem = strPtr(a.ProductItem)
	}
	// A locked card keeps the value it had when it left the monetary funnel.
	if a.Value != nil && !lock.IsLocked() {
		u.Value = floatPtr(*a.Value)
	}
	if len(a.CustomFields) > 0 {
		u.CustomFields = mergeSnapshot(card.CustomFields, a.CustomFields)
	}
	if len(a.LeadData) > 0 {
		u.LeadData = mergeSnapshot(card.LeadData, a.LeadData)
	}

	if res.Applied {
		u.LifecycleStage = strPtr(res.Stage)
		p := clampPercent(res.ProgressPercent)
		u.LifecycleProgressPercent = &p
		u.SetResolution = true
		u.ResolutionStatus = res.ResolutionStatus
	}

	if lock.IsLocked() && !card.IsMonetaryLocked {
		locked := true
		u.IsMonetaryLocked = &locked
		u.MonetaryLockedAt = lock.Since()
	}

	if d.ShouldMove(card.ColumnID) {
		u.ColumnID = strPtr(d.ColumnID)
	}
	if c := d.Completion; c != nil {
		ct := c.Type
		u.CompletionType = &ct
		u.CompletionReason = strPtr(c.Reason)
		u.CompletedAt = &now
	}
	return u
}

func (e *engine) afterApply(ctx context.Context, log *zap.Logger, prev, card *models.Card, out *Outcome) {
	d := out.Decision
	e.emit(EventCardAnalyzed, map[string]any{
		"card_id":     card.ID,
		"funnel_type": out.FunnelType,
		"stage":       card.LifecycleStage,
		"progress":    card.LifecycleProgressPercent,
		"source":      string(d.Source),
	})

	if out.Resolution.Applied && prev.LifecycleStage != card.LifecycleStage {
		e.emit(EventCardStageChanged, map[string]any{
			"card_id":    card.ID,
			"old_stage":  prev.LifecycleStage,
			"new_stage":  card.LifecycleStage,
			"progress":   card.LifecycleProgressPercent,
			"resolution": resolutionString(card.ResolutionStatus),
		})
	}

	if out.LockEngaged {
		log.Info("monetary lock engaged",
			zap.String("previous_funnel", prev.FunnelType),
			zap.String("funnel_type", out.FunnelType))
		e.metrics.ObserveMonetaryLock()
		e.emit(EventCardMonetaryLocked, map[string]any{
			"card_id":         card.ID,
			"previous_funnel": prev.FunnelType,
			"funnel_type":     out.FunnelType,
			"value":           floatValue(card.Value),
		})
	}

	if d.Source == SourceMovementRule || d.Source == SourceMoveRule {
		e.emit(EventRuleFired, map[string]any{
			"card_id":   card.ID,
			"rule_id":   d.RuleID,
			"rule_name": d.RuleName,
			"source":    string(d.Source),
		})
	}

	if out.Moved {
		log.Debug("moving card",
			zap.String("from", out.FromColumnID),
			zap.String("to", out.ToColumnID),
			zap.String("source", string(d.Source)))
		e.metrics.ObserveMove(string(d.Source))
		e.emit(EventCardMoved, map[string]any{
			"card_id": card.ID,
			"from":    out.FromColumnID,
			"to":      out.ToColumnID,
			"source":  string(d.Source),
			"reason":  d.Reason,
		})
	}

	if c := d.Completion; c != nil {
		e.emit(EventCardCompleted, map[string]any{
			"card_id":         card.ID,
			"completion_type": string(c.Type),
			"reason":          c.Reason,
		})
		if card.CustomerID != "" && e.customers != nil {
			if err := e.customers.IncrementCustomerCounter(ctx, card.CustomerID, c.Type); err != nil {
				log.Error("updating customer profile",
					zap.String("customer_id", card.CustomerID), zap.Error(err))
			}
		}
	}

	if d.Notify && e.notifier != nil {
		msg := fmt.Sprintf("Rule %q fired for card %q", d.RuleName, card.Title)
		if out.Moved {
			msg += fmt.Sprintf(" (moved to column %s)", out.ToColumnID)
		}
		if err := e.notifier.NotifyRule(ctx, card.ID, d.RuleName, msg); err != nil {
			log.Warn("sending rule notification", zap.String("rule_id", d.RuleID), zap.Error(err))
		}
	}
}

func (e *engine) Analyze(ctx context.Context, req AnalyzeRequest) (*Outcome, error) {
	if e.classifier == nil {
		return nil, errors.New("no classifier configured")
	}
	card, board, err := e.load(ctx, req.CardID)
	if err != nil {
		return nil, err
	}
	transcript := req.Transcript
	if strings.TrimSpace(transcript) == "" {
		transcript = card.Transcript
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("card %s has no conversation to analyze", card.ID)
	}

	analysis, model, err := e.classifier.Classify(ctx, transcript, board.Funnels)
	if err != nil {
		return nil, fmt.Errorf("classifying conversation for card %s: %w", card.ID, err)
	}
	return e.Apply(ctx, ApplyRequest{
		CardID:             card.ID,
		Analysis:           analysis,
		Trigger:            req.Trigger,
		ConversationLength: len(transcript),
		ModelUsed:          model,
	})
}

// ForceStage sets a card's stage by name, as a human would from the board.
// The monetary lock is never touched. A declarative movement rule for the
// new stage still moves the card.
func (e *engine) ForceStage(ctx context.Context, cardID, stageName string) (*models.Card, error) {
	release := e.serial.Lock(cardID)
	defer release()

	card, board, err := e.load(ctx, cardID)
	if err != nil {
		return nil, err
	}
	funnel := board.Funnel(card.FunnelType)
	if funnel == nil {
		return nil, fmt.Errorf("%w: card %s has no configured funnel", ErrStageNotFound, cardID)
	}
	stage := findStageFold(funnel.Stages, strings.TrimSpace(stageName))
	if stage == nil {
		return nil, fmt.Errorf("%w: %q in funnel %s", ErrStageNotFound, stageName, funnel.FunnelType)
	}

	now := e.now().UTC()
	progress := clampPercent(stage.ProgressPercent)
	u := models.CardUpdate{
		LifecycleStage:           strPtr(stage.StageName),
		LifecycleProgressPercent: &progress,
		SetResolution:            true,
		ResolutionStatus:         terminalResolution(stage),
		LastActivityAt:           &now,
		UpdatedAt:                now,
	}
	match, moved := EvaluateMovementRules(board, funnel.FunnelType, stage.StageName, e.logger)
	moved = moved && match.ColumnID != card.ColumnID
	if moved {
		u.ColumnID = strPtr(match.ColumnID)
	}

	if err := e.cards.UpdateCard(ctx, card.ID, card.UpdatedAt, u); err != nil {
		return nil, fmt.Errorf("updating card %s: %w", card.ID, err)
	}
	prev := *card
	u.Apply(card)

	e.emit(EventCardStageChanged, map[string]any{
		"card_id":    card.ID,
		"old_stage":  prev.LifecycleStage,
		"new_stage":  card.LifecycleStage,
		"progress":   card.LifecycleProgressPercent,
		"resolution": resolutionString(card.ResolutionStatus),
		"manual":     true,
	})
	if moved {
		e.metrics.ObserveMove(string(SourceMovementRule))
		e.emit(EventCardMoved, map[string]any{
			"card_id": card.ID,
			"from":    prev.ColumnID,
			"to":      card.ColumnID,
			"source":  string(SourceMovementRule),
		})
	}
	return card, nil
}

// MoveCard moves a card to a column of its own pipeline.
func (e *engine) MoveCard(ctx context.Context, cardID, columnID string) (*models.Card, error) {
	release := e.serial.Lock(cardID)
	defer release()

	card, board, err := e.load(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if board.ColumnByID(columnID) == nil {
		return nil, fmt.Errorf("%w: %s in pipeline %s", ErrColumnNotFound, columnID, card.PipelineID)
	}
	if card.ColumnID == columnID {
		return card, nil
	}

	now := e.now().UTC()
	u := models.CardUpdate{ColumnID: strPtr(columnID), LastActivityAt: &now, UpdatedAt: now}
	if err := e.cards.UpdateCard(ctx, card.ID, card.UpdatedAt, u); err != nil {
		return nil, fmt.Errorf("updating card %s: %w", card.ID, err)
	}
	from := card.ColumnID
	u.Apply(card)

	e.metrics.ObserveMove("manual")
	e.emit(EventCardMoved, map[string]any{
		"card_id": card.ID,
		"from":    from,
		"to":      columnID,
		"source":  "manual",
	})
	return card, nil
}

func (e *engine) load(ctx context.Context, cardID string) (*models.Card, *models.Board, error) {
	card, err := e.cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading card %s: %w", cardID, err)
	}
	board, err := e.boards.LoadBoard(ctx, card.PipelineID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading board %s: %w", card.PipelineID, err)
	}
	return card, board, nil
}

func (e *engine) emit(eventType string, data map[string]any) {
	if e.events == nil {
		return
	}
	if err := e.events.LogEvent(eventType, data); err != nil {
		e.logger.Debug("writing event", zap.String("type", eventType), zap.Error(err))
	}
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func floatValue(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func resolutionString(r *models.ResolutionStatus) string {
	if r == nil {
		return ""
	}
	return string(*r)
}
