package core

import (
	"context"
	"crypto/rand"
	"fmt"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"go.uber.org/zap"
)

// HistoryInput is everything that goes into one history snapshot.
type HistoryInput struct {
	Card               *models.Card
	Analysis           *models.AnalysisResult
	Resolution         StageResolution
	Locked             bool
	Trigger            models.TriggerSource
	ConversationLength int
	ModelUsed          string
	AnalyzedAt         time.Time
}

// NewHistoryID returns a ULID so history rows sort by analysis time.
func NewHistoryID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// BuildHistoryEntry assembles the immutable snapshot for one analysis. The
// custom-field and lead-data snapshots are deep copies: the analysis values
// merged over the card's stored values.
func BuildHistoryEntry(in HistoryInput) models.HistoryEntry {
	a := in.Analysis
	c := in.Card
	if c == nil {
		c = &models.Card{}
	}

	e := models.HistoryEntry{
		ID:                   NewHistoryID(in.AnalyzedAt),
		CardID:               c.ID,
		Summary:              a.Summary,
		IsMonetaryLocked:     in.Locked,
		Subject:              a.Subject,
		ProductItem:          a.ProductItem,
		ConversationStatus:   a.ConversationStatus,
		WinConfirmation:      a.WinConfirmation,
		LossReason:           a.LossReason,
		CustomFieldsSnapshot: mergeSnapshot(c.CustomFields, a.CustomFields),
		LeadDataSnapshot:     mergeSnapshot(c.LeadData, a.LeadData),
		TriggerSource:        in.Trigger,
		ConversationLength:   in.ConversationLength,
		ModelUsed:            in.ModelUsed,
		AnalyzedAt:           in.AnalyzedAt.UTC(),
	}
	if a.FunnelAnalysis != nil {
		e.FunnelType = a.FunnelAnalysis.Type
		e.FunnelScore = a.FunnelAnalysis.Score
	}
	if a.ServiceQuality != nil {
		e.ServiceQualityScore = a.ServiceQuality.Score
		e.ServiceQualitySuggestions = append([]string(nil), a.ServiceQuality.Suggestions...)
	}
	if d := a.LifecycleDetection; d != nil {
		e.DetectedStage = d.CurrentStage
		e.StageReasoning = d.Reasoning
		e.DetectedIsTerminal = d.IsTerminal
		if d.ProgressEstimate != nil {
			v := *d.ProgressEstimate
			e.ProgressEstimate = &v
		}
	}
	if a.Value != nil {
		v := *a.Value
		e.Value = &v
	} else if c.Value != nil {
		v := *c.Value
		e.Value = &v
	}

	if in.Resolution.Applied {
		e.LifecycleStage = in.Resolution.Stage
		e.LifecycleProgressPercent = in.Resolution.ProgressPercent
		e.ResolutionStatus = copyResolution(in.Resolution.ResolutionStatus)
	} else {
		e.LifecycleStage = c.LifecycleStage
		e.LifecycleProgressPercent = c.LifecycleProgressPercent
		e.ResolutionStatus = copyResolution(c.ResolutionStatus)
	}
	return e
}

func copyResolution(r *models.ResolutionStatus) *models.ResolutionStatus {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

// mergeSnapshot deep-copies base and overlays update on top of it. The
// result is never nil so that every entry renders without lookups.
func mergeSnapshot(base, update map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		out[k] = deepCopyValue(v)
	}
	for k, v := range update {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, inner := range x {
			m[k] = deepCopyValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, inner := range x {
			s[i] = deepCopyValue(inner)
		}
		return s
	case []string:
		return append([]string(nil), x...)
	case map[string]string:
		return maps.Clone(x)
	default:
		return v
	}
}

// HistoryRecorder writes snapshots on a best-effort basis: failures are
// logged and reported to the event log but never block the card update.
type HistoryRecorder struct {
	store  HistoryStore
	events EventLogger
	logger *zap.Logger
}

// NewHistoryRecorder creates a recorder. events may be nil.
func NewHistoryRecorder(store HistoryStore, events EventLogger, logger *zap.Logger) *HistoryRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRecorder{store: store, events: events, logger: logger}
}

// Record appends entry and reports whether the write succeeded.
func (r *HistoryRecorder) Record(ctx context.Context, entry models.HistoryEntry) bool {
	if r == nil || r.store == nil {
		return false
	}
	if err := r.store.AppendHistory(ctx, entry); err != nil {
		r.logger.Error("writing analysis history",
			zap.String("card_id", entry.CardID),
			zap.String("history_id", entry.ID),
			zap.Error(err))
		if r.events != nil {
			_ = r.events.LogEvent(EventHistoryWriteFailed, map[string]any{
				"card_id": entry.CardID,
				"error":   fmt.Sprint(err),
			})
		}
		return false
	}
	return true
}
