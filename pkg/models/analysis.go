package models

import "time"

// TriggerSource identifies what caused an analysis to run.
type TriggerSource string

const (
	TriggerManual  TriggerSource = "manual"
	TriggerMessage TriggerSource = "message"
	TriggerClose   TriggerSource = "close"
	TriggerCron    TriggerSource = "cron"
)

// Valid reports whether t is a known trigger source.
func (t TriggerSource) Valid() bool {
	switch t {
	case TriggerManual, TriggerMessage, TriggerClose, TriggerCron:
		return true
	}
	return false
}

// FunnelAnalysis is the classifier's funnel verdict.
type FunnelAnalysis struct {
	Score float64 `json:"score"`
	Type  string  `json:"type"`
}

// ServiceQuality is the classifier's service-quality verdict.
type ServiceQuality struct {
	Score       float64  `json:"score"`
	Suggestions []string `json:"suggestions"`
}

// LifecycleDetection is the classifier's free-text guess of the card's
// current lifecycle stage.
type LifecycleDetection struct {
	CurrentStage     string   `json:"currentStage"`
	Reasoning        string   `json:"reasoning,omitempty"`
	ProgressEstimate *float64 `json:"progressEstimate,omitempty"`
	IsTerminal       bool     `json:"isTerminal"`
}

// AnalysisResult is the structured object returned by the classifier for one
// conversation. FunnelAnalysis and ServiceQuality are required.
type AnalysisResult struct {
	Summary            string              `json:"summary"`
	FunnelAnalysis     *FunnelAnalysis     `json:"funnelAnalysis"`
	ServiceQuality     *ServiceQuality     `json:"serviceQuality"`
	LifecycleDetection *LifecycleDetection `json:"lifecycleDetection,omitempty"`
	LeadData           map[string]any      `json:"leadData,omitempty"`
	CustomFields       map[string]any      `json:"customFields,omitempty"`
	Subject            string              `json:"subject,omitempty"`
	ProductItem        string              `json:"productItem,omitempty"`
	Value              *float64            `json:"value,omitempty"`
	ConversationStatus string              `json:"conversationStatus,omitempty"`
	WinConfirmation    string              `json:"winConfirmation,omitempty"`
	LossReason         string              `json:"lossReason,omitempty"`
}

// HistoryEntry is an immutable snapshot of one analysis of one card. Every
// entry carries everything needed to diff it against its predecessor.
type HistoryEntry struct {
	ID     string `json:"id"`
	CardID string `json:"card_id"`

	Summary                   string   `json:"summary"`
	FunnelType                string   `json:"funnel_type"`
	FunnelScore               float64  `json:"funnel_score"`
	ServiceQualityScore       float64  `json:"service_quality_score"`
	ServiceQualitySuggestions []string `json:"service_quality_suggestions,omitempty"`

	DetectedStage      string   `json:"detected_stage,omitempty"`
	StageReasoning     string   `json:"stage_reasoning,omitempty"`
	ProgressEstimate   *float64 `json:"progress_estimate,omitempty"`
	DetectedIsTerminal bool     `json:"detected_is_terminal"`

	LifecycleStage           string            `json:"lifecycle_stage,omitempty"`
	LifecycleProgressPercent int               `json:"lifecycle_progress_percent"`
	ResolutionStatus         *ResolutionStatus `json:"resolution_status,omitempty"`
	IsMonetaryLocked         bool              `json:"is_monetary_locked"`

	Subject            string   `json:"subject,omitempty"`
	ProductItem        string   `json:"product_item,omitempty"`
	Value              *float64 `json:"value,omitempty"`
	ConversationStatus string   `json:"conversation_status,omitempty"`
	WinConfirmation    string   `json:"win_confirmation,omitempty"`
	LossReason         string   `json:"loss_reason,omitempty"`

	CustomFieldsSnapshot map[string]any `json:"custom_fields_snapshot"`
	LeadDataSnapshot     map[string]any `json:"lead_data_snapshot"`

	TriggerSource      TriggerSource `json:"trigger_source"`
	ConversationLength int           `json:"conversation_length"`
	ModelUsed          string        `json:"model_used"`
	AnalyzedAt         time.Time     `json:"analyzed_at"`
}
