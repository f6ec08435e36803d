package core

import (
	"strings"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// Reasons reported by ResolveStage.
const (
	StageReasonNoDetection = "no_detection"
	StageReasonNoStages    = "no_stages"
	StageReasonEmptyStage  = "empty_stage"
	StageReasonUnmatched   = "unmatched"
	StageReasonMatched     = "matched"
)

// StageResolution is the outcome of mapping a detected stage onto a funnel.
// When Applied is false the card's stage, progress and resolution must be
// left as they are.
type StageResolution struct {
	Applied          bool                     `json:"applied"`
	Stage            string                   `json:"stage,omitempty"`
	ProgressPercent  int                      `json:"progress_percent"`
	ResolutionStatus *models.ResolutionStatus `json:"resolution_status,omitempty"`
	Reason           string                   `json:"reason"`
	Detected         string                   `json:"detected,omitempty"`
}

// ResolveStage maps the classifier's stage guess onto the funnel's configured
// stages. Names are compared case-insensitively after trimming; there is no
// fuzzy matching, so an unknown name resolves to a no-op.
func ResolveStage(detection *models.LifecycleDetection, funnel *models.FunnelConfig) StageResolution {
	if detection == nil {
		return StageResolution{Reason: StageReasonNoDetection}
	}
	detected := strings.TrimSpace(detection.CurrentStage)
	if funnel == nil || len(funnel.Stages) == 0 {
		return StageResolution{Reason: StageReasonNoStages, Detected: detected}
	}
	if detected == "" {
		return StageResolution{Reason: StageReasonEmptyStage}
	}

	stage := findStageFold(funnel.Stages, detected)
	if stage == nil {
		return StageResolution{Reason: StageReasonUnmatched, Detected: detected}
	}

	res := StageResolution{
		Applied:         true,
		Stage:           stage.StageName,
		ProgressPercent: clampPercent(stage.ProgressPercent),
		Reason:          StageReasonMatched,
		Detected:        detected,
	}
	if est := detection.ProgressEstimate; est != nil && *est >= 0 && *est <= 100 {
		res.ProgressPercent = int(*est + 0.5)
	}
	res.ResolutionStatus = terminalResolution(stage)
	return res
}

// terminalResolution returns the resolution a stage implies: its configured
// value when terminal (defaulting to resolved) and nil otherwise.
func terminalResolution(stage *models.LifecycleStage) *models.ResolutionStatus {
	if !stage.IsTerminal {
		return nil
	}
	status := models.ResolutionResolved
	if stage.ResolutionStatus != nil && *stage.ResolutionStatus != "" {
		status = *stage.ResolutionStatus
	}
	return &status
}

func findStageFold(stages []models.LifecycleStage, name string) *models.LifecycleStage {
	for i := range stages {
		if strings.EqualFold(strings.TrimSpace(stages[i].StageName), name) {
			return &stages[i]
		}
	}
	return nil
}

// stageInFunnel looks up stage in funnel, returning nil when either is absent.
func stageInFunnel(funnel *models.FunnelConfig, stage string) *models.LifecycleStage {
	if funnel == nil || strings.TrimSpace(stage) == "" {
		return nil
	}
	return findStageFold(funnel.Stages, strings.TrimSpace(stage))
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
