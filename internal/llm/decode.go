package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// ErrUnreadableResponse is returned when the model output cannot be decoded
// into an analysis, even after repair.
var ErrUnreadableResponse = errors.New("unreadable classifier response")

// DecodeAnalysis parses raw model output into an analysis. Markdown code
// fences are stripped and malformed JSON is repaired before giving up.
func DecodeAnalysis(raw string) (*models.AnalysisResult, error) {
	raw = stripFences(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty output", ErrUnreadableResponse)
	}

	var a models.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableResponse, err)
		}
		a = models.AnalysisResult{}
		if err := json.Unmarshal([]byte(fixed), &a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableResponse, err)
		}
	}
	return &a, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
