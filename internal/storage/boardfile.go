package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"gopkg.in/yaml.v3"
)

// BoardFile is the YAML document used to import and export pipelines
// together with their cards and customers.
type BoardFile struct {
	Version   string                   `yaml:"version"`
	Pipelines []models.Board           `yaml:"pipelines"`
	Cards     []models.Card            `yaml:"cards,omitempty"`
	Customers []models.CustomerProfile `yaml:"customers,omitempty"`
}

// LoadBoardFile reads and normalizes a board file.
func LoadBoardFile(path string, now time.Time) (*BoardFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading board file: %w", err)
	}
	var bf BoardFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("loading board file: parsing YAML: %w", err)
	}
	if bf.Version == "" {
		bf.Version = "1.0"
	}
	for i := range bf.Pipelines {
		if bf.Pipelines[i].PipelineID == "" {
			return nil, fmt.Errorf("loading board file: pipeline %d has no pipeline_id", i+1)
		}
		NormalizeBoard(&bf.Pipelines[i], now)
	}
	return &bf, nil
}

// SaveBoardFile writes bf as YAML.
func SaveBoardFile(path string, bf *BoardFile) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("saving board file: creating directory: %w", err)
		}
	}
	data, err := yaml.Marshal(bf)
	if err != nil {
		return fmt.Errorf("saving board file: marshaling YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("saving board file: writing file: %w", err)
	}
	return nil
}

// NormalizeBoard fills in what hand-written board files usually omit:
// pipeline ids on children, column positions, rule ids, and creation times
// that preserve the order rules were written in.
func NormalizeBoard(b *models.Board, now time.Time) {
	positioned := false
	for _, c := range b.Columns {
		if c.Position != 0 {
			positioned = true
			break
		}
	}
	for i := range b.Columns {
		b.Columns[i].PipelineID = b.PipelineID
		if !positioned {
			b.Columns[i].Position = i
		}
	}
	sort.SliceStable(b.Columns, func(i, j int) bool { return b.Columns[i].Position < b.Columns[j].Position })

	for i := range b.Funnels {
		b.Funnels[i].PipelineID = b.PipelineID
	}

	for i := range b.MovementRules {
		r := &b.MovementRules[i]
		r.PipelineID = b.PipelineID
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now.UTC().Add(time.Duration(i) * time.Millisecond)
		}
	}

	for i := range b.MoveRules {
		if b.MoveRules[i].ID == "" {
			b.MoveRules[i].ID = uuid.NewString()
		}
	}
}
