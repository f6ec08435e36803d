package models

import (
	"strings"
	"time"
)

// Column is one lane of a pipeline's board. Position is zero-based.
type Column struct {
	ID         string `json:"id" yaml:"id"`
	PipelineID string `json:"pipeline_id" yaml:"pipeline_id"`
	Name       string `json:"name" yaml:"name"`
	Position   int    `json:"position" yaml:"position"`
}

// LifecycleStage is one configured stage of a funnel.
type LifecycleStage struct {
	StageName        string            `json:"stage_name" yaml:"stage_name"`
	ProgressPercent  int               `json:"progress_percent" yaml:"progress_percent"`
	IsInitial        bool              `json:"is_initial" yaml:"is_initial"`
	IsTerminal       bool              `json:"is_terminal" yaml:"is_terminal"`
	ResolutionStatus *ResolutionStatus `json:"resolution_status,omitempty" yaml:"resolution_status,omitempty"`
}

// FunnelConfig describes one funnel type of a pipeline: whether it carries
// monetary value and which lifecycle stages it moves through.
type FunnelConfig struct {
	PipelineID  string           `json:"pipeline_id" yaml:"pipeline_id"`
	FunnelType  string           `json:"funnel_type" yaml:"funnel_type"`
	DisplayName string           `json:"display_name" yaml:"display_name"`
	IsMonetary  bool             `json:"is_monetary" yaml:"is_monetary"`
	Stages      []LifecycleStage `json:"stages" yaml:"stages"`
}

// MovementRule is a declarative per-funnel rule that moves a card to a named
// column when it reaches a lifecycle stage. A nil WhenLifecycleStage matches
// any stage.
type MovementRule struct {
	ID                 string    `json:"id" yaml:"id"`
	PipelineID         string    `json:"pipeline_id" yaml:"pipeline_id"`
	FunnelType         string    `json:"funnel_type" yaml:"funnel_type"`
	WhenLifecycleStage *string   `json:"when_lifecycle_stage,omitempty" yaml:"when_lifecycle_stage,omitempty"`
	MoveToColumnName   string    `json:"move_to_column_name" yaml:"move_to_column_name"`
	IsActive           bool      `json:"is_active" yaml:"is_active"`
	Priority           int       `json:"priority" yaml:"priority"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
}

// Board is the read-only configuration the engine needs for one pipeline.
type Board struct {
	PipelineID    string         `json:"pipeline_id" yaml:"pipeline_id"`
	Columns       []Column       `json:"columns" yaml:"columns"`
	Funnels       []FunnelConfig `json:"funnels" yaml:"funnels"`
	MovementRules []MovementRule `json:"movement_rules" yaml:"movement_rules"`
	MoveRules     []MoveRule     `json:"move_rules" yaml:"move_rules"`
}

// Funnel returns the configuration for funnelType, or nil when the pipeline
// has none.
func (b *Board) Funnel(funnelType string) *FunnelConfig {
	if b == nil || funnelType == "" {
		return nil
	}
	for i := range b.Funnels {
		if b.Funnels[i].FunnelType == funnelType {
			return &b.Funnels[i]
		}
	}
	return nil
}

// ColumnByID returns the column with the given id, or nil.
func (b *Board) ColumnByID(id string) *Column {
	if b == nil {
		return nil
	}
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return &b.Columns[i]
		}
	}
	return nil
}

// ColumnByName returns the first column whose name equals name exactly.
func (b *Board) ColumnByName(name string) *Column {
	if b == nil {
		return nil
	}
	for i := range b.Columns {
		if b.Columns[i].Name == name {
			return &b.Columns[i]
		}
	}
	return nil
}

// ColumnByNameFold returns the first column whose name case-insensitively
// equals any of names.
func (b *Board) ColumnByNameFold(names ...string) *Column {
	if b == nil {
		return nil
	}
	for i := range b.Columns {
		colName := strings.TrimSpace(b.Columns[i].Name)
		for _, n := range names {
			if strings.EqualFold(colName, n) {
				return &b.Columns[i]
			}
		}
	}
	return nil
}

// IndexOf returns the index of columnID within Columns, or -1.
func (b *Board) IndexOf(columnID string) int {
	if b == nil {
		return -1
	}
	for i := range b.Columns {
		if b.Columns[i].ID == columnID {
			return i
		}
	}
	return -1
}
