package models

import "time"

// ResolutionStatus is the outcome recorded when a card reaches a terminal
// lifecycle stage.
type ResolutionStatus string

const (
	ResolutionWon        ResolutionStatus = "won"
	ResolutionLost       ResolutionStatus = "lost"
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionUnresolved ResolutionStatus = "unresolved"
)

// Valid reports whether r is one of the known resolution statuses.
func (r ResolutionStatus) Valid() bool {
	switch r {
	case ResolutionWon, ResolutionLost, ResolutionResolved, ResolutionUnresolved:
		return true
	}
	return false
}

// CompletionType describes how a card was completed by a complete_card action.
type CompletionType string

const (
	CompletionWon       CompletionType = "won"
	CompletionLost      CompletionType = "lost"
	CompletionCompleted CompletionType = "completed"
)

// Card represents a unit of sales or support work tracked on a board. Its
// lifecycle fields are written by the analysis engine and by manual stage
// changes.
type Card struct {
	ID          string `json:"id" yaml:"id"`
	PipelineID  string `json:"pipeline_id" yaml:"pipeline_id"`
	ColumnID    string `json:"column_id" yaml:"column_id"`
	Title       string `json:"title" yaml:"title"`
	CustomerID  string `json:"customer_id,omitempty" yaml:"customer_id,omitempty"`
	Transcript  string `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Summary     string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Subject     string `json:"subject,omitempty" yaml:"subject,omitempty"`
	ProductItem string `json:"product_item,omitempty" yaml:"product_item,omitempty"`

	FunnelType          string  `json:"funnel_type,omitempty" yaml:"funnel_type,omitempty"`
	FunnelScore         float64 `json:"funnel_score" yaml:"funnel_score"`
	ServiceQualityScore float64 `json:"service_quality_score" yaml:"service_quality_score"`

	LifecycleStage           string            `json:"lifecycle_stage,omitempty" yaml:"lifecycle_stage,omitempty"`
	LifecycleProgressPercent int               `json:"lifecycle_progress_percent" yaml:"lifecycle_progress_percent"`
	ResolutionStatus         *ResolutionStatus `json:"resolution_status,omitempty" yaml:"resolution_status,omitempty"`

	Value            *float64   `json:"value,omitempty" yaml:"value,omitempty"`
	IsMonetaryLocked bool       `json:"is_monetary_locked" yaml:"is_monetary_locked"`
	MonetaryLockedAt *time.Time `json:"monetary_locked_at,omitempty" yaml:"monetary_locked_at,omitempty"`

	CustomFields map[string]any `json:"custom_fields,omitempty" yaml:"custom_fields,omitempty"`
	LeadData     map[string]any `json:"lead_data,omitempty" yaml:"lead_data,omitempty"`

	CompletionType   *CompletionType `json:"completion_type,omitempty" yaml:"completion_type,omitempty"`
	CompletionReason string          `json:"completion_reason,omitempty" yaml:"completion_reason,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"updated_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty" yaml:"last_activity_at,omitempty"`
}

// CardUpdate is the partial set of card fields produced by one engine run.
// Nil pointers leave the stored value untouched.
type CardUpdate struct {
	FunnelType          *string
	FunnelScore         *float64
	ServiceQualityScore *float64
	Summary             *string
	Subject             *string
	ProductItem         *string
	Value               *float64

	LifecycleStage           *string
	LifecycleProgressPercent *int
	// ResolutionStatus is applied whenever SetResolution is true, so that a
	// move to a non-terminal stage can clear it.
	SetResolution    bool
	ResolutionStatus *ResolutionStatus

	IsMonetaryLocked *bool
	MonetaryLockedAt *time.Time

	CustomFields map[string]any
	LeadData     map[string]any

	CompletionType   *CompletionType
	CompletionReason *string
	CompletedAt      *time.Time

	ColumnID       *string
	LastActivityAt *time.Time
	UpdatedAt      time.Time
}

// Apply copies every set field of u onto c. It is used by in-memory stores
// and tests; the SQLite store translates the same update into SQL.
func (u CardUpdate) Apply(c *Card) {
	if u.FunnelType != nil {
		c.FunnelType = *u.FunnelType
	}
	if u.FunnelScore != nil {
		c.FunnelScore = *u.FunnelScore
	}
	if u.ServiceQualityScore != nil {
		c.ServiceQualityScore = *u.ServiceQualityScore
	}
	if u.Summary != nil {
		c.Summary = *u.Summary
	}
	if u.Subject != nil {
		c.Subject = *u.Subject
	}
	if u.ProductItem != nil {
		c.ProductItem = *u.ProductItem
	}
	if u.Value != nil {
		v := *u.Value
		c.Value = &v
	}
	if u.LifecycleStage != nil {
		c.LifecycleStage = *u.LifecycleStage
	}
	if u.LifecycleProgressPercent != nil {
		c.LifecycleProgressPercent = *u.LifecycleProgressPercent
	}
	if u.SetResolution {
		c.ResolutionStatus = u.ResolutionStatus
	}
	if u.IsMonetaryLocked != nil {
		c.IsMonetaryLocked = *u.IsMonetaryLocked
	}
	if u.MonetaryLockedAt != nil {
		c.MonetaryLockedAt = u.MonetaryLockedAt
	}
	if u.CustomFields != nil {
		c.CustomFields = u.CustomFields
	}
	if u.LeadData != nil {
		c.LeadData = u.LeadData
	}
	if u.CompletionType != nil {
		c.CompletionType = u.CompletionType
	}
	if u.CompletionReason != nil {
		c.CompletionReason = *u.CompletionReason
	}
	if u.CompletedAt != nil {
		c.CompletedAt = u.CompletedAt
	}
	if u.ColumnID != nil {
		c.ColumnID = *u.ColumnID
	}
	if u.LastActivityAt != nil {
		c.LastActivityAt = u.LastActivityAt
	}
	if !u.UpdatedAt.IsZero() {
		c.UpdatedAt = u.UpdatedAt
	}
}

// CustomerProfile aggregates outcomes across every card linked to a customer.
type CustomerProfile struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	TotalWon       int       `json:"total_won" yaml:"total_won"`
	TotalLost      int       `json:"total_lost" yaml:"total_lost"`
	TotalCompleted int       `json:"total_completed" yaml:"total_completed"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}
