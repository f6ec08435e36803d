package core

import (
	"context"
	"errors"
	"time"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

var (
	// ErrMalformedAnalysis rejects an analysis missing its required sections.
	// No card mutation happens when it is returned.
	ErrMalformedAnalysis = errors.New("malformed analysis payload")
	// ErrCardNotFound is returned when a card id is unknown to the store.
	ErrCardNotFound = errors.New("card not found")
	// ErrStageNotFound is returned by manual stage changes naming a stage the
	// card's funnel does not configure.
	ErrStageNotFound = errors.New("lifecycle stage not found")
	// ErrColumnNotFound is returned by manual moves to a column outside the
	// card's pipeline.
	ErrColumnNotFound = errors.New("column not found")
	// ErrConcurrentUpdate is returned when the card changed between read and
	// write.
	ErrConcurrentUpdate = errors.New("card was modified concurrently")
)

// CardStore is the subset of the row store the engine needs for cards.
// Defining it here keeps core independent of the storage package.
type CardStore interface {
	GetCard(ctx context.Context, cardID string) (*models.Card, error)
	// UpdateCard applies update only if the stored UpdatedAt still equals
	// expectedUpdatedAt, returning ErrConcurrentUpdate otherwise.
	UpdateCard(ctx context.Context, cardID string, expectedUpdatedAt time.Time, update models.CardUpdate) error
	ListCardIDs(ctx context.Context, pipelineID string) ([]string, error)
}

// BoardStore loads the read-only configuration of a pipeline.
type BoardStore interface {
	LoadBoard(ctx context.Context, pipelineID string) (*models.Board, error)
}

// HistoryStore is the append-only analysis history.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry models.HistoryEntry) error
	ListHistory(ctx context.Context, cardID string) ([]models.HistoryEntry, error)
}

// CustomerStore updates aggregate counters on customer profiles.
type CustomerStore interface {
	IncrementCustomerCounter(ctx context.Context, customerID string, completion models.CompletionType) error
}

// Classifier turns a conversation transcript into an analysis for the given
// funnels. Implementations live in the llm package.
type Classifier interface {
	Classify(ctx context.Context, transcript string, funnels []models.FunnelConfig) (*models.AnalysisResult, string, error)
}

// RuleNotifier delivers a message when a move rule with notify set fires.
type RuleNotifier interface {
	NotifyRule(ctx context.Context, cardID, ruleName, message string) error
}

// CardReader is the read side used by the HTTP, MCP and CLI surfaces.
type CardReader interface {
	GetCard(ctx context.Context, cardID string) (*models.Card, error)
	ListCards(ctx context.Context, pipelineID string) ([]*models.Card, error)
}
