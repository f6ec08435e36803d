package cli

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/valter-silva-au/ai-kanban/internal/core"
	"github.com/valter-silva-au/ai-kanban/internal/observability"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// CardStore is the persistence surface used by commands that read or import
// board data directly.
type CardStore interface {
	core.CardReader
	core.HistoryStore
	InsertCard(ctx context.Context, c *models.Card) error
	ListCardIDs(ctx context.Context, pipelineID string) ([]string, error)
	ListPipelines(ctx context.Context) ([]string, error)
	LoadBoard(ctx context.Context, pipelineID string) (*models.Board, error)
	SaveBoard(ctx context.Context, b *models.Board) error
	UpsertCustomer(ctx context.Context, p models.CustomerProfile) error
	GetCustomer(ctx context.Context, customerID string) (*models.CustomerProfile, error)
	LastAnalyzedAt(ctx context.Context, pipelineID string) (map[string]time.Time, error)
	SaveMoveRuleSet(ctx context.Context, pipelineID string, set *models.MoveRuleSet) error
}

// Reanalyzer runs the engine over many cards.
type Reanalyzer interface {
	Run(ctx context.Context, cardIDs []string, trigger models.TriggerSource) (*core.BatchReport, error)
}

// Service instances, set during app initialization in app.go.
var (
	BasePath    string
	Config      *models.GlobalConfig
	Engine      core.Engine
	Bulk        Reanalyzer
	Store       CardStore
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
	LogLevel    = zap.NewAtomicLevelAt(zap.InfoLevel)
	EventLog    observability.EventLog
	Notifier    observability.Notifier
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)
