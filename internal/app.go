// Package internal provides the App struct that wires all components of the
// AI Kanban engine together and initializes the CLI layer.
package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/valter-silva-au/ai-kanban/internal/cli"
	"github.com/valter-silva-au/ai-kanban/internal/core"
	"github.com/valter-silva-au/ai-kanban/internal/llm"
	"github.com/valter-silva-au/ai-kanban/internal/observability"
	"github.com/valter-silva-au/ai-kanban/internal/storage"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// EventLogFileName is the JSONL event log in the base directory.
const EventLogFileName = ".akb_events.jsonl"

// reanalyzeLockFile serializes bulk reanalysis runs across processes.
const reanalyzeLockFile = ".akb_reanalyze.lock"

// App holds all service dependencies for the AI Kanban engine.
type App struct {
	BasePath string
	Config   *models.GlobalConfig
	Logger   *zap.Logger

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Storage layer
	Store  *storage.SQLiteStore
	Boards *storage.CachedBoards

	// Core services
	Classifier core.Classifier
	Engine     core.Engine
	Bulk       *core.BulkReanalyzer

	// Observability
	Registry    *prometheus.Registry
	Metrics     *observability.EngineMetrics
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components. basePath is the root directory
// holding .akbconfig, the database and the event log.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Logging ---
	zcfg := zap.NewProductionConfig()
	zcfg.Level = cli.LogLevel
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	app.Logger = logger

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	globalCfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(globalCfg); err != nil {
		return nil, err
	}
	app.Config = globalCfg

	// --- Storage layer ---
	app.Store, err = storage.OpenSQLite(globalCfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	app.Boards = storage.NewCachedBoards(app.Store, globalCfg.BoardCacheSize, globalCfg.BoardCacheTTL)

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, EventLogFileName))
	if err != nil {
		// Non-fatal: disable the event log if it can't be created.
		logger.Warn("event log disabled", zap.Error(err))
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		events = observability.NewEngineEventLogger(app.EventLog)
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, alertThresholds(globalCfg.Notifications.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if globalCfg.Notifications.Enabled && globalCfg.Notifications.SlackWebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(globalCfg.Notifications.SlackWebhookURL)
	}
	app.Registry = prometheus.NewRegistry()
	app.Metrics = observability.MustNewEngineMetrics(app.Registry)

	// --- Core services ---
	if key := os.Getenv(globalCfg.LLM.APIKeyEnv); key != "" {
		app.Classifier = llm.NewOpenAIClassifier(globalCfg.LLM, key, logger.Named("llm"))
	} else {
		logger.Debug("no classifier configured, only pre-computed analyses can be applied",
			zap.String("api_key_env", globalCfg.LLM.APIKeyEnv))
	}

	deps := core.EngineDeps{
		Cards:      &cardStoreAdapter{app.Store},
		Boards:     app.Boards,
		History:    app.Store,
		Customers:  app.Store,
		Classifier: app.Classifier,
		Events:     events,
		Metrics:    app.Metrics,
		Logger:     logger.Named("engine"),
		Heuristics: core.HeuristicsFromConfig(globalCfg.Heuristics),
	}
	if app.Notifier != nil {
		deps.Notifier = app.Notifier
	}
	app.Engine = core.NewEngine(deps)
	app.Bulk = core.NewBulkReanalyzer(app.Engine, globalCfg.ReanalyzeConcurrency,
		filepath.Join(basePath, reanalyzeLockFile), logger.Named("reanalyze"))

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = globalCfg
	cli.Logger = logger
	cli.Engine = app.Engine
	cli.Bulk = app.Bulk
	cli.Store = &cardStoreAdapter{app.Store}
	cli.Gatherer = app.Registry

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// Close releases the database and event log handles. It is safe to call on
// a partially initialized App.
func (a *App) Close() error {
	var errs []error
	if a.EventLog != nil {
		errs = append(errs, a.EventLog.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}

// ResolveBasePath determines the base path for the AI Kanban data directory.
// It checks for AKB_HOME env var, then walks up from the current directory
// looking for .akbconfig, then falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("AKB_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

func alertThresholds(cfg models.AlertConfig) observability.AlertThresholds {
	thresholds := observability.DefaultAlertThresholds()
	if cfg.StaleDays > 0 {
		thresholds.StaleDays = cfg.StaleDays
	}
	if cfg.MaxUnmatchedStages > 0 {
		thresholds.MaxUnmatchedStages = cfg.MaxUnmatchedStages
	}
	return thresholds
}

// --- Adapters ---

// cardStoreAdapter translates storage errors into the core sentinels so the
// engine and the CLI can match on them. Every other method is the store's.
type cardStoreAdapter struct {
	*storage.SQLiteStore
}

func (a *cardStoreAdapter) GetCard(ctx context.Context, cardID string) (*models.Card, error) {
	c, err := a.SQLiteStore.GetCard(ctx, cardID)
	if errors.Is(err, storage.ErrCardNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrCardNotFound, cardID)
	}
	return c, err
}

func (a *cardStoreAdapter) UpdateCard(ctx context.Context, cardID string, expectedUpdatedAt time.Time, update models.CardUpdate) error {
	err := a.SQLiteStore.UpdateCard(ctx, cardID, expectedUpdatedAt, update)
	switch {
	case errors.Is(err, storage.ErrCardNotFound):
		return fmt.Errorf("%w: %s", core.ErrCardNotFound, cardID)
	case errors.Is(err, storage.ErrStaleCard):
		return fmt.Errorf("%w: %s", core.ErrConcurrentUpdate, cardID)
	}
	return err
}
