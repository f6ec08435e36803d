// Package core contains the lifecycle and movement engine: stage
// resolution, the monetary lock, both rule systems, movement arbitration,
// analysis history, bulk reanalysis and configuration.
package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// ConfigFileName is the name of the YAML configuration file in the base
// directory.
const ConfigFileName = ".akbconfig"

// ConfigurationManager loads and validates the .akbconfig file.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	// basePath is the root directory where .akbconfig resides.
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// defaultGlobalConfig returns a GlobalConfig populated with sensible defaults.
func defaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		DatabasePath: "akb.db",
		LLM: models.LLMConfig{
			Model:      "gpt-4o-mini",
			APIKeyEnv:  "OPENAI_API_KEY",
			MaxRetries: 3,
		},
		Heuristics: models.HeuristicConfig{
			Enabled:   true,
			HighScore: 80,
			LowScore:  30,
		},
		ReanalyzeConcurrency: 4,
		ServerAddr:           ":8088",
		BoardCacheSize:       64,
		BoardCacheTTL:        5 * time.Minute,
		Notifications: models.NotificationConfig{
			Alerts: models.AlertConfig{
				StaleDays:          14,
				MaxUnmatchedStages: 5,
			},
		},
	}
}

// LoadGlobalConfig reads .akbconfig from the base path using Viper. If the
// file does not exist, defaults are returned. A relative database path is
// resolved against the base path.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := defaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	v.SetDefault("database.path", cfg.DatabasePath)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.base_url", cfg.LLM.BaseURL)
	v.SetDefault("llm.api_key_env", cfg.LLM.APIKeyEnv)
	v.SetDefault("llm.max_retries", cfg.LLM.MaxRetries)
	v.SetDefault("heuristics.enabled", cfg.Heuristics.Enabled)
	v.SetDefault("heuristics.high_score", cfg.Heuristics.HighScore)
	v.SetDefault("heuristics.low_score", cfg.Heuristics.LowScore)
	v.SetDefault("reanalyze.concurrency", cfg.ReanalyzeConcurrency)
	v.SetDefault("server.addr", cfg.ServerAddr)
	v.SetDefault("cache.board_size", cfg.BoardCacheSize)
	v.SetDefault("cache.board_ttl", cfg.BoardCacheTTL)
	v.SetDefault("notifications.enabled", cfg.Notifications.Enabled)
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("notifications.alerts.stale_days", cfg.Notifications.Alerts.StaleDays)
	v.SetDefault("notifications.alerts.max_unmatched_stages", cfg.Notifications.Alerts.MaxUnmatchedStages)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg.DatabasePath = v.GetString("database.path")
	cfg.LLM = models.LLMConfig{
		Model:      v.GetString("llm.model"),
		BaseURL:    v.GetString("llm.base_url"),
		APIKeyEnv:  v.GetString("llm.api_key_env"),
		MaxRetries: v.GetInt("llm.max_retries"),
	}
	cfg.Heuristics = models.HeuristicConfig{
		Enabled:   v.GetBool("heuristics.enabled"),
		HighScore: v.GetFloat64("heuristics.high_score"),
		LowScore:  v.GetFloat64("heuristics.low_score"),
	}
	cfg.ReanalyzeConcurrency = v.GetInt("reanalyze.concurrency")
	cfg.ServerAddr = v.GetString("server.addr")
	cfg.BoardCacheSize = v.GetInt("cache.board_size")
	cfg.BoardCacheTTL = v.GetDuration("cache.board_ttl")
	cfg.Notifications = models.NotificationConfig{
		Enabled:         v.GetBool("notifications.enabled"),
		SlackWebhookURL: v.GetString("notifications.slack.webhook_url"),
		Alerts: models.AlertConfig{
			StaleDays:          v.GetInt("notifications.alerts.stale_days"),
			MaxUnmatchedStages: v.GetInt("notifications.alerts.max_unmatched_stages"),
		},
	}

	if cfg.DatabasePath != "" && cfg.DatabasePath != ":memory:" && !filepath.IsAbs(cfg.DatabasePath) {
		cfg.DatabasePath = filepath.Join(cm.basePath, cfg.DatabasePath)
	}
	return cfg, nil
}

// ValidateConfig checks the provided configuration for invalid values and
// returns one error listing every problem.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	return validateGlobalConfig(cfg)
}

// validateGlobalConfig checks a GlobalConfig for invalid field values.
func validateGlobalConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("global configuration is nil")
	}

	var errs []string

	if strings.TrimSpace(cfg.DatabasePath) == "" {
		errs = append(errs, "database.path must not be empty")
	}

	h := cfg.Heuristics
	if h.HighScore < 0 || h.HighScore > 100 {
		errs = append(errs, fmt.Sprintf("heuristics.high_score %v is invalid, must be between 0 and 100", h.HighScore))
	}
	if h.LowScore < 0 || h.LowScore > 100 {
		errs = append(errs, fmt.Sprintf("heuristics.low_score %v is invalid, must be between 0 and 100", h.LowScore))
	}
	if h.LowScore >= h.HighScore {
		errs = append(errs, fmt.Sprintf(
			"heuristics.low_score (%v) must be lower than heuristics.high_score (%v)",
			h.LowScore, h.HighScore,
		))
	}

	if cfg.ReanalyzeConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("reanalyze.concurrency must be at least 1, got %d", cfg.ReanalyzeConcurrency))
	}

	if cfg.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("llm.max_retries must be non-negative, got %d", cfg.LLM.MaxRetries))
	}

	if cfg.BoardCacheSize < 0 {
		errs = append(errs, fmt.Sprintf("cache.board_size must be non-negative, got %d", cfg.BoardCacheSize))
	}

	if cfg.Notifications.Enabled && cfg.Notifications.SlackWebhookURL == "" {
		errs = append(errs, "notifications.slack.webhook_url is required when notifications are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("global config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// HeuristicsFromConfig converts the configured thresholds.
func HeuristicsFromConfig(h models.HeuristicConfig) HeuristicThresholds {
	return HeuristicThresholds{Enabled: h.Enabled, HighScore: h.HighScore, LowScore: h.LowScore}
}
