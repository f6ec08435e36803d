package models

import "time"

// LLMConfig selects the classifier model and endpoint.
type LLMConfig struct {
	Model      string `yaml:"model" mapstructure:"model"`
	BaseURL    string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env" mapstructure:"api_key_env"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// HeuristicConfig holds the score thresholds used when no rule fires.
type HeuristicConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	HighScore float64 `yaml:"high_score" mapstructure:"high_score"`
	LowScore  float64 `yaml:"low_score" mapstructure:"low_score"`
}

// AlertConfig holds alert thresholds read from the notifications section.
type AlertConfig struct {
	StaleDays          int `yaml:"stale_days" mapstructure:"stale_days"`
	MaxUnmatchedStages int `yaml:"max_unmatched_stages" mapstructure:"max_unmatched_stages"`
}

// NotificationConfig configures outbound notifications.
type NotificationConfig struct {
	Enabled         bool        `yaml:"enabled" mapstructure:"enabled"`
	SlackWebhookURL string      `yaml:"slack_webhook_url,omitempty" mapstructure:"slack_webhook_url"`
	Alerts          AlertConfig `yaml:"alerts" mapstructure:"alerts"`
}

// GlobalConfig holds system-wide settings read from .akbconfig via Viper.
type GlobalConfig struct {
	DatabasePath         string             `yaml:"database_path" mapstructure:"database_path"`
	LLM                  LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Heuristics           HeuristicConfig    `yaml:"heuristics" mapstructure:"heuristics"`
	ReanalyzeConcurrency int                `yaml:"reanalyze_concurrency" mapstructure:"reanalyze_concurrency"`
	ServerAddr           string             `yaml:"server_addr" mapstructure:"server_addr"`
	BoardCacheSize       int                `yaml:"board_cache_size" mapstructure:"board_cache_size"`
	BoardCacheTTL        time.Duration      `yaml:"board_cache_ttl" mapstructure:"board_cache_ttl"`
	Notifications        NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
}
