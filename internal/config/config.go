package config

import (
	"fmt"
)

// Config is the root configuration for the WorkSeek agent runtime.
type Config struct {
	DataDir string        `mapstructure:"data_dir" json:"data_dir"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Store   StoreConfig   `mapstructure:"store" json:"store"`
	Runtime RuntimeConfig `mapstructure:"runtime" json:"runtime"`
	Model   ModelConfig   `mapstructure:"model" json:"model"`
	Recall  RecallConfig  `mapstructure:"recall" json:"recall"`
	Tools   ToolsConfig   `mapstructure:"tools" json:"tools"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level   string `mapstructure:"level" json:"level"`
	File    string `mapstructure:"file" json:"file"`
	Console bool   `mapstructure:"console" json:"console"`
	Pretty  bool   `mapstructure:"pretty" json:"pretty"`
}

// StoreConfig controls the checkpoint store.
type StoreConfig struct {
	Path          string `mapstructure:"path" json:"path"`
	RetentionDays int    `mapstructure:"retention_days" json:"retention_days"`
	SweepSchedule string `mapstructure:"sweep_schedule" json:"sweep_schedule"`
}

// RuntimeConfig controls graph execution.
type RuntimeConfig struct {
	MaxCycles     int    `mapstructure:"max_cycles" json:"max_cycles"`
	HistoryWindow int    `mapstructure:"history_window" json:"history_window"`
	FallbackText  string `mapstructure:"fallback_text" json:"fallback_text"`
}

// ModelConfig selects and tunes the decision step provider.
type ModelConfig struct {
	Provider     string  `mapstructure:"provider" json:"provider"` // "anthropic" or "openai"
	Name         string  `mapstructure:"name" json:"name"`
	APIKey       string  `mapstructure:"api_key" json:"api_key"`
	Temperature  float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens" json:"max_tokens"`
	SystemPrompt string  `mapstructure:"system_prompt" json:"system_prompt"`
}

// RecallConfig controls the per-thread vector context cache.
type RecallConfig struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled"`
	DBPath         string `mapstructure:"db_path" json:"db_path"`
	EmbeddingModel string `mapstructure:"embedding_model" json:"embedding_model"`
	SearchLimit    int    `mapstructure:"search_limit" json:"search_limit"`
}

// ToolsConfig controls built-in tool wiring.
type ToolsConfig struct {
	ListingsDB     string `mapstructure:"listings_db" json:"listings_db"`
	ArtifactsDir   string `mapstructure:"artifacts_dir" json:"artifacts_dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

// DefaultConfig returns the built-in defaults. Paths left empty are resolved
// relative to DataDir by the loader.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Store: StoreConfig{
			RetentionDays: 30,
			SweepSchedule: "0 3 * * *",
		},
		Runtime: RuntimeConfig{
			MaxCycles:     10,
			HistoryWindow: 40,
			FallbackText:  "I wasn't able to finish that request. Please try again.",
		},
		Model: ModelConfig{
			Provider:    "anthropic",
			Name:        "claude-3-5-sonnet-20241022",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Recall: RecallConfig{
			EmbeddingModel: "text-embedding-3-small",
			SearchLimit:    3,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 30,
		},
	}
}

// Validate checks configuration invariants before wiring components.
func (c *Config) Validate() error {
	if c.Runtime.MaxCycles <= 0 {
		return fmt.Errorf("runtime.max_cycles must be positive")
	}
	if c.Runtime.HistoryWindow < 0 {
		return fmt.Errorf("runtime.history_window cannot be negative")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Model.MaxTokens < 0 {
		return fmt.Errorf("model.max_tokens cannot be negative")
	}
	switch c.Model.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("model.provider must be anthropic or openai, got %q", c.Model.Provider)
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("store.retention_days cannot be negative")
	}
	if c.Tools.TimeoutSeconds <= 0 {
		return fmt.Errorf("tools.timeout_seconds must be positive")
	}
	return nil
}
