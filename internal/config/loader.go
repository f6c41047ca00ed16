package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Loader handles configuration loading.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a new config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, applying env overrides and filling
// path defaults relative to the data directory.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".workseek", "workseek.json")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("WORKSEEK")
	v.AutomaticEnv()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".workseek")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "workseek.log")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "checkpoints.db")
	}
	if cfg.Recall.DBPath == "" {
		cfg.Recall.DBPath = filepath.Join(cfg.DataDir, "recall.db")
	}
	if cfg.Tools.ListingsDB == "" {
		cfg.Tools.ListingsDB = filepath.Join(cfg.DataDir, "listings.db")
	}
	if cfg.Tools.ArtifactsDir == "" {
		cfg.Tools.ArtifactsDir = filepath.Join(cfg.DataDir, "artifacts")
	}

	l.v = v
	return cfg, nil
}

// Watch reloads configuration on file changes and invokes onChange with the
// fresh config. Reload errors are logged and the previous config stays active.
func (l *Loader) Watch(onChange func(*Config)) error {
	if l.v == nil {
		return fmt.Errorf("config must be loaded before watching")
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("Config file changed")

		cfg, err := l.Load()
		if err != nil {
			log.Warn().Err(err).Msg("Config reload failed, keeping previous config")
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Warn().Err(err).Msg("Reloaded config invalid, keeping previous config")
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
	return nil
}

// Save writes the configuration to file.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".workseek", "workseek.json")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("logging", cfg.Logging)
	v.Set("store", cfg.Store)
	v.Set("runtime", cfg.Runtime)
	v.Set("model", cfg.Model)
	v.Set("recall", cfg.Recall)
	v.Set("tools", cfg.Tools)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// Load is a convenience function that creates a loader and loads the config.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
