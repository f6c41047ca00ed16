package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/workseek/workseek/internal/config"
	"github.com/workseek/workseek/internal/logger"
	"github.com/workseek/workseek/internal/tracing"
	"github.com/workseek/workseek/pkg/agent"
	"github.com/workseek/workseek/pkg/checkpoint"
	"github.com/workseek/workseek/pkg/jobtools"
	"github.com/workseek/workseek/pkg/recall"
	"github.com/workseek/workseek/pkg/runqueue"
	"github.com/workseek/workseek/pkg/tool"
)

// app holds the wired runtime components for a CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *checkpoint.SQLiteStore
	cache    *recall.Cache
	listings *sql.DB
	queue    *runqueue.Queue
	runtime  *agent.Runtime
	sweeper  *checkpoint.Sweeper
}

// newApp loads configuration and wires every component the commands need.
// Commands that only read state pay the same setup cost as chat; the
// components are all cheap to open.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := log.GetZerolog()

	if err := tracing.InitOpenTelemetry("workseek"); err != nil {
		zl.Warn().Err(err).Msg("Failed to initialize tracing")
	}

	store, err := checkpoint.NewSQLiteStore(checkpoint.Options{
		Path:   cfg.Store.Path,
		Logger: zl,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store}

	if cfg.Recall.Enabled {
		var embedder recall.EmbeddingProvider
		if key := openAIKey(cfg); key != "" {
			embedder = recall.NewOpenAIEmbedder(key, cfg.Recall.EmbeddingModel)
		} else {
			zl.Warn().Msg("No OpenAI API key for embeddings, recall falls back to recency")
		}

		cache, err := recall.NewCache(recall.Config{
			DBPath:      cfg.Recall.DBPath,
			Embedder:    embedder,
			SearchLimit: cfg.Recall.SearchLimit,
			Logger:      zl,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open recall cache: %w", err)
		}
		a.cache = cache
	}

	listings, err := jobtools.OpenListingsDB(cfg.Tools.ListingsDB)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.listings = listings

	registry := tool.NewRegistry(zl)
	toolOpts := jobtools.Options{
		ListingsDB:   listings,
		ArtifactsDir: cfg.Tools.ArtifactsDir,
		Logger:       zl,
	}
	if a.cache != nil {
		toolOpts.Notes = a.cache
	}
	if err := jobtools.Register(registry, toolOpts); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	dispatcher, err := tool.NewDispatcher(tool.DispatcherConfig{
		Registry: registry,
		Timeout:  time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		Logger:   zl,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	deciderCfg := agent.DeciderConfig{
		Provider:     provider,
		Catalog:      registry,
		Model:        cfg.Model.Name,
		SystemPrompt: cfg.Model.SystemPrompt,
		MaxTokens:    cfg.Model.MaxTokens,
		Temperature:  cfg.Model.Temperature,
		Logger:       zl,
	}
	if a.cache != nil {
		deciderCfg.Recall = a.cache
	}
	decider, err := agent.NewModelDecider(deciderCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	runtime, err := agent.NewRuntime(agent.RuntimeConfig{
		Store:         store,
		Decider:       decider,
		Dispatcher:    dispatcher,
		MaxCycles:     cfg.Runtime.MaxCycles,
		HistoryWindow: cfg.Runtime.HistoryWindow,
		FallbackText:  cfg.Runtime.FallbackText,
		Logger:        zl,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runtime = runtime

	a.queue = runqueue.New(zl)

	retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
	sweeper, err := checkpoint.NewSweeper(store, cfg.Store.SweepSchedule, retention, zl)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sweeper = sweeper

	return a, nil
}

// buildProvider selects the decision model backend from configuration.
func buildProvider(cfg *config.Config) (agent.ModelProvider, error) {
	switch cfg.Model.Provider {
	case "anthropic":
		key := cfg.Model.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic API key is required (config model.api_key or ANTHROPIC_API_KEY)")
		}
		return agent.NewAnthropicProvider(key), nil
	case "openai":
		key := openAIKey(cfg)
		if key == "" {
			return nil, fmt.Errorf("openai API key is required (config model.api_key or OPENAI_API_KEY)")
		}
		return agent.NewOpenAIProvider(key), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Model.Provider)
	}
}

func openAIKey(cfg *config.Config) string {
	if cfg.Model.Provider == "openai" && cfg.Model.APIKey != "" {
		return cfg.Model.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// Close releases all resources in reverse wiring order.
func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.listings != nil {
		a.listings.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.store != nil {
		a.store.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tracing.ShutdownOpenTelemetry(ctx)

	if a.log != nil {
		a.log.Close()
	}
}
