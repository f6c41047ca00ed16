package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/workseek/workseek/internal/observability"
	"github.com/workseek/workseek/internal/tracing"
	"github.com/workseek/workseek/pkg/graph"
	"github.com/workseek/workseek/pkg/state"
	"github.com/workseek/workseek/pkg/tool"
)

// ToolCatalog supplies the tool declarations offered to the model.
type ToolCatalog interface {
	Declarations() []tool.Declaration
}

// RecallSource retrieves remembered notes relevant to the user's input.
type RecallSource interface {
	Recall(ctx context.Context, threadID, query string) ([]string, error)
}

// ModelDecider implements the decision step by consulting a model provider.
// The model sees the chat history, the tool catalog, and any recalled notes,
// and answers with either text or tool calls.
type ModelDecider struct {
	provider     ModelProvider
	catalog      ToolCatalog
	recall       RecallSource
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float64
	logger       zerolog.Logger
}

// DeciderConfig configures a ModelDecider. Recall is optional.
type DeciderConfig struct {
	Provider     ModelProvider
	Catalog      ToolCatalog
	Recall       RecallSource
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Logger       zerolog.Logger
}

// NewModelDecider creates a ModelDecider.
func NewModelDecider(cfg DeciderConfig) (*ModelDecider, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("tool catalog is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	return &ModelDecider{
		provider:     cfg.Provider,
		catalog:      cfg.Catalog,
		recall:       cfg.Recall,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		logger:       cfg.Logger,
	}, nil
}

// Decide asks the model for the next move. Tool calls take precedence over
// answer text so a mixed response keeps the run going.
func (d *ModelDecider) Decide(ctx context.Context, st *state.AgentState) (graph.Outcome, error) {
	logger := tracing.LoggerFromContext(ctx, d.logger)
	start := time.Now()

	request := ModelRequest{
		Model:        d.model,
		SystemPrompt: d.buildSystemPrompt(ctx, st),
		Messages:     st.ChatHistory,
		Tools:        d.catalog.Declarations(),
		MaxTokens:    d.maxTokens,
		Temperature:  d.temperature,
	}

	response, err := d.provider.Call(ctx, request)
	duration := time.Since(start)
	observability.RecordDecisionStep(d.provider.Provider(), duration)
	if err != nil {
		logger.Error().Dur("duration", duration).Err(err).Msg("Model call failed")
		return graph.Outcome{}, fmt.Errorf("model call failed: %w", err)
	}

	if response.Usage != nil {
		logger.Debug().
			Int("input_tokens", response.Usage.InputTokens).
			Int("output_tokens", response.Usage.OutputTokens).
			Int("tool_calls", len(response.ToolCalls)).
			Dur("duration", duration).
			Msg("Model call completed")
	}

	if len(response.ToolCalls) > 0 {
		return graph.Outcome{Calls: response.ToolCalls}, nil
	}
	return graph.Outcome{Answer: response.Content}, nil
}

// buildSystemPrompt augments the configured prompt with recalled notes. A
// recall failure is logged and skipped; memory is never worth failing a
// decision over.
func (d *ModelDecider) buildSystemPrompt(ctx context.Context, st *state.AgentState) string {
	if d.recall == nil || st.Input == "" {
		return d.systemPrompt
	}

	notes, err := d.recall.Recall(ctx, st.ThreadID, st.Input)
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, d.logger)
		logger.Warn().Err(err).Msg("Recall lookup failed")
		return d.systemPrompt
	}
	if len(notes) == 0 {
		return d.systemPrompt
	}

	var b strings.Builder
	b.WriteString(d.systemPrompt)
	b.WriteString("\n\nNotes from earlier in this job search:\n")
	for _, note := range notes {
		b.WriteString("- ")
		b.WriteString(note)
		b.WriteString("\n")
	}
	return b.String()
}
