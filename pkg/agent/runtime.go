// Package agent ties the pieces together: it loads the latest checkpoint for
// a thread, builds the working state for a new turn, and drives it through
// the control-flow graph to a user-visible answer.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/workseek/workseek/internal/observability"
	"github.com/workseek/workseek/internal/tracing"
	"github.com/workseek/workseek/pkg/checkpoint"
	"github.com/workseek/workseek/pkg/graph"
	"github.com/workseek/workseek/pkg/state"
)

const defaultFallback = "I wasn't able to finish working on that. Could you rephrase or narrow the request?"

const failureText = "Something went wrong while working on that. Please try again."

// Runtime answers user turns for conversation threads.
type Runtime struct {
	store         checkpoint.Store
	executor      *graph.Executor
	codec         *state.Codec
	historyWindow int
	fallbackText  string
	logger        zerolog.Logger
}

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	Store         checkpoint.Store
	Decider       graph.DecisionStep
	Dispatcher    graph.Dispatcher
	MaxCycles     int
	HistoryWindow int
	FallbackText  string
	Logger        zerolog.Logger
}

// NewRuntime creates a Runtime.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 40
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = defaultFallback
	}

	executor, err := graph.NewExecutor(graph.ExecutorConfig{
		Decider:    cfg.Decider,
		Dispatcher: cfg.Dispatcher,
		Saver:      cfg.Store,
		MaxCycles:  cfg.MaxCycles,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		store:         cfg.Store,
		executor:      executor,
		codec:         state.NewCodec(),
		historyWindow: cfg.HistoryWindow,
		fallbackText:  cfg.FallbackText,
		logger:        cfg.Logger,
	}, nil
}

// Run answers one user turn on a thread. The returned text is always safe to
// show the user; internal failure detail travels only in the error.
func (r *Runtime) Run(ctx context.Context, threadID, input string) (string, error) {
	ctx = tracing.NewRunContext(ctx, threadID)
	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.agent",
		"agent.run",
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	st, err := r.buildState(ctx, threadID, input)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to prepare run state")
		return failureText, fmt.Errorf("failed to prepare run state: %w", err)
	}

	logger.Info().Int("history", len(st.ChatHistory)).Msg("Run started")

	result, err := r.executor.Run(ctx, st)
	switch {
	case result.Status == graph.StatusCancelled:
		logger.Info().Int("cycles", result.Cycles).Msg("Run cancelled")
		return "", err

	case err != nil:
		logger.Error().Int("cycles", result.Cycles).Err(err).Msg("Run failed")
		return failureText, err

	case result.Status == graph.StatusExhausted:
		return r.fallbackText, nil

	default:
		answer := result.Answer
		if answer == "" {
			answer = r.fallbackText
		}
		return answer, nil
	}
}

// buildState assembles a fresh working state for the turn from the thread's
// latest checkpoint. The step log starts empty every turn; only the chat
// history carries over, trimmed to the configured window.
func (r *Runtime) buildState(ctx context.Context, threadID, input string) (*state.AgentState, error) {
	cp, found, err := r.store.GetLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var history []state.ChatMessage
	if found {
		prior, err := r.codec.Decode(cp.State)
		if err != nil {
			return nil, err
		}
		history = state.RecentHistory(prior.ChatHistory, r.historyWindow)
	}

	st := &state.AgentState{
		ThreadID:    threadID,
		Input:       input,
		ChatHistory: history,
		Turn: state.TurnContext{
			RunID:     tracing.GetRunID(ctx),
			StartedAt: time.Now().UTC(),
		},
	}
	st.AppendMessage(state.ChatMessage{Role: "user", Content: input})

	return st, nil
}

// History returns the thread's decoded checkpoint states, oldest first.
// Corrupt checkpoints were already filtered by the store.
func (r *Runtime) History(ctx context.Context, threadID string) ([]*state.AgentState, error) {
	checkpoints, err := r.store.ListHistory(ctx, threadID)
	if err != nil {
		return nil, err
	}

	states := make([]*state.AgentState, 0, len(checkpoints))
	for _, cp := range checkpoints {
		st, err := r.codec.Decode(cp.State)
		if err != nil {
			continue
		}
		states = append(states, st)
	}
	return states, nil
}
