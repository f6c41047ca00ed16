// Package graph drives a run through the agent's control flow: a decision
// node that consults the model, an action node that dispatches the requested
// tool calls, and a router that picks the next node from the tail of the
// step log. The cycle count is bounded so a model that never produces a
// final answer cannot loop forever.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/workseek/workseek/internal/observability"
	"github.com/workseek/workseek/internal/tracing"
	"github.com/workseek/workseek/pkg/state"
)

// ErrDecisionStep reports a decision node failure. Decision failures are
// fatal to the run and are not retried.
var ErrDecisionStep = errors.New("decision step failed")

// Status reports how a run ended.
type Status string

const (
	// StatusFinal means the model produced a final answer.
	StatusFinal Status = "final"
	// StatusExhausted means the cycle bound was reached before a final answer.
	StatusExhausted Status = "exhausted"
	// StatusCancelled means the run's context was cancelled.
	StatusCancelled Status = "cancelled"
	// StatusFailed means a node failed; the accompanying error has details.
	StatusFailed Status = "failed"
)

// Outcome is what a decision node produced: either a final answer or a set
// of tool calls to perform next. Calls take precedence when both are set.
type Outcome struct {
	Answer string
	Calls  []state.ToolCallRequest
}

// DecisionStep consults the model for the next move given the current state.
type DecisionStep interface {
	Decide(ctx context.Context, st *state.AgentState) (Outcome, error)
}

// Dispatcher executes tool calls and reports their results in-band.
type Dispatcher interface {
	DispatchAll(ctx context.Context, calls []state.ToolCallRequest) []state.ToolCallResult
}

// Saver persists a checkpoint of the state.
type Saver interface {
	Put(ctx context.Context, threadID string, st *state.AgentState) (*state.Checkpoint, error)
}

// Result is the terminal outcome of a run.
type Result struct {
	Status Status
	Answer string
	Cycles int
}

type node int

const (
	nodeDecision node = iota
	nodeAction
	nodeEnd
)

// Executor runs the control-flow graph over an agent state.
type Executor struct {
	decider    DecisionStep
	dispatcher Dispatcher
	saver      Saver
	maxCycles  int
	logger     zerolog.Logger
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Decider    DecisionStep
	Dispatcher Dispatcher
	Saver      Saver
	MaxCycles  int
	Logger     zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	observability.EnsureRegistered()

	if cfg.Decider == nil {
		return nil, fmt.Errorf("decider is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Saver == nil {
		return nil, fmt.Errorf("saver is required")
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 10
	}

	return &Executor{
		decider:    cfg.Decider,
		dispatcher: cfg.Dispatcher,
		saver:      cfg.Saver,
		maxCycles:  cfg.MaxCycles,
		logger:     cfg.Logger,
	}, nil
}

// route picks the next node from the last step log entry alone: a pending
// call routes to the action node, a result routes back to decision, and an
// empty log ends the run.
func route(st *state.AgentState) node {
	entry := st.LastStep()
	if entry == nil {
		return nodeEnd
	}
	switch entry.Kind {
	case state.StepCall:
		return nodeAction
	case state.StepResult:
		return nodeDecision
	}
	return nodeEnd
}

// Run drives the state through the graph until a final answer, the cycle
// bound, or cancellation. The state is checkpointed after every node, so a
// crash resumes at most one node back.
func (e *Executor) Run(ctx context.Context, st *state.AgentState) (Result, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.graph",
		"graph.run",
		attribute.String("thread_id", st.ThreadID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	start := time.Now()
	observability.RunStarted()
	defer observability.RunFinished()

	cycles := 0
	finish := func(status Status) Result {
		observability.RecordRun(string(status), cycles)
		span.SetAttributes(
			attribute.String("status", string(status)),
			attribute.Int("cycles", cycles),
		)
		logger.Info().
			Str("status", string(status)).
			Int("cycles", cycles).
			Dur("duration", time.Since(start)).
			Msg("Run finished")
		return Result{Status: status, Cycles: cycles}
	}

	current := nodeDecision
	for {
		if err := ctx.Err(); err != nil {
			return finish(StatusCancelled), err
		}

		switch current {
		case nodeDecision:
			if cycles >= e.maxCycles {
				logger.Warn().Int("max_cycles", e.maxCycles).Msg("Cycle bound reached without a final answer")
				return finish(StatusExhausted), nil
			}
			cycles++

			outcome, err := e.decider.Decide(ctx, st)
			if err != nil {
				res := finish(StatusFailed)
				return res, fmt.Errorf("%w: %v", ErrDecisionStep, err)
			}

			if len(outcome.Calls) == 0 {
				st.AppendMessage(state.ChatMessage{Role: "assistant", Content: outcome.Answer})
				if err := e.checkpoint(ctx, st); err != nil {
					return finish(StatusFailed), err
				}
				res := finish(StatusFinal)
				res.Answer = outcome.Answer
				return res, nil
			}

			for i := range outcome.Calls {
				if outcome.Calls[i].CorrelationID == "" {
					outcome.Calls[i].CorrelationID, _ = gonanoid.New()
				}
			}

			st.AppendMessage(state.ChatMessage{Role: "assistant", ToolCalls: outcome.Calls})
			for _, call := range outcome.Calls {
				st.AppendCall(call)
			}
			if err := e.checkpoint(ctx, st); err != nil {
				return finish(StatusFailed), err
			}

			current = route(st)

		case nodeAction:
			pending := st.PendingCalls()
			results := e.dispatcher.DispatchAll(ctx, pending)
			for _, result := range results {
				st.AppendResult(result)
				st.AppendMessage(toolMessage(result))
			}
			if err := e.checkpoint(ctx, st); err != nil {
				return finish(StatusFailed), err
			}

			current = route(st)

		case nodeEnd:
			// Reached only through a defensive route on an empty step log.
			return finish(StatusFinal), nil
		}
	}
}

func (e *Executor) checkpoint(ctx context.Context, st *state.AgentState) error {
	if _, err := e.saver.Put(ctx, st.ThreadID, st); err != nil {
		return fmt.Errorf("failed to checkpoint state: %w", err)
	}
	return nil
}

// toolMessage renders a tool result as a chat message so the model sees it
// on the next decision.
func toolMessage(result state.ToolCallResult) state.ChatMessage {
	content := result.Payload
	if !result.OK {
		content = fmt.Sprintf("error (%s): %s", result.Code, result.Error)
	}

	return state.ChatMessage{
		Role:       "tool",
		Content:    content,
		ToolCallID: result.CorrelationID,
	}
}
