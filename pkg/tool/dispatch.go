package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/workseek/workseek/internal/observability"
	"github.com/workseek/workseek/internal/tracing"
	"github.com/workseek/workseek/pkg/state"
)

const defaultTimeout = 30 * time.Second

// Dispatcher executes tool call requests against a Registry. Every failure
// mode is mapped to an in-band result code; Dispatch never returns an error
// and never retries.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   zerolog.Logger
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Dispatcher{
		registry: cfg.Registry,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}, nil
}

// Dispatch runs one tool call and returns its result. The result carries the
// request's correlation ID; when the request lacks one, a fresh ID is minted
// so the caller can still pair call and result.
func (d *Dispatcher) Dispatch(ctx context.Context, call state.ToolCallRequest) state.ToolCallResult {
	start := time.Now()

	correlationID := call.CorrelationID
	if correlationID == "" {
		correlationID, _ = gonanoid.New()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.tool",
		"tool.dispatch",
		attribute.String("tool", call.Name),
		attribute.String("correlation_id", correlationID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, d.logger).With().
		Str("tool", call.Name).
		Str("correlation_id", correlationID).
		Logger()

	def, schema, ok := d.registry.Get(call.Name)
	if !ok {
		logger.Warn().Msg("Unknown tool requested")
		observability.RecordToolDispatch(call.Name, time.Since(start), false)
		return state.ToolCallResult{
			CorrelationID: correlationID,
			Code:          state.CodeUnknownTool,
			Error:         fmt.Sprintf("unknown tool: %s", call.Name),
		}
	}

	if err := validateArguments(schema, call.Arguments); err != nil {
		logger.Warn().Err(err).Msg("Tool argument validation failed")
		observability.RecordToolDispatch(call.Name, time.Since(start), false)
		return state.ToolCallResult{
			CorrelationID: correlationID,
			Code:          state.CodeInvalidArguments,
			Error:         fmt.Sprintf("invalid arguments for %s: %v", call.Name, err),
		}
	}

	logger.Debug().Msg("Dispatching tool call")

	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool panicked: %v", r)
			}
		}()

		result, err := def.Handler(timeoutCtx, call.Arguments)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(start)
		payload, err := encodePayload(result)
		if err != nil {
			logger.Error().Dur("duration", duration).Err(err).Msg("Tool produced an unserializable result")
			observability.RecordToolDispatch(call.Name, duration, false)
			return state.ToolCallResult{
				CorrelationID: correlationID,
				Code:          state.CodeHandlerError,
				Error:         err.Error(),
			}
		}
		logger.Debug().Dur("duration", duration).Msg("Tool call completed")
		observability.RecordToolDispatch(call.Name, duration, true)
		return state.ToolCallResult{
			CorrelationID: correlationID,
			OK:            true,
			Payload:       payload,
		}

	case err := <-errChan:
		duration := time.Since(start)
		logger.Error().Dur("duration", duration).Err(err).Msg("Tool call failed")
		observability.RecordToolDispatch(call.Name, duration, false)
		return state.ToolCallResult{
			CorrelationID: correlationID,
			Code:          state.CodeHandlerError,
			Error:         err.Error(),
		}

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		logger.Error().Dur("duration", duration).Msg("Tool call timed out")
		observability.RecordToolDispatch(call.Name, duration, false)
		return state.ToolCallResult{
			CorrelationID: correlationID,
			Code:          state.CodeTimeout,
			Error:         fmt.Sprintf("tool %s timed out after %v", call.Name, d.timeout),
		}
	}
}

// DispatchAll runs a batch of calls in order and returns a result per call.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []state.ToolCallRequest) []state.ToolCallResult {
	results := make([]state.ToolCallResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, d.Dispatch(ctx, call))
	}
	return results
}

// encodePayload renders a handler's result as the string carried in the
// result payload. Strings pass through untouched, everything else becomes
// JSON.
func encodePayload(result interface{}) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool result: %w", err)
		}
		return string(data), nil
	}
}

func validateArguments(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		messages := []string{}
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return fmt.Errorf("validation errors: %v", messages)
	}
	return nil
}
