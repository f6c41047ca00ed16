package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workseek/workseek/pkg/state"
)

func newTestDispatcher(t *testing.T, registry *Registry, timeout time.Duration) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherConfig{
		Registry: registry,
		Timeout:  timeout,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return d
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should execute a valid call", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		require.NoError(t, registry.Register(echoDefinition("echo")))
		d := newTestDispatcher(t, registry, time.Second)

		result := d.Dispatch(ctx, state.ToolCallRequest{
			Name:          "echo",
			Arguments:     map[string]interface{}{"text": "hello"},
			CorrelationID: "c1",
		})

		assert.True(t, result.OK)
		assert.Equal(t, "c1", result.CorrelationID)
		assert.Equal(t, "hello", result.Payload)
		assert.Empty(t, result.Code)
	})

	t.Run("should mint a correlation id when the request has none", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		require.NoError(t, registry.Register(echoDefinition("echo")))
		d := newTestDispatcher(t, registry, time.Second)

		result := d.Dispatch(ctx, state.ToolCallRequest{
			Name:      "echo",
			Arguments: map[string]interface{}{"text": "hello"},
		})

		assert.True(t, result.OK)
		assert.NotEmpty(t, result.CorrelationID)
	})

	t.Run("should report an unknown tool in band", func(t *testing.T) {
		d := newTestDispatcher(t, NewRegistry(testLogger()), time.Second)

		result := d.Dispatch(ctx, state.ToolCallRequest{Name: "nope", CorrelationID: "c1"})

		assert.False(t, result.OK)
		assert.Equal(t, state.CodeUnknownTool, result.Code)
		assert.Contains(t, result.Error, "nope")
	})

	t.Run("should reject bad arguments without calling the handler", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		called := false
		def := echoDefinition("echo")
		def.Handler = func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			called = true
			return nil, nil
		}
		require.NoError(t, registry.Register(def))
		d := newTestDispatcher(t, registry, time.Second)

		t.Run("missing required argument", func(t *testing.T) {
			result := d.Dispatch(ctx, state.ToolCallRequest{Name: "echo", CorrelationID: "c1"})
			assert.Equal(t, state.CodeInvalidArguments, result.Code)
		})

		t.Run("wrong type", func(t *testing.T) {
			result := d.Dispatch(ctx, state.ToolCallRequest{
				Name:          "echo",
				Arguments:     map[string]interface{}{"text": 42},
				CorrelationID: "c2",
			})
			assert.Equal(t, state.CodeInvalidArguments, result.Code)
		})

		t.Run("unexpected extra argument", func(t *testing.T) {
			result := d.Dispatch(ctx, state.ToolCallRequest{
				Name:          "echo",
				Arguments:     map[string]interface{}{"text": "ok", "extra": true},
				CorrelationID: "c3",
			})
			assert.Equal(t, state.CodeInvalidArguments, result.Code)
		})

		assert.False(t, called)
	})

	t.Run("should convert handler errors to a result code", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		def := echoDefinition("failing")
		def.Handler = func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("backend unavailable")
		}
		require.NoError(t, registry.Register(def))
		d := newTestDispatcher(t, registry, time.Second)

		result := d.Dispatch(ctx, state.ToolCallRequest{
			Name:          "failing",
			Arguments:     map[string]interface{}{"text": "x"},
			CorrelationID: "c1",
		})

		assert.False(t, result.OK)
		assert.Equal(t, state.CodeHandlerError, result.Code)
		assert.Contains(t, result.Error, "backend unavailable")
	})

	t.Run("should contain handler panics", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		def := echoDefinition("panicking")
		def.Handler = func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			panic("boom")
		}
		require.NoError(t, registry.Register(def))
		d := newTestDispatcher(t, registry, time.Second)

		result := d.Dispatch(ctx, state.ToolCallRequest{
			Name:          "panicking",
			Arguments:     map[string]interface{}{"text": "x"},
			CorrelationID: "c1",
		})

		assert.False(t, result.OK)
		assert.Equal(t, state.CodeHandlerError, result.Code)
		assert.Contains(t, result.Error, "boom")
	})

	t.Run("should time out a stuck handler", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		def := echoDefinition("stuck")
		def.Handler = func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			time.Sleep(time.Second)
			return nil, ctx.Err()
		}
		require.NoError(t, registry.Register(def))
		d := newTestDispatcher(t, registry, 50*time.Millisecond)

		result := d.Dispatch(ctx, state.ToolCallRequest{
			Name:          "stuck",
			Arguments:     map[string]interface{}{"text": "x"},
			CorrelationID: "c1",
		})

		assert.False(t, result.OK)
		assert.Equal(t, state.CodeTimeout, result.Code)
	})

	t.Run("should dispatch a batch in order", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		require.NoError(t, registry.Register(echoDefinition("echo")))
		d := newTestDispatcher(t, registry, time.Second)

		results := d.DispatchAll(ctx, []state.ToolCallRequest{
			{Name: "echo", Arguments: map[string]interface{}{"text": "a"}, CorrelationID: "c1"},
			{Name: "missing", CorrelationID: "c2"},
			{Name: "echo", Arguments: map[string]interface{}{"text": "b"}, CorrelationID: "c3"},
		})

		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].Payload)
		assert.Equal(t, state.CodeUnknownTool, results[1].Code)
		assert.Equal(t, "b", results[2].Payload)
	})
}

func TestNewDispatcher(t *testing.T) {
	t.Run("should require a registry", func(t *testing.T) {
		_, err := NewDispatcher(DispatcherConfig{Logger: testLogger()})
		assert.Error(t, err)
	})
}
