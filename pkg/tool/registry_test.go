package tool

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
}

func echoDefinition(name string) Definition {
	return Definition{
		Name:        name,
		Description: "Echoes its text argument",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	}
}

func TestRegistry(t *testing.T) {
	t.Run("should register and look up a tool", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		require.NoError(t, registry.Register(echoDefinition("echo")))

		def, schema, ok := registry.Get("echo")
		require.True(t, ok)
		assert.Equal(t, "echo", def.Name)
		assert.NotNil(t, schema)
		assert.Equal(t, 1, registry.Len())
		assert.Contains(t, registry.List(), "echo")
	})

	t.Run("should reject a duplicate name", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		require.NoError(t, registry.Register(echoDefinition("echo")))

		err := registry.Register(echoDefinition("echo"))
		assert.ErrorIs(t, err, ErrDuplicateTool)
		assert.Equal(t, 1, registry.Len())
	})

	t.Run("should reject invalid definitions", func(t *testing.T) {
		registry := NewRegistry(testLogger())

		noName := echoDefinition("")
		assert.Error(t, registry.Register(noName))

		noHandler := echoDefinition("broken")
		noHandler.Handler = nil
		assert.Error(t, registry.Register(noHandler))

		badType := echoDefinition("badtype")
		badType.Parameters[0].Type = "tuple"
		assert.Error(t, registry.Register(badType))
	})

	t.Run("should expose the input schema for providers", func(t *testing.T) {
		registry := NewRegistry(testLogger())
		require.NoError(t, registry.Register(echoDefinition("echo")))

		doc, ok := registry.InputSchema("echo")
		require.True(t, ok)
		assert.Equal(t, "object", doc["type"])
		assert.Equal(t, false, doc["additionalProperties"])
		assert.Equal(t, []string{"text"}, doc["required"])

		_, ok = registry.InputSchema("missing")
		assert.False(t, ok)
	})
}
