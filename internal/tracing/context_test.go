package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunContext(t *testing.T) {
	t.Run("should mint trace and run ids", func(t *testing.T) {
		ctx := NewRunContext(context.Background(), "t1")

		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetRunID(ctx))
		assert.Equal(t, "t1", GetThreadID(ctx))
	})

	t.Run("should keep an existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-keep")
		ctx = NewRunContext(ctx, "t1")

		assert.Equal(t, "trace-keep", GetTraceID(ctx))
	})

	t.Run("should return empty values for a bare context", func(t *testing.T) {
		ctx := context.Background()

		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetRunID(ctx))
		assert.Empty(t, GetThreadID(ctx))
	})
}
