package checkpoint

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workseek/workseek/pkg/state"
)

func TestAsyncStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should resolve puts and reads through the wrapped store", func(t *testing.T) {
		async := NewAsyncStore(newTestStore(t), 8)
		defer async.Close()

		put := <-async.PutAsync(ctx, "t1", stateWithInput("t1", "hello"))
		require.NoError(t, put.Err)
		require.NotNil(t, put.Checkpoint)

		got := <-async.GetLatestAsync(ctx, "t1")
		require.NoError(t, got.Err)
		require.True(t, got.Found)
		assert.Equal(t, put.Checkpoint.CreatedAt, got.Checkpoint.CreatedAt)
	})

	t.Run("should preserve submission order", func(t *testing.T) {
		async := NewAsyncStore(newTestStore(t), 8)
		defer async.Close()

		var pending []<-chan PutOutcome
		for i := 0; i < 5; i++ {
			pending = append(pending, async.PutAsync(ctx, "t1", stateWithInput("t1", fmt.Sprintf("s%d", i))))
		}
		for _, ch := range pending {
			require.NoError(t, (<-ch).Err)
		}

		history := <-async.ListHistoryAsync(ctx, "t1")
		require.NoError(t, history.Err)
		require.Len(t, history.Checkpoints, 5)

		codec := state.NewCodec()
		for i, cp := range history.Checkpoints {
			decoded, err := codec.Decode(cp.State)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("s%d", i), decoded.Input)
		}
	})

	t.Run("should reject submissions after close", func(t *testing.T) {
		async := NewAsyncStore(newTestStore(t), 8)
		async.Close()

		put := <-async.PutAsync(ctx, "t1", stateWithInput("t1", "late"))
		assert.ErrorIs(t, put.Err, ErrStoreClosed)

		got := <-async.GetLatestAsync(ctx, "t1")
		assert.ErrorIs(t, got.Err, ErrStoreClosed)

		assert.ErrorIs(t, <-async.PutBatchAsync(ctx, "t1", nil), ErrStoreClosed)
	})

	t.Run("should tolerate double close", func(t *testing.T) {
		async := NewAsyncStore(newTestStore(t), 8)
		async.Close()
		async.Close()
	})
}
