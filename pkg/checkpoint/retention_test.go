package checkpoint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

	t.Run("should reject an invalid schedule", func(t *testing.T) {
		_, err := NewSweeper(newTestStore(t), "not a cron spec", time.Hour, logger)
		assert.Error(t, err)
	})

	t.Run("should require a store", func(t *testing.T) {
		_, err := NewSweeper(nil, "0 3 * * *", time.Hour, logger)
		assert.Error(t, err)
	})

	t.Run("should prune aged checkpoints on demand", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Put(ctx, "t1", stateWithInput("t1", "old"))
		require.NoError(t, err)
		_, err = store.Put(ctx, "t1", stateWithInput("t1", "current"))
		require.NoError(t, err)

		// Retention shorter than the checkpoints' age makes both aged.
		sweeper, err := NewSweeper(store, "0 3 * * *", time.Nanosecond, logger)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)

		removed, err := sweeper.SweepNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		history, err := store.ListHistory(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("should skip sweeping when retention is disabled", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Put(ctx, "t1", stateWithInput("t1", "kept"))
		require.NoError(t, err)

		sweeper, err := NewSweeper(store, "0 3 * * *", 0, logger)
		require.NoError(t, err)

		removed, err := sweeper.SweepNow(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("should start and stop cleanly", func(t *testing.T) {
		sweeper, err := NewSweeper(newTestStore(t), "0 3 * * *", time.Hour, logger)
		require.NoError(t, err)

		sweeper.Start()
		sweeper.Stop()
	})
}
