package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workseek/workseek/pkg/checkpoint"
	"github.com/workseek/workseek/pkg/graph"
	"github.com/workseek/workseek/pkg/state"
)

// scriptedDecider replays a fixed sequence of outcomes, then answers "done".
type scriptedDecider struct {
	outcomes []graph.Outcome
	err      error
	calls    int
	seen     []*state.AgentState
}

func (d *scriptedDecider) Decide(ctx context.Context, st *state.AgentState) (graph.Outcome, error) {
	snapshot := *st
	d.seen = append(d.seen, &snapshot)
	i := d.calls
	d.calls++
	if d.err != nil {
		return graph.Outcome{}, d.err
	}
	if i < len(d.outcomes) {
		return d.outcomes[i], nil
	}
	return graph.Outcome{Answer: "done"}, nil
}

// okDispatcher answers every call with a fixed payload.
type okDispatcher struct{}

func (okDispatcher) DispatchAll(ctx context.Context, calls []state.ToolCallRequest) []state.ToolCallResult {
	results := make([]state.ToolCallResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, state.ToolCallResult{
			CorrelationID: call.CorrelationID,
			OK:            true,
			Payload:       `{"tool":"` + call.Name + `"}`,
		})
	}
	return results
}

func newTestStore(t *testing.T) *checkpoint.SQLiteStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "agent-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := checkpoint.NewSQLiteStore(checkpoint.Options{
		Path:   filepath.Join(tmpDir, "checkpoints.db"),
		Logger: zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func newTestRuntime(t *testing.T, store checkpoint.Store, decider graph.DecisionStep) *Runtime {
	t.Helper()
	rt, err := NewRuntime(RuntimeConfig{
		Store:         store,
		Decider:       decider,
		Dispatcher:    okDispatcher{},
		MaxCycles:     5,
		HistoryWindow: 6,
		Logger:        zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	return rt
}

func TestRuntimeRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should answer and persist the turn", func(t *testing.T) {
		store := newTestStore(t)
		decider := &scriptedDecider{outcomes: []graph.Outcome{{Answer: "three listings match"}}}
		rt := newTestRuntime(t, store, decider)

		answer, err := rt.Run(ctx, "t1", "any remote Go roles?")
		require.NoError(t, err)
		assert.Equal(t, "three listings match", answer)

		cp, found, err := store.GetLatest(ctx, "t1")
		require.NoError(t, err)
		require.True(t, found)

		st, err := state.NewCodec().Decode(cp.State)
		require.NoError(t, err)
		require.Len(t, st.ChatHistory, 2)
		assert.Equal(t, "user", st.ChatHistory[0].Role)
		assert.Equal(t, "assistant", st.ChatHistory[1].Role)
	})

	t.Run("should carry prior history into the next turn", func(t *testing.T) {
		store := newTestStore(t)
		first := &scriptedDecider{outcomes: []graph.Outcome{{Answer: "noted"}}}
		rt := newTestRuntime(t, store, first)
		_, err := rt.Run(ctx, "t1", "I prefer remote roles")
		require.NoError(t, err)

		second := &scriptedDecider{outcomes: []graph.Outcome{{Answer: "remembering that"}}}
		rt = newTestRuntime(t, store, second)
		_, err = rt.Run(ctx, "t1", "what did I say?")
		require.NoError(t, err)

		require.Len(t, second.seen, 1)
		history := second.seen[0].ChatHistory
		require.Len(t, history, 3)
		assert.Equal(t, "I prefer remote roles", history[0].Content)
		assert.Equal(t, "what did I say?", history[2].Content)

		// The step log never carries across turns.
		assert.Empty(t, second.seen[0].StepLog)
	})

	t.Run("should trim history to the window", func(t *testing.T) {
		store := newTestStore(t)
		for i := 0; i < 6; i++ {
			decider := &scriptedDecider{outcomes: []graph.Outcome{{Answer: "ok"}}}
			_, err := newTestRuntime(t, store, decider).Run(ctx, "t1", "turn")
			require.NoError(t, err)
		}

		probe := &scriptedDecider{outcomes: []graph.Outcome{{Answer: "ok"}}}
		_, err := newTestRuntime(t, store, probe).Run(ctx, "t1", "turn")
		require.NoError(t, err)

		require.Len(t, probe.seen, 1)
		// Six carried messages plus the new user turn.
		assert.Len(t, probe.seen[0].ChatHistory, 7)
	})

	t.Run("should fall back when the cycle bound is hit", func(t *testing.T) {
		store := newTestStore(t)
		looping := &scriptedDecider{}
		for i := 0; i < 10; i++ {
			looping.outcomes = append(looping.outcomes, graph.Outcome{
				Calls: []state.ToolCallRequest{{Name: "score_match", Arguments: map[string]interface{}{}}},
			})
		}
		rt := newTestRuntime(t, store, looping)

		answer, err := rt.Run(ctx, "t1", "keep going forever")
		require.NoError(t, err)
		assert.Equal(t, defaultFallback, answer)
	})

	t.Run("should substitute the fallback for an empty final answer", func(t *testing.T) {
		store := newTestStore(t)
		decider := &scriptedDecider{outcomes: []graph.Outcome{{Answer: ""}}}
		rt := newTestRuntime(t, store, decider)

		answer, err := rt.Run(ctx, "t1", "hello")
		require.NoError(t, err)
		assert.Equal(t, defaultFallback, answer)
	})

	t.Run("should hide internals when the decision step fails", func(t *testing.T) {
		store := newTestStore(t)
		decider := &scriptedDecider{err: errors.New("api key rejected by upstream")}
		rt := newTestRuntime(t, store, decider)

		answer, err := rt.Run(ctx, "t1", "hello")
		assert.ErrorIs(t, err, graph.ErrDecisionStep)
		assert.Equal(t, failureText, answer)
		assert.NotContains(t, answer, "api key")
	})

	t.Run("should return the context error on cancellation", func(t *testing.T) {
		store := newTestStore(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		rt := newTestRuntime(t, store, &scriptedDecider{})

		answer, err := rt.Run(cancelled, "t1", "hello")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, answer)
	})
}

func TestRuntimeHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("should list decoded states oldest first", func(t *testing.T) {
		store := newTestStore(t)
		decider := &scriptedDecider{outcomes: []graph.Outcome{
			{Calls: []state.ToolCallRequest{{Name: "lookup_listing", Arguments: map[string]interface{}{}, CorrelationID: "c1"}}},
			{Answer: "found"},
		}}
		rt := newTestRuntime(t, store, decider)

		_, err := rt.Run(ctx, "t1", "look up listing 7")
		require.NoError(t, err)

		states, err := rt.History(ctx, "t1")
		require.NoError(t, err)
		// One checkpoint per node: decision with calls, action, final decision.
		require.Len(t, states, 3)
		assert.Len(t, states[0].StepLog, 1)
		assert.Len(t, states[1].StepLog, 2)
	})

	t.Run("should return nothing for an unknown thread", func(t *testing.T) {
		rt := newTestRuntime(t, newTestStore(t), &scriptedDecider{})
		states, err := rt.History(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, states)
	})
}
