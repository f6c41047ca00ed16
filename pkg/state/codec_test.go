package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *AgentState {
	return &AgentState{
		ThreadID: "t1",
		Input:    "find me a backend role",
		ChatHistory: []ChatMessage{
			{Role: "user", Content: "find me a backend role"},
			{
				Role:    "assistant",
				Content: "Let me look that up.",
				ToolCalls: []ToolCallRequest{
					{
						Name:          "lookup_listing",
						Arguments:     map[string]interface{}{"id": "L-77"},
						CorrelationID: "c1",
					},
				},
			},
			{Role: "tool", Content: "Senior Backend Engineer", ToolCallID: "c1"},
		},
		StepLog: []StepEntry{
			{Kind: StepCall, Call: &ToolCallRequest{
				Name:          "lookup_listing",
				Arguments:     map[string]interface{}{"id": "L-77", "limit": float64(3)},
				CorrelationID: "c1",
			}},
			{Kind: StepResult, Result: &ToolCallResult{
				CorrelationID: "c1",
				OK:            true,
				Payload:       "Senior Backend Engineer",
			}},
		},
		Turn: TurnContext{
			RunID:     "run-1",
			StartedAt: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		},
	}
}

type fakeView struct {
	data []byte
}

func (v fakeView) Bytes() []byte { return v.data }

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec()

	t.Run("should round-trip full state including tool structures", func(t *testing.T) {
		original := sampleState()

		data, err := codec.Encode(original)
		require.NoError(t, err)

		decoded, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("should decode a read-only view identically to an owned buffer", func(t *testing.T) {
		original := sampleState()

		data, err := codec.Encode(original)
		require.NoError(t, err)

		fromOwned, err := codec.Decode(data)
		require.NoError(t, err)

		fromView, err := codec.DecodeView(fakeView{data: data})
		require.NoError(t, err)

		assert.Equal(t, fromOwned, fromView)
	})

	t.Run("should not alias the view's buffer", func(t *testing.T) {
		original := sampleState()

		data, err := codec.Encode(original)
		require.NoError(t, err)

		view := fakeView{data: data}
		decoded, err := codec.DecodeView(view)
		require.NoError(t, err)

		// Clobber the driver buffer after decode.
		for i := range view.data {
			view.data[i] = 0
		}
		assert.Equal(t, "t1", decoded.ThreadID)
	})

	t.Run("should reject empty payload", func(t *testing.T) {
		_, err := codec.Decode(nil)
		assert.ErrorIs(t, err, ErrCorruptCheckpoint)
	})

	t.Run("should reject invalid UTF-8", func(t *testing.T) {
		_, err := codec.Decode([]byte{0xff, 0xfe, 0xfd})
		assert.ErrorIs(t, err, ErrCorruptCheckpoint)
	})

	t.Run("should reject malformed envelope", func(t *testing.T) {
		_, err := codec.Decode([]byte(`{"format":"workseek.state","version":1,"state":`))
		assert.ErrorIs(t, err, ErrCorruptCheckpoint)
	})

	t.Run("should reject foreign format", func(t *testing.T) {
		_, err := codec.Decode([]byte(`{"format":"other.state","version":1,"state":{}}`))
		assert.ErrorIs(t, err, ErrCorruptCheckpoint)
	})

	t.Run("should reject unsupported version", func(t *testing.T) {
		_, err := codec.Decode([]byte(`{"format":"workseek.state","version":9,"state":{}}`))
		assert.ErrorIs(t, err, ErrCorruptCheckpoint)
	})
}

func TestStepLogHelpers(t *testing.T) {
	t.Run("should report pending calls until results arrive", func(t *testing.T) {
		st := &AgentState{ThreadID: "t1"}
		st.AppendCall(ToolCallRequest{Name: "lookup_listing", CorrelationID: "c1"})
		st.AppendCall(ToolCallRequest{Name: "score_match", CorrelationID: "c2"})

		pending := st.PendingCalls()
		require.Len(t, pending, 2)
		assert.Equal(t, "lookup_listing", pending[0].Name)

		st.AppendResult(ToolCallResult{CorrelationID: "c1", OK: true})
		pending = st.PendingCalls()
		require.Len(t, pending, 1)
		assert.Equal(t, "score_match", pending[0].Name)
	})

	t.Run("should return trailing results for the last batch", func(t *testing.T) {
		st := &AgentState{ThreadID: "t1"}
		st.AppendCall(ToolCallRequest{Name: "lookup_listing", CorrelationID: "c1"})
		st.AppendResult(ToolCallResult{CorrelationID: "c1", OK: true, Payload: "one"})
		st.AppendCall(ToolCallRequest{Name: "score_match", CorrelationID: "c2"})
		st.AppendResult(ToolCallResult{CorrelationID: "c2", OK: false, Error: "boom"})

		results := st.LastResults()
		require.Len(t, results, 1)
		assert.Equal(t, "c2", results[0].CorrelationID)
	})

	t.Run("should return nil last step for empty log", func(t *testing.T) {
		st := &AgentState{ThreadID: "t1"}
		assert.Nil(t, st.LastStep())
	})

	t.Run("should bound recent history", func(t *testing.T) {
		history := []ChatMessage{
			{Role: "user", Content: "a"},
			{Role: "assistant", Content: "b"},
			{Role: "user", Content: "c"},
		}

		recent := RecentHistory(history, 2)
		require.Len(t, recent, 2)
		assert.Equal(t, "b", recent[0].Content)

		assert.Len(t, RecentHistory(history, 0), 3)
		assert.Len(t, RecentHistory(history, 10), 3)
	})
}
