package agent

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workseek/workseek/pkg/state"
	"github.com/workseek/workseek/pkg/tool"
)

// fakeProvider returns a canned response and records the request.
type fakeProvider struct {
	response *ModelResponse
	err      error
	requests []ModelRequest
}

func (p *fakeProvider) Provider() string { return "fake" }

func (p *fakeProvider) Call(ctx context.Context, request ModelRequest) (*ModelResponse, error) {
	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	return p.response, nil
}

type fakeCatalog struct{ decls []tool.Declaration }

func (c fakeCatalog) Declarations() []tool.Declaration { return c.decls }

type fakeRecall struct {
	notes []string
	err   error
}

func (r fakeRecall) Recall(ctx context.Context, threadID, query string) ([]string, error) {
	return r.notes, r.err
}

func newDecider(t *testing.T, provider ModelProvider, recall RecallSource) *ModelDecider {
	t.Helper()
	d, err := NewModelDecider(DeciderConfig{
		Provider:     provider,
		Catalog:      fakeCatalog{decls: []tool.Declaration{{Name: "lookup_listing", Description: "Looks up a listing"}}},
		Recall:       recall,
		Model:        "test-model",
		SystemPrompt: "You help with job searches.",
		Logger:       zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	return d
}

func TestModelDecider(t *testing.T) {
	ctx := context.Background()
	st := &state.AgentState{
		ThreadID:    "t1",
		Input:       "any Go roles?",
		ChatHistory: []state.ChatMessage{{Role: "user", Content: "any Go roles?"}},
	}

	t.Run("should return the answer for a text response", func(t *testing.T) {
		provider := &fakeProvider{response: &ModelResponse{Content: "two matches"}}

		outcome, err := newDecider(t, provider, nil).Decide(ctx, st)
		require.NoError(t, err)
		assert.Equal(t, "two matches", outcome.Answer)
		assert.Empty(t, outcome.Calls)

		require.Len(t, provider.requests, 1)
		request := provider.requests[0]
		assert.Equal(t, "test-model", request.Model)
		assert.Equal(t, "You help with job searches.", request.SystemPrompt)
		require.Len(t, request.Tools, 1)
		assert.Equal(t, "lookup_listing", request.Tools[0].Name)
	})

	t.Run("should prefer tool calls over answer text", func(t *testing.T) {
		provider := &fakeProvider{response: &ModelResponse{
			Content: "let me check",
			ToolCalls: []state.ToolCallRequest{
				{Name: "lookup_listing", Arguments: map[string]interface{}{"id": "7"}, CorrelationID: "c1"},
			},
		}}

		outcome, err := newDecider(t, provider, nil).Decide(ctx, st)
		require.NoError(t, err)
		assert.Empty(t, outcome.Answer)
		require.Len(t, outcome.Calls, 1)
		assert.Equal(t, "lookup_listing", outcome.Calls[0].Name)
	})

	t.Run("should surface provider errors", func(t *testing.T) {
		provider := &fakeProvider{err: errors.New("rate limited")}

		_, err := newDecider(t, provider, nil).Decide(ctx, st)
		assert.Error(t, err)
	})

	t.Run("should fold recalled notes into the system prompt", func(t *testing.T) {
		provider := &fakeProvider{response: &ModelResponse{Content: "ok"}}
		recall := fakeRecall{notes: []string{"prefers remote roles"}}

		_, err := newDecider(t, provider, recall).Decide(ctx, st)
		require.NoError(t, err)

		require.Len(t, provider.requests, 1)
		assert.Contains(t, provider.requests[0].SystemPrompt, "prefers remote roles")
	})

	t.Run("should proceed without notes when recall fails", func(t *testing.T) {
		provider := &fakeProvider{response: &ModelResponse{Content: "ok"}}
		recall := fakeRecall{err: errors.New("index unavailable")}

		outcome, err := newDecider(t, provider, recall).Decide(ctx, st)
		require.NoError(t, err)
		assert.Equal(t, "ok", outcome.Answer)
		assert.Equal(t, "You help with job searches.", provider.requests[0].SystemPrompt)
	})
}

func TestNewModelDecider(t *testing.T) {
	t.Run("should require provider, catalog, and model", func(t *testing.T) {
		_, err := NewModelDecider(DeciderConfig{})
		assert.Error(t, err)

		_, err = NewModelDecider(DeciderConfig{Provider: &fakeProvider{}})
		assert.Error(t, err)

		_, err = NewModelDecider(DeciderConfig{Provider: &fakeProvider{}, Catalog: fakeCatalog{}})
		assert.Error(t, err)
	})
}
