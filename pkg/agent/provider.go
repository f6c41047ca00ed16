package agent

import (
	"context"

	"github.com/workseek/workseek/pkg/state"
	"github.com/workseek/workseek/pkg/tool"
)

// ModelRequest is a provider-neutral chat completion request.
type ModelRequest struct {
	Model        string
	SystemPrompt string
	Messages     []state.ChatMessage
	Tools        []tool.Declaration
	MaxTokens    int
	Temperature  float64
}

// TokenUsage reports token consumption for one model call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// ModelResponse is a provider-neutral chat completion response. A response
// carries text, tool call requests, or both.
type ModelResponse struct {
	Content   string
	ToolCalls []state.ToolCallRequest
	Usage     *TokenUsage
}

// ModelProvider abstracts a chat completion backend.
type ModelProvider interface {
	// Provider returns the backend name, used for logging and metrics.
	Provider() string

	// Call performs one chat completion.
	Call(ctx context.Context, request ModelRequest) (*ModelResponse, error)
}
