package state

import (
	"time"
)

// ChatMessage represents a single conversation turn.
type ChatMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCallRequest      `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCallRequest is a tool invocation requested by the decision step.
type ToolCallRequest struct {
	Name          string                 `json:"name"`
	Arguments     map[string]interface{} `json:"arguments"`
	CorrelationID string                 `json:"correlation_id"`
}

// Result codes for failed tool dispatches. Failures are carried in-band so the
// decision step can react on the next cycle.
const (
	CodeUnknownTool      = "unknown_tool"
	CodeInvalidArguments = "invalid_arguments"
	CodeHandlerError     = "handler_error"
	CodeTimeout          = "timeout"
)

// ToolCallResult is the outcome of dispatching a single ToolCallRequest.
type ToolCallResult struct {
	CorrelationID string `json:"correlation_id"`
	OK            bool   `json:"ok"`
	Payload       string `json:"payload,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
}

// Step entry kinds.
const (
	StepCall   = "call"
	StepResult = "result"
)

// StepEntry is one element of the append-only step log: either a pending tool
// call or its result.
type StepEntry struct {
	Kind   string           `json:"kind"`
	Call   *ToolCallRequest `json:"call,omitempty"`
	Result *ToolCallResult  `json:"result,omitempty"`
}

// TurnContext identifies a single runtime invocation.
type TurnContext struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// AgentState is the mutable record threaded through node execution. It is
// rebuilt fresh per run; only checkpoints derived from it are durable.
type AgentState struct {
	ThreadID    string        `json:"thread_id"`
	Input       string        `json:"input"`
	ChatHistory []ChatMessage `json:"chat_history"`
	StepLog     []StepEntry   `json:"step_log"`
	Turn        TurnContext   `json:"turn"`
}

// AppendMessage appends a message to the chat history. History never shrinks
// across turns.
func (s *AgentState) AppendMessage(msg ChatMessage) {
	s.ChatHistory = append(s.ChatHistory, msg)
}

// AppendCall records a requested tool call in the step log.
func (s *AgentState) AppendCall(req ToolCallRequest) {
	call := req
	s.StepLog = append(s.StepLog, StepEntry{Kind: StepCall, Call: &call})
}

// AppendResult records a tool result in the step log.
func (s *AgentState) AppendResult(res ToolCallResult) {
	result := res
	s.StepLog = append(s.StepLog, StepEntry{Kind: StepResult, Result: &result})
}

// LastStep returns the most recent step log entry, or nil for an empty log.
func (s *AgentState) LastStep() *StepEntry {
	if len(s.StepLog) == 0 {
		return nil
	}
	return &s.StepLog[len(s.StepLog)-1]
}

// PendingCalls returns the tool calls that have no matching result yet, in the
// order they were requested.
func (s *AgentState) PendingCalls() []ToolCallRequest {
	answered := make(map[string]bool)
	for _, entry := range s.StepLog {
		if entry.Kind == StepResult && entry.Result != nil {
			answered[entry.Result.CorrelationID] = true
		}
	}

	var pending []ToolCallRequest
	for _, entry := range s.StepLog {
		if entry.Kind != StepCall || entry.Call == nil {
			continue
		}
		if !answered[entry.Call.CorrelationID] {
			pending = append(pending, *entry.Call)
		}
	}
	return pending
}

// LastResults returns the results appended after the most recent call batch.
// The decision step uses these to see what its requested tools produced.
func (s *AgentState) LastResults() []ToolCallResult {
	var results []ToolCallResult
	for i := len(s.StepLog) - 1; i >= 0; i-- {
		entry := s.StepLog[i]
		if entry.Kind != StepResult || entry.Result == nil {
			break
		}
		results = append([]ToolCallResult{*entry.Result}, results...)
	}
	return results
}

// RecentHistory returns at most limit trailing messages. A limit <= 0 returns
// the full history.
func RecentHistory(history []ChatMessage, limit int) []ChatMessage {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
