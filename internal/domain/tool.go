package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
// Parameters is a JSON Schema document validated at registration time.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCallStatus is the lifecycle state of a single tool invocation.
type ToolCallStatus string

const (
	ToolCallPending ToolCallStatus = "pending"
	ToolCallRunning ToolCallStatus = "running"
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallError   ToolCallStatus = "error"
)

// ToolCall represents an LLM's request to invoke a tool, plus the outcome
// once the executor has resolved it. Status moves strictly forward:
// pending -> running -> success|error, and is resolved exactly once.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Status    ToolCallStatus  `json:"status,omitempty"`
	Output    string          `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration_ms,omitempty"`
}

// MarkRunning transitions the call to running. Returns ErrInvalidTransition
// unless the call is still pending.
func (tc *ToolCall) MarkRunning() error {
	if tc.Status != "" && tc.Status != ToolCallPending {
		return NewDomainError("ToolCall.MarkRunning", ErrInvalidTransition, string(tc.Status))
	}
	tc.Status = ToolCallRunning
	return nil
}

// MarkSuccess resolves the call with output. Valid only from running.
func (tc *ToolCall) MarkSuccess(output string, d time.Duration) error {
	if tc.Status != ToolCallRunning {
		return NewDomainError("ToolCall.MarkSuccess", ErrInvalidTransition, string(tc.Status))
	}
	tc.Status = ToolCallSuccess
	tc.Output = output
	tc.Duration = d
	return nil
}

// MarkError resolves the call with an error. Valid only from running.
func (tc *ToolCall) MarkError(msg string, d time.Duration) error {
	if tc.Status != ToolCallRunning {
		return NewDomainError("ToolCall.MarkError", ErrInvalidTransition, string(tc.Status))
	}
	tc.Status = ToolCallError
	tc.Error = msg
	tc.Duration = d
	return nil
}

// Resolved reports whether the call reached a terminal status.
func (tc *ToolCall) Resolved() bool {
	return tc.Status == ToolCallSuccess || tc.Status == ToolCallError
}

// ToolResult is the outcome of executing a tool. IsRetryable marks transient
// failures so the agent loop can tell the model a retry may help.
type ToolResult struct {
	ToolCallID  string `json:"tool_call_id"`
	Content     string `json:"content"`
	IsError     bool   `json:"is_error"`
	IsRetryable bool   `json:"is_retryable,omitempty"`
}

// Tool is the interface every tool must implement. Tools are stateless and
// may be shared across concurrent runs.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup and schema listing for the executor.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}
