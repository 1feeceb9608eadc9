package domain

import (
	"fmt"
	"time"
)

// DefaultMaxIterations bounds the think/act loop when the config leaves it unset.
const DefaultMaxIterations = 5

// AgentConfig describes a single agent. Immutable after executor construction.
type AgentConfig struct {
	Name          string   `json:"name"           yaml:"name"`
	SystemPrompt  string   `json:"system_prompt"  yaml:"system_prompt"`
	Model         string   `json:"model"          yaml:"model"`
	Tools         []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"    yaml:"temperature,omitempty"`
	Streaming     bool     `json:"streaming,omitempty"      yaml:"streaming,omitempty"`
}

// Validate checks the config for construction-time errors.
func (c AgentConfig) Validate() error {
	if c.Name == "" {
		return NewDomainError("AgentConfig.Validate", ErrInvalidInput, "agent name is required")
	}
	if c.Model == "" {
		return NewDomainError("AgentConfig.Validate", ErrInvalidInput, "model is required")
	}
	if c.MaxIterations < 0 {
		return NewDomainError("AgentConfig.Validate", ErrInvalidInput,
			fmt.Sprintf("max_iterations must be >= 0, got %d", c.MaxIterations))
	}
	return nil
}

// StepKind identifies a streamed execution event.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepToolCall    StepKind = "tool_call"
	StepToolResult  StepKind = "tool_result"
	StepFinalAnswer StepKind = "final_answer"
	StepError       StepKind = "error"
)

// Step is one event in the streaming interface. The stream is finite: it
// ends after a final_answer or error event.
type Step struct {
	Kind      StepKind  `json:"kind"`
	Content   string    `json:"content,omitempty"`
	ToolCall  *ToolCall `json:"tool_call,omitempty"`
	Iteration int       `json:"iteration"`
	Usage     *Usage    `json:"usage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StepResult records one loop iteration inside an AgentResult.
type StepResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	Tokens   int           `json:"tokens"`
	Duration time.Duration `json:"duration_ms"`
}

// AgentResult is the outcome of a full run. Run never fails with an error
// value; failure is communicated through Success and Error.
type AgentResult struct {
	Success     bool          `json:"success"`
	Output      string        `json:"output,omitempty"`
	Steps       []StepResult  `json:"steps"`
	TotalTokens int           `json:"total_tokens"`
	TotalCost   float64       `json:"total_cost"`
	Duration    time.Duration `json:"duration_ms"`
	Error       string        `json:"error,omitempty"`
}

// SwarmResult is an AgentResult plus the ordered list of agents that ran.
type SwarmResult struct {
	AgentResult
	AgentsInvolved []string `json:"agents_involved"`
}
