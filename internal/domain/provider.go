package domain

import "context"

// LLMProvider is a chat backend. Decorators (failover, rate limiting,
// circuit breaking) wrap this interface, so implementations should keep
// Chat free of retry logic of their own.
type LLMProvider interface {
	// Chat sends a request and blocks until the full response is available.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name identifies the provider, e.g. "openai" or "bedrock".
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
// Deltas carry only the increment; accumulation is the caller's job.
// A stream that breaks mid-response delivers a final Done delta with Err
// set, so the consumer can tell truncation from completion.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Err       error      `json:"-"`
}

// StreamingLLMProvider is implemented by backends that can deliver the
// response incrementally.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream returns a channel of deltas. The channel closes when the
	// response completes or ctx is cancelled.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// TokenCounter estimates or counts tokens for text under a given model.
// Implementations may use an exact tokenizer or a heuristic.
type TokenCounter interface {
	CountString(text, model string) int
	ExactAvailable() bool
}
