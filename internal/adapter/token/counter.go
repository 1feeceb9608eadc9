// Package token provides token counting backed by tiktoken-go. The
// cl100k_base encoding (GPT-3.5/4 and Claude compatible) is loaded once on
// construction; when loading fails the counter degrades to a character-based
// heuristic instead of returning errors.
package token

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"agentkit/internal/domain"
)

// perMessageOverhead approximates the framing tokens each chat message adds
// (role, separators) in the OpenAI chat format.
const perMessageOverhead = 4

// Counter counts tokens for text and chat messages. Safe for concurrent use.
type Counter struct {
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken
	log      *slog.Logger
}

var _ domain.TokenCounter = (*Counter)(nil)

// NewCounter builds a Counter, attempting to load the cl100k_base encoding.
// Loading may download the encoding file on first run; failure is logged and
// the heuristic fallback is used.
func NewCounter(log *slog.Logger) *Counter {
	c := &Counter{log: log}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn("tiktoken unavailable, using heuristic token estimates", "error", err)
		return c
	}
	c.encoding = enc
	return c
}

// CountString returns the token count of text. The model parameter is
// accepted for interface compatibility; cl100k_base is a close approximation
// for all supported models.
func (c *Counter) CountString(text, model string) int {
	c.mu.RLock()
	enc := c.encoding
	c.mu.RUnlock()

	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

// Breakdown itemizes where a message's tokens come from.
type Breakdown struct {
	Content   int `json:"content"`
	ToolCalls int `json:"tool_calls"`
	Overhead  int `json:"overhead"`
}

// CountMessage returns the token count of a single chat message, including
// per-message framing overhead and tool call arguments, plus a breakdown.
func (c *Counter) CountMessage(msg domain.Message, model string) (int, Breakdown) {
	b := Breakdown{
		Content:  c.CountString(msg.Content, model),
		Overhead: perMessageOverhead + c.CountString(msg.Role, model),
	}
	for _, tc := range msg.ToolCalls {
		b.ToolCalls += c.CountString(tc.Name, model)
		b.ToolCalls += c.CountString(string(tc.Arguments), model)
	}
	return b.Content + b.ToolCalls + b.Overhead, b
}

// CountMessages returns the total token count of a conversation history.
func (c *Counter) CountMessages(msgs []domain.Message, model string) int {
	total := 0
	for _, m := range msgs {
		n, _ := c.CountMessage(m, model)
		total += n
	}
	return total
}

// ExactAvailable reports whether the exact tokenizer loaded.
func (c *Counter) ExactAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encoding != nil
}

// Preload retries loading the exact encoding in the background. Counting
// keeps using the heuristic until the load completes. No-op when the
// encoding is already loaded.
func (c *Counter) Preload(ctx context.Context) {
	if c.ExactAvailable() {
		return
	}
	go func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.log.Warn("tiktoken preload failed", "error", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		if c.encoding == nil {
			c.encoding = enc
		}
		c.mu.Unlock()
	}()
}

// Close releases the encoding. Subsequent counts use the heuristic.
func (c *Counter) Close() {
	c.mu.Lock()
	c.encoding = nil
	c.mu.Unlock()
}

// estimate returns a heuristic token estimate: max(runes/4, word count).
// Always at least 1 for non-empty input.
func estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	n := runes / 4
	if n < words {
		n = words
	}
	if n == 0 {
		n = 1
	}
	return n
}
