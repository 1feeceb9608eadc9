package llm

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"agentkit/internal/domain"
)

func TestRateLimitedProviderDisabled(t *testing.T) {
	calls := 0
	inner := &mockProvider{
		name: "unlimited",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			calls++
			return &domain.ChatResponse{}, nil
		},
	}

	// 0 requests/min disables the limiter entirely.
	rl := NewRateLimitedProvider(inner, 0, slog.Default())
	for i := 0; i < 5; i++ {
		if _, err := rl.Chat(context.Background(), domain.ChatRequest{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
}

func TestRateLimitedProviderBlocksSecondCall(t *testing.T) {
	inner := &mockProvider{
		name: "limited",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{}, nil
		},
	}

	// 60/min = 1/sec with burst 1: first call passes, second must wait.
	rl := NewRateLimitedProvider(inner, 60, slog.Default())

	if _, err := rl.Chat(context.Background(), domain.ChatRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rl.Chat(ctx, domain.ChatRequest{})
	if err == nil {
		t.Fatal("second call should have been blocked past the context deadline")
	}
}

func TestRateLimitedProviderName(t *testing.T) {
	inner := &mockProvider{name: "openai"}
	rl := NewRateLimitedProvider(inner, 10, slog.Default())
	if rl.Name() != "openai" {
		t.Errorf("Name = %q, want openai", rl.Name())
	}
}

func TestRateLimitedProviderStreamNonStreaming(t *testing.T) {
	inner := &mockProvider{name: "no-stream"}
	rl := NewRateLimitedProvider(inner, 0, slog.Default())
	if _, err := rl.ChatStream(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for non-streaming inner provider")
	}
}
