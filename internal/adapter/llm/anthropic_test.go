package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentkit/internal/domain"
	"agentkit/internal/infra/config"
)

func TestAnthropicProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("unexpected api key header: %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}

		resp := anthropicResponse{
			ID:    "msg_123",
			Model: "claude-3-5-haiku",
			Role:  "assistant",
			Content: []anthropicContent{
				{Type: "text", Text: "Hi there"},
			},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 12, OutputTokens: 4},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider := NewAnthropicProvider(config.ProviderConfig{
		Name:    "anthropic",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "claude-3-5-haiku",
	}, newTestLogger())

	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "Hi there" {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if resp.FinishReason != domain.FinishStop {
		t.Errorf("FinishReason = %q, want %q", resp.FinishReason, domain.FinishStop)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProviderChatToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := anthropicResponse{
			ID:    "msg_456",
			Model: "claude-3-5-haiku",
			Content: []anthropicContent{
				{Type: "text", Text: "Let me check"},
				{Type: "tool_use", ID: "toolu_1", Name: "clock", Input: json.RawMessage(`{"timezone":"UTC"}`)},
			},
			StopReason: "tool_use",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider := NewAnthropicProvider(config.ProviderConfig{Name: "a", BaseURL: server.URL, APIKey: "k"}, newTestLogger())
	resp, err := provider.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.FinishReason != domain.FinishToolCalls {
		t.Errorf("FinishReason = %q, want %q", resp.FinishReason, domain.FinishToolCalls)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].ID != "toolu_1" || resp.Message.ToolCalls[0].Name != "clock" {
		t.Errorf("tool call = %+v", resp.Message.ToolCalls[0])
	}
	if resp.Message.Content != "Let me check" {
		t.Errorf("Content = %q", resp.Message.Content)
	}
}

func TestAnthropicRequestConversion(t *testing.T) {
	req := domain.ChatRequest{
		Model: "claude-3-5-haiku",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "what time is it"},
			{
				Role:    domain.RoleAssistant,
				Content: "checking",
				ToolCalls: []domain.ToolCall{
					{ID: "toolu_1", Name: "clock", Arguments: json.RawMessage(`{}`)},
				},
			},
			{Role: domain.RoleTool, Content: "12:00", ToolCallID: "toolu_1"},
		},
		Tools: []domain.ToolSchema{
			{Name: "clock", Description: "tells time", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}

	antReq := toAnthropicRequest(req)

	// System prompt lifted out of the message list.
	if antReq.System != "be brief" {
		t.Errorf("System = %q", antReq.System)
	}
	if len(antReq.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(antReq.Messages))
	}

	// Assistant message carries text + tool_use blocks.
	asst := antReq.Messages[1]
	if len(asst.Content) != 2 || asst.Content[0].Type != "text" || asst.Content[1].Type != "tool_use" {
		t.Errorf("assistant content = %+v", asst.Content)
	}

	// Tool result becomes a user-role tool_result block.
	toolMsg := antReq.Messages[2]
	if toolMsg.Role != "user" {
		t.Errorf("tool result role = %q, want user", toolMsg.Role)
	}
	if toolMsg.Content[0].Type != "tool_result" || toolMsg.Content[0].ToolUseID != "toolu_1" {
		t.Errorf("tool result block = %+v", toolMsg.Content[0])
	}

	if antReq.MaxTokens != 4096 {
		t.Errorf("MaxTokens default = %d, want 4096", antReq.MaxTokens)
	}
	if len(antReq.Tools) != 1 || antReq.Tools[0].Name != "clock" {
		t.Errorf("tools = %+v", antReq.Tools)
	}
}

func TestMapAnthropicStopReason(t *testing.T) {
	tests := []struct {
		wire string
		want domain.FinishReason
	}{
		{"end_turn", domain.FinishStop},
		{"stop_sequence", domain.FinishStop},
		{"", domain.FinishStop},
		{"tool_use", domain.FinishToolCalls},
		{"max_tokens", domain.FinishLength},
		{"refusal", domain.FinishReason("refusal")},
	}
	for _, tt := range tests {
		if got := mapAnthropicStopReason(tt.wire); got != tt.want {
			t.Errorf("mapAnthropicStopReason(%q) = %q, want %q", tt.wire, got, tt.want)
		}
	}
}

func TestAnthropicProviderErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"prompt is too long: 250000 tokens > 200000 maximum"}}`))
	}))
	defer server.Close()

	provider := NewAnthropicProvider(config.ProviderConfig{Name: "a", BaseURL: server.URL, APIKey: "k"}, newTestLogger())
	_, err := provider.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrContextOverflow) {
		t.Errorf("err = %v, want ErrContextOverflow", err)
	}
}

func TestAnthropicChatMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>gateway error</html>`))
	}))
	defer server.Close()

	provider := NewAnthropicProvider(config.ProviderConfig{Name: "a", BaseURL: server.URL, APIKey: "k"}, newTestLogger())
	_, err := provider.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestAnthropicChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream flag not set on wire request")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`data: {"type":"message_start"}`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":9,"output_tokens":3}}`,
		}
		for _, e := range events {
			w.Write([]byte(e + "\n\n"))
		}
	}))
	defer server.Close()

	provider := NewAnthropicProvider(config.ProviderConfig{Name: "a", BaseURL: server.URL, APIKey: "k"}, newTestLogger())
	ch, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var content strings.Builder
	var sawDone bool
	var usage *domain.Usage
	for d := range ch {
		content.WriteString(d.Content)
		if d.Done {
			sawDone = true
		}
		if d.Usage != nil {
			usage = d.Usage
		}
	}

	if content.String() != "Hello" {
		t.Errorf("content = %q, want Hello", content.String())
	}
	if !sawDone {
		t.Error("stream never reported Done")
	}
	if usage == nil || usage.TotalTokens != 12 {
		t.Errorf("usage = %+v, want total 12", usage)
	}
}

func TestAnthropicChatStreamToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`data: {"type":"content_block_start","content_block":{"type":"tool_use","id":"toolu_1","name":"calculator"}}`,
			`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"a\":2,"}}`,
			`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"\"b\":2}"}}`,
			`data: {"type":"message_stop"}`,
		}
		for _, e := range events {
			w.Write([]byte(e + "\n\n"))
		}
	}))
	defer server.Close()

	provider := NewAnthropicProvider(config.ProviderConfig{Name: "a", BaseURL: server.URL, APIKey: "k"}, newTestLogger())
	ch, err := provider.ChatStream(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var id, name string
	var args strings.Builder
	for d := range ch {
		for _, tc := range d.ToolCalls {
			if tc.ID != "" {
				id = tc.ID
			}
			if tc.Name != "" {
				name = tc.Name
			}
			args.Write(tc.Arguments)
		}
	}

	if id != "toolu_1" || name != "calculator" {
		t.Errorf("id = %q, name = %q", id, name)
	}
	if args.String() != `{"a":2,"b":2}` {
		t.Errorf("arguments = %q", args.String())
	}
}
