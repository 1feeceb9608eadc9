package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"agentkit/internal/domain"
	"agentkit/internal/infra/config"
	"agentkit/internal/infra/tracer"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicVersion = "2023-06-01"
)

// AnthropicProvider speaks the Anthropic Messages API.
type AnthropicProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	version string
	client  *http.Client
	logger  *slog.Logger
}

func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicProvider{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		version: defaultAnthropicVersion,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) endpoint() string { return p.baseURL + "/v1/messages" }

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.version,
	}
}

// Chat implements domain.LLMProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if req.Model == "" {
		req.Model = p.model
	}

	payload, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSON(ctx, p.client, p.endpoint(), payload, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var wire anthropicResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrMalformedResponse, err)
	}

	result := fromAnthropicResponse(wire)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)
	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	wireReq := toAnthropicRequest(req)
	wireReq.Stream = true

	payload, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := postStream(ctx, p.client, p.endpoint(), payload, p.headers())
	if err != nil {
		return nil, err
	}
	// Anthropic emits "event: <type>" / "data: <json>" pairs. The data JSON
	// repeats the event type, so the decoder ignores the event: lines and
	// dispatches on the embedded type field.
	return decodeEventStream(ctx, resp.Body, decodeAnthropicEvent), nil
}

// decodeAnthropicEvent maps one Messages-API stream event onto a StreamDelta.
// Events the executor has no use for (message_start, ping, block stops)
// return nil and are skipped.
func decodeAnthropicEvent(data []byte) (*domain.StreamDelta, error) {
	var evt anthropicStreamEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}

	switch evt.Type {
	case "content_block_start":
		if cb := evt.ContentBlock; cb != nil && cb.Type == "tool_use" {
			return &domain.StreamDelta{
				ToolCalls: []domain.ToolCall{{ID: cb.ID, Name: cb.Name}},
			}, nil
		}
		return nil, nil

	case "content_block_delta":
		var text anthropicDeltaText
		if err := json.Unmarshal(evt.Delta, &text); err == nil && text.Type == "text_delta" {
			return &domain.StreamDelta{Content: text.Text}, nil
		}
		var toolInput anthropicDeltaToolInput
		if err := json.Unmarshal(evt.Delta, &toolInput); err == nil && toolInput.Type == "input_json_delta" {
			return &domain.StreamDelta{
				ToolCalls: []domain.ToolCall{{Arguments: json.RawMessage(toolInput.PartialJSON)}},
			}, nil
		}
		return nil, nil

	case "message_delta":
		delta := &domain.StreamDelta{Done: true}
		if len(evt.Usage) > 0 {
			var u anthropicUsage
			if err := json.Unmarshal(evt.Usage, &u); err == nil {
				delta.Usage = &domain.Usage{
					PromptTokens:     u.InputTokens,
					CompletionTokens: u.OutputTokens,
					TotalTokens:      u.InputTokens + u.OutputTokens,
				}
			}
		}
		return delta, nil

	case "message_stop":
		return &domain.StreamDelta{Done: true}, nil

	default:
		return nil, nil
	}
}
