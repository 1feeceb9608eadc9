package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"agentkit/internal/domain"
	"agentkit/internal/infra/tracer"
)

// maxResponseBody caps how much of an API response we read.
const maxResponseBody = 10 << 20

// postJSON sends one JSON request and returns the whole response body.
// Non-200 statuses come back as domain errors via mapHTTPError.
func postJSON(ctx context.Context, client *http.Client, url string, payload []byte, headers map[string]string) ([]byte, error) {
	resp, err := send(ctx, client, url, payload, headers, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, body)
	}
	return body, nil
}

// postStream sends one JSON request expecting an event stream and returns
// the open response; the caller owns Body. Error statuses are drained and
// mapped the same way as postJSON.
func postStream(ctx context.Context, client *http.Client, url string, payload []byte, headers map[string]string) (*http.Response, error) {
	resp, err := send(ctx, client, url, payload, headers, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, mapHTTPError(resp.StatusCode, body)
	}
	return resp, nil
}

func send(ctx context.Context, client *http.Client, url string, payload []byte, headers map[string]string, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrProviderError, err)
	}
	return resp, nil
}

func logChatCompleted(logger *slog.Logger, providerName string, result *domain.ChatResponse) {
	logger.Debug("llm chat completed",
		"provider", providerName,
		"model", result.Model,
		"finish_reason", result.FinishReason,
		"tokens", result.Usage.TotalTokens,
	)
}

func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// mapHTTPError turns an HTTP failure into the domain sentinel the retry
// classifier and breaker key on. The "API error NNN:" prefix is part of the
// contract with the classifier's status extraction.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, body)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusBadRequest && isOverflowBody(string(body)):
		// Some APIs report a blown context window as a plain 400.
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

func isOverflowBody(body string) bool {
	lower := strings.ToLower(body)
	for _, hint := range []string{"context_length_exceeded", "context length", "maximum context", "prompt is too long"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
