package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"agentkit/internal/domain"
)

// FailoverProvider tries the primary provider first and walks the fallback
// list in order when it fails.
type FailoverProvider struct {
	primary   domain.LLMProvider
	fallbacks []domain.LLMProvider
	logger    *slog.Logger
}

var (
	_ domain.LLMProvider          = (*FailoverProvider)(nil)
	_ domain.StreamingLLMProvider = (*FailoverProvider)(nil)
)

func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Name implements domain.LLMProvider.
func (f *FailoverProvider) Name() string { return f.primary.Name() + "+failover" }

// failoverEligible reports whether an error is worth retrying on a different
// provider. Auth, overflow, and malformed-response failures travel with the
// request, so every provider would reject it the same way.
func failoverEligible(err error) bool {
	switch domain.ErrorCodeOf(err) {
	case domain.CodeAuthInvalid, domain.CodeContextOverflow, domain.CodeMalformed:
		return false
	}
	return true
}

// Chat implements domain.LLMProvider.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := f.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !failoverEligible(err) {
		return nil, err
	}
	f.logger.Warn("primary LLM failed, trying fallbacks",
		"primary", f.primary.Name(), "error", err)

	failures := []string{fmt.Sprintf("%s: %v", f.primary.Name(), err)}
	for _, fb := range f.fallbacks {
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			f.logger.Info("failover succeeded", "provider", fb.Name())
			return resp, nil
		}
		f.logger.Warn("fallback LLM failed", "provider", fb.Name(), "error", err)
		failures = append(failures, fmt.Sprintf("%s: %v", fb.Name(), err))
		if !failoverEligible(err) {
			break
		}
	}

	return nil, fmt.Errorf("all providers failed: [%s]", strings.Join(failures, "; "))
}

// ChatStream implements domain.StreamingLLMProvider. Providers without
// streaming support are skipped rather than counted as failures.
func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	var failures []string

	if sp, ok := f.primary.(domain.StreamingLLMProvider); ok {
		ch, err := sp.ChatStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		if !failoverEligible(err) {
			return nil, err
		}
		f.logger.Warn("primary streaming LLM failed, trying fallbacks",
			"primary", f.primary.Name(), "error", err)
		failures = append(failures, fmt.Sprintf("%s: %v", f.primary.Name(), err))
	}

	for _, fb := range f.fallbacks {
		sp, ok := fb.(domain.StreamingLLMProvider)
		if !ok {
			continue
		}
		ch, err := sp.ChatStream(ctx, req)
		if err == nil {
			f.logger.Info("streaming failover succeeded", "provider", fb.Name())
			return ch, nil
		}
		f.logger.Warn("fallback streaming LLM failed", "provider", fb.Name(), "error", err)
		failures = append(failures, fmt.Sprintf("%s: %v", fb.Name(), err))
		if !failoverEligible(err) {
			break
		}
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("all streaming providers failed: [%s]", strings.Join(failures, "; "))
	}
	return nil, fmt.Errorf("no streaming-capable providers available")
}
