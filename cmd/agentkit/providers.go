package main

import (
	"fmt"
	"log/slog"

	"agentkit/internal/adapter/llm"
	"agentkit/internal/domain"
	"agentkit/internal/infra/config"
)

// buildProvider constructs the configured provider stack: each backend is
// wrapped with a client-side rate limiter and circuit breaker as configured,
// then the default provider is fronted by a failover chain over the named
// fallbacks.
func buildProvider(cfg config.LLMConfig, log *slog.Logger) (domain.LLMProvider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}

	registry := llm.NewRegistry()
	for _, pc := range cfg.Providers {
		provider, err := createProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if pc.RequestsPerMin > 0 {
			provider = llm.NewRateLimitedProvider(provider, pc.RequestsPerMin, log)
		}
		if cfg.CircuitBreaker.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, cfg.CircuitBreaker, log)
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}

	primary, err := registry.Get(cfg.DefaultProvider)
	if err != nil {
		return nil, err
	}

	if !cfg.Failover.Enabled || len(cfg.Failover.Fallbacks) == 0 {
		return primary, nil
	}

	fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
	for _, name := range cfg.Failover.Fallbacks {
		fb, err := registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("failover fallback: %w", err)
		}
		fallbacks = append(fallbacks, fb)
	}
	return llm.NewFailoverProvider(primary, fallbacks, log), nil
}

func createProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai", "openai-compatible", "":
		return llm.NewOpenAIProvider(pc, log), nil
	case "anthropic":
		return llm.NewAnthropicProvider(pc, log), nil
	case "bedrock":
		return createBedrockProvider(pc, log)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", pc.Type)
	}
}
