//go:build bedrock

package main

import (
	"log/slog"

	"agentkit/internal/adapter/llm"
	"agentkit/internal/domain"
	"agentkit/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	return llm.NewBedrockProvider(pc, log)
}
