package generation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-search/pkg/clients"
	"github.com/mikeboe/deep-search/pkg/config"
)

// FromConfig builds the research roles for the configured provider and
// backend. Structured roles use the fast model; the answer is written by the
// reasoning model.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Agents, error) {
	fast, err := newGenerator(ctx, cfg, cfg.FastModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast model: %w", err)
	}
	writer := fast
	if cfg.ReasoningModel != "" && cfg.ReasoningModel != cfg.FastModel {
		writer, err = newGenerator(ctx, cfg, cfg.ReasoningModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create reasoning model: %w", err)
		}
	}

	retry := DefaultRetry()
	if cfg.GenerationRetries > 0 {
		retry.Attempts = cfg.GenerationRetries
	}
	if logger != nil {
		retry.Logger = logger
	}

	agents := NewAgents(fast, retry)
	agents.Writer = writer
	return agents, nil
}

func newGenerator(ctx context.Context, cfg *config.Config, model string) (Generator, error) {
	if cfg.LLMBackend == "genai" {
		client, err := clients.GenAI(ctx, cfg.GoogleApiKey)
		if err != nil {
			return nil, err
		}
		return NewGenAI(client, model), nil
	}

	apiKey := map[string]string{
		"google":    cfg.GoogleApiKey,
		"openai":    cfg.OpenAIApiKey,
		"anthropic": cfg.AnthropicApiKey,
	}[cfg.LLMProvider]
	llm, err := clients.NewModel(ctx, cfg.LLMProvider, apiKey, clients.ModelType(model))
	if err != nil {
		return nil, err
	}
	return NewLangChain(llm), nil
}
