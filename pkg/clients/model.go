// Package clients constructs model clients from explicit credentials.
package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// NewModel returns the langchaingo model for provider.
func NewModel(ctx context.Context, provider, apiKey string, model ModelType) (llms.Model, error) {
	var (
		llm llms.Model
		err error
	)
	switch provider {
	case "google":
		llm, err = GoogleAi(ctx, apiKey, model)
	case "openai":
		llm, err = OpenAI(apiKey, model)
	case "anthropic":
		llm, err = AnthropicAI(apiKey, model)
	default:
		return nil, fmt.Errorf("invalid model provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return llm, nil
}
