package clients

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/anthropic"
)

const (
	Claude4Sonnet ModelType = "claude-sonnet-4-20250514"
	Claude4Opus   ModelType = "claude-opus-4-20250514"
	Claude35Haiku ModelType = "claude-3-5-haiku-20241022"
)

func AnthropicAI(apiKey string, model ModelType) (*anthropic.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is empty")
	}
	if model == "" {
		model = Claude4Sonnet
	}

	llm, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic model: %w", err)
	}
	return llm, nil
}
