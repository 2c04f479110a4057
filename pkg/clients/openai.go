package clients

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

const GPT41 ModelType = "gpt-4.1"

func OpenAI(apiKey string, model ModelType) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is empty")
	}
	if model == "" {
		model = GPT41
	}

	llm, err := openai.New(openai.WithToken(apiKey), openai.WithModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai model: %w", err)
	}
	return llm, nil
}
