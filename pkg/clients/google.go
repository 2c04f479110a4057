package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"
	"google.golang.org/genai"
)

// ModelType names a hosted model.
type ModelType string

const (
	// DefaultModel is the default Gemini model to use if none is specified
	DefaultModel ModelType = "gemini-3-flash-preview"
	ProModel     ModelType = "gemini-3-pro-preview"
)

// GoogleAi returns a langchaingo Gemini model.
func GoogleAi(ctx context.Context, apiKey string, model ModelType) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}

	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create google model: %w", err)
	}
	return llm, nil
}

// GenAI returns a Gemini API client for native structured output and embeddings.
func GenAI(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}
