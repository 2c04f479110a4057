package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// LangChain generates through any langchaingo model (Gemini, OpenAI, Anthropic).
type LangChain struct {
	Model       llms.Model
	Temperature float64
}

func NewLangChain(model llms.Model) *LangChain {
	return &LangChain{Model: model}
}

func (g *LangChain) Generate(ctx context.Context, req Request) (string, error) {
	system := req.System
	var opts []llms.CallOption
	if req.Schema != nil {
		system += "\n\n# Response Format: \n\n" + SchemaInstructions(req.Schema)
		opts = append(opts, llms.WithJSONMode())
	}
	if g.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(g.Temperature))
	}
	if req.Stream != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			req.Stream(string(chunk))
			return nil
		}))
	}

	resp, err := g.Model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Content, nil
}
