package embeddings

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// maxBatch is the most texts the Gemini API embeds in one request.
const maxBatch = 100

// GoogleEmbedder wraps Gemini embeddings
type GoogleEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

// NewGoogleEmbedder creates an embedder over an existing Gemini client.
// dimensions of 0 keeps the model's native size.
func NewGoogleEmbedder(client *genai.Client, model string, dimensions int) (*GoogleEmbedder, error) {
	if client == nil {
		return nil, errors.New("embeddings: nil genai client")
	}
	if model == "" {
		return nil, errors.New("embeddings: model is required")
	}
	return &GoogleEmbedder{
		client:     client,
		model:      model,
		dimensions: int32(dimensions),
	}, nil
}

// EmbedText generates embeddings for a single text
func (e *GoogleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts generates embeddings for multiple texts, batching requests.
// The result has one vector per input, in input order.
func (e *GoogleEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		batch := texts[start:end]

		contents := make([]*genai.Content, len(batch))
		for i, text := range batch {
			contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
		}

		res, err := e.client.Models.EmbedContent(ctx, e.model, contents, e.config())
		if err != nil {
			return nil, fmt.Errorf("failed to embed texts: %w", err)
		}
		if len(res.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(batch), len(res.Embeddings))
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding returned")
			}
			result = append(result, emb.Values)
		}
	}

	return result, nil
}

func (e *GoogleEmbedder) config() *genai.EmbedContentConfig {
	if e.dimensions <= 0 {
		return nil
	}
	dim := e.dimensions
	return &genai.EmbedContentConfig{OutputDimensionality: &dim}
}
