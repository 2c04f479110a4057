package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAI generates with the Gemini SDK, using native response schemas.
type GenAI struct {
	Client *genai.Client
	Model  string
}

func NewGenAI(client *genai.Client, model string) *GenAI {
	return &GenAI{Client: client, Model: model}
}

func (g *GenAI) Generate(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		schema, err := genaiSchema(req.Schema)
		if err != nil {
			return "", err
		}
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schema
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	if req.Stream == nil {
		resp, err := g.Client.Models.GenerateContent(ctx, g.Model, contents, cfg)
		if err != nil {
			return "", fmt.Errorf("genai generation failed: %w", err)
		}
		text := responseText(resp)
		if text == "" {
			return "", errors.New("genai returned no content")
		}
		return text, nil
	}

	var b strings.Builder
	for resp, err := range g.Client.Models.GenerateContentStream(ctx, g.Model, contents, cfg) {
		if err != nil {
			return "", fmt.Errorf("genai stream failed: %w", err)
		}
		chunk := responseText(resp)
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		req.Stream(chunk)
	}
	return b.String(), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
