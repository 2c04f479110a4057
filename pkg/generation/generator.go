// Package generation turns the research roles into calls against a text model.
package generation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

// Request is a single prompt for a model.
type Request struct {
	// Role names the caller in logs and errors.
	Role   string
	System string
	Prompt string
	// Schema, when set, asks the model for a JSON object of that shape.
	Schema *jsonschema.Schema
	// Stream receives chunks as they arrive. Streaming requests are not JSON.
	Stream func(chunk string)
}

// Generator produces text for a Request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// SchemaInstructions renders schema as a response-format section for backends
// without native structured output.
func SchemaInstructions(schema *jsonschema.Schema) string {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	return "Return the JSON object directly without any formatting or additional text. The JSON object should have the following structure as defined in the schema. Make sure to answer in valid json and include all necessary properties:" + string(data)
}

// genaiSchema converts a JSON schema into the Gemini response schema.
func genaiSchema(s *jsonschema.Schema) (*genai.Schema, error) {
	if s == nil {
		return nil, nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "string":
		out.Type = genai.TypeString
	case "boolean":
		out.Type = genai.TypeBoolean
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	default:
		return nil, fmt.Errorf("unsupported schema type %q", s.Type)
	}
	if s.MinItems != nil {
		n := int64(*s.MinItems)
		out.MinItems = &n
	}
	if s.MaxItems != nil {
		n := int64(*s.MaxItems)
		out.MaxItems = &n
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			p, err := genaiSchema(prop)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			out.Properties[name] = p
		}
	}
	if s.Items != nil {
		items, err := genaiSchema(s.Items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = items
	}
	return out, nil
}
