package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mikeboe/deep-search/pkg/research"
)

const clarifierInstructions = `You are a research assistant preparing a web research task.
Ask exactly 3 short clarifying questions whose answers would most change how you search and what a good answer looks like (budget, constraints, preferences, scope).`

const plannerInstructions = `You are a research planner.
Generate 3-5 specific web search queries that together cover the user's query and their clarified context.
Never repeat a previous query. When gaps are known, target them first.`

const evaluatorInstructions = `Today's date is %s.

You are an expert at evaluating research quality and completeness.

Your task is to decide whether the current results are good enough to answer the user's initial query and their clarified context.

Apply judgment rather than being overly strict. If the results are directionally sufficient to give a helpful answer, mark them sufficient. Only mark insufficient when key details that block a reasonable answer are missing.

Evaluation focus:
1. **Relevance** - Do the results address the user's question and context?
2. **Coverage** - Are the main aspects covered well enough to answer?
3. **Recency** - Is the information reasonably current for the topic?
4. **Consistency** - Are there any major contradictions that prevent a clear answer?

If insufficient, list only the most important gaps (max 3).`

const answererInstructions = `You are a helpful AI assistant that answers questions based on the information gathered from web searches and crawled content.

When answering:

1. Write in Markdown with clear section headings and bullet points
2. Be thorough but concise
3. Always cite your sources using markdown links
4. If you're unsure about something, say so
5. Format URLs as markdown links using [title](url)
6. Never include raw URLs`

var (
	questionsSchema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"questions": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				MinItems:    intPtr(3),
				MaxItems:    intPtr(3),
				Description: "Exactly 3 clarifying questions",
			},
		},
		Required: []string{"questions"},
	}

	queriesSchema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"queries": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				MinItems:    intPtr(3),
				MaxItems:    intPtr(5),
				Description: "List of 3 to 5 specific search queries",
			},
		},
		Required: []string{"queries"},
	}

	evaluationSchema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"answerIsSatisfactory": {
				Type:        "boolean",
				Description: "Whether the results are sufficient to answer the query",
			},
			"gaps": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				Description: "The most important missing pieces, empty when satisfactory",
			},
		},
		Required: []string{"answerIsSatisfactory", "gaps"},
	}
)

// Agents implements the four research roles on top of one Generator.
type Agents struct {
	Generator Generator
	// Writer, when set, composes the final answer instead of Generator.
	Writer Generator
	Retry  Retry
	// Now dates the evaluator prompt.
	Now func() time.Time
}

func NewAgents(g Generator, retry Retry) *Agents {
	return &Agents{Generator: g, Retry: retry, Now: time.Now}
}

// Capabilities exposes a as every role the engine needs.
func (a *Agents) Capabilities() research.Capabilities {
	return research.Capabilities{
		Clarifier:   a,
		Planner:     a,
		Evaluator:   a,
		Synthesizer: a,
	}
}

func (a *Agents) Clarify(ctx context.Context, in research.ClarifyInput) ([]string, error) {
	var out struct {
		Questions []string `json:"questions"`
	}
	_, err := a.Retry.Do(ctx, a.Generator, Request{
		Role:   "clarifier",
		System: clarifierInstructions,
		Prompt: in.Prompt(),
		Schema: questionsSchema,
	}, func(content string) error {
		out.Questions = nil
		if err := decodeJSON(content, &out); err != nil {
			return err
		}
		out.Questions = compact(out.Questions)
		if len(out.Questions) < 3 {
			return fmt.Errorf("expected 3 questions, got %d", len(out.Questions))
		}
		out.Questions = out.Questions[:3]
		return nil
	})
	if err != nil {
		return nil, &research.GenerationError{Role: "clarifier", Err: err}
	}
	return out.Questions, nil
}

func (a *Agents) Plan(ctx context.Context, in research.PlanInput) ([]string, error) {
	var out struct {
		Queries []string `json:"queries"`
	}
	_, err := a.Retry.Do(ctx, a.Generator, Request{
		Role:   "planner",
		System: plannerInstructions,
		Prompt: in.Prompt(),
		Schema: queriesSchema,
	}, func(content string) error {
		out.Queries = nil
		if err := decodeJSON(content, &out); err != nil {
			return err
		}
		out.Queries = compact(out.Queries)
		if len(out.Queries) < 3 {
			return fmt.Errorf("expected 3-5 queries, got %d", len(out.Queries))
		}
		if len(out.Queries) > 5 {
			out.Queries = out.Queries[:5]
		}
		return nil
	})
	if err != nil {
		return nil, &research.GenerationError{Role: "planner", Err: err}
	}
	return out.Queries, nil
}

func (a *Agents) Evaluate(ctx context.Context, in research.EvaluateInput) (research.Evaluation, error) {
	var out struct {
		AnswerIsSatisfactory *bool    `json:"answerIsSatisfactory"`
		Gaps                 []string `json:"gaps"`
	}
	_, err := a.Retry.Do(ctx, a.Generator, Request{
		Role:   "evaluator",
		System: fmt.Sprintf(evaluatorInstructions, a.now().Format("January 2, 2006")),
		Prompt: in.Prompt(),
		Schema: evaluationSchema,
	}, func(content string) error {
		out.AnswerIsSatisfactory, out.Gaps = nil, nil
		if err := decodeJSON(content, &out); err != nil {
			return err
		}
		if out.AnswerIsSatisfactory == nil {
			return errors.New("missing answerIsSatisfactory")
		}
		return nil
	})
	if err != nil {
		return research.Evaluation{}, &research.GenerationError{Role: "evaluator", Err: err}
	}
	gaps := compact(out.Gaps)
	if gaps == nil {
		gaps = []string{}
	}
	return research.Evaluation{AnswerIsSatisfactory: *out.AnswerIsSatisfactory, Gaps: gaps}, nil
}

func (a *Agents) Synthesize(ctx context.Context, in research.SynthesizeInput) (string, error) {
	writer := a.Writer
	if writer == nil {
		writer = a.Generator
	}
	answer, err := a.Retry.Do(ctx, writer, Request{
		Role:   "synthesizer",
		System: answererInstructions,
		Prompt: in.Prompt(),
		Stream: in.Stream,
	}, func(content string) error {
		if strings.TrimSpace(content) == "" {
			return errors.New("empty answer")
		}
		return nil
	})
	if err != nil {
		return "", &research.GenerationError{Role: "synthesizer", Err: err}
	}
	return answer, nil
}

func (a *Agents) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// decodeJSON unmarshals content, tolerating a surrounding markdown code fence.
func decodeJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("json parse error: %w (content: %s)", err, content)
	}
	return nil
}

func intPtr(n int) *int { return &n }

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
