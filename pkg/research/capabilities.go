package research

import "context"

// SearchProvider turns a query into summarized documents. Implementations
// must be safe for concurrent use; one provider serves every run.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]ResultItem, error)
}

// Clarifier produces exactly 3 clarifying questions.
type Clarifier interface {
	Clarify(ctx context.Context, in ClarifyInput) ([]string, error)
}

// Planner produces 3 to 5 fresh search queries.
type Planner interface {
	Plan(ctx context.Context, in PlanInput) ([]string, error)
}

// Evaluator judges whether the accumulated evidence is sufficient.
type Evaluator interface {
	Evaluate(ctx context.Context, in EvaluateInput) (Evaluation, error)
}

// Synthesizer composes the final markdown answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, in SynthesizeInput) (string, error)
}

// Capabilities bundles the four generation roles injected into the engine.
type Capabilities struct {
	Clarifier   Clarifier
	Planner     Planner
	Evaluator   Evaluator
	Synthesizer Synthesizer
}

type ClarifyInput struct {
	InitialQuery string
}

type PlanInput struct {
	InitialQuery    string
	ClarifiedIntent string
	PriorQueries    []string
	Gaps            []string
	Round           int
}

type EvaluateInput struct {
	InitialQuery    string
	ClarifiedIntent string
	SearchResults   []ResultGroup
	Round           int
}

// Evaluation is one round's verdict. Both fields are always applied together.
type Evaluation struct {
	AnswerIsSatisfactory bool     `json:"answerIsSatisfactory"`
	Gaps                 []string `json:"gaps"`
}

type SynthesizeInput struct {
	InitialQuery    string
	ClarifiedIntent string
	SearchResults   []ResultGroup
	// Exhausted is set when the loop stopped on the round cap rather than a
	// satisfied evaluation.
	Exhausted bool
	// Stream, when set, receives answer chunks as they are produced.
	Stream func(chunk string)
}
