package research

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExhaustionNote is added to the synthesis prompt when the round cap ended the loop.
const ExhaustionNote = "Note: We may not have all the information needed to answer the question completely. Please provide your best attempt at an answer based on the available information."

const clarificationIntro = "To help you better, I have a few questions:"

// FormatQuestions numbers the questions from 1 and joins them with newlines.
func FormatQuestions(questions []string) string {
	lines := make([]string, len(questions))
	for i, q := range questions {
		lines[i] = fmt.Sprintf("%d. %s", i+1, q)
	}
	return strings.Join(lines, "\n")
}

func newSuspension(questions []string) *Suspension {
	return &Suspension{
		AssistantMessage: clarificationIntro + "\n\n" + FormatQuestions(questions),
		Questions:        cloneStrings(questions),
	}
}

// Prompt renders the clarifier request.
func (in ClarifyInput) Prompt() string {
	return fmt.Sprintf(`User query: "%s"

Generate exactly 3 clarifying questions to better understand the user's intent and provide a more personalized answer.`, in.InitialQuery)
}

// Prompt renders the planner request, listing prior queries and known gaps.
func (in PlanInput) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User initial query: %q\n", in.InitialQuery)
	fmt.Fprintf(&b, "Additional context: %q\n", in.ClarifiedIntent)
	if len(in.PriorQueries) > 0 {
		b.WriteString("\nPrevious queries (avoid repeating):\n- ")
		b.WriteString(strings.Join(in.PriorQueries, "\n- "))
		b.WriteString("\n")
	}
	if len(in.Gaps) > 0 {
		b.WriteString("\nKnown gaps:\n- ")
		b.WriteString(strings.Join(in.Gaps, "\n- "))
		b.WriteString("\n")
	}
	b.WriteString("\nGenerate 3-5 focused search queries.")
	return b.String()
}

// Prompt renders the evaluator request over the whole search history.
func (in EvaluateInput) Prompt() string {
	return fmt.Sprintf(`User query: %q
Clarified intent: %q

Search results:
%s

Determine if the results are sufficient. Be strict about source diversity and recency.`,
		in.InitialQuery, in.ClarifiedIntent, renderResults(in.SearchResults))
}

// Prompt renders the synthesis request. The exhaustion note is present only
// when the loop ran out of rounds.
func (in SynthesizeInput) Prompt() string {
	note := ""
	if in.Exhausted {
		note = ExhaustionNote
	}
	intent := ""
	if in.ClarifiedIntent != "" {
		intent = fmt.Sprintf("Clarified intent: %q\n", in.ClarifiedIntent)
	}
	return fmt.Sprintf("Initial query: %q\n%s%s\nBased on the following context, please answer the question: %s",
		in.InitialQuery, intent, note, renderResults(in.SearchResults))
}

func renderResults(groups []ResultGroup) string {
	if groups == nil {
		groups = []ResultGroup{}
	}
	data, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		// ResultGroup only holds strings; Marshal cannot fail on it.
		return "[]"
	}
	return string(data)
}
