package research

import (
	"strings"
	"testing"
)

func TestFormatQuestions(t *testing.T) {
	got := FormatQuestions([]string{"a?", "b?", "c?"})
	if got != "1. a?\n2. b?\n3. c?" {
		t.Errorf("FormatQuestions = %q", got)
	}
}

func TestPlanPrompt(t *testing.T) {
	tests := []struct {
		name    string
		in      PlanInput
		want    []string
		notWant []string
	}{
		{
			name:    "first round",
			in:      PlanInput{InitialQuery: "q", ClarifiedIntent: "under $150"},
			want:    []string{`User initial query: "q"`, `Additional context: "under $150"`, "Generate 3-5 focused search queries."},
			notWant: []string{"Previous queries", "Known gaps"},
		},
		{
			name: "later round",
			in: PlanInput{
				InitialQuery:    "q",
				ClarifiedIntent: "i",
				PriorQueries:    []string{"one", "two"},
				Gaps:            []string{"missing price comparison"},
			},
			want: []string{
				"Previous queries (avoid repeating):\n- one\n- two",
				"Known gaps:\n- missing price comparison",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.in.Prompt()
			for _, w := range tt.want {
				if !strings.Contains(p, w) {
					t.Errorf("prompt missing %q:\n%s", w, p)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(p, w) {
					t.Errorf("prompt unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestPriorQueriesDeduplicates(t *testing.T) {
	s := IterationState{SearchResults: []ResultGroup{
		{Query: "a"}, {Query: "b"}, {Query: "a"}, {Query: "c"},
	}}
	got := s.PriorQueries()
	want := []string{"a", "b", "c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("PriorQueries = %v, want %v", got, want)
	}
}

func TestEvaluatePromptCarriesHistory(t *testing.T) {
	in := EvaluateInput{
		InitialQuery: "q",
		SearchResults: []ResultGroup{
			{Query: "first", Results: []ResultItem{{URL: "https://a", Summary: "alpha"}}},
			{Query: "second", Results: []ResultItem{}},
		},
	}
	p := in.Prompt()
	for _, w := range []string{`"query": "first"`, `"query": "second"`, `"summary": "alpha"`} {
		if !strings.Contains(p, w) {
			t.Errorf("evaluate prompt missing %q", w)
		}
	}
}

func TestSynthesizePromptExhaustionNote(t *testing.T) {
	base := SynthesizeInput{InitialQuery: "q", SearchResults: []ResultGroup{{Query: "x"}}}
	if strings.Contains(base.Prompt(), ExhaustionNote) {
		t.Error("note present without exhaustion")
	}
	base.Exhausted = true
	if !strings.Contains(base.Prompt(), ExhaustionNote) {
		t.Error("note missing on exhaustion")
	}
}

func TestCloneIsDeep(t *testing.T) {
	sat := true
	s := IterationState{
		ExpandedQueries:      []string{"a"},
		SearchResults:        []ResultGroup{{Query: "a", Results: []ResultItem{{URL: "u"}}}},
		Gaps:                 []string{"g"},
		AnswerIsSatisfactory: &sat,
	}
	c := s.Clone()
	c.ExpandedQueries[0] = "changed"
	c.SearchResults[0].Results[0].URL = "changed"
	c.Gaps[0] = "changed"
	*c.AnswerIsSatisfactory = false

	if s.ExpandedQueries[0] != "a" || s.SearchResults[0].Results[0].URL != "u" || s.Gaps[0] != "g" || !*s.AnswerIsSatisfactory {
		t.Errorf("clone shares memory with original: %+v", s)
	}
}
