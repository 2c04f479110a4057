package research

// Phase is a node of the research state machine.
type Phase string

const (
	PhaseAwaitingClarification Phase = "awaiting_clarification"
	PhasePlanning              Phase = "planning"
	PhaseSearching             Phase = "searching"
	PhaseEvaluating            Phase = "evaluating"
	PhaseDeciding              Phase = "deciding"
	PhaseFinalizing            Phase = "finalizing"
	PhaseDone                  Phase = "done"
	PhaseFailed                Phase = "failed"
)

// Terminal reports whether no further transition can leave p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

func (p Phase) valid() bool {
	switch p {
	case PhaseAwaitingClarification, PhasePlanning, PhaseSearching, PhaseEvaluating,
		PhaseDeciding, PhaseFinalizing, PhaseDone, PhaseFailed:
		return true
	}
	return false
}

// Options holds runtime limits for the research loop
type Options struct {
	// MaxRounds caps completed Plan -> Search -> Evaluate rounds.
	MaxRounds int
	// ResultsPerQuery is the per-call limit handed to the search provider.
	ResultsPerQuery int
}

// DefaultOptions returns the stock limits: 3 rounds, 5 results per query.
func DefaultOptions() Options {
	return Options{MaxRounds: 3, ResultsPerQuery: 5}
}

// ResultItem is a single summarized web document. Empty optional fields mean absent.
type ResultItem struct {
	URL           string `json:"url"`
	Summary       string `json:"summary"`
	PublishedDate string `json:"publishedDate,omitempty"`
	Author        string `json:"author,omitempty"`
}

// ResultGroup holds the results of one query in one round.
type ResultGroup struct {
	Query   string       `json:"query"`
	Results []ResultItem `json:"results"`
}

// IterationState is the record threaded through a whole run.
type IterationState struct {
	InitialQuery         string        `json:"initialQuery"`
	ClarifiedIntent      string        `json:"clarifiedIntent,omitempty"`
	ExpandedQueries      []string      `json:"expandedQueries,omitempty"`
	SearchResults        []ResultGroup `json:"searchResults"`
	Gaps                 []string      `json:"gaps,omitempty"`
	AnswerIsSatisfactory *bool         `json:"answerIsSatisfactory,omitempty"`
	Answer               string        `json:"answer,omitempty"`
}

// Clone returns a deep copy that shares nothing with s.
func (s IterationState) Clone() IterationState {
	out := s
	out.ExpandedQueries = cloneStrings(s.ExpandedQueries)
	out.Gaps = cloneStrings(s.Gaps)
	if s.AnswerIsSatisfactory != nil {
		v := *s.AnswerIsSatisfactory
		out.AnswerIsSatisfactory = &v
	}
	out.SearchResults = cloneGroups(s.SearchResults)
	return out
}

// PriorQueries lists every query already searched, first occurrence order, without duplicates.
func (s IterationState) PriorQueries() []string {
	seen := make(map[string]bool, len(s.SearchResults))
	var out []string
	for _, g := range s.SearchResults {
		if seen[g.Query] {
			continue
		}
		seen[g.Query] = true
		out = append(out, g.Query)
	}
	return out
}

// Satisfied reports the last evaluation verdict; false when no round has completed.
func (s IterationState) Satisfied() bool {
	return s.AnswerIsSatisfactory != nil && *s.AnswerIsSatisfactory
}

// Suspension is the payload handed to the run host while a run waits for clarification.
type Suspension struct {
	AssistantMessage string   `json:"assistantMessage"`
	Questions        []string `json:"questions"`
}

// Checkpoint is the durable form of a run. It round-trips through JSON.
type Checkpoint struct {
	RunID      string         `json:"runId"`
	Phase      Phase          `json:"phase"`
	Round      int            `json:"round"`
	Exhausted  bool           `json:"exhausted,omitempty"`
	Suspension *Suspension    `json:"suspension,omitempty"`
	State      IterationState `json:"state"`
	FailedIn   Phase          `json:"failedIn,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// RunResult is returned when a run reaches Done.
type RunResult struct {
	Answer    string `json:"answer"`
	Rounds    int    `json:"rounds"`
	Exhausted bool   `json:"exhausted"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneGroups(in []ResultGroup) []ResultGroup {
	if in == nil {
		return nil
	}
	out := make([]ResultGroup, len(in))
	for i, g := range in {
		items := make([]ResultItem, len(g.Results))
		copy(items, g.Results)
		out[i] = ResultGroup{Query: g.Query, Results: items}
	}
	return out
}
