package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	clarifyingQuestions = 3
	minPlannedQueries   = 3
	maxPlannedQueries   = 5
)

// Engine sequences clarification, bounded Plan -> Search -> Evaluate rounds
// and finalization. It holds no per-run state and can serve many runs at once.
type Engine struct {
	Capabilities Capabilities
	Search       SearchProvider
	Options      Options
	Logger       *slog.Logger
	// OnCheckpoint is called after every transition of every run.
	OnCheckpoint func(cp Checkpoint)
}

func NewEngine(caps Capabilities, search SearchProvider, opts Options) (*Engine, error) {
	switch {
	case caps.Clarifier == nil:
		return nil, errors.New("clarifier capability is required")
	case caps.Planner == nil:
		return nil, errors.New("planner capability is required")
	case caps.Evaluator == nil:
		return nil, errors.New("evaluator capability is required")
	case caps.Synthesizer == nil:
		return nil, errors.New("synthesizer capability is required")
	case search == nil:
		return nil, errors.New("search provider is required")
	}

	e := &Engine{
		Capabilities: caps,
		Search:       search,
		Options:      opts,
		Logger:       slog.Default(),
	}
	e.Options = e.limits()
	return e, nil
}

func (e *Engine) limits() Options {
	opts, defaults := e.Options, DefaultOptions()
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaults.MaxRounds
	}
	if opts.ResultsPerQuery <= 0 {
		opts.ResultsPerQuery = defaults.ResultsPerQuery
	}
	return opts
}

// RunOption customizes a single run.
type RunOption func(*Run)

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) RunOption {
	return func(r *Run) {
		if id != "" {
			r.id = id
		}
	}
}

// WithLogger routes the run's logs to l.
func WithLogger(l *slog.Logger) RunOption {
	return func(r *Run) {
		if l != nil {
			r.baseLogger = l
		}
	}
}

// WithAnswerStream forwards final-answer chunks to fn as they arrive.
func WithAnswerStream(fn func(chunk string)) RunOption {
	return func(r *Run) { r.stream = fn }
}

// WithCheckpointHook is called after each transition of this run, after the
// engine-wide hook.
func WithCheckpointHook(fn func(cp Checkpoint)) RunOption {
	return func(r *Run) { r.onCheckpoint = fn }
}

// Run is one research session. It exclusively owns its IterationState.
type Run struct {
	engine       *Engine
	id           string
	baseLogger   *slog.Logger
	logger       *slog.Logger
	stream       func(string)
	onCheckpoint func(Checkpoint)

	mu         sync.Mutex
	phase      Phase
	round      int
	exhausted  bool
	suspension *Suspension
	state      IterationState
	err        error
	failedIn   Phase
	busy       bool
}

func (e *Engine) newRun(opts ...RunOption) *Run {
	r := &Run{
		engine:     e,
		id:         uuid.NewString(),
		baseLogger: e.Logger,
		phase:      PhaseAwaitingClarification,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.baseLogger == nil {
		r.baseLogger = slog.Default()
	}
	r.logger = r.baseLogger.With("run_id", r.id)
	return r
}

// Start creates a run, asks the Clarifier for its questions and suspends.
// On a clarifier failure the failed run is returned together with the error
// so the host can record the outcome.
func (e *Engine) Start(ctx context.Context, initialQuery string, opts ...RunOption) (*Run, error) {
	if strings.TrimSpace(initialQuery) == "" {
		return nil, protocolErr("start", ErrEmptyQuery)
	}

	r := e.newRun(opts...)
	r.state = IterationState{InitialQuery: initialQuery, SearchResults: []ResultGroup{}}
	r.logger.Info("Clarify start", "initial_query", initialQuery)

	questions, err := e.Capabilities.Clarifier.Clarify(ctx, ClarifyInput{InitialQuery: initialQuery})
	if err == nil && len(questions) != clarifyingQuestions {
		err = fmt.Errorf("expected exactly %d questions, got %d", clarifyingQuestions, len(questions))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return r, r.fail(PhaseAwaitingClarification, asGenerationError("clarifier", err))
	}

	if err := r.suspend(questions); err != nil {
		return nil, err
	}
	return r, nil
}

// Restore rebuilds a run from a checkpoint, typically after a process restart.
func (e *Engine) Restore(cp Checkpoint, opts ...RunOption) (*Run, error) {
	if !cp.Phase.valid() {
		return nil, fmt.Errorf("checkpoint %s: unknown phase %q", cp.RunID, cp.Phase)
	}
	if cp.Phase == PhaseAwaitingClarification && cp.Suspension == nil {
		return nil, fmt.Errorf("checkpoint %s: awaiting clarification without a suspension", cp.RunID)
	}
	maxRounds := e.limits().MaxRounds
	if cp.Round < 0 || cp.Round > maxRounds {
		return nil, fmt.Errorf("checkpoint %s: round %d outside [0, %d]", cp.RunID, cp.Round, maxRounds)
	}

	r := e.newRun(append([]RunOption{WithRunID(cp.RunID)}, opts...)...)
	r.phase = cp.Phase
	r.round = cp.Round
	r.exhausted = cp.Exhausted
	// No round may start past the cap, even one lowered since the checkpoint.
	switch cp.Phase {
	case PhasePlanning, PhaseSearching, PhaseEvaluating:
		if cp.Round >= maxRounds {
			r.phase = PhaseFinalizing
			r.exhausted = true
			r.logger.Warn("Round cap reached, finalizing restored run", "phase", cp.Phase, "round", cp.Round)
		}
	}
	r.state = cp.State.Clone()
	if r.state.SearchResults == nil {
		r.state.SearchResults = []ResultGroup{}
	}
	if cp.Suspension != nil {
		r.suspension = &Suspension{
			AssistantMessage: cp.Suspension.AssistantMessage,
			Questions:        cloneStrings(cp.Suspension.Questions),
		}
	}
	if cp.Phase == PhaseFailed {
		r.failedIn = cp.FailedIn
		r.err = &PhaseError{Phase: cp.FailedIn, Err: errors.New(cp.Error)}
	}
	return r, nil
}

// Resume applies the clarification answer and drives the run to completion.
func (r *Run) Resume(ctx context.Context, clarifiedIntent string) (RunResult, error) {
	r.mu.Lock()
	if r.phase != PhaseAwaitingClarification || r.suspension == nil {
		r.mu.Unlock()
		return RunResult{}, protocolErr("resume", ErrNoPendingSuspension)
	}
	if strings.TrimSpace(clarifiedIntent) == "" {
		r.mu.Unlock()
		return RunResult{}, protocolErr("resume", ErrEmptyClarification)
	}
	r.state.ClarifiedIntent = clarifiedIntent
	r.suspension = nil
	r.phase = PhasePlanning
	r.busy = true
	cp := r.checkpointLocked()
	r.mu.Unlock()

	r.logger.Info("Clarify resume", "clarified_intent", clarifiedIntent)
	r.emit(cp)
	defer r.release()
	return r.drive(ctx)
}

// Continue drives a run that was interrupted between phases, or one restored
// mid-loop, to completion.
func (r *Run) Continue(ctx context.Context) (RunResult, error) {
	r.mu.Lock()
	switch {
	case r.busy:
		r.mu.Unlock()
		return RunResult{}, protocolErr("continue", ErrRunBusy)
	case r.phase == PhaseAwaitingClarification:
		r.mu.Unlock()
		return RunResult{}, protocolErr("continue", ErrAlreadySuspended)
	case r.phase == PhaseDone:
		res := r.resultLocked()
		r.mu.Unlock()
		return res, nil
	case r.phase == PhaseFailed:
		err := r.err
		r.mu.Unlock()
		return RunResult{}, err
	}
	r.busy = true
	r.mu.Unlock()

	defer r.release()
	return r.drive(ctx)
}

// Cancel abandons a run that is suspended or paused between phases.
func (r *Run) Cancel() error {
	r.mu.Lock()
	switch {
	case r.busy:
		r.mu.Unlock()
		return protocolErr("cancel", ErrRunBusy)
	case r.phase.Terminal():
		r.mu.Unlock()
		return protocolErr("cancel", ErrRunFinished)
	}
	r.failedIn = r.phase
	r.err = &PhaseError{Phase: r.phase, Err: context.Canceled}
	r.phase = PhaseFailed
	r.suspension = nil
	cp := r.checkpointLocked()
	r.mu.Unlock()

	r.logger.Info("Run cancelled", "phase", cp.FailedIn)
	r.emit(cp)
	return nil
}

func (r *Run) drive(ctx context.Context) (RunResult, error) {
	for {
		phase := r.Phase()
		switch phase {
		case PhaseDone:
			return r.Result(), nil
		case PhaseFailed:
			return RunResult{}, r.Err()
		}

		if err := ctx.Err(); err != nil {
			r.logger.Warn("Run interrupted between phases", "phase", phase, "error", err)
			return RunResult{}, err
		}

		var err error
		switch phase {
		case PhasePlanning:
			err = r.plan(ctx)
		case PhaseSearching:
			err = r.search(ctx)
		case PhaseEvaluating:
			err = r.evaluate(ctx)
		case PhaseDeciding:
			r.decide()
		case PhaseFinalizing:
			err = r.finalize(ctx)
		default:
			err = protocolErr("drive", fmt.Errorf("cannot drive a run in phase %s", phase))
		}
		if err != nil {
			return RunResult{}, err
		}
	}
}

func (r *Run) suspend(questions []string) error {
	r.mu.Lock()
	if r.suspension != nil {
		r.mu.Unlock()
		return protocolErr("suspend", ErrAlreadySuspended)
	}
	r.suspension = newSuspension(questions)
	cp := r.checkpointLocked()
	r.mu.Unlock()

	r.logger.Info("Clarify suspend", "question_count", len(questions), "assistant_message", cp.Suspension.AssistantMessage)
	r.emit(cp)
	return nil
}

func (r *Run) plan(ctx context.Context) error {
	r.mu.Lock()
	in := PlanInput{
		InitialQuery:    r.state.InitialQuery,
		ClarifiedIntent: r.state.ClarifiedIntent,
		PriorQueries:    r.state.PriorQueries(),
		Gaps:            cloneStrings(r.state.Gaps),
		Round:           r.round + 1,
	}
	r.mu.Unlock()

	r.logger.Info("Planning start", "round", in.Round, "prior_queries", len(in.PriorQueries), "gaps", len(in.Gaps))
	queries, err := r.engine.Capabilities.Planner.Plan(ctx, in)
	queries = uniqueQueries(queries)
	if err == nil && (len(queries) < minPlannedQueries || len(queries) > maxPlannedQueries) {
		err = fmt.Errorf("expected %d-%d distinct queries, got %d", minPlannedQueries, maxPlannedQueries, len(queries))
	}
	if err != nil {
		return r.abort(ctx, PhasePlanning, "planner", err)
	}

	r.advance(PhaseSearching, func() {
		r.state.ExpandedQueries = cloneStrings(queries)
	})
	r.logger.Info("Generated queries", "round", in.Round, "queries", queries)
	return nil
}

func (r *Run) search(ctx context.Context) error {
	r.mu.Lock()
	queries := cloneStrings(r.state.ExpandedQueries)
	r.mu.Unlock()

	r.logger.Info("Search start", "query_count", len(queries))
	groups, err := FanOut(ctx, r.engine.Search, queries, r.engine.limits().ResultsPerQuery, r.logger)
	if err != nil {
		r.logger.Warn("Search round abandoned", "error", err)
		return err
	}

	var total int
	r.advance(PhaseEvaluating, func() {
		r.state.SearchResults = append(r.state.SearchResults, groups...)
		total = len(r.state.SearchResults)
	})
	r.logger.Info("Search state update", "total_result_groups", total)
	return nil
}

func (r *Run) evaluate(ctx context.Context) error {
	r.mu.Lock()
	in := EvaluateInput{
		InitialQuery:    r.state.InitialQuery,
		ClarifiedIntent: r.state.ClarifiedIntent,
		SearchResults:   cloneGroups(r.state.SearchResults),
		Round:           r.round + 1,
	}
	r.mu.Unlock()

	r.logger.Info("Evaluate start", "round", in.Round, "result_groups", len(in.SearchResults))
	ev, err := r.engine.Capabilities.Evaluator.Evaluate(ctx, in)
	if err != nil {
		return r.abort(ctx, PhaseEvaluating, "evaluator", err)
	}

	gaps := cloneStrings(ev.Gaps)
	if gaps == nil {
		gaps = []string{}
	}
	r.advance(PhaseDeciding, func() {
		satisfied := ev.AnswerIsSatisfactory
		r.state.AnswerIsSatisfactory = &satisfied
		r.state.Gaps = gaps
		r.round++
	})
	r.logger.Info("Evaluate state update", "round", in.Round, "satisfied", ev.AnswerIsSatisfactory, "gaps", gaps)
	return nil
}

func (r *Run) decide() {
	r.mu.Lock()
	next := PhasePlanning
	switch {
	case r.state.Satisfied():
		next = PhaseFinalizing
	case r.round >= r.engine.limits().MaxRounds:
		next = PhaseFinalizing
		r.exhausted = true
	}
	round, exhausted := r.round, r.exhausted
	r.mu.Unlock()

	r.advance(next, nil)
	r.logger.Info("Decide", "completed_rounds", round, "next", next, "exhausted", exhausted)
}

func (r *Run) finalize(ctx context.Context) error {
	r.mu.Lock()
	in := SynthesizeInput{
		InitialQuery:    r.state.InitialQuery,
		ClarifiedIntent: r.state.ClarifiedIntent,
		SearchResults:   cloneGroups(r.state.SearchResults),
		Exhausted:       r.exhausted,
		Stream:          r.stream,
	}
	r.mu.Unlock()

	r.logger.Info("Finalize start", "exhausted", in.Exhausted, "queries", len(in.SearchResults))
	answer, err := r.engine.Capabilities.Synthesizer.Synthesize(ctx, in)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		return r.abort(ctx, PhaseFinalizing, "synthesizer", err)
	}

	r.advance(PhaseDone, func() {
		r.state.Answer = answer
	})
	r.logger.Info("Final answer ready", "length", len(answer))
	return nil
}

// advance applies mutate and moves to next under the lock, then publishes a checkpoint.
func (r *Run) advance(next Phase, mutate func()) {
	r.mu.Lock()
	if mutate != nil {
		mutate()
	}
	r.phase = next
	cp := r.checkpointLocked()
	r.mu.Unlock()
	r.emit(cp)
}

// abort handles a capability failure. While the context is live the failure
// is fatal; after cancellation the run stays in its phase and can be continued.
func (r *Run) abort(ctx context.Context, phase Phase, role string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.logger.Warn("Phase interrupted", "phase", phase, "error", err)
		return ctxErr
	}
	return r.fail(phase, asGenerationError(role, err))
}

func (r *Run) fail(phase Phase, err error) error {
	perr := &PhaseError{Phase: phase, Err: err}
	r.mu.Lock()
	r.phase = PhaseFailed
	r.failedIn = phase
	r.err = perr
	r.suspension = nil
	cp := r.checkpointLocked()
	r.mu.Unlock()

	r.logger.Error("Run failed", "phase", phase, "error", err)
	r.emit(cp)
	return perr
}

func (r *Run) release() {
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
}

func (r *Run) emit(cp Checkpoint) {
	if r.engine.OnCheckpoint != nil {
		r.engine.OnCheckpoint(cp)
	}
	if r.onCheckpoint != nil {
		r.onCheckpoint(cp)
	}
}

func (r *Run) checkpointLocked() Checkpoint {
	cp := Checkpoint{
		RunID:     r.id,
		Phase:     r.phase,
		Round:     r.round,
		Exhausted: r.exhausted,
		State:     r.state.Clone(),
	}
	if r.suspension != nil {
		cp.Suspension = &Suspension{
			AssistantMessage: r.suspension.AssistantMessage,
			Questions:        cloneStrings(r.suspension.Questions),
		}
	}
	if r.err != nil {
		cp.FailedIn = r.failedIn
		cp.Error = errorText(r.err)
	}
	return cp
}

func (r *Run) resultLocked() RunResult {
	return RunResult{Answer: r.state.Answer, Rounds: r.round, Exhausted: r.exhausted}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Phase returns the current phase.
func (r *Run) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Rounds returns the number of completed evaluation rounds.
func (r *Run) Rounds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round
}

// Suspension returns the pending clarification request, or nil.
func (r *Run) Suspension() *Suspension {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspension == nil {
		return nil
	}
	return &Suspension{
		AssistantMessage: r.suspension.AssistantMessage,
		Questions:        cloneStrings(r.suspension.Questions),
	}
}

// Snapshot returns a copy of the iteration state for inspection.
func (r *Run) Snapshot() IterationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Checkpoint returns the durable form of the run.
func (r *Run) Checkpoint() Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkpointLocked()
}

// Result returns the final answer; it is zero until the run is Done.
func (r *Run) Result() RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseDone {
		return RunResult{}
	}
	return r.resultLocked()
}

// Err returns the failure of a Failed run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// uniqueQueries drops blank and repeated queries, keeping first occurrences in order.
func uniqueQueries(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func asGenerationError(role string, err error) error {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return err
	}
	return &GenerationError{Role: role, Err: err}
}

func errorText(err error) string {
	var perr *PhaseError
	if errors.As(err, &perr) {
		return perr.Err.Error()
	}
	return err.Error()
}
