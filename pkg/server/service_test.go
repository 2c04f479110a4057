package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikeboe/deep-search/pkg/research"
	"github.com/mikeboe/deep-search/pkg/store"
)

// stubAgents answers every role; research is satisfied after one round.
type stubAgents struct {
	clarifyErr error
	// gate, when set, holds synthesis until closed or the context ends.
	gate chan struct{}
}

func (a *stubAgents) Clarify(ctx context.Context, in research.ClarifyInput) ([]string, error) {
	if a.clarifyErr != nil {
		return nil, a.clarifyErr
	}
	return []string{"What is your budget?", "Where will you use them?", "Over-ear or in-ear?"}, nil
}

func (a *stubAgents) Plan(ctx context.Context, in research.PlanInput) ([]string, error) {
	return []string{in.InitialQuery + " reviews", in.InitialQuery + " prices", in.InitialQuery + " comparison"}, nil
}

func (a *stubAgents) Evaluate(ctx context.Context, in research.EvaluateInput) (research.Evaluation, error) {
	return research.Evaluation{AnswerIsSatisfactory: true, Gaps: []string{}}, nil
}

func (a *stubAgents) Synthesize(ctx context.Context, in research.SynthesizeInput) (string, error) {
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "## Answer\n" + in.ClarifiedIntent, nil
}

func (a *stubAgents) capabilities() research.Capabilities {
	return research.Capabilities{Clarifier: a, Planner: a, Evaluator: a, Synthesizer: a}
}

type stubSearch struct{}

func (stubSearch) Search(ctx context.Context, query string, maxResults int) ([]research.ResultItem, error) {
	return []research.ResultItem{{URL: "https://example.com/" + strings.ReplaceAll(query, " ", "-"), Summary: "About " + query}}, nil
}

type recordingIndexer struct {
	mu     sync.Mutex
	runs   []string
	groups int
}

func (r *recordingIndexer) IndexRun(ctx context.Context, runID string, groups []research.ResultGroup) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runID)
	r.groups += len(groups)
	return len(groups), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, agents *stubAgents, st store.RunStore) *Service {
	t.Helper()
	engine, err := research.NewEngine(agents.capabilities(), stubSearch{}, research.DefaultOptions())
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	engine.Logger = quietLogger()
	svc := NewService(engine, st, quietLogger())
	t.Cleanup(svc.Close)
	return svc
}

func TestStartResumeCompletes(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(t, &stubAgents{}, st)
	idx := &recordingIndexer{}
	svc.Evidence = idx
	ctx := context.Background()

	rec, err := svc.Start(ctx, "best headphones")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if rec.Status != store.StatusAwaiting || rec.Checkpoint == nil || len(rec.Checkpoint.Suspension.Questions) != 3 {
		t.Fatalf("started run = %+v", rec)
	}

	if err := svc.Resume(ctx, rec.ID, "under $200, commuting"); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	svc.wg.Wait()

	done, err := svc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if done.Status != store.StatusCompleted || done.Answer != "## Answer\nunder $200, commuting" {
		t.Errorf("finished run = status %s answer %q", done.Status, done.Answer)
	}
	if len(idx.runs) != 1 || idx.runs[0] != rec.ID || idx.groups != 3 {
		t.Errorf("indexed runs = %v groups = %d", idx.runs, idx.groups)
	}

	logs, err := svc.Logs(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Logs error: %v", err)
	}
	if len(logs) == 0 || logs[0].Message != "Clarify start" {
		t.Errorf("logs = %+v", logs)
	}

	var perr *research.ProtocolError
	if err := svc.Resume(ctx, rec.ID, "again"); !errors.As(err, &perr) || !errors.Is(err, research.ErrRunFinished) {
		t.Errorf("resume after completion error = %v", err)
	}
}

func TestStartClarifierFailure(t *testing.T) {
	svc := newTestService(t, &stubAgents{clarifyErr: errors.New("model offline")}, store.NewMemory())

	rec, err := svc.Start(context.Background(), "best headphones")
	var phaseErr *research.PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("error = %v, want PhaseError", err)
	}
	if rec == nil || rec.Status != store.StatusFailed || !strings.Contains(rec.Error, "model offline") {
		t.Errorf("failed run = %+v", rec)
	}
}

func TestStartCancelledBeforeQuestions(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(t, &stubAgents{clarifyErr: errors.New("aborted")}, st)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := svc.Start(ctx, "best headphones")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if rec == nil || rec.Status != store.StatusFailed {
		t.Errorf("run = %+v, want failed", rec)
	}
}

func TestResumeValidation(t *testing.T) {
	svc := newTestService(t, &stubAgents{}, store.NewMemory())
	ctx := context.Background()
	rec, err := svc.Start(ctx, "best headphones")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	tests := []struct {
		name   string
		id     string
		intent string
		want   error
	}{
		{"empty intent", rec.ID, "  ", research.ErrEmptyClarification},
		{"unknown run", "00000000-0000-4000-8000-000000000000", "x", store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Resume(ctx, tt.id, tt.intent); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCancel(t *testing.T) {
	svc := newTestService(t, &stubAgents{}, store.NewMemory())
	ctx := context.Background()
	rec, err := svc.Start(ctx, "best headphones")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if cancelled.Status != store.StatusFailed || cancelled.Checkpoint.FailedIn != research.PhaseAwaitingClarification {
		t.Errorf("cancelled run = %+v", cancelled)
	}
	if _, err := svc.Cancel(ctx, rec.ID); !errors.Is(err, research.ErrRunFinished) {
		t.Errorf("second cancel error = %v, want ErrRunFinished", err)
	}
}

func TestCancelWhileDriving(t *testing.T) {
	agents := &stubAgents{gate: make(chan struct{})}
	svc := newTestService(t, agents, store.NewMemory())
	ctx := context.Background()
	rec, err := svc.Start(ctx, "best headphones")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := svc.Resume(ctx, rec.ID, "commuting"); err != nil {
		t.Fatalf("Resume error: %v", err)
	}

	if _, err := svc.Cancel(ctx, rec.ID); !errors.Is(err, research.ErrRunBusy) {
		t.Errorf("cancel error = %v, want ErrRunBusy", err)
	}
	if err := svc.Resume(ctx, rec.ID, "again"); !errors.Is(err, research.ErrRunBusy) {
		t.Errorf("resume error = %v, want ErrRunBusy", err)
	}
	close(agents.gate)
	svc.wg.Wait()
}

func TestRecoverAfterRestart(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	// First process: one run suspended, one interrupted mid-synthesis and
	// one that never got its questions.
	agents := &stubAgents{gate: make(chan struct{})}
	first := newTestService(t, agents, st)
	suspended, err := first.Start(ctx, "best headphones")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	interrupted, err := first.Start(ctx, "best laptops")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := first.Resume(ctx, interrupted.ID, "for travel"); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	waitForPhase(t, st, interrupted.ID, research.PhaseFinalizing)
	first.Close()

	rec, _ := st.Get(ctx, interrupted.ID)
	if rec.Status != store.StatusRunning {
		t.Fatalf("interrupted run status = %s, want running", rec.Status)
	}
	if _, err := st.Create(ctx, "abandoned", "never clarified"); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// Second process.
	second := newTestService(t, &stubAgents{}, st)
	if err := second.Recover(ctx); err != nil {
		t.Fatalf("Recover error: %v", err)
	}
	second.wg.Wait()

	if rec, _ := st.Get(ctx, interrupted.ID); rec.Status != store.StatusCompleted || rec.Answer != "## Answer\nfor travel" {
		t.Errorf("continued run = status %s answer %q", rec.Status, rec.Answer)
	}
	if rec, _ := st.Get(ctx, "abandoned"); rec.Status != store.StatusFailed {
		t.Errorf("abandoned run status = %s, want failed", rec.Status)
	}

	if err := second.Resume(ctx, suspended.ID, "for the gym"); err != nil {
		t.Fatalf("Resume after restart error: %v", err)
	}
	second.wg.Wait()
	if rec, _ := st.Get(ctx, suspended.ID); rec.Status != store.StatusCompleted {
		t.Errorf("resumed run status = %s, want completed", rec.Status)
	}
}

func TestSweepStale(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(t, &stubAgents{}, st)
	ctx := context.Background()

	stale, err := svc.Start(ctx, "best headphones")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	n, err := svc.SweepStale(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("fresh sweep = %d, %v; want nothing swept", n, err)
	}

	svc.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = svc.SweepStale(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v; want 1", n, err)
	}
	if rec, _ := st.Get(ctx, stale.ID); rec.Status != store.StatusFailed {
		t.Errorf("stale run status = %s, want failed", rec.Status)
	}
}

func TestStartSweeperDisabled(t *testing.T) {
	svc := newTestService(t, &stubAgents{}, store.NewMemory())
	if err := svc.StartSweeper(0); err != nil || svc.cron != nil {
		t.Errorf("StartSweeper(0) = %v, cron = %v", err, svc.cron)
	}
	if err := svc.StartSweeper(time.Hour); err != nil || svc.cron == nil {
		t.Errorf("StartSweeper(1h) = %v, cron = %v", err, svc.cron)
	}
}

func waitForPhase(t *testing.T, st store.RunStore, id string, phase research.Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, err := st.Get(context.Background(), id); err == nil && rec.Phase == phase {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached %s", id, phase)
}
