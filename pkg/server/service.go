package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikeboe/deep-search/pkg/research"
	"github.com/mikeboe/deep-search/pkg/store"
	"github.com/robfig/cron/v3"
)

// Indexer stores a finished run's search results for retrieval.
type Indexer interface {
	IndexRun(ctx context.Context, runID string, groups []research.ResultGroup) (int, error)
}

// Service hosts research runs: it starts them, hands resumed runs to
// background workers and keeps the store in step with every checkpoint.
type Service struct {
	Engine *research.Engine
	Store  store.RunStore
	// Evidence is optional; completed runs are indexed when set.
	Evidence Indexer
	Logger   *slog.Logger
	// LogLevel is the minimum level written to a run's stored log.
	LogLevel slog.Leveler
	Now      func() time.Time

	mu      sync.Mutex
	runs    map[string]*research.Run
	driving map[string]bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
}

func NewService(engine *research.Engine, st store.RunStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		Engine:   engine,
		Store:    st,
		Logger:   logger,
		LogLevel: slog.LevelInfo,
		Now:      time.Now,
		runs:     make(map[string]*research.Run),
		driving:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start records a new run and asks for its clarifying questions. When the
// clarifier fails the failed record is returned with the error.
func (s *Service) Start(ctx context.Context, initialQuery string) (*store.RunRecord, error) {
	if strings.TrimSpace(initialQuery) == "" {
		return nil, &research.ProtocolError{Op: "start", Err: research.ErrEmptyQuery}
	}

	id := uuid.NewString()
	if _, err := s.Store.Create(ctx, id, initialQuery); err != nil {
		return nil, err
	}

	run, err := s.Engine.Start(ctx, initialQuery, s.runOptions(id)...)
	if err != nil {
		if run == nil {
			// Interrupted before any checkpoint was written.
			if ferr := s.Store.Fail(context.WithoutCancel(ctx), id, err.Error()); ferr != nil {
				s.Logger.Error("Failed to mark run failed", "run_id", id, "error", ferr)
			}
		}
		rec, gerr := s.Store.Get(context.WithoutCancel(ctx), id)
		if gerr != nil {
			return nil, err
		}
		return rec, err
	}

	s.track(run)
	return s.Store.Get(ctx, id)
}

// Resume applies the clarification and drives the run in the background.
func (s *Service) Resume(ctx context.Context, id, clarifiedIntent string) error {
	if strings.TrimSpace(clarifiedIntent) == "" {
		return &research.ProtocolError{Op: "resume", Err: research.ErrEmptyClarification}
	}
	run, err := s.live(ctx, id)
	if err != nil {
		return err
	}
	if err := s.reserve(id); err != nil {
		return err
	}
	if run.Suspension() == nil {
		s.release(id)
		return &research.ProtocolError{Op: "resume", Err: research.ErrNoPendingSuspension}
	}

	s.wg.Add(1)
	go s.drive(run, func(ctx context.Context) (research.RunResult, error) {
		return run.Resume(ctx, clarifiedIntent)
	})
	return nil
}

// Cancel abandons a suspended or paused run.
func (s *Service) Cancel(ctx context.Context, id string) (*store.RunRecord, error) {
	run, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.reserve(id); err != nil {
		return nil, err
	}
	err = run.Cancel()
	s.release(id)
	if err != nil {
		return nil, err
	}
	s.forget(id)
	return s.Store.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id string) (*store.RunRecord, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]store.RunRecord, error) {
	return s.Store.List(ctx, limit)
}

func (s *Service) Logs(ctx context.Context, id string) ([]store.LogEntry, error) {
	if _, err := s.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.Logs(ctx, id)
}

// Recover reloads runs left open by a previous process. Suspended runs wait
// for their clarification again, runs caught between phases continue in the
// background and runs that never reached their questions are failed.
func (s *Service) Recover(ctx context.Context) error {
	var errs []error

	awaiting, err := s.Store.ListByStatus(ctx, store.StatusAwaiting)
	if err != nil {
		return err
	}
	for _, rec := range awaiting {
		if _, err := s.restore(rec); err != nil {
			errs = append(errs, err)
		}
	}

	running, err := s.Store.ListByStatus(ctx, store.StatusRunning)
	if err != nil {
		return err
	}
	for _, rec := range running {
		run, err := s.restore(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.reserve(run.ID()); err != nil {
			continue
		}
		s.wg.Add(1)
		go s.drive(run, run.Continue)
	}

	clarifying, err := s.Store.ListByStatus(ctx, store.StatusClarifying)
	if err != nil {
		return err
	}
	for _, rec := range clarifying {
		if err := s.Store.Fail(ctx, rec.ID, "interrupted before clarification"); err != nil {
			errs = append(errs, err)
		}
	}

	s.Logger.Info("Runs recovered", "awaiting", len(awaiting), "running", len(running), "abandoned", len(clarifying))
	return errors.Join(errs...)
}

// SweepStale cancels runs that have waited for clarification longer than ttl.
func (s *Service) SweepStale(ctx context.Context, ttl time.Duration) (int, error) {
	awaiting, err := s.Store.ListByStatus(ctx, store.StatusAwaiting)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-ttl)

	var errs []error
	swept := 0
	for _, rec := range awaiting {
		if !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if _, err := s.Cancel(ctx, rec.ID); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", rec.ID, err))
			continue
		}
		swept++
		s.Logger.Info("Expired suspended run", "run_id", rec.ID, "idle_since", rec.UpdatedAt)
	}
	return swept, errors.Join(errs...)
}

// StartSweeper schedules SweepStale every hour. A non-positive ttl disables it.
func (s *Service) StartSweeper(ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc("@hourly", func() {
		if _, err := s.SweepStale(s.ctx, ttl); err != nil {
			s.Logger.Error("Suspension sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule suspension sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.Logger.Info("Suspension sweep scheduled", "ttl", ttl)
	return nil
}

// Close stops the sweeper and interrupts running workers. Interrupted runs
// keep their phase and continue on the next Recover.
func (s *Service) Close() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) drive(run *research.Run, step func(context.Context) (research.RunResult, error)) {
	defer s.wg.Done()
	defer s.release(run.ID())

	res, err := step(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			s.Logger.Warn("Run paused by shutdown", "run_id", run.ID(), "phase", run.Phase())
			return
		}
		s.Logger.Error("Run failed", "run_id", run.ID(), "error", err)
		s.forget(run.ID())
		return
	}
	s.forget(run.ID())
	s.Logger.Info("Run completed", "run_id", run.ID(), "rounds", res.Rounds, "exhausted", res.Exhausted)

	if s.Evidence == nil {
		return
	}
	n, err := s.Evidence.IndexRun(s.ctx, run.ID(), run.Snapshot().SearchResults)
	if err != nil {
		s.Logger.Error("Failed to index evidence", "run_id", run.ID(), "error", err)
		return
	}
	s.Logger.Debug("Evidence ready", "run_id", run.ID(), "chunks", n)
}

// live returns the in-memory run, restoring it from its checkpoint when this
// process has not seen it yet.
func (s *Service) live(ctx context.Context, id string) (*research.Run, error) {
	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if ok {
		return run, nil
	}

	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.restore(*rec)
}

func (s *Service) restore(rec store.RunRecord) (*research.Run, error) {
	switch {
	case rec.Status == store.StatusCompleted || rec.Status == store.StatusFailed:
		return nil, &research.ProtocolError{Op: "restore", Err: research.ErrRunFinished}
	case rec.Checkpoint == nil:
		return nil, &research.ProtocolError{Op: "restore", Err: research.ErrNoPendingSuspension}
	}
	run, err := s.Engine.Restore(*rec.Checkpoint, s.runOptions(rec.ID)...)
	if err != nil {
		return nil, err
	}
	return s.track(run), nil
}

func (s *Service) runOptions(id string) []research.RunOption {
	handler := NewDBLogHandler(s.Store, id, s.LogLevel, s.Logger.Handler())
	return []research.RunOption{
		research.WithRunID(id),
		research.WithLogger(slog.New(handler)),
		research.WithCheckpointHook(s.persist),
	}
}

func (s *Service) persist(cp research.Checkpoint) {
	if err := s.Store.SaveCheckpoint(context.Background(), cp); err != nil {
		s.Logger.Error("Failed to save checkpoint", "run_id", cp.RunID, "phase", cp.Phase, "error", err)
	}
}

// track registers run unless another copy is already live, and returns the
// one in use.
func (s *Service) track(run *research.Run) *research.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.ID()]; ok {
		return existing
	}
	s.runs[run.ID()] = run
	return run
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()
}

func (s *Service) reserve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driving[id] {
		return &research.ProtocolError{Op: "reserve", Err: research.ErrRunBusy}
	}
	s.driving[id] = true
	return nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.driving, id)
	s.mu.Unlock()
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
