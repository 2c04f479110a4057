// Package store persists research runs and their logs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mikeboe/deep-search/pkg/research"
)

var ErrNotFound = errors.New("run not found")

// Status is the coarse run state shown to users.
type Status string

const (
	StatusClarifying Status = "clarifying"
	StatusAwaiting   Status = "awaiting_clarification"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StatusFor maps an engine phase to its run status.
func StatusFor(p research.Phase) Status {
	switch p {
	case research.PhaseAwaitingClarification:
		return StatusAwaiting
	case research.PhaseDone:
		return StatusCompleted
	case research.PhaseFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}

type RunRecord struct {
	ID           string         `json:"id"`
	InitialQuery string         `json:"initial_query"`
	Phase        research.Phase `json:"phase"`
	Status       Status         `json:"status"`
	// Checkpoint is nil until the run first suspends.
	Checkpoint *research.Checkpoint `json:"checkpoint,omitempty"`
	Answer     string               `json:"answer,omitempty"`
	Error      string               `json:"error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

type LogEntry struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// RunStore is the durable home of runs. SaveCheckpoint derives phase,
// status, answer and error from the checkpoint.
type RunStore interface {
	Create(ctx context.Context, id, initialQuery string) (*RunRecord, error)
	SaveCheckpoint(ctx context.Context, cp research.Checkpoint) error
	// Fail marks a run failed when no checkpoint records the failure.
	Fail(ctx context.Context, id string, reason string) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]RunRecord, error)
	ListByStatus(ctx context.Context, status Status) ([]RunRecord, error)
	AppendLog(ctx context.Context, entry LogEntry) error
	Logs(ctx context.Context, runID string) ([]LogEntry, error)
}

func applyCheckpoint(rec *RunRecord, cp research.Checkpoint) {
	rec.Checkpoint = cloneCheckpoint(cp)
	rec.Phase = cp.Phase
	rec.Status = StatusFor(cp.Phase)
	rec.Answer = cp.State.Answer
	rec.Error = cp.Error
}

func cloneCheckpoint(cp research.Checkpoint) *research.Checkpoint {
	c := cp
	c.State = cp.State.Clone()
	if cp.Suspension != nil {
		s := *cp.Suspension
		s.Questions = append([]string(nil), cp.Suspension.Questions...)
		c.Suspension = &s
	}
	return &c
}
