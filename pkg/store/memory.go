package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mikeboe/deep-search/pkg/research"
)

// Memory is a process-local RunStore for the CLI and tests.
type Memory struct {
	mu     sync.RWMutex
	runs   map[string]*RunRecord
	logs   map[string][]LogEntry
	nextID int64
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]*RunRecord),
		logs: make(map[string][]LogEntry),
		now:  time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, id, initialQuery string) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; ok {
		return nil, fmt.Errorf("run %s already exists", id)
	}
	now := m.now()
	rec := &RunRecord{
		ID:           id,
		InitialQuery: initialQuery,
		Phase:        research.PhaseAwaitingClarification,
		Status:       StatusClarifying,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.runs[id] = rec
	return copyRecord(rec), nil
}

func (m *Memory) SaveCheckpoint(ctx context.Context, cp research.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[cp.RunID]
	if !ok {
		now := m.now()
		rec = &RunRecord{ID: cp.RunID, InitialQuery: cp.State.InitialQuery, CreatedAt: now}
		m.runs[cp.RunID] = rec
	}
	applyCheckpoint(rec, cp)
	rec.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Fail(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Phase = research.PhaseFailed
	rec.Status = StatusFailed
	rec.Error = reason
	rec.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunRecord, 0, len(m.runs))
	for _, rec := range m.runs {
		out = append(out, *copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListByStatus(ctx context.Context, status Status) ([]RunRecord, error) {
	all, err := m.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []RunRecord
	for _, rec := range all {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) AppendLog(ctx context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	if entry.Metadata == nil {
		entry.Metadata = json.RawMessage("{}")
	}
	m.logs[entry.RunID] = append(m.logs[entry.RunID], entry)
	return nil
}

func (m *Memory) Logs(ctx context.Context, runID string) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LogEntry, len(m.logs[runID]))
	copy(out, m.logs[runID])
	return out, nil
}

func copyRecord(rec *RunRecord) *RunRecord {
	out := *rec
	if rec.Checkpoint != nil {
		out.Checkpoint = cloneCheckpoint(*rec.Checkpoint)
	}
	return &out
}
